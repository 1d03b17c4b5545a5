// Package authz compiles @authenticated/@requiresScopes directives off of a
// composed supergraph into a metadata structure that can be evaluated
// per-request without re-walking the schema, and evaluates it against a
// request's auth context with null-bubbling on denial.
//
// Grounded on the two-phase compile/evaluate split of
// authorization/metadata.rs: scopes are interned once at startup, the
// type/field rule maps are build-once, and type_has_any_auth is a
// memoized, cycle-safe recursion over the type graph.
package authz

import (
	"strings"

	"github.com/n9te9/graphql-parser/ast"
)

// ScopeID is an interned scope string, letting evaluation compare small
// integers instead of strings.
type ScopeID int

// ScopeAndGroup is a set of scopes that must all be present (AND logic).
type ScopeAndGroup []ScopeID

// RequiredScopes is a set of ScopeAndGroups, any one of which satisfies the
// rule (OR of ANDs), per @requiresScopes(scopes: [[...], [...]]).
type RequiredScopes []ScopeAndGroup

// RuleKind distinguishes @authenticated from @requiresScopes.
type RuleKind int

const (
	RuleAuthenticated RuleKind = iota
	RuleRequiresScopes
)

// Rule is a single compiled authorization rule attached to a type or field.
type Rule struct {
	Kind   RuleKind
	Scopes RequiredScopes
}

// Metadata is the compiled, append-only-after-construction authorization
// surface for one supergraph. Safe for concurrent reads once built.
type Metadata struct {
	typeRules      map[string]Rule
	fieldRules     map[string]map[string]Rule
	scopes         map[string]ScopeID
	typeHasAnyAuth map[string]bool

	// possibleTypes maps an interface/union name to its implementing/member
	// type names, needed both for union rule derivation and for the
	// type_has_any_auth subtree walk.
	possibleTypes map[string][]string
	// fieldOutputType maps "Type.field" to the named type of that field,
	// so type_has_any_auth can walk into field result types.
	fieldOutputType map[string]string
	// fieldNonNull maps "Type.field" to whether its declared type is
	// non-null, governing how far an unauthorized-field removal bubbles.
	fieldNonNull map[string]bool
}

// Intern looks scope up in the build-once scope table, for UserContext
// construction.
func (m *Metadata) Intern(scope string) (ScopeID, bool) {
	id, ok := m.scopes[scope]
	return id, ok
}

// Build compiles Metadata by walking every type definition in doc.
func Build(doc *ast.Document) *Metadata {
	m := &Metadata{
		typeRules:       make(map[string]Rule),
		fieldRules:      make(map[string]map[string]Rule),
		scopes:          make(map[string]ScopeID),
		typeHasAnyAuth:  make(map[string]bool),
		possibleTypes:   make(map[string][]string),
		fieldOutputType: make(map[string]string),
		fieldNonNull:    make(map[string]bool),
	}

	for _, def := range doc.Definitions {
		m.processDefinition(def)
	}

	m.computeUnionTypeRules()

	for typeName := range m.allTypeNames() {
		visited := make(map[string]bool)
		m.typeHasAnyAuth[typeName] = m.typeHasAnyAuthRecursive(typeName, visited)
	}

	return m
}

func (m *Metadata) allTypeNames() map[string]bool {
	names := make(map[string]bool)
	for t := range m.typeRules {
		names[t] = true
	}
	for t := range m.fieldRules {
		names[t] = true
	}
	for t := range m.possibleTypes {
		names[t] = true
	}
	for key := range m.fieldOutputType {
		if i := strings.Index(key, "."); i > 0 {
			names[key[:i]] = true
		}
	}
	return names
}

func (m *Metadata) processDefinition(def ast.Definition) {
	switch d := def.(type) {
	case *ast.ObjectTypeDefinition:
		typeName := d.Name.String()
		if rule, ok := compileRule(d.Directives, m.scopes); ok {
			m.typeRules[typeName] = rule
		}
		for _, f := range d.Fields {
			m.processField(typeName, f)
		}
	case *ast.ObjectTypeExtension:
		typeName := d.Name.String()
		for _, f := range d.Fields {
			m.processField(typeName, f)
		}
	case *ast.InterfaceTypeDefinition:
		typeName := d.Name.String()
		if rule, ok := compileRule(d.Directives, m.scopes); ok {
			m.typeRules[typeName] = rule
		}
		for _, f := range d.Fields {
			m.processField(typeName, f)
		}
	case *ast.UnionTypeDefinition:
		typeName := d.Name.String()
		for _, member := range d.Types {
			m.possibleTypes[typeName] = append(m.possibleTypes[typeName], namedTypeOf(member))
		}
	}
}

func (m *Metadata) processField(typeName string, f *ast.FieldDefinition) {
	fieldName := f.Name.String()
	if rule, ok := compileRule(f.Directives, m.scopes); ok {
		if m.fieldRules[typeName] == nil {
			m.fieldRules[typeName] = make(map[string]Rule)
		}
		m.fieldRules[typeName][fieldName] = rule
	}
	key := typeName + "." + fieldName
	m.fieldOutputType[key] = namedTypeOf(f.Type)
	m.fieldNonNull[key] = isNonNull(f.Type)
}

// FieldIsNonNull reports whether typeName.fieldName is declared non-null.
func (m *Metadata) FieldIsNonNull(typeName, fieldName string) bool {
	return m.fieldNonNull[typeName+"."+fieldName]
}

func namedTypeOf(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return namedTypeOf(typ.Type)
	case *ast.NonNullType:
		return namedTypeOf(typ.Type)
	default:
		return ""
	}
}

// isNonNull reports whether t itself is a non-null type (a nullable list of
// non-null items does not count), which governs whether an unauthorized field bubbles its
// removal to its parent.
func isNonNull(t ast.Type) bool {
	_, ok := t.(*ast.NonNullType)
	return ok
}

func compileRule(directives []*ast.Directive, scopes map[string]ScopeID) (Rule, bool) {
	for _, d := range directives {
		switch d.Name {
		case "authenticated":
			return Rule{Kind: RuleAuthenticated}, true
		case "requiresScopes":
			return Rule{Kind: RuleRequiresScopes, Scopes: parseRequiredScopes(d, scopes)}, true
		}
	}
	return Rule{}, false
}

func parseRequiredScopes(d *ast.Directive, scopes map[string]ScopeID) RequiredScopes {
	var required RequiredScopes
	for _, arg := range d.Arguments {
		if arg.Name.String() != "scopes" {
			continue
		}
		list, ok := arg.Value.(*ast.ListValue)
		if !ok {
			continue
		}
		for _, group := range list.Values {
			groupList, ok := group.(*ast.ListValue)
			if !ok {
				continue
			}
			var and ScopeAndGroup
			for _, scopeVal := range groupList.Values {
				str, ok := scopeVal.(*ast.StringValue)
				if !ok {
					continue
				}
				and = append(and, internScope(scopes, str.Value))
			}
			required = append(required, and)
		}
	}
	return required
}

func internScope(scopes map[string]ScopeID, scope string) ScopeID {
	if id, ok := scopes[scope]; ok {
		return id
	}
	id := ScopeID(len(scopes))
	scopes[scope] = id
	return id
}

// computeUnionTypeRules derives a union's rule as the AND-cross-product of
// its members' requirements: the caller must satisfy every member's
// requirement, since the concrete runtime type of a union value at a given
// path is not known until resolution.
func (m *Metadata) computeUnionTypeRules() {
	for unionName, members := range m.possibleTypes {
		if _, has := m.typeRules[unionName]; has {
			continue
		}

		var memberScopeSets []RequiredScopes
		needsAuthenticated := false
		for _, member := range members {
			rule, ok := m.typeRules[member]
			if !ok {
				continue
			}
			switch rule.Kind {
			case RuleAuthenticated:
				needsAuthenticated = true
			case RuleRequiresScopes:
				memberScopeSets = append(memberScopeSets, rule.Scopes)
			}
		}

		if len(memberScopeSets) == 0 {
			if needsAuthenticated {
				m.typeRules[unionName] = Rule{Kind: RuleAuthenticated}
			}
			continue
		}

		m.typeRules[unionName] = Rule{Kind: RuleRequiresScopes, Scopes: crossProduct(memberScopeSets)}
	}
}

// crossProduct combines multiple RequiredScopes (each itself an OR-of-ANDs)
// into a single OR-of-ANDs covering every combination, since the caller must
// satisfy one AND-group per member simultaneously.
func crossProduct(sets []RequiredScopes) RequiredScopes {
	combined := RequiredScopes{{}}
	for _, set := range sets {
		var next RequiredScopes
		for _, existing := range combined {
			for _, group := range set {
				merged := make(ScopeAndGroup, 0, len(existing)+len(group))
				merged = append(merged, existing...)
				merged = append(merged, group...)
				next = append(next, merged)
			}
		}
		combined = next
	}
	return combined
}

func (m *Metadata) typeHasAnyAuthRecursive(typeName string, visited map[string]bool) bool {
	if visited[typeName] {
		return false
	}
	visited[typeName] = true

	if _, ok := m.typeRules[typeName]; ok {
		return true
	}
	if fields, ok := m.fieldRules[typeName]; ok && len(fields) > 0 {
		return true
	}

	for _, implementor := range m.possibleTypes[typeName] {
		if m.typeHasAnyAuthRecursive(implementor, visited) {
			return true
		}
	}

	for key, outputType := range m.fieldOutputType {
		if !strings.HasPrefix(key, typeName+".") {
			continue
		}
		if m.typeHasAnyAuthRecursive(outputType, visited) {
			return true
		}
	}

	return false
}

// TypeHasAnyAuth reports whether typeName or anything reachable from it
// carries an authorization rule, used by the authorize stage to skip
// subtrees with no rules at all.
func (m *Metadata) TypeHasAnyAuth(typeName string) bool {
	return m.typeHasAnyAuth[typeName]
}

func (m *Metadata) TypeRule(typeName string) (Rule, bool) {
	r, ok := m.typeRules[typeName]
	return r, ok
}

func (m *Metadata) FieldRule(typeName, fieldName string) (Rule, bool) {
	fields, ok := m.fieldRules[typeName]
	if !ok {
		return Rule{}, false
	}
	r, ok := fields[fieldName]
	return r, ok
}
