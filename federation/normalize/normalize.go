// Package normalize transforms a parsed operation into the deterministic
// shape the planner is pure over: fragments inlined, siblings merged,
// statically-dead @skip/@include branches dropped, arguments canonically
// ordered. Grounded on the fragment-expansion logic already used by the
// planner (PlannerV2.expandFragmentsInSelections), generalized into its own
// pipeline stage so planning can assume a normalized operation as input.
package normalize

import (
	"fmt"
	"sort"

	"github.com/n9te9/graphql-parser/ast"
)

// Alias records that mergeSiblings renamed a colliding selection's outgoing
// response key to keep the request well-formed: two sibling selections
// shared Generated's OriginalKey but had different arguments or conditions,
// so only the first keeps OriginalKey on the wire and the rest are
// reassigned Generated. Path is the chain of response keys from the
// operation root down to the object containing both selections, letting a
// reshaping stage fold Generated's value back under OriginalKey once the
// subgraph response comes back.
type Alias struct {
	Generated   string
	OriginalKey string
	Path        []string
}

// Normalize rewrites doc's operation (selected by operationName, or the sole
// operation when the document defines exactly one) into normalized form and
// returns a new document containing only that operation — no fragment
// definitions remain, since every spread has been inlined. The returned
// aliases record any response-key collisions mergeSiblings had to resolve
// by renaming; most operations produce none.
func Normalize(doc *ast.Document, operationName string) (*ast.Document, []Alias, error) {
	op, err := selectOperation(doc, operationName)
	if err != nil {
		return nil, nil, err
	}

	fragments := collectFragments(doc)

	n := &normalizer{fragments: fragments}
	normalized := n.normalizeSelectionSet(op.SelectionSet)

	newOp := &ast.OperationDefinition{
		Operation:           op.Operation,
		Name:                op.Name,
		VariableDefinitions: op.VariableDefinitions,
		Directives:          op.Directives,
		SelectionSet:        normalized,
	}

	return &ast.Document{
		Definitions: []ast.Definition{newOp},
	}, n.aliases, nil
}

func selectOperation(doc *ast.Document, operationName string) (*ast.OperationDefinition, error) {
	var ops []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			ops = append(ops, op)
		}
	}

	if len(ops) == 0 {
		return nil, fmt.Errorf("document defines no operation")
	}

	if operationName == "" {
		if len(ops) > 1 {
			return nil, fmt.Errorf("document defines multiple operations, operation_name is required")
		}
		return ops[0], nil
	}

	for _, op := range ops {
		if op.Name != nil && op.Name.String() == operationName {
			return op, nil
		}
	}

	return nil, fmt.Errorf("no operation named %q found in document", operationName)
}

func collectFragments(doc *ast.Document) map[string]*ast.FragmentDefinition {
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if frag, ok := def.(*ast.FragmentDefinition); ok {
			fragments[frag.Name.String()] = frag
		}
	}
	return fragments
}

type normalizer struct {
	fragments map[string]*ast.FragmentDefinition
	aliases   []Alias
}

// normalizeSelectionSet inlines fragment spreads, merges siblings, drops
// statically-dead conditional selections, and canonicalizes argument order.
// It is idempotent: running it again over its own output is a no-op,
// because every transformation it performs converges to a fixed point
// (inlining removes the only mutable input, spreads; merge keys are a
// function of already-canonical state).
func (n *normalizer) normalizeSelectionSet(selections []ast.Selection) []ast.Selection {
	expanded := n.expand(selections)
	merged := n.mergeSiblings(expanded, nil)
	return merged
}

// expand inlines fragment spreads and recurses into field/inline-fragment
// children, but performs no merging yet.
func (n *normalizer) expand(selections []ast.Selection) []ast.Selection {
	result := make([]ast.Selection, 0, len(selections))

	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			if dropped, keep := staticallyDrop(s.Directives); dropped && !keep {
				continue
			}
			newField := &ast.Field{
				Alias:        s.Alias,
				Name:         s.Name,
				Arguments:    canonicalArguments(s.Arguments),
				Directives:   dynamicDirectives(s.Directives),
				SelectionSet: n.expand(s.SelectionSet),
			}
			result = append(result, newField)

		case *ast.InlineFragment:
			if dropped, keep := staticallyDrop(s.Directives); dropped && !keep {
				continue
			}
			result = append(result, &ast.InlineFragment{
				TypeCondition: s.TypeCondition,
				Directives:    dynamicDirectives(s.Directives),
				SelectionSet:  n.expand(s.SelectionSet),
			})

		case *ast.FragmentSpread:
			if dropped, keep := staticallyDrop(s.Directives); dropped && !keep {
				continue
			}
			frag, ok := n.fragments[s.Name.String()]
			if !ok {
				continue
			}
			inlined := n.expand(frag.SelectionSet)
			if extra := dynamicDirectives(s.Directives); len(extra) > 0 {
				result = append(result, &ast.InlineFragment{
					TypeCondition: frag.TypeCondition,
					Directives:    extra,
					SelectionSet:  inlined,
				})
				continue
			}
			result = append(result, &ast.InlineFragment{
				TypeCondition: frag.TypeCondition,
				SelectionSet:  inlined,
			})
		}
	}

	return result
}

// fieldGroup tracks every distinct (name, arguments, condition) identity
// sharing one response key, in first-seen order.
type fieldGroup struct {
	responseKey string
	byMergeKey  map[string]*ast.Field
	keyOrder    []string
}

// mergeSiblings merges fields sharing (name, arguments, skip_if, include_if)
// and inline fragments sharing (type_condition, skip_if, include_if),
// recursively merging their selection sets. Order of first occurrence is
// preserved.
//
// Fields are first grouped by response key alone, since that's what the
// wire and the final response actually key on. Ordinarily every field in a
// response-key group also shares one merge key, and the group collapses to
// a single merged field as before. But the validation stage here doesn't
// implement GraphQL's FieldsInSetCanMerge rule, so a client can still send
// two selections with the same response key but different arguments or
// conditions — a genuine collision, not a duplicate. The first selection
// keeps the response key; every later one in the group is given a fresh
// `_internal_qp_alias_N` outgoing alias so the subgraph request stays
// well-formed, and the rename is recorded in n.aliases so the response can
// be folded back under the original key afterward.
func (n *normalizer) mergeSiblings(selections []ast.Selection, path []string) []ast.Selection {
	var order []string
	fieldGroups := make(map[string]*fieldGroup)
	fragGroups := make(map[string]*ast.InlineFragment)
	isFrag := make(map[string]bool)

	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			rk := responseKey(s)
			g, ok := fieldGroups[rk]
			if !ok {
				g = &fieldGroup{responseKey: rk, byMergeKey: make(map[string]*ast.Field)}
				fieldGroups[rk] = g
				order = append(order, rk)
			}

			mk := fieldMergeKey(s)
			if existing, ok := g.byMergeKey[mk]; ok {
				existing.SelectionSet = append(existing.SelectionSet, s.SelectionSet...)
				continue
			}
			g.byMergeKey[mk] = s
			g.keyOrder = append(g.keyOrder, mk)

		case *ast.InlineFragment:
			key := fragMergeKey(s)
			if existing, ok := fragGroups[key]; ok {
				existing.SelectionSet = append(existing.SelectionSet, s.SelectionSet...)
				continue
			}
			fragGroups[key] = s
			isFrag[key] = true
			order = append(order, key)
		}
	}

	result := make([]ast.Selection, 0, len(order))
	for _, key := range order {
		if isFrag[key] {
			frag := fragGroups[key]
			frag.SelectionSet = n.mergeSiblings(frag.SelectionSet, path)
			result = append(result, frag)
			continue
		}

		g := fieldGroups[key]
		childPath := append(append([]string{}, path...), g.responseKey)
		for i, mk := range g.keyOrder {
			field := g.byMergeKey[mk]
			field.SelectionSet = n.mergeSiblings(field.SelectionSet, childPath)

			if i > 0 {
				generated := fmt.Sprintf("_internal_qp_alias_%d", len(n.aliases))
				n.aliases = append(n.aliases, Alias{
					Generated:   generated,
					OriginalKey: g.responseKey,
					Path:        path,
				})
				field.Alias = &ast.Name{Value: generated}
			}

			result = append(result, field)
		}
	}

	return result
}

// responseKey is the key a field's value lands under in the response: its
// alias if it has one, its name otherwise.
func responseKey(f *ast.Field) string {
	if f.Alias != nil && f.Alias.String() != "" {
		return f.Alias.String()
	}
	return f.Name.String()
}

func fieldMergeKey(f *ast.Field) string {
	alias := ""
	if f.Alias != nil {
		alias = f.Alias.String()
	}
	return "field:" + alias + ":" + f.Name.String() + ":" + argumentsKey(f.Arguments) + ":" + conditionKey(f.Directives)
}

func fragMergeKey(f *ast.InlineFragment) string {
	typeCond := ""
	if f.TypeCondition != nil {
		typeCond = f.TypeCondition.Name.String()
	}
	return "frag:" + typeCond + ":" + conditionKey(f.Directives)
}

func argumentsKey(args []*ast.Argument) string {
	s := ""
	for _, a := range canonicalArguments(args) {
		s += a.Name.String() + "=" + a.Value.String() + ";"
	}
	return s
}

func conditionKey(directives []*ast.Directive) string {
	s := ""
	for _, d := range directives {
		if d.Name == "skip" || d.Name == "include" {
			s += d.Name + "(" + directiveArgString(d) + ");"
		}
	}
	return s
}

func directiveArgString(d *ast.Directive) string {
	for _, a := range d.Arguments {
		if a.Name.String() == "if" {
			return a.Value.String()
		}
	}
	return ""
}

// canonicalArguments returns args sorted by name, so two selections that
// differ only in argument-literal order compare equal and merge.
func canonicalArguments(args []*ast.Argument) []*ast.Argument {
	if len(args) == 0 {
		return args
	}
	sorted := make([]*ast.Argument, len(args))
	copy(sorted, args)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name.String() < sorted[j].Name.String()
	})
	return sorted
}

// staticallyDrop reports whether directives carry a @skip/@include whose
// condition is a literal boolean, and if so whether the selection is kept
// (true) or dropped (false). decided is false when no static decision
// applies (variable-driven or absent), in which case keep is meaningless.
func staticallyDrop(directives []*ast.Directive) (decided bool, keep bool) {
	keep = true
	for _, d := range directives {
		if d.Name != "skip" && d.Name != "include" {
			continue
		}
		lit, ok := literalBoolArg(d)
		if !ok {
			continue
		}
		decided = true
		if d.Name == "skip" && lit {
			keep = false
		}
		if d.Name == "include" && !lit {
			keep = false
		}
	}
	return decided, keep
}

func literalBoolArg(d *ast.Directive) (bool, bool) {
	for _, a := range d.Arguments {
		if a.Name.String() != "if" {
			continue
		}
		if b, ok := a.Value.(*ast.BooleanValue); ok {
			return b.Value, true
		}
	}
	return false, false
}

// dynamicDirectives keeps only the directives whose condition could not be
// statically resolved (variable-driven @skip/@include, or any other
// directive), since statically-resolved ones have already been applied.
func dynamicDirectives(directives []*ast.Directive) []*ast.Directive {
	kept := make([]*ast.Directive, 0, len(directives))
	for _, d := range directives {
		if d.Name == "skip" || d.Name == "include" {
			if _, ok := literalBoolArg(d); ok {
				continue
			}
		}
		kept = append(kept, d)
	}
	return kept
}

// ReverseAliases folds every aliased selection's value back under its
// original response key, undoing the rename mergeSiblings applied to keep
// a response-key collision off the wire. data is the merged, not-yet
// client-shaped response object; it is mutated in place and also returned
// for chaining. The first (non-renamed) selection under a given key always
// wins: if it already produced a value, the aliased sibling's competing
// value is discarded once consumed, rather than silently overwriting it.
func ReverseAliases(data map[string]interface{}, aliases []Alias) map[string]interface{} {
	for _, a := range aliases {
		obj := navigate(data, a.Path)
		if obj == nil {
			continue
		}
		aliased, ok := obj[a.Generated]
		if !ok {
			continue
		}
		delete(obj, a.Generated)
		if _, exists := obj[a.OriginalKey]; !exists {
			obj[a.OriginalKey] = aliased
		}
	}
	return data
}

// navigate walks data through path's response keys, descending into plain
// objects only (an aliased collision under a list element isn't a
// supported shape, since the aliased field's arguments would then vary
// per-element). Returns nil if any step is missing or not an object.
func navigate(data map[string]interface{}, path []string) map[string]interface{} {
	cur := data
	for _, key := range path {
		next, ok := cur[key]
		if !ok {
			return nil
		}
		obj, ok := next.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj
	}
	return cur
}
