package authz

import (
	"github.com/n9te9/federation-router/federation/gqlerr"
	"github.com/n9te9/graphql-parser/ast"
)

// UserContext is the per-request authorization context derived from the
// inbound JWT: whether the request is authenticated, and the set of scopes
// it carries, already resolved to this supergraph's interned scope IDs.
// Scopes the JWT carries that this supergraph doesn't recognize are
// silently dropped at construction, matching the Rust filter_map behavior.
type UserContext struct {
	Authenticated bool
	ScopeIDs      map[ScopeID]struct{}
}

// NewUserContext builds a UserContext from raw JWT scope strings against m's
// interner.
func NewUserContext(authenticated bool, rawScopes []string, m *Metadata) *UserContext {
	ids := make(map[ScopeID]struct{}, len(rawScopes))
	for _, s := range rawScopes {
		if id, ok := m.Intern(s); ok {
			ids[id] = struct{}{}
		}
	}
	return &UserContext{Authenticated: authenticated, ScopeIDs: ids}
}

func (u *UserContext) satisfies(rule Rule) bool {
	switch rule.Kind {
	case RuleAuthenticated:
		return u.Authenticated
	case RuleRequiresScopes:
		if !u.Authenticated {
			return false
		}
		for _, and := range rule.Scopes {
			if u.satisfiesGroup(and) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func (u *UserContext) satisfiesGroup(group ScopeAndGroup) bool {
	for _, scope := range group {
		if _, ok := u.ScopeIDs[scope]; !ok {
			return false
		}
	}
	return true
}

// IsTypeAuthorized reports whether user is authorized for typeName's rule,
// defaulting to true (authorized) when no rule is attached.
func (m *Metadata) IsTypeAuthorized(typeName string, user *UserContext) bool {
	rule, ok := m.typeRules[typeName]
	if !ok {
		return true
	}
	return user.satisfies(rule)
}

// IsFieldAuthorized reports whether user is authorized for typeName.fieldName,
// defaulting to true when no rule is attached.
func (m *Metadata) IsFieldAuthorized(typeName, fieldName string, user *UserContext) bool {
	rule, ok := m.FieldRule(typeName, fieldName)
	if !ok {
		return true
	}
	return user.satisfies(rule)
}

// Denial describes one unauthorized field, keyed by its response path, for
// building the `errors[]` entry with extensions.code = UNAUTHORIZED.
type Denial struct {
	Path []interface{}
}

// ToGraphQLError converts a Denial into the wire error shape.
func (d Denial) ToGraphQLError() *gqlerr.Error {
	return gqlerr.New(gqlerr.CodeUnauthorized, "not authorized").WithPath(d.Path)
}

// Evaluate filters selections against m and user, returning the surviving
// selections plus one Denial per field removed. rootTypeName is the
// operation's root type (Query/Mutation/Subscription); if the root itself
// is unauthorized every top-level field is denied without descending.
func Evaluate(selections []ast.Selection, rootTypeName string, m *Metadata, user *UserContext) ([]ast.Selection, []Denial) {
	w := &walker{metadata: m, user: user}

	if !m.IsTypeAuthorized(rootTypeName, user) {
		var denials []Denial
		for _, sel := range selections {
			denials = append(denials, w.denyWhole(sel, nil)...)
		}
		return nil, denials
	}

	return w.walk(selections, rootTypeName, nil)
}

type walker struct {
	metadata *Metadata
	user     *UserContext
}

// walk performs the depth-first filter described by the pipeline's
// authorize stage: per field, check the field rule then the field's
// output-type rule. Unauthorized fields (and unauthorized inline fragments,
// by type condition) are removed and recorded as denials.
func (w *walker) walk(selections []ast.Selection, parentType string, path []interface{}) ([]ast.Selection, []Denial) {
	kept, denials, _ := w.walkLevel(selections, parentType, path)
	return kept, denials
}

// walkLevel is walk plus a bubble signal. bubble is true when this level
// directly denied a non-null field, or a child's subtree bubbled up through
// a non-null field of its own — in either case every selection at this
// level is discarded (the level's own field, if any, must itself become
// denied so the caller can null it or keep propagating), not just the
// children of the level that emptied out. This is what makes "An
// unauthorized non-null field forces its nearest nullable ancestor to null"
// hold even when the denied field has authorized, non-null siblings: those
// siblings are dropped too, since the object containing them is the one
// that goes null.
func (w *walker) walkLevel(selections []ast.Selection, parentType string, path []interface{}) ([]ast.Selection, []Denial, bool) {
	var kept []ast.Selection
	var denials []Denial
	bubble := false

	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			fieldName := s.Name.String()
			responseKey := fieldName
			if s.Alias != nil && s.Alias.String() != "" {
				responseKey = s.Alias.String()
			}
			fieldPath := appendPath(path, responseKey)

			if !w.metadata.IsFieldAuthorized(parentType, fieldName, w.user) {
				denials = append(denials, Denial{Path: fieldPath})
				if w.metadata.FieldIsNonNull(parentType, fieldName) {
					bubble = true
				}
				continue
			}

			outputType := w.metadata.fieldOutputType[parentType+"."+fieldName]
			if outputType != "" && !w.metadata.IsTypeAuthorized(outputType, w.user) {
				denials = append(denials, Denial{Path: fieldPath})
				if w.metadata.FieldIsNonNull(parentType, fieldName) {
					bubble = true
				}
				continue
			}

			if len(s.SelectionSet) > 0 && outputType != "" && w.metadata.TypeHasAnyAuth(outputType) {
				childSelections, childDenials, childBubble := w.walkLevel(s.SelectionSet, outputType, fieldPath)
				denials = append(denials, childDenials...)

				if childBubble {
					// A denied non-null field somewhere under s forces s
					// itself to null: drop s here, and if s's own type is
					// non-null, keep propagating upward.
					if w.metadata.FieldIsNonNull(parentType, fieldName) {
						bubble = true
					}
					continue
				}

				s.SelectionSet = childSelections
			}

			kept = append(kept, s)

		case *ast.InlineFragment:
			typeCondition := parentType
			if s.TypeCondition != nil {
				typeCondition = s.TypeCondition.Name.String()
			}

			if !w.metadata.IsTypeAuthorized(typeCondition, w.user) {
				denials = append(denials, w.denyWhole(s, path)...)
				continue
			}

			childSelections, childDenials, childBubble := w.walkLevel(s.SelectionSet, typeCondition, path)
			denials = append(denials, childDenials...)
			if childBubble {
				bubble = true
				continue
			}
			s.SelectionSet = childSelections
			kept = append(kept, s)

		default:
			kept = append(kept, sel)
		}
	}

	if bubble {
		return nil, denials, true
	}

	return kept, denials, false
}

// denyWhole records a denial for every leaf field under sel without
// descending further, used when an ancestor (root type or inline fragment
// type condition) is already unauthorized.
func (w *walker) denyWhole(sel ast.Selection, path []interface{}) []Denial {
	switch s := sel.(type) {
	case *ast.Field:
		responseKey := s.Name.String()
		if s.Alias != nil && s.Alias.String() != "" {
			responseKey = s.Alias.String()
		}
		return []Denial{{Path: appendPath(path, responseKey)}}
	case *ast.InlineFragment:
		var denials []Denial
		for _, child := range s.SelectionSet {
			denials = append(denials, w.denyWhole(child, path)...)
		}
		return denials
	default:
		return nil
	}
}

func appendPath(path []interface{}, key string) []interface{} {
	next := make([]interface{}, len(path)+1)
	copy(next, path)
	next[len(path)] = key
	return next
}
