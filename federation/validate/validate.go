// Package validate implements the pluggable structural-validation-rule
// family (max depth, max aliases, max root fields, max tokens, max
// complexity), run ahead of planning. Grounded on
// pipeline/validation/max_depth_rule.rs's visitor-over-selection-set shape,
// but walked over vektah/gqlparser/v2's AST rather than graphql-tools',
// since that library ships a mature, pack-proven parser+AST independent of
// the streaming lexer used on the hot path.
package validate

import (
	"fmt"

	"github.com/n9te9/federation-router/federation/gqlerr"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

// ParseForValidation parses raw query text into a gqlparser QueryDocument
// for structural validation. It does not require a full schema: rules in
// this package only need selection-set shape, not type information.
func ParseForValidation(query string) (*ast.QueryDocument, *gqlerror.Error) {
	return parser.ParseQuery(&ast.Source{Input: query, Name: "operation"})
}

// Rule is a single pluggable validation check.
type Rule interface {
	// Code is the extensions.code reported for violations of this rule.
	Code() gqlerr.Code
	// Validate inspects doc and returns zero or more errors.
	Validate(doc *ast.QueryDocument) []*gqlerr.Error
}

// RunAll runs every rule against doc, collecting all violations rather than
// stopping at the first.
func RunAll(doc *ast.QueryDocument, rules []Rule) []*gqlerr.Error {
	var errs []*gqlerr.Error
	for _, r := range rules {
		errs = append(errs, r.Validate(doc)...)
	}
	return errs
}

// MaxDepthRule rejects operations whose selection-set nesting exceeds N,
// optionally flattening fragment spreads into their definition's depth and
// ignoring introspection fields.
type MaxDepthRule struct {
	N                   int
	IgnoreIntrospection bool
	ExposeLimits        bool
}

func (r MaxDepthRule) Code() gqlerr.Code { return gqlerr.CodeMaxDepthExceeded }

func (r MaxDepthRule) Validate(doc *ast.QueryDocument) []*gqlerr.Error {
	var errs []*gqlerr.Error
	for _, op := range doc.Operations {
		depth := r.countDepth(op.SelectionSet, doc, 0, make(map[string]bool))
		if depth > r.N {
			msg := "query depth limit exceeded"
			if r.ExposeLimits {
				msg = fmt.Sprintf("query depth limit of %d exceeded, found %d", r.N, depth)
			}
			errs = append(errs, gqlerr.New(r.Code(), msg))
		}
	}
	return errs
}

func (r MaxDepthRule) countDepth(set ast.SelectionSet, doc *ast.QueryDocument, parentDepth int, visitedFragments map[string]bool) int {
	maxChildDepth := parentDepth
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if r.IgnoreIntrospection && (s.Name == "__schema" || s.Name == "__type") {
				continue
			}
			childDepth := parentDepth + 1
			if len(s.SelectionSet) > 0 {
				childDepth = r.countDepth(s.SelectionSet, doc, parentDepth+1, visitedFragments)
			}
			if childDepth > maxChildDepth {
				maxChildDepth = childDepth
			}
		case *ast.InlineFragment:
			childDepth := r.countDepth(s.SelectionSet, doc, parentDepth, visitedFragments)
			if childDepth > maxChildDepth {
				maxChildDepth = childDepth
			}
		case *ast.FragmentSpread:
			name := s.Name
			if visitedFragments[name] {
				continue
			}
			frag := doc.Fragments.ForName(name)
			if frag == nil {
				continue
			}
			visitedFragments[name] = true
			childDepth := r.countDepth(frag.SelectionSet, doc, parentDepth, visitedFragments)
			delete(visitedFragments, name)
			if childDepth > maxChildDepth {
				maxChildDepth = childDepth
			}
		}
	}
	return maxChildDepth
}

// MaxAliasesRule rejects operations that use more than N field aliases,
// guarding against alias-based amplification attacks.
type MaxAliasesRule struct {
	N int
}

func (r MaxAliasesRule) Code() gqlerr.Code { return gqlerr.CodeMaxAliasesExceeded }

func (r MaxAliasesRule) Validate(doc *ast.QueryDocument) []*gqlerr.Error {
	count := 0
	for _, op := range doc.Operations {
		countAliases(op.SelectionSet, &count)
	}
	if count > r.N {
		return []*gqlerr.Error{gqlerr.Newf(r.Code(), "alias count %d exceeds limit of %d", count, r.N)}
	}
	return nil
}

func countAliases(set ast.SelectionSet, count *int) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Alias != "" && s.Alias != s.Name {
				*count++
			}
			countAliases(s.SelectionSet, count)
		case *ast.InlineFragment:
			countAliases(s.SelectionSet, count)
		}
	}
}

// MaxRootFieldsRule rejects operations selecting more than N root fields.
type MaxRootFieldsRule struct {
	N int
}

func (r MaxRootFieldsRule) Code() gqlerr.Code { return gqlerr.CodeMaxRootFieldsExceeded }

func (r MaxRootFieldsRule) Validate(doc *ast.QueryDocument) []*gqlerr.Error {
	var errs []*gqlerr.Error
	for _, op := range doc.Operations {
		count := 0
		for _, sel := range op.SelectionSet {
			if _, ok := sel.(*ast.Field); ok {
				count++
			}
		}
		if count > r.N {
			errs = append(errs, gqlerr.Newf(r.Code(), "root field count %d exceeds limit of %d", count, r.N))
		}
	}
	return errs
}

// MaxTokensRule rejects queries whose size exceeds a token budget,
// approximated by counting every selection and every field argument in the
// operations; lexer tokens are not counted.
type MaxTokensRule struct {
	N int
}

func (r MaxTokensRule) Code() gqlerr.Code { return gqlerr.CodeMaxTokensExceeded }

func (r MaxTokensRule) Validate(doc *ast.QueryDocument) []*gqlerr.Error {
	count := countSelections(doc)
	if count > r.N {
		return []*gqlerr.Error{gqlerr.Newf(r.Code(), "token count %d exceeds limit of %d", count, r.N)}
	}
	return nil
}

func countSelections(doc *ast.QueryDocument) int {
	count := 0
	for _, op := range doc.Operations {
		count += countSelectionsRecursive(op.SelectionSet)
	}
	return count
}

func countSelectionsRecursive(set ast.SelectionSet) int {
	count := len(set)
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			count += len(s.Arguments)
			count += countSelectionsRecursive(s.SelectionSet)
		case *ast.InlineFragment:
			count += countSelectionsRecursive(s.SelectionSet)
		}
	}
	return count
}

// MaxComplexityRule rejects operations whose estimated cost — each field
// costs 1 plus the cost of its children, multiplied by any `first`/`last`
// argument present — exceeds N.
type MaxComplexityRule struct {
	N int
}

func (r MaxComplexityRule) Code() gqlerr.Code { return "MaxComplexityExceeded" }

func (r MaxComplexityRule) Validate(doc *ast.QueryDocument) []*gqlerr.Error {
	var errs []*gqlerr.Error
	for _, op := range doc.Operations {
		cost := estimateComplexity(op.SelectionSet)
		if cost > r.N {
			errs = append(errs, gqlerr.Newf(r.Code(), "estimated complexity %d exceeds limit of %d", cost, r.N))
		}
	}
	return errs
}

func estimateComplexity(set ast.SelectionSet) int {
	total := 0
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			multiplier := 1
			for _, arg := range s.Arguments {
				if arg.Name == "first" || arg.Name == "last" {
					if v, err := arg.Value.Value(nil); err == nil {
						if n, ok := v.(int64); ok && n > 0 {
							multiplier = int(n)
						}
					}
				}
			}
			total += 1 + multiplier*estimateComplexity(s.SelectionSet)
		case *ast.InlineFragment:
			total += estimateComplexity(s.SelectionSet)
		}
	}
	return total
}
