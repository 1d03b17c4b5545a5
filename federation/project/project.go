// Package project shapes the merged intermediate result back into the
// client's exact selection: fields not selected are dropped, and fields
// under a type-conditioned inline fragment are only kept where the
// runtime __typename of the enclosing object satisfies that condition.
// Grounded on executor/executor_v2.go's pruneObject/pruneResponse, which
// performed plain field-pruning against the original document; generalized
// here into a standalone compiled plan so type-condition visibility (the
// part pruneObject never handled) is applied once per node instead of
// walked from AST on every response.
package project

import (
	"github.com/n9te9/graphql-parser/ast"
)

// Node is one compiled projection node: a field kept in the response, with
// its own children and the set of runtime type names under which it (and
// everything guarding it) is visible. An empty TypeConditions set means
// unconditionally visible.
type Node struct {
	ResponseKey string
	FieldName   string
	// TypeConditions is the OR of runtime type names this node is visible
	// under; nodes merged from plain (non-fragment) selections carry no
	// condition and are visible under every runtime type.
	TypeConditions map[string]struct{}
	Children       []*Node
}

// Plan is a projection plan rooted at one selection set: each node carries
// the runtime-__typename visibility set needed to shape the merged subgraph
// data back into the client's requested shape.
type Plan struct {
	Root []*Node
}

// Build compiles selections (already normalized: fragment spreads inlined,
// only Field/InlineFragment remain) into a Plan. Plain fields at a given
// level merge into one Node (sibling merging already guarantees this in
// normalized input, but Build tolerates un-normalized input too); fields
// reached only via an inline fragment accumulate that fragment's type
// condition into their TypeConditions set: an OR composition, since more
// than one fragment can expose the same field under different type names.
func Build(selections []ast.Selection) *Plan {
	b := &builder{}
	return &Plan{Root: b.build(selections, nil)}
}

type builder struct{}

func (b *builder) build(selections []ast.Selection, condition map[string]struct{}) []*Node {
	var order []string
	byKey := make(map[string]*Node)

	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			key := s.Name.String()
			if s.Alias != nil && s.Alias.String() != "" {
				key = s.Alias.String()
			}
			node, ok := byKey[key]
			if !ok {
				node = &Node{ResponseKey: key, FieldName: s.Name.String(), TypeConditions: cloneCondition(condition)}
				byKey[key] = node
				order = append(order, key)
			} else if condition == nil {
				node.TypeConditions = nil
			} else {
				mergeCondition(node.TypeConditions, condition)
			}
			node.Children = mergeNodes(node.Children, b.build(s.SelectionSet, nil))

		case *ast.InlineFragment:
			typeCond := ""
			if s.TypeCondition != nil {
				typeCond = s.TypeCondition.Name.String()
			}
			childCondition := condition
			if typeCond != "" {
				childCondition = unionCondition(condition, typeCond)
			}
			childNodes := b.build(s.SelectionSet, childCondition)
			for _, cn := range childNodes {
				if existing, ok := byKey[cn.ResponseKey]; ok {
					mergeCondition(existing.TypeConditions, cn.TypeConditions)
					existing.Children = mergeNodes(existing.Children, cn.Children)
					continue
				}
				byKey[cn.ResponseKey] = cn
				order = append(order, cn.ResponseKey)
			}
		}
	}

	result := make([]*Node, 0, len(order))
	for _, key := range order {
		result = append(result, byKey[key])
	}
	return result
}

func mergeNodes(existing, incoming []*Node) []*Node {
	if len(incoming) == 0 {
		return existing
	}
	if len(existing) == 0 {
		return incoming
	}
	byKey := make(map[string]*Node, len(existing))
	order := make([]string, 0, len(existing))
	for _, n := range existing {
		byKey[n.ResponseKey] = n
		order = append(order, n.ResponseKey)
	}
	for _, n := range incoming {
		if ex, ok := byKey[n.ResponseKey]; ok {
			mergeCondition(ex.TypeConditions, n.TypeConditions)
			ex.Children = mergeNodes(ex.Children, n.Children)
			continue
		}
		byKey[n.ResponseKey] = n
		order = append(order, n.ResponseKey)
	}
	out := make([]*Node, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

func cloneCondition(c map[string]struct{}) map[string]struct{} {
	if len(c) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(c))
	for k := range c {
		out[k] = struct{}{}
	}
	return out
}

// unionCondition ORs typeName into the existing condition set, or scopes
// down to just typeName when there was no enclosing condition.
func unionCondition(existing map[string]struct{}, typeName string) map[string]struct{} {
	out := cloneCondition(existing)
	if out == nil {
		out = make(map[string]struct{}, 1)
	}
	out[typeName] = struct{}{}
	return out
}

func mergeCondition(dst, src map[string]struct{}) {
	if dst == nil || src == nil {
		return
	}
	for k := range src {
		dst[k] = struct{}{}
	}
}

// Apply shapes data against the plan, dropping unselected fields and
// fields whose TypeConditions don't include data's own __typename. When
// an object carries no __typename, conditioned fields are kept.
func Apply(data interface{}, nodes []*Node) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		runtimeType, _ := v["__typename"].(string)
		result := make(map[string]interface{})
		for _, node := range nodes {
			if !node.visibleUnder(runtimeType) {
				continue
			}
			value, exists := v[node.FieldName]
			if !exists {
				value, exists = v[node.ResponseKey]
			}
			if !exists {
				continue
			}
			if len(node.Children) > 0 {
				result[node.ResponseKey] = Apply(value, node.Children)
			} else {
				result[node.ResponseKey] = value
			}
		}
		return result

	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = Apply(item, nodes)
		}
		return result

	default:
		return v
	}
}

func (n *Node) visibleUnder(runtimeType string) bool {
	if len(n.TypeConditions) == 0 {
		return true
	}
	if runtimeType == "" {
		return true
	}
	_, ok := n.TypeConditions[runtimeType]
	return ok
}
