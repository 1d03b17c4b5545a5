package planner

import (
	"github.com/n9te9/graphql-parser/ast"
)

// NodeKind tags a PlanNode with one of the execution-shape primitives the
// federation plan model is built from.
type NodeKind int

const (
	// NodeFetch performs a single subgraph operation (root query or
	// _entities resolution).
	NodeFetch NodeKind = iota
	// NodeSequence runs its Children in order, each depending on the last.
	NodeSequence
	// NodeParallel runs its Children concurrently; none depends on another.
	NodeParallel
	// NodeFlatten splices a wrapped Child's list-shaped result back into the
	// response at Path, one representation per list element.
	NodeFlatten
	// NodeCondition gates Child on a variable-driven @skip/@include that
	// survived normalization (a literal condition is resolved before
	// planning and never reaches the tree).
	NodeCondition
	// NodeSubscription wraps the root event-stream fetch (Primary) plus any
	// additional per-event entity fetches (Rest) needed to resolve fields
	// the subscription's own subgraph doesn't own.
	NodeSubscription
)

// PlanNode is one node of the tagged execution tree a PlanV2 DAG is
// converted into: Fetch/Sequence/Parallel/Flatten/Condition/Subscription.
// Only the fields relevant to Kind are populated.
type PlanNode struct {
	Kind NodeKind

	// NodeFetch
	Step *StepV2

	// NodeSequence / NodeParallel
	Children []*PlanNode

	// NodeFlatten / NodeCondition: the single wrapped node
	Child *PlanNode
	// NodeFlatten: response path the child's result is spliced into
	Path []string

	// NodeCondition: the surviving directive ("skip" or "include") and its
	// rendered `if` argument (e.g. "$includeReviews")
	ConditionDirective string
	ConditionArg       string

	// NodeSubscription
	Primary *PlanNode
	Rest    []*PlanNode
}

// ToTree converts a PlanV2's StepV2 DAG into a PlanNode tree. Root steps
// (no DependsOn) become parallel branches; each step's dependents are
// flattened onto its InsertionPath and sequenced after it. A root step
// carrying a surviving variable-driven @skip/@include is wrapped in a
// NodeCondition. Subscription operations are additionally wrapped in a
// NodeSubscription by ToSubscriptionTree.
func (p *PlanV2) ToTree() *PlanNode {
	childrenByParent := make(map[int][]*StepV2)
	var roots []*StepV2
	for _, step := range p.Steps {
		if len(step.DependsOn) == 0 {
			roots = append(roots, step)
			continue
		}
		for _, dep := range step.DependsOn {
			childrenByParent[dep] = append(childrenByParent[dep], step)
		}
	}

	rootNodes := make([]*PlanNode, 0, len(roots))
	for _, root := range roots {
		rootNodes = append(rootNodes, buildStepSubtree(root, childrenByParent))
	}

	if len(rootNodes) == 1 {
		return rootNodes[0]
	}
	return &PlanNode{Kind: NodeParallel, Children: rootNodes}
}

func buildStepSubtree(step *StepV2, childrenByParent map[int][]*StepV2) *PlanNode {
	fetch := wrapCondition(step, &PlanNode{Kind: NodeFetch, Step: step})

	dependents := childrenByParent[step.ID]
	if len(dependents) == 0 {
		return fetch
	}

	flattened := make([]*PlanNode, 0, len(dependents))
	for _, dependent := range dependents {
		flattened = append(flattened, &PlanNode{
			Kind:  NodeFlatten,
			Path:  dependent.InsertionPath,
			Child: buildStepSubtree(dependent, childrenByParent),
		})
	}

	var rest *PlanNode
	if len(flattened) == 1 {
		rest = flattened[0]
	} else {
		rest = &PlanNode{Kind: NodeParallel, Children: flattened}
	}

	return &PlanNode{Kind: NodeSequence, Children: []*PlanNode{fetch, rest}}
}

func wrapCondition(step *StepV2, fetch *PlanNode) *PlanNode {
	directive, arg, ok := findDynamicCondition(step.SelectionSet)
	if !ok {
		return fetch
	}
	return &PlanNode{Kind: NodeCondition, ConditionDirective: directive, ConditionArg: arg, Child: fetch}
}

// findDynamicCondition looks for a top-level @skip/@include directive whose
// `if` argument is not a literal boolean: normalization already resolved
// every literal case, so anything left here is variable-driven and must be
// decided at execution time, not at plan-build time.
func findDynamicCondition(selections []ast.Selection) (directive string, arg string, ok bool) {
	for _, sel := range selections {
		field, isField := sel.(*ast.Field)
		if !isField {
			continue
		}
		for _, d := range field.Directives {
			if d.Name != "skip" && d.Name != "include" {
				continue
			}
			for _, a := range d.Arguments {
				if a.Name.String() != "if" {
					continue
				}
				if _, isLiteral := a.Value.(*ast.BooleanValue); isLiteral {
					continue
				}
				return d.Name, a.Value.String(), true
			}
		}
	}
	return "", "", false
}

// ToSubscriptionTree builds the NodeSubscription wrapper for a subscription
// operation's plan: the root step that dials the owning subgraph's event
// stream becomes Primary, and every step depending on it (additional
// entity data the subscription's own subgraph doesn't own) becomes Rest,
// resolved per event rather than once.
func (p *PlanV2) ToSubscriptionTree() *PlanNode {
	tree := p.ToTree()
	if tree.Kind != NodeSequence || len(tree.Children) != 2 {
		return &PlanNode{Kind: NodeSubscription, Primary: tree}
	}

	primary := tree.Children[0]
	rest := tree.Children[1]
	if rest.Kind == NodeParallel {
		return &PlanNode{Kind: NodeSubscription, Primary: primary, Rest: rest.Children}
	}
	return &PlanNode{Kind: NodeSubscription, Primary: primary, Rest: []*PlanNode{rest}}
}
