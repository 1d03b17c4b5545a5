package federation

import (
	"errors"
	"fmt"

	"github.com/n9te9/federation-router/federation/graph"
	"github.com/n9te9/goliteql/schema"
)

// SubGraph is re-exported at package level because the registry service
// speaks in terms of "federation.SubGraph" rather than reaching into the
// graph package directly.
type SubGraph = graph.SubGraph

func NewSubGraph(name string, src []byte, host string) (*SubGraph, error) {
	return graph.NewSubGraph(name, src, host)
}

// SuperGraph tracks field ownership across a root schema and every
// subgraph merged into it so far. A subgraph's extend fields must not
// re-declare a field the root schema or an earlier subgraph already owns;
// an @external field defers ownership back to whoever already owns it, so
// only non-external fields are checked against the running ownership set.
type SuperGraph struct {
	Schema    *schema.Schema
	SubGraphs []*SubGraph

	ownershipMap map[string]struct{}
}

// NewSuperGraph seeds the ownership map from root's own type fields
// (unfiltered: the root schema owns every field it declares), then folds
// in subGraphs as already-composed.
func NewSuperGraph(root *schema.Schema, subGraphs []*SubGraph) *SuperGraph {
	sg := &SuperGraph{
		Schema:       root,
		ownershipMap: rootOwnershipFields(root),
	}

	for _, s := range subGraphs {
		sg.SubGraphs = append(sg.SubGraphs, s)
		for k := range s.OwnershipFieldMap() {
			sg.ownershipMap[k] = struct{}{}
		}
	}

	return sg
}

func rootOwnershipFields(s *schema.Schema) map[string]struct{} {
	fields := make(map[string]struct{})
	for _, typ := range s.Types {
		for _, f := range typ.Fields {
			fields[fmt.Sprintf("%s.%s", typ.Name, f.Name)] = struct{}{}
		}
	}
	return fields
}

// Merge folds subGraph's non-external field extensions into sg, failing if
// any field it claims is already owned by the root schema or an earlier
// subgraph.
func (sg *SuperGraph) Merge(subGraph *SubGraph) error {
	for k := range subGraph.OwnershipFieldMap() {
		if _, exists := sg.ownershipMap[k]; exists {
			return errors.New("ownership conflict for field " + k)
		}
	}

	for k := range subGraph.OwnershipFieldMap() {
		sg.ownershipMap[k] = struct{}{}
	}
	sg.SubGraphs = append(sg.SubGraphs, subGraph)

	return nil
}

// GetSubGraphByKey returns the subgraph that owns key ("Type.field"), or
// nil if no merged subgraph claims it.
func (sg *SuperGraph) GetSubGraphByKey(key string) *SubGraph {
	for _, s := range sg.SubGraphs {
		if _, ok := s.OwnershipFieldMap()[key]; ok {
			return s
		}
	}
	return nil
}
