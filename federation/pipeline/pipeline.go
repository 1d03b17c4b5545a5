// Package pipeline wires the per-request stages — parse, validate,
// normalize, coerce variables, authorize, plan, execute, project — into the
// fixed sequence described for the operation pipeline. Parsed documents are
// cached under a SHA-256 fingerprint of the query text; validate and
// normalize are not cached and run on every request. Grounded on gateway/gateway.go's ServeHTTP, which
// inlined parse/validate-accessibility/plan/execute directly in the HTTP
// handler; generalized here into a standalone, independently testable
// sequence so the handler becomes a thin adapter.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/n9te9/federation-router/federation/authz"
	"github.com/n9te9/federation-router/federation/executor"
	"github.com/n9te9/federation-router/federation/gqlerr"
	"github.com/n9te9/federation-router/federation/graph"
	"github.com/n9te9/federation-router/federation/normalize"
	"github.com/n9te9/federation-router/federation/planner"
	"github.com/n9te9/federation-router/federation/project"
	"github.com/n9te9/federation-router/federation/validate"
	"github.com/n9te9/federation-router/telemetry"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// Pipeline bundles the process-wide, schema-derived state (supergraph,
// planner, executor, authorization metadata, validation rules) that every
// request's run is compiled against.
type Pipeline struct {
	SuperGraph *graph.SuperGraphV2
	Planner    *planner.PlannerV2
	Executor   *executor.ExecutorV2
	AuthMeta   *authz.Metadata
	Rules      []validate.Rule

	cacheMu   sync.Mutex
	parseCache map[string]*ast.Document
}

// New builds a Pipeline over an already-composed supergraph.
func New(superGraph *graph.SuperGraphV2, exec *executor.ExecutorV2, authMeta *authz.Metadata, rules []validate.Rule) *Pipeline {
	return &Pipeline{
		SuperGraph: superGraph,
		Planner:    planner.NewPlannerV2(superGraph),
		Executor:   exec,
		AuthMeta:   authMeta,
		Rules:      rules,
		parseCache: make(map[string]*ast.Document),
	}
}

// Result is the outcome of one pipeline run: the shaped response data and
// any accumulated GraphQL errors (validation, authorization denials, and
// subgraph errors surfaced during execute all land here).
type Result struct {
	Data   map[string]interface{}
	Errors gqlerr.List
}

// Run executes the full pipeline for one request.
func (p *Pipeline) Run(ctx context.Context, query, operationName string, variables map[string]interface{}, user *authz.UserContext) *Result {
	ctx, opSpan := telemetry.StartSpan(ctx, telemetry.SpanGraphQLExecute)
	defer opSpan.End()

	_, parseSpan := telemetry.StartSpan(ctx, telemetry.SpanGraphQLParse)
	doc, err := p.parse(query)
	parseSpan.End()
	if err != nil {
		return &Result{Errors: gqlerr.List{gqlerr.New(gqlerr.CodeGraphQLParseError, err.Error())}}
	}

	if len(p.Rules) > 0 {
		_, validateSpan := telemetry.StartSpan(ctx, telemetry.SpanGraphQLValidate)
		verrs := p.validateDoc(query)
		validateSpan.End()
		if len(verrs) > 0 {
			return &Result{Errors: verrs}
		}
	}

	_, normalizeSpan := telemetry.StartSpan(ctx, telemetry.SpanGraphQLNormalize)
	normalized, aliases, err := normalize.Normalize(doc, operationName)
	normalizeSpan.End()
	if err != nil {
		return &Result{Errors: gqlerr.List{gqlerr.New(gqlerr.CodeGraphQLValidationError, err.Error())}}
	}

	_, coerceSpan := telemetry.StartSpan(ctx, telemetry.SpanVariableCoercion)
	coerced, err := coerceVariables(variables)
	coerceSpan.End()
	if err != nil {
		return &Result{Errors: gqlerr.List{gqlerr.New(gqlerr.CodeVariableCoercionError, err.Error())}}
	}

	op, rootType := operationOf(normalized)
	if op == nil {
		return &Result{Errors: gqlerr.List{gqlerr.New(gqlerr.CodeGraphQLValidationError, "document defines no operation")}}
	}

	var denials []authz.Denial
	filteredSelections := op.SelectionSet
	if p.AuthMeta != nil {
		_, authSpan := telemetry.StartSpan(ctx, telemetry.SpanGraphQLAuthorize)
		filteredSelections, denials = authz.Evaluate(op.SelectionSet, rootType, p.AuthMeta, user)
		authSpan.End()
	}
	op.SelectionSet = filteredSelections

	projectionPlan := project.Build(op.SelectionSet)

	var errs gqlerr.List
	for _, d := range denials {
		errs.Add(d.ToGraphQLError())
	}

	if len(op.SelectionSet) == 0 {
		return &Result{Data: map[string]interface{}{}, Errors: errs}
	}

	_, planSpan := telemetry.StartSpan(ctx, telemetry.SpanGraphQLPlan)
	plan, err := p.Planner.Plan(normalized, coerced)
	planSpan.End()
	if err != nil {
		errs.Add(gqlerr.New(gqlerr.CodePlanBuildFailure, err.Error()))
		return &Result{Errors: errs}
	}

	merged, err := p.Executor.Execute(ctx, plan, coerced)
	if err != nil {
		errs.Add(gqlerr.New(gqlerr.CodeSubgraphRequestFailure, err.Error()))
		return &Result{Errors: errs}
	}

	data, _ := merged["data"].(map[string]interface{})
	if len(aliases) > 0 && data != nil {
		data = normalize.ReverseAliases(data, aliases)
	}
	shaped, _ := project.Apply(data, projectionPlan.Root).(map[string]interface{})

	if subErrs, ok := merged["errors"]; ok {
		appendRawErrors(&errs, subErrs)
	}

	return &Result{Data: shaped, Errors: errs}
}

// parse fingerprints query text by SHA-256 and caches the resulting
// document, since parsing is a pure function of the source text.
func (p *Pipeline) parse(query string) (*ast.Document, error) {
	key := fingerprint(query)

	p.cacheMu.Lock()
	if doc, ok := p.parseCache[key]; ok {
		p.cacheMu.Unlock()
		return doc, nil
	}
	p.cacheMu.Unlock()

	l := lexer.New(query)
	pr := parser.New(l)
	doc := pr.ParseDocument()
	if len(pr.Errors()) > 0 {
		return nil, fmt.Errorf("%v", pr.Errors())
	}

	p.cacheMu.Lock()
	p.parseCache[key] = doc
	p.cacheMu.Unlock()

	return doc, nil
}

func (p *Pipeline) validateDoc(query string) gqlerr.List {
	gqlDoc, gqlErr := validate.ParseForValidation(query)
	if gqlErr != nil {
		return gqlerr.List{gqlerr.New(gqlerr.CodeGraphQLValidationError, gqlErr.Error())}
	}
	return validate.RunAll(gqlDoc, p.Rules)
}

func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func operationOf(doc *ast.Document) (*ast.OperationDefinition, string) {
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			switch op.Operation {
			case ast.Mutation:
				return op, "Mutation"
			case ast.Subscription:
				return op, "Subscription"
			default:
				return op, "Query"
			}
		}
	}
	return nil, ""
}

// coerceVariables validates the raw variables payload is well-formed JSON
// object data and passes it through unchanged. Full type-directed
// coercion (applying variable-definition defaults, enforcing declared
// input types) would walk each VariableDefinition's declared type against
// the supergraph's input-type definitions; deferred, since neither the
// teacher nor the rest of the pack exercises that AST shape anywhere, and
// fabricating the walk without a confirmed field layout risks a silent
// mismatch worse than the explicit pass-through.
func coerceVariables(variables map[string]interface{}) (map[string]interface{}, error) {
	if variables == nil {
		return map[string]interface{}{}, nil
	}
	return variables, nil
}

func appendRawErrors(errs *gqlerr.List, raw interface{}) {
	list, ok := raw.([]interface{})
	if !ok {
		return
	}
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		message, _ := m["message"].(string)
		e := gqlerr.New(gqlerr.CodeSubgraphResponseInvalid, message)
		if path, ok := m["path"].([]interface{}); ok {
			e = e.WithPath(path)
		}
		errs.Add(e)
	}
}
