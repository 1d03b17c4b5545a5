package gateway

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/n9te9/federation-router/federation/authz"
	"github.com/n9te9/federation-router/federation/executor"
	"github.com/n9te9/federation-router/federation/graph"
	"github.com/n9te9/federation-router/federation/pipeline"
	"github.com/n9te9/federation-router/federation/validate"
	"github.com/n9te9/federation-router/httpgw"
	"github.com/n9te9/federation-router/telemetry"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type GatewayService struct {
	Name        string   `yaml:"name"`
	Host        string   `yaml:"host"`
	SchemaFiles []string `yaml:"schema_files"`
}

type GatewayOption struct {
	Endpoint                    string                  `yaml:"endpoint"`
	ServiceName                 string                  `yaml:"service_name"`
	Port                        int                     `yaml:"port"`
	TimeoutDuration             string                  `yaml:"timeout_duration" default:"5s"`
	EnableHangOverRequestHeader bool                    `yaml:"enable_hang_over_request_header" default:"true"`
	Services                    []GatewayService        `yaml:"services"`
	Opentelemetry               OpentelemetrySetting    `yaml:"opentelemetry"`
	Authorization               AuthorizationSetting    `yaml:"authorization"`
	QueryComplexity             QueryComplexitySetting  `yaml:"query_complexity"`
	Cors                        httpgw.Config           `yaml:"cors"`
	ForwardHeaders              []string                `yaml:"forward_headers"`
}

type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

type OpentelemetryTracingSetting struct {
	Enable bool `yaml:"enable" default:"false"`
}

// AuthorizationSetting toggles the @authenticated/@requiresScopes
// evaluation stage. When enabled, the bearer-token presence and a
// comma-separated X-Auth-Scopes header populate the per-request
// authz.UserContext; the corpus carries no JWT-verification library, so
// token validity itself is assumed handled by an upstream collaborator.
type AuthorizationSetting struct {
	Enable bool `yaml:"enable" default:"false"`
}

// QueryComplexitySetting configures the pluggable validation rules. Zero
// means "no limit" for that rule.
type QueryComplexitySetting struct {
	MaxDepth   int `yaml:"max_depth"`
	MaxTokens  int `yaml:"max_tokens"`
}

type gateway struct {
	graphQLEndpoint string
	serviceName     string
	pipeline        *pipeline.Pipeline
	superGraph      *graph.SuperGraphV2
	metrics         *telemetry.Metrics
	authEnabled     bool

	enableComplementRequestId   bool
	enableHangOverRequestHeader bool
	enableOpentelemetryTracing  bool
}

var _ http.Handler = (*gateway)(nil)

func NewGateway(settings GatewayOption) (*gateway, error) {
	var subGraphs []*graph.SubGraphV2
	for _, s := range settings.Services {
		var schema []byte
		for _, f := range s.SchemaFiles {
			src, err := os.ReadFile(f)
			if err != nil {
				return nil, err
			}
			schema = append(schema, src...)
		}

		subGraph, err := graph.NewSubGraphV2(s.Name, schema, s.Host)
		if err != nil {
			return nil, err
		}

		subGraphs = append(subGraphs, subGraph)
	}

	superGraph, err := graph.NewSuperGraphV2(subGraphs)
	if err != nil {
		return nil, err
	}

	// Create HTTP client with timeout for subgraph requests
	httpClient := &http.Client{
		Timeout: 3 * time.Second, // 3 second timeout for subgraph requests
	}

	if settings.Opentelemetry.TracingSetting.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	var authMeta *authz.Metadata
	if settings.Authorization.Enable {
		authMeta = authz.Build(superGraph.Schema)
	}

	var rules []validate.Rule
	if settings.QueryComplexity.MaxDepth > 0 {
		rules = append(rules, validate.MaxDepthRule{N: settings.QueryComplexity.MaxDepth, IgnoreIntrospection: true})
	}
	if settings.QueryComplexity.MaxTokens > 0 {
		rules = append(rules, validate.MaxTokensRule{N: settings.QueryComplexity.MaxTokens})
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	exec := executor.NewExecutorV2(httpClient, superGraph, 10, true).
		WithMetrics(metrics).
		WithForwardHeaders(settings.ForwardHeaders)

	return &gateway{
		graphQLEndpoint:             settings.Endpoint,
		serviceName:                 settings.ServiceName,
		pipeline:                    pipeline.New(superGraph, exec, authMeta, rules),
		superGraph:                  superGraph,
		metrics:                     metrics,
		authEnabled:                 settings.Authorization.Enable,
		enableComplementRequestId:   true,
		enableHangOverRequestHeader: settings.EnableHangOverRequestHeader,
		enableOpentelemetryTracing:  settings.Opentelemetry.TracingSetting.Enable,
	}, nil
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	g.metrics.RequestStarted(r.Context())
	defer g.metrics.RequestFinished(r.Context())

	ctx := r.Context()
	if g.enableHangOverRequestHeader {
		ctx = executor.SetRequestHeaderToContext(ctx, r.Header)
	}

	// Validate @inaccessible fields ahead of the pipeline: inaccessibility
	// hides a field from the consumer schema entirely, which is a
	// different concern from the authorize stage's scope-based denial.
	doc, accessErr := g.parseForAccessibilityCheck(req.Query)
	if accessErr == nil {
		if err := g.validateAccessibility(doc); err != nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"errors": []map[string]any{
					{
						"message":    err.Error(),
						"extensions": map[string]string{"code": "INACCESSIBLE_FIELD"},
					},
				},
			})
			return
		}

		if op := firstOperation(doc); op != nil && op.Operation == ast.Subscription {
			g.serveSubscription(w, r, req, doc, op)
			return
		}
	}

	var user *authz.UserContext
	if g.authEnabled && g.pipeline.AuthMeta != nil {
		user = userContextFromRequest(r, g.pipeline.AuthMeta)
	}

	result := g.pipeline.Run(ctx, req.Query, req.OperationName, req.Variables, user)

	resp := map[string]any{}
	if result.Data != nil {
		resp["data"] = result.Data
	}
	if result.Errors.HasErrors() {
		resp["errors"] = result.Errors
	}

	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	json.NewEncoder(w).Encode(resp)
}

// userContextFromRequest derives the request's authz.UserContext from the
// Authorization header's presence and a comma-separated X-Auth-Scopes
// header. Verifying the bearer token itself is out of scope here: the
// corpus carries no JWT library, so that verification is assumed to be
// performed by an upstream collaborator before the request reaches this
// handler.
func userContextFromRequest(r *http.Request, m *authz.Metadata) *authz.UserContext {
	authenticated := r.Header.Get("Authorization") != ""
	var scopes []string
	if raw := r.Header.Get("X-Auth-Scopes"); raw != "" {
		scopes = strings.Split(raw, ",")
		for i := range scopes {
			scopes[i] = strings.TrimSpace(scopes[i])
		}
	}
	return authz.NewUserContext(authenticated, scopes, m)
}

func (g *gateway) Start(port int) error {
	fmt.Printf("Gateway started on port %d\n", port)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), g)
}

// parseForAccessibilityCheck parses query text for the pre-pipeline
// @inaccessible check. Parse errors here are swallowed: the pipeline's own
// Parse stage reports them properly to the client.
func (g *gateway) parseForAccessibilityCheck(query string) (*ast.Document, error) {
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return nil, fmt.Errorf("parse error")
	}
	return doc, nil
}

// validateAccessibility validates that no @inaccessible fields are queried.
func (g *gateway) validateAccessibility(doc *ast.Document) error {
	for _, def := range doc.Definitions {
		if opDef, ok := def.(*ast.OperationDefinition); ok {
			rootTypeName := "Query"
			switch opDef.Operation {
			case ast.Query:
				rootTypeName = "Query"
			case ast.Mutation:
				rootTypeName = "Mutation"
			case ast.Subscription:
				rootTypeName = "Subscription"
			}

			if err := g.validateSelectionSet(opDef.SelectionSet, rootTypeName); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateSelectionSet recursively validates selections.
func (g *gateway) validateSelectionSet(selSet []ast.Selection, parentTypeName string) error {
	if selSet == nil {
		return nil
	}

	for _, sel := range selSet {
		switch s := sel.(type) {
		case *ast.Field:
			fieldName := s.Name.String()

			// Skip introspection fields
			if fieldName == "__typename" || fieldName == "__schema" || fieldName == "__type" {
				continue
			}

			// Check if field is inaccessible
			if err := g.checkFieldAccessibility(parentTypeName, fieldName); err != nil {
				return err
			}

			// Get the field type for recursive validation
			nextTypeName := g.getFieldTypeName(parentTypeName, fieldName)
			if nextTypeName != "" {
				if err := g.validateSelectionSet(s.SelectionSet, nextTypeName); err != nil {
					return err
				}
			}

		case *ast.FragmentSpread:
			// Handle fragment spreads
			// For now, skip validation in fragments
			// TODO: Implement fragment validation

		case *ast.InlineFragment:
			// Handle inline fragments
			typeCondition := ""
			if s.TypeCondition != nil {
				typeCondition = s.TypeCondition.String()
			}
			if typeCondition == "" {
				typeCondition = parentTypeName
			}
			if err := g.validateSelectionSet(s.SelectionSet, typeCondition); err != nil {
				return err
			}
		}
	}

	return nil
}

// checkFieldAccessibility checks if a field is inaccessible.
func (g *gateway) checkFieldAccessibility(typeName, fieldName string) error {
	for _, subGraph := range g.superGraph.SubGraphs {
		if entity, exists := subGraph.GetEntity(typeName); exists {
			if field, ok := entity.Fields[fieldName]; ok {
				if field.IsInaccessible() {
					return fmt.Errorf("Cannot query field \"%s\" on type \"%s\"", fieldName, typeName)
				}
			}
		}

		// Also check non-entity types in the schema
		for _, def := range subGraph.Schema.Definitions {
			if objDef, ok := def.(*ast.ObjectTypeDefinition); ok {
				if objDef.Name.String() == typeName {
					for _, f := range objDef.Fields {
						if f.Name.String() == fieldName {
							// Check for @inaccessible directive
							for _, d := range f.Directives {
								if d.Name == "inaccessible" {
									return fmt.Errorf("Cannot query field \"%s\" on type \"%s\"", fieldName, typeName)
								}
							}
						}
					}
				}
			}
		}
	}

	return nil
}

// getFieldTypeName returns the type name of a field.
func (g *gateway) getFieldTypeName(typeName, fieldName string) string {
	for _, def := range g.superGraph.Schema.Definitions {
		if objDef, ok := def.(*ast.ObjectTypeDefinition); ok {
			if objDef.Name.String() == typeName {
				for _, field := range objDef.Fields {
					if field.Name.String() == fieldName {
						return g.unwrapTypeName(field.Type)
					}
				}
			}
		}
	}
	return ""
}

// unwrapTypeName extracts the base type name from a type.
func (g *gateway) unwrapTypeName(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return g.unwrapTypeName(typ.Type)
	case *ast.NonNullType:
		return g.unwrapTypeName(typ.Type)
	}
	return ""
}
