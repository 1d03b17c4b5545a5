// Package gqlerr defines the shared GraphQL error shape used across every
// pipeline stage, generalized from the error type that used to live private
// to the executor.
package gqlerr

import "fmt"

// Code identifies the extensions.code carried on a GraphQL error, per the
// taxonomy: request-shape, operation, planning, execution, and internal
// errors each own a disjoint set of codes.
type Code string

const (
	// Request-shape errors (HTTP 4xx, errors[] only).
	CodeInvalidJSON            Code = "InvalidJson"
	CodeMissingQuery           Code = "MissingQuery"
	CodeUnsupportedContentType Code = "UnsupportedContentType"
	CodePersistedQueryNotFound Code = "PersistedQueryNotFound"

	// Operation errors (HTTP 200 with errors[]).
	CodeGraphQLParseError      Code = "GraphQLParseError"
	CodeGraphQLValidationError Code = "GraphQLValidationError"
	CodeVariableCoercionError  Code = "VariableCoercionError"
	CodeMaxDepthExceeded       Code = "MaxDepthExceeded"
	CodeMaxAliasesExceeded     Code = "MaxAliasesExceeded"
	CodeMaxRootFieldsExceeded  Code = "MaxRootFieldsExceeded"
	CodeMaxTokensExceeded      Code = "MaxTokensExceeded"
	CodeUnauthorized           Code = "UNAUTHORIZED"

	// Planning errors (HTTP 500).
	CodePlanBuildFailure Code = "PLAN_BUILD_FAILURE"

	// Execution errors, carried per-subgraph.
	CodeSubgraphRequestFailure  Code = "SUBGRAPH_REQUEST_FAILURE"
	CodeSubgraphResponseInvalid Code = "SUBGRAPH_RESPONSE_INVALID"
	CodeRequestTimeout          Code = "REQUEST_TIMEOUT"
	CodeWebsocketError          Code = "WEBSOCKET_ERROR"

	// Internal invariants (HTTP 500, generic, detail logged not returned).
	CodeInternalServerError Code = "INTERNAL_SERVER_ERROR"
)

// Error is the wire-shape of a single GraphQL error, matching the
// `{message, path, extensions}` envelope returned in the top-level errors
// list of a response.
type Error struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error carrying the given taxonomy code.
func New(code Code, message string) *Error {
	return &Error{
		Message: message,
		Extensions: map[string]interface{}{
			"code": string(code),
		},
	}
}

// Newf is New with fmt.Sprintf-style formatting of the message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithPath returns a copy of e with the response path set. Used when
// rewriting a subgraph-local path (post un-aliasing) onto the client's
// response path.
func (e *Error) WithPath(path []interface{}) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

// WithExtension returns a copy of e with an extra extensions key set.
func (e *Error) WithExtension(key string, value interface{}) *Error {
	cp := *e
	ext := make(map[string]interface{}, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		ext[k] = v
	}
	ext[key] = value
	cp.Extensions = ext
	return &cp
}

// Code returns the extensions.code of e, or "" if none was set.
func (e *Error) Code() Code {
	if e.Extensions == nil {
		return ""
	}
	c, _ := e.Extensions["code"].(string)
	return Code(c)
}

// List is an ordered collection of errors, ordered by encounter in the
// selection set.
type List []*Error

func (l *List) Add(err *Error) {
	*l = append(*l, err)
}

func (l List) HasErrors() bool {
	return len(l) > 0
}
