// headers.go negotiates the response content type from a request's Accept
// header, grounded on
// original_source/bin/router/src/pipeline/header.rs. Two independent
// preferences are extracted in one pass over the comma-separated header:
// the preferred single (non-streamed) content type for queries/mutations,
// and the preferred stream content type for subscriptions. Order of
// appearance in the header decides ties; an empty header or a "*/*" entry
// selects the defaults outright.
package httpgw

import (
	"errors"
	"strings"
)

// ErrUnsupportedContentType is returned by Negotiate when the Accept header
// names only content types this gateway does not support.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// SingleContentType is a non-streamable response content type.
type SingleContentType int

const (
	// ContentTypeJSON is the legacy `application/json` response type, and
	// the default when the client states no preference.
	ContentTypeJSON SingleContentType = iota
	// ContentTypeGraphQLResponseJSON is `application/graphql-response+json`,
	// the GraphQL-over-HTTP spec's content type.
	ContentTypeGraphQLResponseJSON
)

func (t SingleContentType) String() string {
	switch t {
	case ContentTypeGraphQLResponseJSON:
		return "application/graphql-response+json"
	default:
		return "application/json"
	}
}

// StreamContentType is a streamable response content type, used for
// subscriptions and incremental delivery.
type StreamContentType int

const (
	// ContentTypeIncrementalDelivery is plain `multipart/mixed`, the
	// default stream type.
	ContentTypeIncrementalDelivery StreamContentType = iota
	// ContentTypeSSE is `text/event-stream`.
	ContentTypeSSE
	// ContentTypeApolloMultipartHTTP is `multipart/mixed` carrying the
	// Apollo subscriptions-over-multipart-HTTP protocol marker.
	ContentTypeApolloMultipartHTTP
)

func (t StreamContentType) String() string {
	switch t {
	case ContentTypeSSE:
		return "text/event-stream"
	case ContentTypeApolloMultipartHTTP:
		return `multipart/mixed; boundary=graphql`
	default:
		return "multipart/mixed; boundary=-"
	}
}

const (
	applicationJSON        = "application/json"
	applicationGraphQLJSON = "application/graphql-response+json"
	textEventStream        = "text/event-stream"
	multipartMixed         = "multipart/mixed"
	textHTML               = "text/html"
)

type parsedKind int

const (
	kindNone parsedKind = iota
	kindSingle
	kindStream
)

func parseOne(contentType string) (parsedKind, SingleContentType, StreamContentType) {
	switch {
	case contentType == applicationGraphQLJSON:
		return kindSingle, ContentTypeGraphQLResponseJSON, 0
	case contentType == applicationJSON:
		return kindSingle, ContentTypeJSON, 0
	case strings.Contains(contentType, multipartMixed) && strings.Contains(contentType, `subscriptionSpec="1.0"`):
		return kindStream, 0, ContentTypeApolloMultipartHTTP
	case contentType == textEventStream:
		return kindStream, 0, ContentTypeSSE
	case contentType == multipartMixed:
		return kindStream, 0, ContentTypeIncrementalDelivery
	default:
		return kindNone, 0, 0
	}
}

// NegotiatedContentType holds the per-request preferred content types, each
// with a Set flag since either half of the pair may be absent from a
// client's Accept header while the other half is present.
type NegotiatedContentType struct {
	Single      SingleContentType
	HasSingle   bool
	Stream      StreamContentType
	HasStream   bool
}

// ParseAccept negotiates the response content type from the raw Accept
// header value. An empty header or a `*/*` entry selects the defaults
// (JSON, IncrementalDelivery) outright. Entries split on `,` so that a
// parameterized multipart entry such as
// `multipart/mixed;subscriptionSpec="1.0", text/event-stream` is not
// mistaken for a single combined type.
func ParseAccept(accept string) NegotiatedContentType {
	if accept == "" {
		return NegotiatedContentType{HasSingle: true, HasStream: true, Stream: ContentTypeIncrementalDelivery}
	}

	var out NegotiatedContentType
	for _, part := range strings.Split(accept, ",") {
		ct := strings.TrimSpace(part)
		if ct == "*/*" {
			return NegotiatedContentType{HasSingle: true, HasStream: true, Stream: ContentTypeIncrementalDelivery}
		}

		kind, single, stream := parseOne(ct)
		switch kind {
		case kindSingle:
			if !out.HasSingle {
				out.Single = single
				out.HasSingle = true
			}
		case kindStream:
			if !out.HasStream {
				out.Stream = stream
				out.HasStream = true
			}
		}

		if out.HasSingle && out.HasStream {
			break
		}
	}

	return out
}

// Negotiate is ParseAccept plus the "no known type at all" error case: an
// empty header or `*/*` still means "accept everything" and is handled by
// ParseAccept's defaults, but a header naming only unsupported types (e.g.
// `text/plain`) is treated as the client explicitly rejecting every
// response format this gateway can produce.
func Negotiate(accept string) (NegotiatedContentType, error) {
	parsed := ParseAccept(accept)
	if !parsed.HasSingle && !parsed.HasStream {
		return parsed, ErrUnsupportedContentType
	}
	return parsed, nil
}

// CanAcceptHTML reports whether the Accept header names text/html
// explicitly, used to decide whether to serve a GraphiQL page instead of a
// GraphQL response. A missing header or a bare `*/*` never qualifies: this
// is a GraphQL server, not an HTML one.
func CanAcceptHTML(accept string) bool {
	return strings.Contains(accept, textHTML)
}
