// handler.go is the outermost HTTP entry point: it answers CORS preflight,
// negotiates the response content type, sets the negotiated Content-Type
// on the response, and delegates GraphQL execution to the wrapped handler
// (the gateway). For a subscription operation the gateway overrides this
// Content-Type with "text/event-stream" itself once it has inspected the
// parsed document, rather than this layer framing the stream: Negotiate's
// StreamContentType result records what the client asked for (SSE,
// incremental-delivery multipart, Apollo's multipart variant) but only SSE
// framing is actually produced today, so a client whose Accept prefers one
// of the other two streaming shapes still gets SSE rather than a 406.
package httpgw

import "net/http"

// Handler wraps a GraphQL request handler with CORS and content
// negotiation.
type Handler struct {
	next http.Handler
	cors *CORS
}

// NewHandler builds a Handler. cors may be nil (CORS disabled).
func NewHandler(next http.Handler, cors *CORS) *Handler {
	return &Handler{next: next, cors: cors}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cors != nil {
		if h.cors.EarlyResponse(w, r) {
			return
		}
		h.cors.SetHeaders(r, w.Header())
	}

	if r.Method == http.MethodGet && CanAcceptHTML(r.Header.Get("Accept")) {
		writeGraphiQL(w)
		return
	}

	negotiated, err := Negotiate(r.Header.Get("Accept"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotAcceptable)
		return
	}

	contentType := applicationJSON
	if negotiated.HasSingle {
		contentType = negotiated.Single.String()
	}
	w.Header().Set("Content-Type", contentType)

	h.next.ServeHTTP(w, r)
}

func writeGraphiQL(w http.ResponseWriter) {
	w.Header().Set("Content-Type", textHTML)
	w.Write([]byte(graphiqlPage))
}

const graphiqlPage = `<!DOCTYPE html>
<html>
<head><title>GraphQL Playground</title></head>
<body>
<p>Send a POST request with a GraphQL query to this endpoint.</p>
</body>
</html>
`
