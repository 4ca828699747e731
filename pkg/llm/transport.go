package llm

import (
	"net/http"

	"github.com/ekaya-inc/finsql-engine/pkg/telemetry"
)

const requestIDHeader = "X-Request-Id"

// requestIDTransport tags outgoing provider requests with the pipeline request id so
// provider-side logs can be joined with our telemetry.
type requestIDTransport struct {
	base http.RoundTripper
}

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if id := telemetry.FromContext(req.Context()).RequestID(); id != "" {
		req = req.Clone(req.Context())
		req.Header.Set(requestIDHeader, id)
	}
	return t.base.RoundTrip(req)
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: &requestIDTransport{base: http.DefaultTransport}}
}
