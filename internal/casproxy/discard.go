package casproxy

import "net/http"

// recordingResponseWriter discards a response body, used to drive the
// fire-and-forget origin forward on logout-passthrough: the caller has
// already responded with the CAS logout redirect by the time this write
// would otherwise happen.
type recordingResponseWriter struct {
	header     http.Header
	statusCode int
}

func (r *recordingResponseWriter) Header() http.Header { return r.header }

func (r *recordingResponseWriter) Write(b []byte) (int, error) { return len(b), nil }

func (r *recordingResponseWriter) WriteHeader(statusCode int) { r.statusCode = statusCode }
