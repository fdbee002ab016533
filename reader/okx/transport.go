package okx

import "net/http"

// userAgentTransport sets a fixed User-Agent; the OKX REST edge rejects
// Go's default agent from some regions.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}
