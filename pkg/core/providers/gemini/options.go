package gemini

import "net/http"

// Option configures the Provider.
type Option func(*Provider)

// WithBaseURL sets the base URL for REST requests.
// Default: https://generativelanguage.googleapis.com
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client for REST requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithModels overrides the model used for each task. Empty fields keep
// their defaults.
func WithModels(m Models) Option {
	return func(p *Provider) {
		p.models = m.withDefaults()
	}
}
