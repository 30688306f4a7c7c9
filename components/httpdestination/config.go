package httpdestination

import "net/http"

// Config exposes the configuration for an HTTP destination
type Config struct {
	// URL receives the item payloads via POST
	URL string `yaml:"url"`
	// RegisterURL, when set, is the session registration endpoint and makes
	// the destination session-based
	RegisterURL string `yaml:"register_url"`
	// TimeoutMillis bounds each delivery attempt; a timeout classifies as a
	// network error
	TimeoutMillis uint `yaml:"timeout_millis"`
	// Client overrides the HTTP client, used by tests
	Client *http.Client
}
