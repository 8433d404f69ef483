package stash

import (
	"errors"
	"log/slog"
	nethttp "net/http"

	"github.com/buildstash/stash/store"
)

// Option configures a Cache during construction.
type Option func(*Cache) error

// WithLogger enables structured logging. Without it the cache is
// silent.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) error {
		c.logger = logger
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for an HTTP remote,
// including any timeout policy the caller wants applied to remote
// operations.
func WithHTTPClient(client *nethttp.Client) Option {
	return func(c *Cache) error {
		if client == nil {
			return errors.New("http client is nil")
		}
		c.httpClient = client
		return nil
	}
}

// WithRemoteStore injects a custom remote backend, overriding the one
// derived from the configured endpoint.
func WithRemoteStore(s store.Store) Option {
	return func(c *Cache) error {
		if s == nil {
			return errors.New("remote store is nil")
		}
		c.remote = s
		return nil
	}
}
