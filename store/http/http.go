// Package http provides an entry store backed by a remote HTTP
// byte key-value endpoint.
//
// Entries are addressed as <endpoint>/<hex-digest>: Load issues a GET
// (404 is a miss), Store issues a PUT. The transport makes no attempt
// to interpret entry contents; timeouts and cancellation are the
// caller's policy, applied through the request context or a custom
// client.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/buildstash/stash/store"
)

// Store is a remote entry store over HTTP.
type Store struct {
	endpoint string
	client   *nethttp.Client
	headers  nethttp.Header
}

// Option configures a Store.
type Option func(*Store)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Store) {
		s.client = client
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Store) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// New creates an HTTP store addressing entries under endpoint.
func New(endpoint string, opts ...Option) (*Store, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	s := &Store{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	return s, nil
}

// Load fetches the entry bytes for key. A 404 is store.ErrNotExist.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	req, err := s.newRequest(ctx, nethttp.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote load: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case nethttp.StatusOK:
	case nethttp.StatusNotFound:
		return nil, store.ErrNotExist
	default:
		return nil, fmt.Errorf("remote load: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote load: read body: %w", err)
	}
	return data, nil
}

// Store uploads the entry bytes for key via PUT. The remote is expected
// to apply its own write-once discipline; any 2xx status is success.
func (s *Store) Store(ctx context.Context, key string, data []byte) error {
	req, err := s.newRequest(ctx, nethttp.MethodPut, key, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote store: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("remote store: unexpected status %s", resp.Status)
	}
	return nil
}

func (s *Store) newRequest(ctx context.Context, method, key string, body io.Reader) (*nethttp.Request, error) {
	name, err := store.CleanKey(key)
	if err != nil {
		return nil, err
	}
	req, err := nethttp.NewRequestWithContext(ctx, method, s.endpoint+"/"+name, body)
	if err != nil {
		return nil, err
	}
	for k, values := range s.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

var _ store.Store = (*Store)(nil)
