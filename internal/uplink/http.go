package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"buzzhive/internal/models"
)

// HTTPConfig configures an HTTPSink.
type HTTPConfig struct {
	Endpoint string
	APIKey   string // sent as X-API-Key when set
	Timeout  time.Duration
}

// HTTPSink POSTs each record as JSON. Any 2xx response is success.
type HTTPSink struct {
	endpoint string
	apiKey   string
	host     string
	client   *http.Client
	dialer   net.Dialer
}

// NewHTTPSink validates the endpoint URL.
func NewHTTPSink(cfg HTTPConfig) (*HTTPSink, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("uplink: invalid endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("uplink: endpoint %q must be an http(s) URL", cfg.Endpoint)
	}

	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	return &HTTPSink{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		host:     host,
		client:   &http.Client{Timeout: cfg.Timeout},
		dialer:   net.Dialer{Timeout: cfg.Timeout},
	}, nil
}

func (s *HTTPSink) Send(ctx context.Context, t models.Telemetry) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("uplink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d", ErrUploadFailed, resp.StatusCode)
	}
	return nil
}

// Ping opens and closes a TCP connection to the endpoint host.
func (s *HTTPSink) Ping(ctx context.Context) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.host)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivityUnavailable, err)
	}
	return conn.Close()
}

func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
