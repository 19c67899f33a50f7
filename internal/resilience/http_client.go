package resilience

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HTTPClient is a pooled HTTP client guarded by a circuit breaker. Every
// evidence source talks to its provider through one of these so that a
// misbehaving provider trips its own breaker without affecting the others.
type HTTPClient struct {
	name    string
	client  *http.Client
	breaker *CircuitBreaker
}

// HTTPClientConfig bounds the pooled transport.
type HTTPClientConfig struct {
	MaxIdleConns    int
	MaxConnsPerHost int
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
}

// DefaultHTTPClientConfig returns transport defaults sized for one provider.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		MaxIdleConns:    10,
		MaxConnsPerHost: 20,
		IdleTimeout:     30 * time.Second,
		RequestTimeout:  30 * time.Second,
	}
}

// NewHTTPClient creates a pooled client for the named provider.
func NewHTTPClient(name string, cfg HTTPClientConfig, breaker *CircuitBreaker) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxIdleConns / 2,
		IdleConnTimeout:       cfg.IdleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPClient{
		name: name,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		breaker: breaker,
	}
}

// DoRequest executes an HTTP request with circuit breaker protection.
func (hc *HTTPClient) DoRequest(ctx context.Context, method, url string, headers map[string]string) (*http.Response, error) {
	var resp *http.Response

	err := hc.breaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return err
		}

		for key, value := range headers {
			req.Header.Set(key, value)
		}

		start := time.Now()
		resp, err = hc.client.Do(req)
		duration := time.Since(start)

		if err != nil {
			slog.Warn("Request failed", "provider", hc.name, "url", url, "error", err, "duration_ms", duration.Milliseconds())
			return err
		}

		slog.Debug("Request completed", "provider", hc.name, "url", url, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())
		return nil
	})

	if err != nil {
		return nil, err
	}

	return resp, nil
}

// BreakerState reports the provider breaker's state for metrics.
func (hc *HTTPClient) BreakerState() CircuitBreakerState {
	return hc.breaker.State()
}

// Close releases idle transport connections.
func (hc *HTTPClient) Close() error {
	if transport, ok := hc.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
