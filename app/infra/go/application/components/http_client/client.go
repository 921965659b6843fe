package http_client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/logging"
)

type InstrumentedClient struct {
	Name           string
	BaseURL        string
	DefaultHeaders map[string]string
	Client         *http.Client
	Retry          *RetryConfig
	Underlying     *http.Transport
}

// NewInstrumentedClient builds a standalone client with otelhttp transport.
func NewInstrumentedClient(name string, cfg *HTTPClientConfig) *InstrumentedClient {
	underlying := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &InstrumentedClient{
		Name:           name,
		BaseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		DefaultHeaders: cfg.DefaultHeaders,
		Client:         &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(underlying)},
		Retry:          cfg.Retry,
		Underlying:     underlying,
	}
}

// StatusError carries a non-2xx response; 5xx and 429 are retryable.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http error status=%d body=%s", e.StatusCode, e.Body)
}

func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func (ic *InstrumentedClient) buildURL(path string, q map[string]string) (string, error) {
	full := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if path != "" && path[0] != '/' {
			path = "/" + path
		}
		full = ic.BaseURL + path
	}
	u, err := url.Parse(full)
	if err != nil {
		return "", err
	}
	if len(q) > 0 {
		qs := u.Query()
		for k, v := range q {
			qs.Set(k, v)
		}
		u.RawQuery = qs.Encode()
	}
	return u.String(), nil
}

func encodeBody(body interface{}) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	case io.Reader:
		raw, err := io.ReadAll(b)
		return raw, "", err
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("marshal body: %w", err)
		}
		return buf, "application/json", nil
	}
}

// Open sends the request (with retry) and returns the response with an unread body.
// Non-2xx responses are returned as *StatusError with the body closed.
func (ic *InstrumentedClient) Open(ctx context.Context, method, path string, query, headers map[string]string, body interface{}) (*http.Response, error) {
	if method == "" {
		method = http.MethodGet
	}
	targetURL, err := ic.buildURL(path, query)
	if err != nil {
		return nil, err
	}
	payload, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	attempt := func() (*http.Response, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, targetURL, reader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		for k, v := range ic.DefaultHeaders {
			req.Header.Set(k, v)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if contentType != "" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", contentType)
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json, */*")
		}
		resp, err := ic.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if resp.StatusCode >= 400 {
			slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			se := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(slurp))}
			if !se.Retryable() {
				return nil, backoff.Permanent(se)
			}
			return nil, se
		}
		return resp, nil
	}

	start := time.Now()
	resp, err := backoff.Retry(ctx, attempt, ic.retryOptions()...)
	fields := []zap.Field{
		zap.String("client", ic.Name),
		zap.String("method", method),
		zap.String("url", targetURL),
		zap.Duration("latency", time.Since(start)),
	}
	if err != nil {
		logging.Error(ctx, "http_client_request", append(fields, zap.Error(err))...)
		return nil, err
	}
	logging.Info(ctx, "http_client_request", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}

// Do sends the request and decodes a JSON (or raw into *[]byte / *string) response into out.
func (ic *InstrumentedClient) Do(ctx context.Context, method, path string, query map[string]string, headers map[string]string, body interface{}, out interface{}) (*http.Response, error) {
	resp, err := ic.Open(ctx, method, path, query, headers, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, nil
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp, fmt.Errorf("decode response: %w", err)
		}
		return resp, nil
	}
	raw, _ := io.ReadAll(resp.Body)
	switch o := out.(type) {
	case *[]byte:
		*o = raw
	case *string:
		*o = string(raw)
	}
	return resp, nil
}

func (ic *InstrumentedClient) Get(ctx context.Context, path string, query map[string]string, headers map[string]string, out interface{}) (*http.Response, error) {
	return ic.Do(ctx, http.MethodGet, path, query, headers, nil, out)
}

func (ic *InstrumentedClient) Post(ctx context.Context, path string, body interface{}, headers map[string]string, out interface{}) (*http.Response, error) {
	return ic.Do(ctx, http.MethodPost, path, nil, headers, body, out)
}

func (ic *InstrumentedClient) retryOptions() []backoff.RetryOption {
	if ic.Retry == nil || !ic.Retry.Enabled || ic.Retry.MaxAttempts <= 1 {
		return []backoff.RetryOption{backoff.WithMaxTries(1)}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ic.Retry.InitialBackoff
	b.MaxInterval = ic.Retry.MaxBackoff
	b.Multiplier = ic.Retry.BackoffMultiplier
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(ic.Retry.MaxAttempts)),
	}
}
