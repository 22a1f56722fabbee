package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/chess-autopilot/pkg/botevent"
)

// HTTPSink POSTs each event as JSON to a collector endpoint. Transient
// failures are retried with exponential backoff inside the delivery
// context's deadline.
type HTTPSink struct {
	url      string
	http     *fasthttp.Client
	timeout  time.Duration
	retryMax int
	headers  map[string]string
}

type HTTPOption func(*HTTPSink)

func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithHTTPRetry(max int) HTTPOption {
	return func(s *HTTPSink) {
		if max > 0 {
			s.retryMax = max
		}
	}
}

func WithHTTPHeader(key, value string) HTTPOption {
	return func(s *HTTPSink) { s.headers[key] = value }
}

func NewHTTPSink(url string, opts ...HTTPOption) *HTTPSink {
	s := &HTTPSink{
		url: strings.TrimSpace(url),
		http: &fasthttp.Client{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 8,
		},
		timeout:  10 * time.Second,
		retryMax: 3,
		headers:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Deliver(ctx context.Context, ev botevent.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(s.url)
	req.Header.SetContentType("application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	req.SetBody(payload)

	var lastErr error
	for attempt := 1; attempt <= s.retryMax; attempt++ {
		err := s.http.DoDeadline(req, resp, s.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("push event: %w", err)
		} else {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				return nil
			}
			lastErr = fmt.Errorf("collector error: status=%d body=%s",
				status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return lastErr
			}
		}
		if attempt == s.retryMax {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (s *HTTPSink) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(s.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func (s *HTTPSink) Close() error { return nil }

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
