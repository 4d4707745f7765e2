package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/sony/gobreaker"

	"github.com/yarnnn/orchestrator/pkg/models"
)

const maxErrorBodyBytes = 2048

// Door is the single path all outbound provider HTTP goes through: one
// retry policy (1s, 2s, 4s, three attempts, transient errors only) and one
// circuit breaker per provider so a dead API stops burning the budget of
// every user in the tick.
type Door struct {
	platform models.Platform
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewDoor builds a door for one provider with the configured budgets.
func NewDoor(p models.Platform, timeout, connectTimeout time.Duration) *Door {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConnsPerHost: 4,
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(p),
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Door{
		platform: p,
		client:   &http.Client{Timeout: timeout, Transport: transport},
		breaker:  breaker,
		logger:   slog.Default().With("component", "platform-door", "platform", p),
	}
}

// Request is one outbound call. Body is JSON-marshaled when non-nil unless
// Form is set, in which case Form is sent URL-encoded.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    any
	Form    url.Values
	Token   string // bearer token, added as Authorization when set
}

// DoJSON performs the request and decodes a JSON response into out (out may
// be nil for calls whose body is discarded). Non-2xx responses become
// *APIError; transient ones are retried inside.
func (d *Door) DoJSON(ctx context.Context, req *Request, out any) error {
	work := func() error {
		_, err := d.breaker.Execute(func() (any, error) {
			return nil, d.once(ctx, req, out)
		})
		return err
	}
	err := retry.Do(work,
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return false
			}
			return IsTransient(err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	return nil
}

func (d *Door) once(ctx context.Context, req *Request, out any) error {
	var body io.Reader
	contentType := ""
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	target := req.URL
	if len(req.Query) > 0 {
		target = target + "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return d.apiError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", d.platform, err)
	}
	return nil
}

// apiError reads the error body and pulls out the provider error code when
// the body is the usual {"error": ...} JSON shape.
func (d *Door) apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	apiErr := &APIError{
		Platform:   d.platform,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(raw)),
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Error) > 0 {
		var code string
		if json.Unmarshal(envelope.Error, &code) == nil {
			apiErr.Code = code
		} else {
			var obj struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if json.Unmarshal(envelope.Error, &obj) == nil {
				apiErr.Code = obj.Status
				if obj.Message != "" {
					apiErr.Message = obj.Message
				}
			}
		}
	}
	return apiErr
}
