// Package clients implements the request/response adapters to the three
// external collaborators: conference, event-log and task-queue services.
// Every outbound call is wrapped in a circuit breaker and carries a
// per-call context timeout; retryable RPCs use SingleRetry.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
)

// base is embedded by each collaborator client: shared HTTP transport,
// breaker and timeout handling.
type base struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	baseURL    string
	timeout    time.Duration
	logger     *zap.Logger
}

func newBase(name, baseURL string, timeout time.Duration, logger *zap.Logger) base {
	return base{
		httpClient: &http.Client{Timeout: timeout + 2*time.Second},
		breaker:    newBreaker(name, logger),
		baseURL:    baseURL,
		timeout:    timeout,
		logger:     logger,
	}
}

// doJSON performs one HTTP round trip through the breaker, marshaling body
// (if non-nil) as the JSON request and unmarshaling the response into out
// (if non-nil). A non-2xx status is converted to a mqtt_request_failed
// apperr.Error (named for the original transport; here it covers any
// collaborator RPC failure).
func (b *base) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.roundTrip(ctx, method, path, body, out)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return apperr.New(apperr.KindMqttRequestFailed, fmt.Errorf("%s: circuit open: %w", b.baseURL, err))
		}
		return err
	}
	return nil
}

func (b *base) roundTrip(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apperr.New(apperr.KindSerializationFailed, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return apperr.New(apperr.KindInternalFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return apperr.New(apperr.KindMqttRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.New(apperr.KindMqttRequestFailed, err)
	}

	if resp.StatusCode >= 300 {
		return apperr.New(apperr.KindMqttRequestFailed, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(respBody)))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperr.New(apperr.KindSerializationFailed, err)
		}
	}
	return nil
}
