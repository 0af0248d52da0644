package authzproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
)

// HTTPDecider forwards queries to an HTTP authz decision service. The
// response body is a JSON array of permitted actions.
type HTTPDecider struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewHTTPDecider builds a decision client bound to baseURL.
func NewHTTPDecider(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPDecider {
	return &HTTPDecider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Authorize implements Decider.
func (d *HTTPDecider) Authorize(ctx context.Context, audience string, q Request) ([]string, error) {
	buf, err := json.Marshal(q)
	if err != nil {
		return nil, apperr.New(apperr.KindSerializationFailed, err)
	}

	url := d.baseURL + "/authz/" + audience
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, apperr.New(apperr.KindInternalFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.KindAuthorizationFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.New(apperr.KindAuthorizationFailed, err)
	}
	if resp.StatusCode >= 300 {
		return nil, apperr.Newf(apperr.KindAuthorizationFailed, "authz backend returned %d: %s", resp.StatusCode, string(body))
	}

	var permitted []string
	if err := json.Unmarshal(body, &permitted); err != nil {
		return nil, apperr.New(apperr.KindAuthorizationFailed, fmt.Errorf("invalid response format: %w", err))
	}
	return permitted, nil
}
