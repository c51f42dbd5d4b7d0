package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

type HTTPSyncer struct {
	url    string
	client *resty.Client
}

func NewHTTPSyncer(url, token string, timeout time.Duration) *HTTPSyncer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPSyncer{url: url, client: client}
}

// TriggerSync maps a 403 or an "admin required" error body to ErrUnauthorized.
func (h *HTTPSyncer) TriggerSync(ctx context.Context) (SyncResult, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(map[string]any{}).
		Post(h.url)
	if err != nil {
		return SyncResult{}, err
	}
	var out SyncResult
	decodeErr := json.Unmarshal(resp.Body(), &out)
	if resp.StatusCode() == http.StatusForbidden || IsAuthorizationMessage(string(resp.Body())) {
		return out, fmt.Errorf("%w: status %d %s", ErrUnauthorized, resp.StatusCode(), out.Error)
	}
	if resp.IsError() {
		return out, fmt.Errorf("reconciliation status %d: %s", resp.StatusCode(), out.Error)
	}
	if decodeErr != nil {
		return out, fmt.Errorf("decode reconciliation response: %w", decodeErr)
	}
	return out, nil
}
