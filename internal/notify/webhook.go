package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type Webhook struct {
	url    string
	client *resty.Client
}

func NewWebhook(url, token string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Webhook{url: url, client: client}
}

// SendAlert returns ErrDispatchFailed for a non-2xx status, an unreadable
// body or success:false. Transport errors are returned as they are.
func (w *Webhook) SendAlert(ctx context.Context, req AlertRequest) (AlertResponse, error) {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(w.url)
	if err != nil {
		return AlertResponse{}, err
	}
	var out AlertResponse
	if jsonErr := json.Unmarshal(resp.Body(), &out); jsonErr != nil {
		return out, fmt.Errorf("%w: status %d, undecodable body: %v", ErrDispatchFailed, resp.StatusCode(), jsonErr)
	}
	if resp.IsError() {
		return out, fmt.Errorf("%w: status %d: %s", ErrDispatchFailed, resp.StatusCode(), out.Error)
	}
	if !out.OK() {
		return out, fmt.Errorf("%w: %s", ErrDispatchFailed, out.Error)
	}
	return out, nil
}
