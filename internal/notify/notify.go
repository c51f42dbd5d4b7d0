package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"doorguard/internal/model"
)

var ErrDispatchFailed = errors.New("alert dispatch failed")

// AlertRequest is the body handed to the notification channel.
type AlertRequest struct {
	AlertType    model.AlertKind `json:"alert_type"`
	ReadingID    *int64          `json:"reading_id,omitempty"`
	DoorOpenedAt *string         `json:"door_opened_at,omitempty"`
}

func NewAlertRequest(kind model.AlertKind, readingID int64, openedAt *time.Time) AlertRequest {
	req := AlertRequest{AlertType: kind}
	if readingID > 0 {
		id := readingID
		req.ReadingID = &id
	}
	if openedAt != nil {
		ts := openedAt.UTC().Format(time.RFC3339Nano)
		req.DoorOpenedAt = &ts
	}
	return req
}

// AlertResponse mirrors the channel's reply. A missing success field is a failure.
type AlertResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (r AlertResponse) OK() bool {
	return r.Success != nil && *r.Success
}

type Notifier interface {
	SendAlert(ctx context.Context, req AlertRequest) (AlertResponse, error)
}

// LogNotifier accepts every alert and only logs it. Used when no channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendAlert(_ context.Context, req AlertRequest) (AlertResponse, error) {
	if n.Logger != nil {
		attrs := []any{"alert_type", req.AlertType}
		if req.ReadingID != nil {
			attrs = append(attrs, "reading_id", *req.ReadingID)
		}
		if req.DoorOpenedAt != nil {
			attrs = append(attrs, "door_opened_at", *req.DoorOpenedAt)
		}
		n.Logger.Warn("security alert (no notification channel configured)", attrs...)
	}
	ok := true
	return AlertResponse{Success: &ok}, nil
}
