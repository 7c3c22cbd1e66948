package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/samgo/internal/history"
)

// Sink indexes session events into an OpenSearch index, one flat document per
// event so dashboards can aggregate on app_id and event without nested fields.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

type document struct {
	Timestamp time.Time         `json:"@timestamp"`
	Event     history.EventType `json:"event"`
	SessionID string            `json:"session_id"`
	AppID     uint32            `json:"app_id"`
	PID       int               `json:"pid"`
	State     string            `json:"state"`
	Detail    string            `json:"detail,omitempty"`
	StartedAt time.Time         `json:"started_at"`
}

func toDocument(e history.Event) document {
	return document{
		Timestamp: e.OccurredAt,
		Event:     e.Type,
		SessionID: e.Record.SessionID,
		AppID:     e.Record.AppID,
		PID:       e.Record.PID,
		State:     e.Record.State,
		Detail:    e.Record.Detail,
		StartedAt: e.Record.StartedAt,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(toDocument(e))
	if err != nil {
		return err
	}
	u := s.baseURL + "/" + url.PathEscape(s.index) + "/_doc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
