package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClickHouseSink sends events to ClickHouse via the HTTP interface.
// It uses JSONEachRow format: query=INSERT INTO <table> FORMAT JSONEachRow
// and sends a single JSON line per event.
type ClickHouseSink struct {
	client *http.Client
	base   string // base HTTP endpoint, e.g., http://localhost:8123
	table  string
}

func NewClickHouseSink(baseURL, table string) *ClickHouseSink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &ClickHouseSink{client: c, base: strings.TrimRight(baseURL, "/"), table: table}
}

// row flattens an event into the column layout shared with the native sink.
type row struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	SessionID  string    `json:"session_id"`
	AppID      uint32    `json:"app_id"`
	PID        int       `json:"pid"`
	State      string    `json:"state"`
	Detail     string    `json:"detail"`
	StartedAt  time.Time `json:"started_at"`
}

func (s *ClickHouseSink) Send(ctx context.Context, e Event) error {
	u, err := url.Parse(s.base)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("query", fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", s.table))
	u.RawQuery = q.Encode()
	line, err := json.Marshal(row{
		Type:       string(e.Type),
		OccurredAt: e.OccurredAt,
		SessionID:  e.Record.SessionID,
		AppID:      e.Record.AppID,
		PID:        e.Record.PID,
		State:      e.Record.State,
		Detail:     e.Record.Detail,
		StartedAt:  e.Record.StartedAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(append(line, '\n')))
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
		return fmt.Errorf("clickhouse sink status %d", resp.StatusCode)
	}
	return nil
}
