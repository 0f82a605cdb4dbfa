package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/recite/internal/state"
)

// Client talks to a mirror server over HTTP and WebSocket. It implements
// sync.Mirror.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the mirror at baseURL (e.g.
// "http://localhost:8484"). A trailing slash is tolerated.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// UpsertReviewState writes one review state to the mirror and returns the
// server-assigned updatedAt.
func (c *Client) UpsertReviewState(ctx context.Context, userID, docID, unitID string, rs *state.ReviewState) (time.Time, error) {
	if rs.ID == "" {
		clone := rs.Clone()
		clone.ID = unitID
		rs = clone
	}
	rec, err := state.NewReviewRecord(docID, rs)
	if err != nil {
		return time.Time{}, err
	}
	stored, err := c.upsert(ctx, userID, rec)
	if err != nil {
		return time.Time{}, err
	}
	return stored.UpdatedAt, nil
}

// upsert POSTs a record to the user's feed and decodes the stored record.
func (c *Client) upsert(ctx context.Context, userID string, rec state.Record) (state.Record, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return state.Record{}, fmt.Errorf("failed to marshal record: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/records?user=%s", c.baseURL, url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return state.Record{}, fmt.Errorf("failed to build upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return state.Record{}, fmt.Errorf("failed to upsert record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return state.Record{}, fmt.Errorf("mirror rejected upsert: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var stored state.Record
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return state.Record{}, fmt.Errorf("failed to decode upsert response: %w", err)
	}
	return stored, nil
}

// FetchAll returns every record in the user's feed.
func (c *Client) FetchAll(ctx context.Context, userID string) ([]state.Record, error) {
	endpoint := fmt.Sprintf("%s/v1/records?user=%s", c.baseURL, url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mirror rejected fetch: %s", resp.Status)
	}

	var records []state.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

// Subscribe opens a WebSocket to the user's feed and delivers each pushed
// record on the returned channel. The returned func closes the socket and
// waits for the reader goroutine to exit; after it returns, the channel is
// closed.
func (c *Client) Subscribe(ctx context.Context, userID string) (<-chan state.Record, func(), error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1)
	endpoint := fmt.Sprintf("%s/v1/ws?user=%s", wsURL, url.QueryEscape(userID))

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial mirror websocket: %w", err)
	}

	updates := make(chan state.Record, 16)
	readCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(updates)
		for {
			_, data, err := conn.Read(readCtx)
			if err != nil {
				return
			}
			var rec state.Record
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			select {
			case updates <- rec:
			case <-readCtx.Done():
				return
			}
		}
	}()

	unsubscribe := func() {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "unsubscribe")
		wg.Wait()
	}
	return updates, unsubscribe, nil
}

// UpsertFanout mirrors a review state to every listed group feed. Each
// group write is independent and idempotent: a failure for one group does
// not stop or roll back the others. Failures are joined into a single
// aggregate error.
func (c *Client) UpsertFanout(ctx context.Context, groupIDs []string, docID, unitID string, rs *state.ReviewState) error {
	if rs.ID == "" {
		clone := rs.Clone()
		clone.ID = unitID
		rs = clone
	}
	rec, err := state.NewReviewRecord(docID, rs)
	if err != nil {
		return err
	}

	var errs []error
	for _, group := range groupIDs {
		if _, err := c.upsert(ctx, group, rec); err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", group, err))
		}
	}
	return errors.Join(errs...)
}
