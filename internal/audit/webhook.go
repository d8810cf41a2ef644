package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultFlushInterval  = 5 * time.Second

	// Depth of the batching queue. Ship falls back to a direct send when
	// the queue is full, so depth only bounds memory, not delivery.
	webhookQueueDepth = 1000
)

// WebhookShipper posts audit records to an HTTP endpoint. With BatchSize
// unset every record posts immediately as a single JSON object; with
// BatchSize > 0 records queue and post as JSON arrays, which is what
// log-collection endpoints generally want.
type WebhookShipper struct {
	conf   *WebhookConfig
	client *http.Client

	queue   chan *LogEntry
	quit    chan struct{}
	drained chan struct{}
}

// NewWebhookShipper validates the config and, in batched mode, starts the
// background flush loop.
func NewWebhookShipper(conf *WebhookConfig) (*WebhookShipper, error) {
	if conf.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}

	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	ws := &WebhookShipper{
		conf:   conf,
		client: &http.Client{Timeout: timeout},
	}

	if conf.BatchSize > 0 {
		ws.queue = make(chan *LogEntry, webhookQueueDepth)
		ws.quit = make(chan struct{})
		ws.drained = make(chan struct{})
		go ws.run()
	}

	return ws, nil
}

// Ship delivers one record. In batched mode it queues the record and returns
// immediately; if the queue is full the record is sent directly instead of
// being dropped.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if ws.queue == nil {
		body, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal audit entry: %w", err)
		}
		return ws.post(ctx, body)
	}

	select {
	case ws.queue <- entry:
		return nil
	default:
		body, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal audit entry: %w", err)
		}
		return ws.post(ctx, body)
	}
}

// run collects queued records and flushes them when the batch fills or the
// flush interval elapses. On shutdown it drains the queue so nothing queued
// before Close is lost.
func (ws *WebhookShipper) run() {
	interval := ws.conf.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []*LogEntry

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := ws.postBatch(pending); err != nil {
			slog.Error("audit webhook batch failed", "error", err, "entries", len(pending))
		}
		pending = nil
	}

	for {
		select {
		case entry := <-ws.queue:
			pending = append(pending, entry)
			if len(pending) >= ws.conf.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ws.quit:
			for {
				select {
				case entry := <-ws.queue:
					pending = append(pending, entry)
				default:
					flush()
					close(ws.drained)
					return
				}
			}
		}
	}
}

func (ws *WebhookShipper) postBatch(entries []*LogEntry) error {
	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal audit batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.client.Timeout)
	defer cancel()
	return ws.post(ctx, body)
}

func (ws *WebhookShipper) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.conf.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for name, value := range ws.conf.Headers {
		req.Header.Set(name, value)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}

// Close stops the flush loop and waits for queued records to post. Safe to
// call in direct mode, where it is a no-op.
func (ws *WebhookShipper) Close() error {
	if ws.queue == nil {
		return nil
	}
	close(ws.quit)
	<-ws.drained
	return nil
}
