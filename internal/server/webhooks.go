package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"pactline/internal/config"
	"pactline/internal/domain"
	"pactline/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher pushes new receipts to configured URLs. Delivery is
// at-least-once: the per-hook cursor only advances after a successful post.
type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

func startWebhookDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	items, err := d.engine.Repo.ReceiptsAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		log.Printf("webhook: fetch receipts failed: %v", err)
		return
	}
	if len(items) == 0 {
		return
	}
	filter := newActionFilter(hook.Actions)
	for _, rec := range items {
		if !filter.match(rec.Action) {
			d.setCursor(idx, rec.ID)
			continue
		}
		if err := d.postReceipt(ctx, hook, rec); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, rec.ID)
	}
}

func (d *webhookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestReceiptID(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *webhookDispatcher) postReceipt(ctx context.Context, hook config.WebhookConfig, rec domain.Receipt) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pactline-Action", rec.Action)
	req.Header.Set("X-Pactline-Delivery", fmt.Sprintf("%d", rec.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Pactline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type actionFilter struct {
	all bool
	set map[string]struct{}
}

func newActionFilter(actions []string) actionFilter {
	if len(actions) == 0 {
		return actionFilter{all: true}
	}
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		key := strings.TrimSpace(a)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return actionFilter{all: true}
	}
	return actionFilter{set: set}
}

func (f actionFilter) match(action string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[action]
	return ok
}
