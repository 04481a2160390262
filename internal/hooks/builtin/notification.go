package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tokligence/hookengine/internal/hooks"
	"github.com/tokligence/hookengine/internal/hookslog"
	"github.com/tokligence/hookengine/internal/logging"
	"github.com/tokligence/hookengine/internal/ratelimit"
)

const webhookTimeout = 5 * time.Second

// NotificationHandler delivers a formatted message via log, file, or
// webhook. Delivery failures are logged and swallowed: a notification
// method never fails the dispatch chain.
type NotificationHandler struct {
	hooks.BaseHandler
	name       string
	method     string
	template   string
	webhookURL string
	filePath   string
	addStatus  bool

	logger  *log.Logger
	file    *logging.RotatingWriter
	fileMu  sync.Mutex
	client  *http.Client
	limiter *ratelimit.TokenBucket
}

// NewNotificationHandler builds a Notification handler from its
// configuration fields. A token bucket (burst 5, refilling one token per
// second) bounds how often the webhook method may fire per handler
// instance, preventing a hook storm from flooding a downstream endpoint.
func NewNotificationHandler(name string, fields map[string]any, logger *log.Logger) *NotificationHandler {
	if logger == nil {
		logger = hookslog.New(nil, "hooks.notification")
	}
	return &NotificationHandler{
		name:       name,
		method:     getString(fields, "method", "log"),
		template:   getString(fields, "template", "Hook {hook_type} triggered by handler {handler}"),
		webhookURL: getString(fields, "webhook_url", ""),
		filePath:   getString(fields, "file_path", "/tmp/hook_notifications.log"),
		addStatus:  getBool(fields, "add_status", false),
		logger:     logger,
		client:     &http.Client{Timeout: webhookTimeout},
		limiter:    ratelimit.NewTokenBucket(5, 1),
	}
}

func (h *NotificationHandler) Name() string { return h.name }

func (h *NotificationHandler) Execute(ctx context.Context, hctx *hooks.HookContext, payload hooks.HookPayload) (hooks.ExecutionResult, error) {
	message := h.formatMessage(hctx, payload)
	h.sendNotification(ctx, hctx, payload, message)

	if !h.addStatus {
		return hooks.Continue(), nil
	}

	obj, ok := asObject(payload.Data)
	if !ok {
		obj = map[string]any{"_original": rawToAny(payload.Data)}
	}
	obj["_notified"] = map[string]any{
		"handler":   h.name,
		"timestamp": time.Now().Format(time.RFC3339),
		"method":    h.method,
	}
	return hooks.Replace(mustMarshal(obj)), nil
}

func (h *NotificationHandler) sendNotification(ctx context.Context, hctx *hooks.HookContext, payload hooks.HookPayload, message string) {
	switch h.method {
	case "file":
		h.notifyFile(message)
	case "webhook":
		h.notifyWebhook(ctx, hctx, payload)
	case "log":
		h.logger.Printf("%s", message)
	default:
		// unknown method: no-op
	}
}

func (h *NotificationHandler) notifyFile(message string) {
	h.fileMu.Lock()
	defer h.fileMu.Unlock()
	if h.file == nil {
		w, err := logging.NewRotatingWriter(h.filePath, 10*1024*1024)
		if err != nil {
			h.logger.Printf("notification: open file %s: %v", h.filePath, err)
			return
		}
		if rw, ok := w.(*logging.RotatingWriter); ok {
			h.file = rw
		}
	}
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format(time.RFC3339), message)
	if h.file != nil {
		if _, err := h.file.Write([]byte(line)); err != nil {
			h.logger.Printf("notification: write file %s: %v", h.filePath, err)
		}
	}
}

func (h *NotificationHandler) notifyWebhook(ctx context.Context, hctx *hooks.HookContext, payload hooks.HookPayload) {
	if h.webhookURL == "" {
		h.logger.Printf("notification: webhook method configured without webhook_url")
		return
	}
	if !h.limiter.Allow() {
		h.logger.Printf("notification: webhook throttled for handler %s", h.name)
		return
	}

	userID, _ := hctx.UserID()
	body := map[string]any{
		"handler":   h.name,
		"hook_type": payload.HookType.String(),
		"timestamp": payload.Timestamp.Format(time.RFC3339),
		"data":      rawToAny(payload.Data),
		"context": map[string]any{
			"request_id": payload.ExecutionID,
			"user":       userID,
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		h.logger.Printf("notification: marshal webhook body: %v", err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, h.webhookURL, bytes.NewReader(raw))
	if err != nil {
		h.logger.Printf("notification: build webhook request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Printf("notification: webhook delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.logger.Printf("notification: webhook returned status %d", resp.StatusCode)
	}
}

func (h *NotificationHandler) formatMessage(hctx *hooks.HookContext, payload hooks.HookPayload) string {
	userID, _ := hctx.UserID()
	message := h.template
	message = strings.ReplaceAll(message, "{hook_type}", payload.HookType.String())
	message = strings.ReplaceAll(message, "{handler}", h.name)
	message = strings.ReplaceAll(message, "{request_id}", payload.ExecutionID)
	message = strings.ReplaceAll(message, "{user}", userID)

	if obj, ok := asObject(payload.Data); ok {
		for key, v := range obj {
			placeholder := "{data." + key + "}"
			if !strings.Contains(message, placeholder) {
				continue
			}
			var rendered string
			if s, ok := v.(string); ok {
				rendered = s
			} else {
				rendered = string(mustMarshal(v))
			}
			message = strings.ReplaceAll(message, placeholder, rendered)
		}
	}
	return message
}
