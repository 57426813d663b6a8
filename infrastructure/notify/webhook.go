package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/zapfunnel/zapfunnel/core/config"
)

// Operator notifications: session lifecycle changes and provider incidents are
// POSTed to the configured webhook URLs. Delivery is best-effort; the platform
// never blocks or fails on a notification.

var (
	mu     sync.RWMutex
	urls   []string
	secret string
	client *resty.Client
)

// Configure sets the webhook targets. Call once at bootstrap; an empty URL
// list turns Emit into a no-op.
func Configure(cfg config.NotifyConfig) {
	mu.Lock()
	defer mu.Unlock()
	urls = cfg.WebhookURLs
	secret = cfg.Secret

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client = resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
}

// Emit forwards the event to every configured webhook in the background.
// Partial failures are logged and suppressed so successful targets still
// receive the event.
func Emit(event string, payload map[string]any) {
	mu.RLock()
	targets := urls
	cli := client
	key := secret
	mu.RUnlock()

	if len(targets) == 0 || cli == nil {
		return
	}

	body, err := json.Marshal(map[string]any{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      payload,
	})
	if err != nil {
		logrus.WithError(err).Errorf("[WEBHOOK] failed to marshal %s payload", event)
		return
	}

	go func() {
		for _, url := range targets {
			if err := submit(cli, url, key, body); err != nil {
				logrus.Warnf("[WEBHOOK] failed forwarding %s to %s: %v", event, url, err)
			}
		}
	}()
}

func submit(cli *resty.Client, url, key string, body []byte) error {
	req := cli.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if key != "" {
		req.SetHeader("X-Hub-Signature-256", "sha256="+sign(body, key))
	}

	resp, err := req.Post(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

func sign(body []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
