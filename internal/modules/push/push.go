// Package push implements the push-notification module. Analogous to
// sms: no true batch API is assumed, so a chunk fans out with bounded
// parallelism (spec §4.4).
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/modules"
	"github.com/outboundhq/engine/internal/pkg/httpretry"
)

// DefaultMaxParallel bounds concurrent in-flight requests when a
// SendConfig doesn't override it.
const DefaultMaxParallel = 10

const fcmSendURL = "https://fcm.googleapis.com/fcm/send"

// FCMModule sends push notifications via Firebase Cloud Messaging.
type FCMModule struct {
	serverKey string
	client    httpretry.HTTPDoer
}

// NewFCMModule builds an FCM module wrapped in the shared retry client.
func NewFCMModule(serverKey string, client httpretry.HTTPDoer) *FCMModule {
	return &FCMModule{serverKey: serverKey, client: httpretry.NewRetryClient(client, 3)}
}

func (m *FCMModule) Type() domain.ModuleType { return domain.ModulePush }

type fcmNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type fcmRequest struct {
	To           string          `json:"to"`
	Notification fcmNotification `json:"notification"`
}

type fcmResponse struct {
	MessageID string `json:"message_id,omitempty"`
	Results   []struct {
		MessageID string `json:"message_id,omitempty"`
		Error     string `json:"error,omitempty"`
	} `json:"results,omitempty"`
}

func (m *FCMModule) ExecuteBatch(ctx context.Context, cfgIface domain.ModuleConfig, recipients []modules.RecipientPayload) ([]modules.Result, error) {
	cfg, ok := cfgIface.(domain.PushConfig)
	if !ok {
		return nil, fmt.Errorf("push module: expected PushConfig, got %T", cfgIface)
	}

	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	results := make([]modules.Result, len(recipients))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, rp := range recipients {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rp modules.RecipientPayload) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = m.sendOne(ctx, rp)
		}(i, rp)
	}
	wg.Wait()
	return results, nil
}

func (m *FCMModule) sendOne(ctx context.Context, rp modules.RecipientPayload) modules.Result {
	body, err := json.Marshal(fcmRequest{
		To: rp.Identifier,
		Notification: fcmNotification{Title: rp.Payload.Title, Body: rp.Payload.Body},
	})
	if err != nil {
		return modules.Result{RecipientID: rp.RecipientID, Success: false, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fcmSendURL, bytes.NewReader(body))
	if err != nil {
		return modules.Result{RecipientID: rp.RecipientID, Success: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+m.serverKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return modules.Result{RecipientID: rp.RecipientID, Success: false, Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return modules.Result{RecipientID: rp.RecipientID, Success: false,
			Err: fmt.Errorf("fcm: status %d: %s", resp.StatusCode, respBody)}
	}

	var parsed fcmResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return modules.Result{RecipientID: rp.RecipientID, Success: true}
	}
	if len(parsed.Results) > 0 && parsed.Results[0].Error != "" {
		return modules.Result{RecipientID: rp.RecipientID, Success: false, Err: fmt.Errorf("fcm: %s", parsed.Results[0].Error)}
	}
	return modules.Result{RecipientID: rp.RecipientID, Success: true, ProviderMessageID: parsed.MessageID}
}
