// Package webhook implements the webhook module: a single HTTP POST
// per chunk carrying every recipient's merged payload (spec §4.4).
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/modules"
	"github.com/outboundhq/engine/internal/pkg/httpretry"
)

// sign computes the outbound HMAC-SHA256 signature the receiving
// endpoint can verify against its configured secret, mirroring the
// scheme webhook intake uses to verify inbound provider events.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Module posts a chunk to the configured URL as one request. When a 2xx
// response body carries a `results` array, it must hold one entry per
// recipient in request order and supplies the per-recipient outcomes;
// otherwise every recipient shares the HTTP outcome.
type Module struct {
	client httpretry.HTTPDoer
}

// NewModule builds a webhook module. client is nil in production (the
// retry wrapper constructs its own default); tests inject a fake.
func NewModule(client httpretry.HTTPDoer) *Module {
	return &Module{client: client}
}

func (m *Module) Type() domain.ModuleType { return domain.ModuleWebhook }

type outboundRecipient struct {
	RecipientID string         `json:"recipientId"`
	Identifier  string         `json:"identifier"`
	Payload     domain.Payload `json:"payload"`
}

type outboundBody struct {
	Recipients []outboundRecipient `json:"recipients"`
}

type resultItem struct {
	RecipientID string `json:"recipientId"`
	Success     bool   `json:"success"`
	MessageID   string `json:"messageId,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (m *Module) ExecuteBatch(ctx context.Context, cfgIface domain.ModuleConfig, recipients []modules.RecipientPayload) ([]modules.Result, error) {
	cfg, ok := cfgIface.(domain.WebhookConfig)
	if !ok {
		return nil, fmt.Errorf("webhook module: expected WebhookConfig, got %T", cfgIface)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = modules.DefaultTimeout
	}
	retries := cfg.RetryCount

	body := outboundBody{Recipients: make([]outboundRecipient, len(recipients))}
	for i, rp := range recipients {
		body.Recipients[i] = outboundRecipient{RecipientID: rp.RecipientID, Identifier: rp.Identifier, Payload: rp.Payload}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("webhook module: marshal body: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("webhook module: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.SigningSecret != "" {
		req.Header.Set("X-Webhook-Signature", sign(cfg.SigningSecret, payload))
	}

	client := httpretry.NewRetryClient(m.client, retries)
	resp, err := client.Do(req)
	if err != nil {
		return failAll(recipients, fmt.Errorf("webhook module: request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failAll(recipients, fmt.Errorf("webhook module: read response: %w", err)), nil
	}
	if resp.StatusCode >= 400 {
		return failAll(recipients, fmt.Errorf("webhook module: endpoint returned status %d: %s", resp.StatusCode, respBody)), nil
	}

	var parsed struct {
		Results []resultItem `json:"results"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Results == nil {
		// A 2xx with no parseable results array means the endpoint
		// accepted the whole chunk without per-recipient detail.
		return successAll(recipients), nil
	}
	if len(parsed.Results) != len(recipients) {
		return nil, fmt.Errorf("webhook module: response has %d results for %d recipients", len(parsed.Results), len(recipients))
	}

	results := make([]modules.Result, len(recipients))
	for i, rp := range recipients {
		item := parsed.Results[i]
		if !item.Success {
			results[i] = modules.Result{RecipientID: rp.RecipientID, Success: false, Err: fmt.Errorf("webhook: %s", item.Error)}
			continue
		}
		results[i] = modules.Result{RecipientID: rp.RecipientID, Success: true, ProviderMessageID: item.MessageID}
	}
	return results, nil
}

func failAll(recipients []modules.RecipientPayload, err error) []modules.Result {
	out := make([]modules.Result, len(recipients))
	for i, rp := range recipients {
		out[i] = modules.Result{RecipientID: rp.RecipientID, Success: false, Err: err}
	}
	return out
}

func successAll(recipients []modules.RecipientPayload) []modules.Result {
	out := make([]modules.Result, len(recipients))
	for i, rp := range recipients {
		out[i] = modules.Result{RecipientID: rp.RecipientID, Success: true}
	}
	return out
}
