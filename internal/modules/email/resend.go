package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/modules"
	"github.com/outboundhq/engine/internal/pkg/httpretry"
)

// MaxResendChunkSize is Resend's batch-send endpoint ceiling.
const MaxResendChunkSize = 100

const resendBatchURL = "https://api.resend.com/emails/batch"

// ResendModule sends email through Resend's true batch API: one HTTP
// request carries every recipient in the chunk, and the response
// array is exploded back into per-recipient results in request order.
type ResendModule struct {
	apiKey string
	client httpretry.HTTPDoer
}

// NewResendModule builds a Resend module wrapped in the shared retry
// client (exponential backoff on 429/5xx, per spec §4.4 provider
// timeout handling).
func NewResendModule(apiKey string, client httpretry.HTTPDoer) *ResendModule {
	return &ResendModule{apiKey: apiKey, client: httpretry.NewRetryClient(client, 3)}
}

func (m *ResendModule) Type() domain.ModuleType { return domain.ModuleEmail }

type resendMessage struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type resendBatchResponseItem struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (m *ResendModule) ExecuteBatch(ctx context.Context, cfgIface domain.ModuleConfig, recipients []modules.RecipientPayload) ([]modules.Result, error) {
	cfg, ok := cfgIface.(domain.EmailConfig)
	if !ok {
		return nil, fmt.Errorf("resend module: expected EmailConfig, got %T", cfgIface)
	}
	if len(recipients) > MaxResendChunkSize {
		return nil, fmt.Errorf("resend module: chunk size %d exceeds max %d", len(recipients), MaxResendChunkSize)
	}

	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}

	messages := make([]resendMessage, len(recipients))
	for i, rp := range recipients {
		messages[i] = resendMessage{
			From:    from,
			To:      []string{rp.Identifier},
			Subject: rp.Payload.Subject,
			HTML:    rp.Payload.HTMLContent,
			Text:    rp.Payload.TextContent,
		}
	}

	body, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("resend module: marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendBatchURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("resend module: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resend module: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("resend module: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		// A rejected batch fails every recipient in the chunk; the
		// sender worker records each as failed rather than retrying
		// the whole chunk (spec §4.3/§5 timeout handling).
		results := make([]modules.Result, len(recipients))
		for i, rp := range recipients {
			results[i] = modules.Result{
				RecipientID: rp.RecipientID,
				Success:     false,
				Err:         fmt.Errorf("resend module: batch rejected, status %d: %s", resp.StatusCode, respBody),
			}
		}
		return results, nil
	}

	var parsed struct {
		Data []resendBatchResponseItem `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("resend module: decode response: %w", err)
	}
	if len(parsed.Data) != len(recipients) {
		return nil, fmt.Errorf("resend module: response has %d results for %d recipients", len(parsed.Data), len(recipients))
	}

	results := make([]modules.Result, len(recipients))
	for i, rp := range recipients {
		item := parsed.Data[i]
		if item.Error != nil {
			results[i] = modules.Result{RecipientID: rp.RecipientID, Success: false, Err: fmt.Errorf("resend: %s", item.Error.Message)}
			continue
		}
		results[i] = modules.Result{RecipientID: rp.RecipientID, Success: true, ProviderMessageID: item.ID}
	}
	return results, nil
}
