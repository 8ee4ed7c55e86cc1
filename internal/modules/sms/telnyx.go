// Package sms implements the SMS module's Telnyx adapter. Telnyx has
// no true batch send API, so a chunk is dispatched with bounded
// parallelism instead of one request per chunk (spec §4.4).
package sms

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

const telnyxMessagesURL = "https://api.telnyx.com/v2/messages"

// DefaultMaxParallel bounds concurrent in-flight requests when a
// SendConfig doesn't override it.
const DefaultMaxParallel = 10

// TelnyxModule sends SMS via the Telnyx Messages API.
type TelnyxModule struct {
	apiKey string
	client httpretry.HTTPDoer
}

// NewTelnyxModule builds a Telnyx module wrapped in the shared retry client.
func NewTelnyxModule(apiKey string, client httpretry.HTTPDoer) *TelnyxModule {
	return &TelnyxModule{apiKey: apiKey, client: httpretry.NewRetryClient(client, 3)}
}

func (m *TelnyxModule) Type() domain.ModuleType { return domain.ModuleSMS }

type telnyxRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type telnyxResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (m *TelnyxModule) ExecuteBatch(ctx context.Context, cfgIface domain.ModuleConfig, recipients []modules.RecipientPayload) ([]modules.Result, error) {
	cfg, ok := cfgIface.(domain.SMSConfig)
	if !ok {
		return nil, fmt.Errorf("telnyx module: expected SMSConfig, got %T", cfgIface)
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
			results[i] = m.sendOne(ctx, cfg, rp)
		}(i, rp)
	}
	wg.Wait()
	return results, nil
}

func (m *TelnyxModule) sendOne(ctx context.Context, cfg domain.SMSConfig, rp modules.RecipientPayload) modules.Result {
	body, err := json.Marshal(telnyxRequest{From: cfg.FromNumber, To: rp.Identifier, Text: rp.Payload.Message})
	if err != nil {
		return modules.Result{RecipientID: rp.RecipientID, Success: false, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, telnyxMessagesURL, bytes.NewReader(body))
	if err != nil {
		return modules.Result{RecipientID: rp.RecipientID, Success: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return modules.Result{RecipientID: rp.RecipientID, Success: false, Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return modules.Result{RecipientID: rp.RecipientID, Success: false,
			Err: fmt.Errorf("telnyx: status %d: %s", resp.StatusCode, respBody)}
	}

	var parsed telnyxResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return modules.Result{RecipientID: rp.RecipientID, Success: true}
	}
	return modules.Result{RecipientID: rp.RecipientID, Success: true, ProviderMessageID: parsed.Data.ID}
}
