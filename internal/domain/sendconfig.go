package domain

import (
	"encoding/json"
	"fmt"
)

// ModuleType identifies the delivery channel a SendConfig dispatches through.
type ModuleType string

const (
	ModuleEmail   ModuleType = "email"
	ModuleWebhook ModuleType = "webhook"
	ModuleSMS     ModuleType = "sms"
	ModulePush    ModuleType = "push"
)

func (m ModuleType) Valid() bool {
	switch m {
	case ModuleEmail, ModuleWebhook, ModuleSMS, ModulePush:
		return true
	}
	return false
}

// RateLimit is the optional per-SendConfig rate policy. PerSecond bounds are
// enforced at SendConfig creation time (1..500); RecipientsPerRequest, when
// set, overrides the module's default chunk/batch size.
type RateLimit struct {
	PerSecond            int `json:"per_second,omitempty"`
	RecipientsPerRequest int `json:"recipients_per_request,omitempty"`
}

// SendConfig is a per-user, per-module provider credential and rate-limit
// bundle. At rest in the relational store, Config is stored as JSON; in
// process it is decoded into one of the ModuleConfig variants below via
// DecodeConfig, matching the module the SendConfig was created with.
type SendConfig struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Name       string          `json:"name" db:"name"`
	Module     ModuleType      `json:"module" db:"module"`
	ConfigJSON json.RawMessage `json:"config" db:"config"`
	RateLimit  *RateLimit      `json:"rate_limit,omitempty" db:"rate_limit"`
	IsDefault  bool            `json:"is_default" db:"is_default"`
	IsActive   bool            `json:"is_active" db:"is_active"`
}

// ModuleConfig is the decoded, module-specific configuration for a SendConfig.
// Implementations validate only the fields meaningful to their own module.
type ModuleConfig interface {
	Module() ModuleType
	Validate() error
}

// EmailConfig holds provider credentials for the email module.
// Provider selects which concrete adapter (ses, resend) executes the batch;
// FromEmail is mandatory per spec §4.4.
type EmailConfig struct {
	Provider  string `json:"provider"` // "ses" | "resend" | "mock"
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name,omitempty"`
	Region    string `json:"region,omitempty"`
}

func (c EmailConfig) Module() ModuleType { return ModuleEmail }

func (c EmailConfig) Validate() error {
	if c.FromEmail == "" {
		return fmt.Errorf("email config: fromEmail is required")
	}
	return nil
}

// WebhookConfig points at a single HTTP endpoint that receives recipient
// batches as a single request. Validate rejects a TimeoutSeconds outside
// [1,60] (0 means unset) and a RetryCount outside [0,10].
type WebhookConfig struct {
	URL            string `json:"url"`
	Method         string `json:"method,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	RetryCount     int    `json:"retry_count,omitempty"`
	SigningSecret  string `json:"signing_secret,omitempty"`

	// InboundSignatureHeader and InboundSigningSecret verify delivery
	// status callbacks this module's receiver posts back to
	// /webhooks/custom/{moduleId}; unrelated to SigningSecret, which
	// signs the outbound recipient-batch request.
	InboundSignatureHeader string `json:"inbound_signature_header,omitempty"`
	InboundSigningSecret   string `json:"inbound_signing_secret,omitempty"`
}

func (c WebhookConfig) Module() ModuleType { return ModuleWebhook }

func (c WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("webhook config: url is required")
	}
	if c.TimeoutSeconds != 0 && (c.TimeoutSeconds < 1 || c.TimeoutSeconds > 60) {
		return fmt.Errorf("webhook config: timeoutSeconds must be in [1,60]")
	}
	if c.RetryCount < 0 || c.RetryCount > 10 {
		return fmt.Errorf("webhook config: retryCount must be in [0,10]")
	}
	return nil
}

// SMSConfig configures the Telnyx (or mock) SMS module. MaxParallel bounds
// the concurrent in-flight requests used since SMS has no true batch API.
type SMSConfig struct {
	Provider    string `json:"provider"` // "telnyx" | "mock"
	FromNumber  string `json:"from_number"`
	MaxParallel int    `json:"max_parallel,omitempty"`
}

func (c SMSConfig) Module() ModuleType { return ModuleSMS }

func (c SMSConfig) Validate() error {
	if c.FromNumber == "" {
		return fmt.Errorf("sms config: fromNumber is required")
	}
	return nil
}

// PushConfig configures a push-notification module. Analogous to SMS: no
// true batch API is assumed, so MaxParallel bounds concurrency.
type PushConfig struct {
	Provider    string `json:"provider"` // "fcm" | "mock"
	AppID       string `json:"app_id,omitempty"`
	MaxParallel int    `json:"max_parallel,omitempty"`
}

func (c PushConfig) Module() ModuleType { return ModulePush }

func (c PushConfig) Validate() error {
	return nil
}

// DecodeConfig decodes sc.ConfigJSON into the ModuleConfig variant matching
// sc.Module. Returns an error for unknown modules or malformed JSON.
func (sc *SendConfig) DecodeConfig() (ModuleConfig, error) {
	switch sc.Module {
	case ModuleEmail:
		var c EmailConfig
		if err := json.Unmarshal(sc.ConfigJSON, &c); err != nil {
			return nil, fmt.Errorf("decode email config: %w", err)
		}
		return c, nil
	case ModuleWebhook:
		var c WebhookConfig
		if err := json.Unmarshal(sc.ConfigJSON, &c); err != nil {
			return nil, fmt.Errorf("decode webhook config: %w", err)
		}
		return c, nil
	case ModuleSMS:
		var c SMSConfig
		if err := json.Unmarshal(sc.ConfigJSON, &c); err != nil {
			return nil, fmt.Errorf("decode sms config: %w", err)
		}
		return c, nil
	case ModulePush:
		var c PushConfig
		if err := json.Unmarshal(sc.ConfigJSON, &c); err != nil {
			return nil, fmt.Errorf("decode push config: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown module %q", sc.Module)
	}
}

// ProviderDefaultChunkSize returns the provider-sized chunk for a module
// when the SendConfig has no explicit RecipientsPerRequest override.
// Values per spec §4.2: email-SES 50, email-Resend 100, webhook 100,
// SMS/Telnyx 1, mock 100.
func ProviderDefaultChunkSize(module ModuleType, provider string) int {
	switch module {
	case ModuleEmail:
		if provider == "ses" {
			return 50
		}
		return 100 // resend, mock
	case ModuleWebhook:
		return 100
	case ModuleSMS:
		if provider == "telnyx" {
			return 1
		}
		return 100
	case ModulePush:
		return 100
	default:
		return 100
	}
}

// EffectiveChunkSize resolves the chunk size for a SendConfig, honoring an
// explicit RecipientsPerRequest override before falling back to the
// provider default.
func (sc *SendConfig) EffectiveChunkSize() int {
	if sc.RateLimit != nil && sc.RateLimit.RecipientsPerRequest > 0 {
		return sc.RateLimit.RecipientsPerRequest
	}
	provider := ""
	if cfg, err := sc.DecodeConfig(); err == nil {
		switch c := cfg.(type) {
		case EmailConfig:
			provider = c.Provider
		case SMSConfig:
			provider = c.Provider
		case PushConfig:
			provider = c.Provider
		}
	}
	return ProviderDefaultChunkSize(sc.Module, provider)
}

// EffectivePerSecond resolves the per-SendConfig rate-limit ceiling,
// bounded to [1,500] per spec §4.5, falling back to a provider default.
func (sc *SendConfig) EffectivePerSecond(providerDefault int) int {
	if sc.RateLimit != nil && sc.RateLimit.PerSecond > 0 {
		n := sc.RateLimit.PerSecond
		if n > 500 {
			n = 500
		}
		return n
	}
	return providerDefault
}
