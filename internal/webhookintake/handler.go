// Package webhookintake implements spec §4.7's intake endpoints: one
// HTTP handler per provider, each verifying a signature, mapping the
// payload onto the internal WebhookEvent vocabulary, computing a
// deterministic event id, and publishing to B — all without touching
// the database, so p95 stays under the spec's 100ms target even at
// 10k events/s.
package webhookintake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/outboundhq/engine/internal/bus"
	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/pkg/httputil"
	"github.com/outboundhq/engine/internal/pkg/logger"
)

// ModuleSecretResolver looks up the webhook-signing secret and header
// name configured for a custom/{moduleId} intake endpoint, backed by
// repository/postgres.SendConfigRepo.
type ModuleSecretResolver interface {
	WebhookSecret(ctx context.Context, moduleID string) (secret, headerName string, err error)
}

// Handler serves the four provider-specific intake endpoints.
type Handler struct {
	bus           bus.Bus
	resendSecret  string
	telnyxSecret  string
	moduleSecrets ModuleSecretResolver
	httpClient    *http.Client
}

// New builds an intake handler. resendSecret/telnyxSecret come from
// config.ResendConfig.SigningSecret / config.TelnyxConfig.SigningSecret;
// an empty secret disables signature verification for that provider.
func New(b bus.Bus, resendSecret, telnyxSecret string, moduleSecrets ModuleSecretResolver) *Handler {
	return &Handler{
		bus:           b,
		resendSecret:  resendSecret,
		telnyxSecret:  telnyxSecret,
		moduleSecrets: moduleSecrets,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Routes mounts the four provider endpoints plus a health check.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Post("/webhooks/resend", h.handleResend)
	r.Post("/webhooks/ses", h.handleSES)
	r.Post("/webhooks/telnyx", h.handleTelnyx)
	r.Post("/webhooks/custom/{moduleId}", h.handleCustom)
	r.Get("/health", h.handleHealth)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}
	ts := r.Header.Get("svix-timestamp")
	if !verifyResendSignature(h.resendSecret, ts, body, r.Header.Get("svix-signature")) {
		httputil.Error(w, http.StatusUnauthorized, "bad signature")
		return
	}
	parsed, err := mapResendEvent(body)
	if err != nil {
		httputil.BadRequest(w, "invalid JSON")
		return
	}
	h.publish(w, r.Context(), "resend", parsed, body, "")
}

func (h *Handler) handleTelnyx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}
	if sig := r.Header.Get("telnyx-signature-ed25519"); sig != "" {
		if !verifyHMACHex(h.telnyxSecret, body, sig) {
			httputil.Error(w, http.StatusUnauthorized, "bad signature")
			return
		}
	}
	parsed, err := mapTelnyxEvent(body)
	if err != nil {
		httputil.BadRequest(w, "invalid JSON")
		return
	}
	h.publish(w, r.Context(), "telnyx", parsed, body, "")
}

// sesSNSEnvelope wraps every SES notification delivered via SNS.
type sesSNSEnvelope struct {
	Type         string `json:"Type"`
	SubscribeURL string `json:"SubscribeURL"`
	Message      string `json:"Message"`
}

func (h *Handler) handleSES(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}
	var env sesSNSEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		httputil.BadRequest(w, "invalid JSON")
		return
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		resp, err := h.httpClient.Get(env.SubscribeURL)
		if err != nil {
			logger.Error("webhookintake: SES subscription confirmation failed", "error", err.Error())
		} else {
			resp.Body.Close()
		}
		httputil.OK(w, map[string]bool{"received": true})
		return
	case "UnsubscribeConfirmation":
		httputil.OK(w, map[string]bool{"received": true})
		return
	}

	parsed, err := mapSESEvent([]byte(env.Message))
	if err != nil {
		// Still 200 to prevent SNS retries on an unparseable event (spec's
		// intent for graceful degradation on this provider's envelope).
		httputil.OK(w, map[string]bool{"received": true})
		return
	}
	h.publish(w, r.Context(), "ses", parsed, body, "")
}

func (h *Handler) handleCustom(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleId")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}

	secret, headerName := "", "x-webhook-signature"
	if h.moduleSecrets != nil {
		s, hn, err := h.moduleSecrets.WebhookSecret(r.Context(), moduleID)
		if err != nil {
			httputil.NotFound(w, "unknown module")
			return
		}
		secret = s
		if hn != "" {
			headerName = hn
		}
	}
	if !verifyHMACHex(secret, body, r.Header.Get(headerName)) {
		httputil.Error(w, http.StatusUnauthorized, "bad signature")
		return
	}

	parsed, err := mapCustomEvent(body)
	if err != nil {
		httputil.BadRequest(w, "invalid JSON")
		return
	}
	h.publish(w, r.Context(), "custom", parsed, body, moduleID)
}

func (h *Handler) publish(w http.ResponseWriter, ctx context.Context, provider string, parsed parsedEvent, rawBody []byte, moduleID string) {
	id := eventID(provider, parsed.ProviderMessageID, parsed.EventType)
	evt := domain.WebhookEvent{
		ID:                id,
		Provider:          provider,
		EventType:         parsed.EventType,
		ProviderMessageID: parsed.ProviderMessageID,
		Timestamp:         time.Now().UTC(),
		Metadata:          parsed.Metadata,
		RawEvent:          rawBody,
		ModuleID:          moduleID,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	subject := fmt.Sprintf(bus.SubjectWebhookFmt, provider, parsed.EventType)
	if err := h.bus.Publish(ctx, subject, id, data); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"received": true})
}
