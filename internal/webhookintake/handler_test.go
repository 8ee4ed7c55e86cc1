package webhookintake_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboundhq/engine/internal/bus"
	"github.com/outboundhq/engine/internal/webhookintake"
)

func TestHandler_ResendWithoutSecretPublishesEvent(t *testing.T) {
	memBus := bus.NewMemoryBus()
	h := webhookintake.New(memBus, "", "", nil)

	body, err := json.Marshal(map[string]any{
		"type": "email.delivered",
		"data": map[string]string{"email_id": "msg-1"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/webhooks/resend", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, 1, memBus.Len("webhook.resend.delivered"))
}

func TestHandler_CustomUnknownModuleReturns404(t *testing.T) {
	memBus := bus.NewMemoryBus()
	h := webhookintake.New(memBus, "", "", rejectingResolver{})

	req := httptest.NewRequest("POST", "/webhooks/custom/m1", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestHandler_RepublishSameEventIsDeduped(t *testing.T) {
	memBus := bus.NewMemoryBus()
	h := webhookintake.New(memBus, "", "", nil)

	body, _ := json.Marshal(map[string]any{
		"type": "email.bounced",
		"data": map[string]string{"email_id": "msg-2"},
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/webhooks/resend", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, req)
		assert.Equal(t, 200, rec.Code)
	}
	assert.Equal(t, 1, memBus.Len("webhook.resend.bounced"))
}

type rejectingResolver struct{}

func (rejectingResolver) WebhookSecret(context.Context, string) (string, string, error) {
	return "", "", assertErr{}
}

type assertErr struct{}

func (assertErr) Error() string { return "unknown module" }
