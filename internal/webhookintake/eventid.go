package webhookintake

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/outboundhq/engine/internal/domain"
)

// eventID computes the deterministic event identifier of spec §4.7
// step 3: a hash of (provider, providerMessageId, mapped-eventType).
// Timestamps never participate, so a provider retry of the same
// notification hashes to the same id and is absorbed by the bus's
// publish-time dedup (Layer 1).
func eventID(provider, providerMessageID string, eventType domain.WebhookEventType) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(providerMessageID))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	return hex.EncodeToString(h.Sum(nil))
}
