package webhookintake

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// verifyHMACHex checks a hex-encoded HMAC-SHA256 signature over body,
// as used by the custom/{moduleId} intake and Telnyx's optional
// signature header (spec §4.7 step 1, §6 "Provider webhooks").
func verifyHMACHex(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true // module has no secret configured: signing not required
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// verifyResendSignature checks Resend's svix-style signature: HMAC-SHA256
// over "{timestamp}.{body}", base64-encoded, compared against one of the
// space-separated "v1,<sig>" values in the svix-signature header (spec
// §6 "POST /webhooks/resend").
func verifyResendSignature(secret, timestamp string, body []byte, signatureHeader string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, body)))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, part := range splitSpace(signatureHeader) {
		sig, ok := cutComma(part)
		if !ok {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1 {
			return true
		}
	}
	return false
}

func splitSpace(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// cutComma splits "v1,<base64sig>" into its signature half.
func cutComma(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			return s[i+1:], true
		}
	}
	return "", false
}
