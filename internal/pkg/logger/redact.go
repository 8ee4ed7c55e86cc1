package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// digitCount reports how many runes of s are ASCII digits.
func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// RedactIdentifier masks a recipient identifier for safe logging,
// regardless of which module (email, sms, push, webhook) it belongs to.
// Email-shaped identifiers reuse RedactEmail. Phone-shaped identifiers
// (mostly digits, 7+ of them) keep only the last 4 digits. Anything else
// — device tokens, webhook URLs — is fully masked; these never carry a
// human-meaningful prefix worth preserving.
func RedactIdentifier(identifier string) string {
	if strings.Contains(identifier, "@") {
		return RedactEmail(identifier)
	}
	if digits := digitCount(identifier); digits >= 7 && digits >= len(identifier)-2 {
		if len(identifier) <= 4 {
			return "***"
		}
		return "***" + identifier[len(identifier)-4:]
	}
	return "***"
}
