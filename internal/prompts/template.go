package prompts

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashText returns a SHA256 hash of the text so prompt changes show up in logs and reports.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ShortHash returns the first 12 hex characters of HashText.
func ShortHash(text string) string {
	return HashText(text)[:12]
}
