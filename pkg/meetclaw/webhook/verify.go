package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

// Sign returns the expected signature of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body. A mismatch is Unauthorized.
func Verify(secret string, body []byte, signature string) error {
	if signature == "" {
		return apperr.Unauthorized("missing webhook signature")
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return apperr.Unauthorized("malformed webhook signature")
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	if !hmac.Equal(got, want) {
		return apperr.Unauthorized("invalid webhook signature")
	}
	return nil
}
