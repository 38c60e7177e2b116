package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyPaddleWebhookSignature checks a Paddle-Signature header against the
// raw request body. The header format is "ts=<unix>;h1=<hex hmac>" and the
// signed message is "<ts>:<raw body>" with an HMAC-SHA256 keyed by the
// endpoint secret.
func VerifyPaddleWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	secret := strings.TrimSpace(webhookSecret)
	if secret == "" {
		return false
	}

	ts, h1 := parsePaddleSignatureHeader(signatureHeader)
	if ts == "" || h1 == "" {
		return false
	}

	expectedSig, err := hex.DecodeString(strings.ToLower(h1))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte(":"))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}

func parsePaddleSignatureHeader(header string) (ts, h1 string) {
	for _, part := range strings.Split(strings.TrimSpace(header), ";") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "h1":
			h1 = strings.TrimSpace(value)
		}
	}
	return ts, h1
}
