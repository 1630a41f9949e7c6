package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names attached to signed requests.
const (
	HeaderAPIKey     = "X-API-KEY"
	HeaderTimestamp  = "X-API-TIMESTAMP"
	HeaderPassphrase = "X-API-PASSPHRASE"
	HeaderSignature  = "X-API-SIGNATURE"
)

// HMACAuth holds the API credentials used to sign trading server requests.
type HMACAuth struct {
	Key        string
	Secret     string // raw, or base64 when the server issued it that way
	Passphrase string
}

// Headers returns the signing headers for a request.
// The signature is base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := hmacSHA256Base64(h.secretBytes(), ts+method+path+body)

	return map[string]string{
		HeaderAPIKey:     h.Key,
		HeaderTimestamp:  ts,
		HeaderPassphrase: h.Passphrase,
		HeaderSignature:  sig,
	}
}

// Verify reports whether sig is the signature Headers would produce for the
// given timestamp and request.
func (h *HMACAuth) Verify(method, path, body, ts, sig string) bool {
	want := hmacSHA256Base64(h.secretBytes(), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(sig))
}

// secretBytes decodes a base64 secret, falling back to the raw bytes so a
// misconfigured secret yields an obviously wrong signature instead of a panic.
func (h *HMACAuth) secretBytes() []byte {
	if b, err := base64.StdEncoding.DecodeString(h.Secret); err == nil && len(b) > 0 {
		return b
	}
	return []byte(h.Secret)
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
