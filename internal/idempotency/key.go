package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// HeaderKey is the request header carrying a client supplied key.
const HeaderKey = "Idempotency-Key"

// HeaderReplayed is set on responses served from the store.
const HeaderReplayed = "X-Idempotency-Replayed"

const maxKeyLength = 200

type fingerprintInput struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	UserID string          `json:"userId"`
	Body   json.RawMessage `json:"body"`
}

// Fingerprint hashes the parts of a request that make it "the same request":
// sha256 of the JSON of {method, path, userId, body}, hex encoded.
func Fingerprint(method, path, userID string, body []byte) string {
	in := fingerprintInput{
		Method: strings.ToUpper(method),
		Path:   path,
		UserID: userID,
		Body:   normalizeBody(body),
	}
	raw, _ := json.Marshal(in)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// DeriveKey builds the key used when the client sent none: "{action}:{fingerprint}".
func DeriveKey(action, fingerprint string) string {
	return action + ":" + fingerprint
}

// EffectiveKey picks the client key when present, otherwise the derived one.
// Client keys are scoped by action so one key reused on two routes never
// replays across them. Client keys longer than the column allows are replaced
// by their hash.
func EffectiveKey(clientKey, action, fingerprint string) string {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return DeriveKey(action, fingerprint)
	}
	if len(clientKey) > maxKeyLength {
		sum := sha256.Sum256([]byte(clientKey))
		clientKey = "sha256:" + hex.EncodeToString(sum[:])
	}
	return action + ":key:" + clientKey
}

func normalizeBody(body []byte) json.RawMessage {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, body); err == nil {
			return buf.Bytes()
		}
	}
	raw, _ := json.Marshal(string(body))
	return raw
}
