package proxy

import (
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"
)

// maxCloseReason is the RFC 6455 limit on close reason payloads.
const maxCloseReason = 123

// messageTranslations maps raw backend error fragments to operator-facing
// text. Matching is case-insensitive substring.
var messageTranslations = []struct {
	match   string
	replace string
}{
	{
		match:   "signer does not match",
		replace: "Your wallet is not authorized for this agent. Open /login to sign in with the owner account.",
	},
	{
		match:   "missing gateway token",
		replace: "Your session is missing. Open /login to sign in again.",
	},
	{
		match:   "token expired",
		replace: "Your session expired. Open /login to sign in again.",
	},
}

// rewriteErrorText translates known raw backend errors into actionable text.
// Unknown text passes through unchanged.
func rewriteErrorText(text string) string {
	lower := strings.ToLower(text)
	for _, t := range messageTranslations {
		if strings.Contains(lower, t.match) {
			return t.replace
		}
	}
	return text
}

// rewriteFrame opportunistically parses a text frame as JSON and rewrites an
// error.message field when present. Non-JSON frames and frames without that
// field pass through byte-identical.
func rewriteFrame(data []byte) []byte {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return data
	}
	rawErr, ok := payload["error"]
	if !ok {
		return data
	}
	var errObj map[string]json.RawMessage
	if err := json.Unmarshal(rawErr, &errObj); err != nil {
		return data
	}
	rawMsg, ok := errObj["message"]
	if !ok {
		return data
	}
	var message string
	if err := json.Unmarshal(rawMsg, &message); err != nil {
		return data
	}
	rewritten := rewriteErrorText(message)
	if rewritten == message {
		return data
	}

	encoded, err := json.Marshal(rewritten)
	if err != nil {
		return data
	}
	errObj["message"] = encoded
	newErr, err := json.Marshal(errObj)
	if err != nil {
		return data
	}
	payload["error"] = newErr
	out, err := json.Marshal(payload)
	if err != nil {
		return data
	}
	return out
}

// sanitizeCloseCode remaps close codes that are reserved or illegal on the
// wire (1004, 1005, 1006, 1015 and the unassigned 1016-2999 range) to the
// generic unexpected-condition code 1011.
func sanitizeCloseCode(code int) int {
	switch {
	case code < websocket.CloseNormalClosure:
		return websocket.CloseInternalServerErr
	case code == 1004, code == websocket.CloseNoStatusReceived, code == websocket.CloseAbnormalClosure, code == websocket.CloseTLSHandshake:
		return websocket.CloseInternalServerErr
	case code > websocket.CloseTLSHandshake && code < 3000:
		return websocket.CloseInternalServerErr
	default:
		return code
	}
}

// sanitizeCloseReason rewrites the reason text and enforces the protocol's
// length limit.
func sanitizeCloseReason(reason string) string {
	reason = rewriteErrorText(reason)
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	return reason
}
