package enforce

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/half-blood-labs/route-shield/internal/model"
)

// defaultStatus maps a block reason to its stock HTTP status.
func defaultStatus(reason model.Reason) int {
	switch reason {
	case model.ReasonRateLimitExceeded, model.ReasonConcurrentLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

// defaultMessage maps a block reason to its stock body text.
func defaultMessage(reason model.Reason) string {
	switch reason {
	case model.ReasonRateLimitExceeded:
		return "Rate limit exceeded"
	case model.ReasonIPBlacklisted:
		return "IP address is blacklisted"
	case model.ReasonIPNotWhitelisted:
		return "IP address is not whitelisted"
	case model.ReasonTimeRestricted:
		return "Access restricted at this time"
	case model.ReasonConcurrentLimitExceeded:
		return "Too many concurrent requests"
	default:
		return "Access denied"
	}
}

// writeBlock renders the block response. A custom response overrides status,
// content type and message; otherwise the default JSON mapping applies.
func writeBlock(w http.ResponseWriter, reason model.Reason, custom *model.CustomResponse) {
	if custom == nil {
		writeJSONError(w, defaultStatus(reason), defaultMessage(reason))
		return
	}

	status := custom.StatusCode
	if status == 0 {
		status = defaultStatus(reason)
	}
	msg := custom.Message
	if msg == "" {
		msg = defaultMessage(reason)
	}

	switch custom.ContentType {
	case model.ContentTypeHTML:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, "<!DOCTYPE html><html><body><p>%s</p></body></html>", html.EscapeString(msg))
	case model.ContentTypePlain:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(msg))
	case model.ContentTypeXML:
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, "<response><message>%s</message></response>", html.EscapeString(msg))
	default:
		// application/json: pass a valid JSON message through, wrap anything else
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		if json.Valid([]byte(msg)) {
			_, _ = w.Write([]byte(msg))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
