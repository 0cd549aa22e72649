package enforce

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/half-blood-labs/route-shield/internal/model"
)

func TestDefaultBlockResponses(t *testing.T) {
	tests := []struct {
		reason model.Reason
		status int
		msg    string
	}{
		{model.ReasonRateLimitExceeded, 429, "Rate limit exceeded"},
		{model.ReasonIPBlacklisted, 403, "IP address is blacklisted"},
		{model.ReasonIPNotWhitelisted, 403, "IP address is not whitelisted"},
		{model.ReasonTimeRestricted, 403, "Access restricted at this time"},
		{model.ReasonConcurrentLimitExceeded, 429, "Too many concurrent requests"},
		{model.Reason("mystery"), 403, "Access denied"},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		writeBlock(rec, tc.reason, nil)
		if rec.Code != tc.status {
			t.Errorf("%s: status %d, want %d", tc.reason, rec.Code, tc.status)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Errorf("%s: body not JSON: %v", tc.reason, err)
			continue
		}
		if body["error"] != tc.msg {
			t.Errorf("%s: message %q, want %q", tc.reason, body["error"], tc.msg)
		}
	}
}

func TestCustomResponseRendering(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeBlock(rec, model.ReasonIPBlacklisted, &model.CustomResponse{
			StatusCode: 418, ContentType: model.ContentTypePlain, Message: "no",
		})
		if rec.Code != 418 || rec.Body.String() != "no" {
			t.Fatalf("got (%d, %q)", rec.Code, rec.Body.String())
		}
	})

	t.Run("html wraps message in a document", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeBlock(rec, model.ReasonIPBlacklisted, &model.CustomResponse{
			StatusCode: 403, ContentType: model.ContentTypeHTML, Message: "<b>begone</b>",
		})
		body := rec.Body.String()
		if !strings.Contains(body, "<!DOCTYPE html>") {
			t.Fatalf("not a document: %q", body)
		}
		if strings.Contains(body, "<b>") {
			t.Fatalf("message must be escaped: %q", body)
		}
	})

	t.Run("json passes valid json through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeBlock(rec, model.ReasonIPBlacklisted, &model.CustomResponse{
			StatusCode: 403, ContentType: model.ContentTypeJSON, Message: `{"code":"blocked"}`,
		})
		if rec.Body.String() != `{"code":"blocked"}` {
			t.Fatalf("body = %q", rec.Body.String())
		}
	})

	t.Run("json wraps non-json message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeBlock(rec, model.ReasonIPBlacklisted, &model.CustomResponse{
			StatusCode: 403, ContentType: model.ContentTypeJSON, Message: "plain words",
		})
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("body not JSON: %v", err)
		}
		if body["error"] != "plain words" {
			t.Fatalf("body = %v", body)
		}
	})

	t.Run("xml", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeBlock(rec, model.ReasonIPBlacklisted, &model.CustomResponse{
			StatusCode: 403, ContentType: model.ContentTypeXML, Message: "stop",
		})
		if rec.Body.String() != "<response><message>stop</message></response>" {
			t.Fatalf("body = %q", rec.Body.String())
		}
	})

	t.Run("zero status and empty message use defaults", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeBlock(rec, model.ReasonRateLimitExceeded, &model.CustomResponse{
			ContentType: model.ContentTypePlain,
		})
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Body.String() != "Rate limit exceeded" {
			t.Fatalf("body = %q", rec.Body.String())
		}
	})
}
