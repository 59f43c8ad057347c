//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestWith_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "t-1")
	ctx = WithMaster(ctx, "m-1")
	ctx = WithChatID(ctx, 42)

	With(ctx, &base).Info().Msg("hello")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if got["trace_id"] != "t-1" || got["master"] != "m-1" {
		t.Errorf("missing fields: %v", got)
	}
	if got["chat_id"] != float64(42) {
		t.Errorf("chat_id = %v", got["chat_id"])
	}
	if _, ok := got["session_id"]; ok {
		t.Error("session_id should be absent")
	}
	if TraceID(ctx) != "t-1" {
		t.Errorf("TraceID = %q", TraceID(ctx))
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		dev  bool
		want string
	}{
		{"short", false, "***"},
		{"sk-1234567890", false, "sk-1...90"},
		{"sk-1234567890", true, "sk-1234567890"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in, tt.dev); got != tt.want {
			t.Errorf("Redact(%q, %v) = %q, want %q", tt.in, tt.dev, got, tt.want)
		}
	}
}
