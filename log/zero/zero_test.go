package zero

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

type queueFields struct {
	Queue    string
	Driver   string
	internal string
}

func TestNew_ContextFields(t *testing.T) {
	var buf bytes.Buffer

	logger := New(context.Background(), queueFields{Queue: "orders", Driver: "memory", internal: "hidden"}, &buf)
	logger.Info("queue ready")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry %q: %v", buf.String(), err)
	}

	if entry["Queue"] != "orders" {
		t.Errorf("expected Queue field 'orders', got %v", entry["Queue"])
	}
	if entry["Driver"] != "memory" {
		t.Errorf("expected Driver field 'memory', got %v", entry["Driver"])
	}
	if _, ok := entry["internal"]; ok {
		t.Error("unexported fields should not be logged")
	}
	if entry["message"] != "queue ready" {
		t.Errorf("expected message 'queue ready', got %v", entry["message"])
	}
}

func TestWarningFields(t *testing.T) {
	var buf bytes.Buffer

	logger := New(context.Background(), nil, &buf)
	logger.WarningFields("poison message removed", map[string]any{"messageId": "abc", "dequeueCount": 4})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry %q: %v", buf.String(), err)
	}

	if entry["level"] != "warn" {
		t.Errorf("expected level warn, got %v", entry["level"])
	}
	if entry["messageId"] != "abc" {
		t.Errorf("expected messageId abc, got %v", entry["messageId"])
	}
	if entry["dequeueCount"] != float64(4) {
		t.Errorf("expected dequeueCount 4, got %v", entry["dequeueCount"])
	}
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error("discarded")
	if logger.GetContext() == nil {
		t.Error("expected non-nil context")
	}
}
