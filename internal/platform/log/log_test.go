package applog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

// TestComponent 消息带组件前缀与 component 字段，且使用记录时的默认 handler
func TestComponent(t *testing.T) {
	logger := Component("Milvus")

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger.With("collection", "docs").Info("Collection created", "dims", 8)
	logger.Debug("below level")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one json line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "[Milvus] Collection created" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["component"] != "Milvus" || entry["collection"] != "docs" || entry["dims"] != float64(8) {
		t.Errorf("unexpected fields: %v", entry)
	}
}

// TestLevelOf 未知级别回落到 info
func TestLevelOf(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if _, got := levelOf(tt.in); got != tt.want {
			t.Errorf("levelOf(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
