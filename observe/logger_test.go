package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not valid JSON: %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)
	ctx := context.Background()

	logger.Debug(ctx, "debug msg")
	logger.Info(ctx, "info msg")
	logger.Warn(ctx, "warn msg")
	logger.Error(ctx, "error msg")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries at warn level, want 2", len(entries))
	}
	if entries[0]["level"] != "warn" || entries[1]["level"] != "error" {
		t.Errorf("levels = %v/%v, want warn/error", entries[0]["level"], entries[1]["level"])
	}
}

func TestLogger_EntryShape(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", &buf)

	logger.Info(context.Background(), "hello", Field{Key: "count", Value: 3})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	entry := entries[0]
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["timestamp"] == nil {
		t.Error("timestamp missing")
	}
	if entry["count"] != float64(3) {
		t.Errorf("count = %v, want 3", entry["count"])
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "starting",
		Field{Key: "inputs", Value: map[string]any{"password": "hunter2"}},
		Field{Key: "token", Value: "abc123"},
		Field{Key: "tool", Value: "wordcount"},
	)

	entries := decodeLines(t, &buf)
	entry := entries[0]

	if entry["inputs"] != "[REDACTED]" {
		t.Errorf("inputs = %v, want [REDACTED]", entry["inputs"])
	}
	if entry["token"] != "[REDACTED]" {
		t.Errorf("token = %v, want [REDACTED]", entry["token"])
	}
	if entry["tool"] != "wordcount" {
		t.Errorf("tool = %v, want passed through", entry["tool"])
	}
	if strings.Contains(buf.String(), "hunter2") {
		t.Error("redacted value leaked into the output")
	}
}

func TestLogger_WithExecution(t *testing.T) {
	var buf bytes.Buffer
	base := NewLoggerWithWriter("info", &buf)

	child := base.WithExecution(ExecMeta{
		ExecutionID: "exec-1",
		ToolID:      "wordcount",
		Environment: "staging",
	})
	child.Info(context.Background(), "running")

	// The parent logger stays uncontaminated.
	base.Info(context.Background(), "plain")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	withExec := entries[0]
	if withExec["exec.id"] != "exec-1" {
		t.Errorf("exec.id = %v, want exec-1", withExec["exec.id"])
	}
	if withExec["exec.tool_id"] != "wordcount" {
		t.Errorf("exec.tool_id = %v, want wordcount", withExec["exec.tool_id"])
	}
	if withExec["exec.environment"] != "staging" {
		t.Errorf("exec.environment = %v, want staging", withExec["exec.environment"])
	}

	plain := entries[1]
	if _, ok := plain["exec.id"]; ok {
		t.Error("execution attributes leaked into the parent logger")
	}
}

func TestLogger_WithExecutionOmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).WithExecution(ExecMeta{ToolID: "t"})

	logger.Info(context.Background(), "msg")

	entry := decodeLines(t, &buf)[0]
	if _, ok := entry["exec.id"]; ok {
		t.Error("exec.id present for a pre-start execution")
	}
	if _, ok := entry["exec.environment"]; ok {
		t.Error("exec.environment present when unset")
	}
	if entry["exec.tool_id"] != "t" {
		t.Errorf("exec.tool_id = %v, want t", entry["exec.tool_id"])
	}
}

func TestLogger_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	base := NewLoggerWithWriter("info", &buf)
	child := base.WithExecution(ExecMeta{ToolID: "t"})

	// Parent and derived loggers share one writer lock, so interleaved
	// writes must still produce whole JSON lines.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				base.Info(context.Background(), "from base", Field{Key: "n", Value: n})
			} else {
				child.Info(context.Background(), "from child", Field{Key: "n", Value: n})
			}
		}(i)
	}
	wg.Wait()

	entries := decodeLines(t, &buf)
	if len(entries) != 20 {
		t.Errorf("got %d well-formed entries, want 20", len(entries))
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LogLevel(42), "info"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestRedactedFieldSet(t *testing.T) {
	for _, key := range RedactedFields {
		if !isRedactedField(key) {
			t.Errorf("isRedactedField(%q) = false, want true", key)
		}
	}
	if isRedactedField("tool_id") {
		t.Error("isRedactedField(tool_id) = true, want false")
	}
}
