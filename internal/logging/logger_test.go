package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSetAndGetLogger(t *testing.T) {
	// Save original logger
	original := Logger()
	defer SetLogger(original)

	// Create a custom logger
	var buf bytes.Buffer
	customLogger := slog.New(slog.NewJSONHandler(&buf, nil))

	SetLogger(customLogger)

	got := Logger()
	if got != customLogger {
		t.Error("Logger() did not return the logger set by SetLogger()")
	}
}

func TestSetOutput(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	Info("test message", "key", "value")

	output := buf.String()
	if output == "" {
		t.Error("expected log output to be written to buffer")
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, `"key"`) {
		t.Errorf("expected output to contain key, got: %s", output)
	}
}

func TestSetTextOutput(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetTextOutput(&buf)

	Debug("debug message") // Debug should work with text output (level is Debug)

	output := buf.String()
	if output == "" {
		t.Error("expected log output from text handler")
	}
	if !strings.Contains(output, "debug message") {
		t.Errorf("expected output to contain 'debug message', got: %s", output)
	}
}

func TestSetLevel(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	// SetOutput creates an Info-level logger
	Debug("should not appear")
	if buf.Len() > 0 {
		t.Error("Debug messages should not appear at Info level")
	}

	// Set level to Debug
	// Note: SetLevel recreates logger with stderr, so we need a different approach
	// Instead test that Info messages work
	Info("info message")
	if buf.Len() == 0 {
		t.Error("Info messages should appear at Info level")
	}
}

func TestLogLevels(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetTextOutput(&buf) // Text output with Debug level

	tests := []struct {
		name    string
		logFunc func(string, ...any)
		level   string
	}{
		{"Debug", Debug, "DEBUG"},
		{"Info", Info, "INFO"},
		{"Warn", Warn, "WARN"},
		{"Error", Error, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc(tt.name+" test message", "key", "val")
			output := buf.String()
			if !strings.Contains(output, tt.name+" test message") {
				t.Errorf("expected output to contain message, got: %s", output)
			}
			if !strings.Contains(output, tt.level) {
				t.Errorf("expected output to contain level %s, got: %s", tt.level, output)
			}
		})
	}
}

func TestLogWithContext(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetTextOutput(&buf)

	ctx := context.Background()

	tests := []struct {
		name    string
		logFunc func(context.Context, string, ...any)
	}{
		{"DebugContext", DebugContext},
		{"InfoContext", InfoContext},
		{"WarnContext", WarnContext},
		{"ErrorContext", ErrorContext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc(ctx, tt.name+" context message")
			output := buf.String()
			if !strings.Contains(output, tt.name+" context message") {
				t.Errorf("expected output to contain message, got: %s", output)
			}
		})
	}
}

func TestWith(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetTextOutput(&buf)

	logger := With("request_id", "abc123")
	if logger == nil {
		t.Fatal("With() returned nil")
	}

	logger.Info("with context")
	output := buf.String()
	if !strings.Contains(output, "request_id") {
		t.Errorf("expected output to contain 'request_id', got: %s", output)
	}
	if !strings.Contains(output, "abc123") {
		t.Errorf("expected output to contain 'abc123', got: %s", output)
	}
}

func TestMakerAttr(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	attr := Maker(addr)
	if attr.Key != "maker" {
		t.Errorf("expected key 'maker', got %s", attr.Key)
	}
	if attr.Value.String() != addr.Hex() {
		t.Errorf("expected value %s, got %s", addr.Hex(), attr.Value.String())
	}
}

func TestOfferHashAttr(t *testing.T) {
	h := common.HexToHash("0x01")
	attr := OfferHash(h)
	if attr.Key != "offer_hash" {
		t.Errorf("expected key 'offer_hash', got %s", attr.Key)
	}
	if attr.Value.String() != h.Hex() {
		t.Errorf("expected value %s, got %s", h.Hex(), attr.Value.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigure(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	if err := Configure(&buf, "debug", "text"); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	Debug("configured", "password", "hunter2")

	output := buf.String()
	if !strings.Contains(output, "configured") {
		t.Errorf("expected debug message in output: %s", output)
	}
	if strings.Contains(output, "hunter2") {
		t.Errorf("configured logger should redact, got: %s", output)
	}

	if err := Configure(&buf, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestErrAttr(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := errors.New("something failed")
		attr := Err(err)
		if attr.Key != "error" {
			t.Errorf("expected key 'error', got %s", attr.Key)
		}
		if attr.Value.String() != "something failed" {
			t.Errorf("expected 'something failed', got %s", attr.Value.String())
		}
	})

	t.Run("with nil error", func(t *testing.T) {
		attr := Err(nil)
		if attr.Key != "error" {
			t.Errorf("expected key 'error', got %s", attr.Key)
		}
		if attr.Value.String() != "" {
			t.Errorf("expected empty string for nil error, got %s", attr.Value.String())
		}
	})
}

func TestComponentAttr(t *testing.T) {
	attr := Component("validation")
	if attr.Key != "component" {
		t.Errorf("expected key 'component', got %s", attr.Key)
	}
	if attr.Value.String() != "validation" {
		t.Errorf("expected value 'validation', got %s", attr.Value.String())
	}
}

func TestLoggerIsNotNilByDefault(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("default logger should not be nil")
	}
}

func TestInfoWithStructuredFields(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf) // JSON output

	Info("offer validated",
		"offer_hash", "0xabc",
		"calls", 8,
		"reason", "Offer is valid",
	)

	output := buf.String()
	if !strings.Contains(output, "offer validated") {
		t.Errorf("expected message in output: %s", output)
	}
	if !strings.Contains(output, `"offer_hash"`) {
		t.Errorf("expected offer_hash field in JSON output: %s", output)
	}
	if !strings.Contains(output, `"calls"`) {
		t.Errorf("expected calls field in JSON output: %s", output)
	}
}

func TestConcurrentLogging(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	// Concurrent writes should not panic
	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			Info("concurrent message", "goroutine", n)
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	// Just verify no panic occurred and something was written
	if buf.Len() == 0 {
		t.Error("expected some log output from concurrent logging")
	}
}

func TestAudit(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	if err := Configure(&buf, "info", "json"); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	txHash := "0x" + strings.Repeat("ab", 32)
	Audit(AuditEvent{
		Operation: "cancel/cancel",
		Actor:     "0x1111111111111111111111111111111111111111",
		Target:    "0x2222222222222222222222222222222222222222",
		Result:    "success",
		Hash:      txHash,
	})

	output := buf.String()
	for _, want := range []string{`"audit":true`, `"operation":"cancel/cancel"`, `"result":"success"`, `"hash":"` + txHash + `"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %s, got: %s", want, output)
		}
	}
}
