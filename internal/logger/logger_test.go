package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected logger to be enabled")
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	output := buf.String()
	if output == "" {
		t.Error("Expected log output, got empty string")
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", output)
	}
}

func TestWithContext(t *testing.T) {
	log := New()
	ctx := context.Background()

	ctxWithLogger := WithContext(ctx, log)

	if ctxWithLogger.Value(LoggerKey) == nil {
		t.Error("Expected logger in context, got nil")
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	testLog := NewWithWriter(buf)
	ctx := WithContext(context.Background(), testLog)

	retrievedLog := FromContext(ctx)
	retrievedLog.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	ctx := context.Background()

	// Should return a default logger when none is in context
	log := FromContext(ctx)

	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithRun(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	runLog := WithRun(log, "run-42")
	runLog.Info().Msg("reconciling")

	output := buf.String()
	if !strings.Contains(output, "run_id") || !strings.Contains(output, "run-42") {
		t.Errorf("Expected output to carry run_id, got: %s", output)
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	fields := map[string]interface{}{
		"payout_id": "po_123",
		"action":    "decompose",
	}

	logWithFields := WithFields(log, fields)
	logWithFields.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "payout_id") || !strings.Contains(output, "po_123") {
		t.Errorf("Expected output to contain payout_id field, got: %s", output)
	}
	if !strings.Contains(output, "action") || !strings.Contains(output, "decompose") {
		t.Errorf("Expected output to contain action field, got: %s", output)
	}
}
