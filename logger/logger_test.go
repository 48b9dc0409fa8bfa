package logger

import (
	"testing"
)

func TestLoggerSafeBeforeInitialize(t *testing.T) {
	// The package-level no-op logger must absorb calls made before Initialize
	Infow("message before initialize", "key", "value")
	Errorw("error before initialize", FieldError, "boom")
}

func TestInitializeConsole(t *testing.T) {
	if err := Initialize(false); err != nil {
		t.Fatalf("Initialize(console) failed: %v", err)
	}
	if JSONOutput {
		t.Error("JSONOutput should be false for console mode")
	}
	if Logger == nil {
		t.Fatal("Logger not set")
	}
	Logger.Infow("console logger works", FieldComponent, "test")
}

func TestInitializeJSON(t *testing.T) {
	if err := Initialize(true); err != nil {
		t.Fatalf("Initialize(json) failed: %v", err)
	}
	if !JSONOutput {
		t.Error("JSONOutput should be true for JSON mode")
	}
	Logger.Infow("json logger works", FieldComponent, "test")
}

func TestWithOperation(t *testing.T) {
	if err := Initialize(false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	log := WithOperation(Logger, "refresh_index-a1b2c3d4")
	if log == nil {
		t.Fatal("WithOperation returned nil")
	}
	log.Infow("field-scoped logger works")
}

func TestNamed(t *testing.T) {
	if err := Initialize(false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if Named("ops") == nil {
		t.Fatal("Named returned nil")
	}
}
