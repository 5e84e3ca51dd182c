package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "PRODUCTION"} {
		l, err := New(mode, "debug")
		if err != nil {
			t.Fatalf("New(%q) error: %v", mode, err)
		}
		if !l.Enabled(zapcore.DebugLevel) {
			t.Errorf("New(%q, debug) drops debug entries", mode)
		}
	}
}

func TestNew_DefaultLevelIsInfo(t *testing.T) {
	l, err := New("dev", "")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if l.Enabled(zapcore.DebugLevel) || !l.Enabled(zapcore.InfoLevel) {
		t.Error("empty level should mean info")
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New("dev", "loud"); err == nil {
		t.Error("New() with unknown level should fail")
	}
}

func TestWith_CarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core)).With("component", "ledger")

	l.Info("scored", "address", "0xabc")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["component"] != "ledger" || fields["address"] != "0xabc" {
		t.Errorf("fields = %v", fields)
	}
}

func TestPassport_TagsEveryLevel(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core)).Passport(7, "0xabc")

	l.Debug("d")
	l.Warn("w")
	l.Error("e")

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	want := []zapcore.Level{zapcore.DebugLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != want[i] {
			t.Errorf("entry %d level = %s, want %s", i, e.Level, want[i])
		}
		fields := e.ContextMap()
		if fields["community"] != int64(7) || fields["address"] != "0xabc" {
			t.Errorf("entry %d fields = %v", i, fields)
		}
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Error("ignored", "k", "v")
	if l.Enabled(zapcore.ErrorLevel) {
		t.Error("nop logger reports enabled")
	}
	l.Sync()
}
