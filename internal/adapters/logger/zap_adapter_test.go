package logger

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mindcare/realtime-service/internal/mocks"
	"github.com/mindcare/realtime-service/pkg/contextkeys"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	ctx := context.WithValue(context.Background(), contextkeys.RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, contextkeys.SubsystemKey, "chat")
	l.Info(ctx, "Participant joined", "room_id", int64(42), "error", errors.New("none"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields[contextkeys.RequestIDKey.String()] != "req-1" || fields[contextkeys.SubsystemKey.String()] != "chat" {
		t.Errorf("context fields = %v", fields)
	}
	if fields["room_id"] != int64(42) || fields["error"] != "none" {
		t.Errorf("call fields = %v", fields)
	}
}

func TestMalformedPairs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	l.Warn(context.Background(), "odd", 7, "value", "dangling")

	fields := logs.All()[0].ContextMap()
	if fields["invalid_key_0"] != "value" {
		t.Errorf("non-string key not renamed: %v", fields)
	}
	if fields["orphan_field_2"] != "dangling" {
		t.Errorf("orphan not kept: %v", fields)
	}
}

func TestLevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := NewFromZap(zap.New(core)).With("component", "test")

	l.Debug(context.Background(), "hidden")
	l.Info(context.Background(), "hidden")
	l.Error(context.Background(), "shown")

	if logs.Len() != 1 || logs.All()[0].ContextMap()["component"] != "test" {
		t.Fatalf("entries = %+v", logs.All())
	}
}

func TestNewZapAdapterFallsBackToInfo(t *testing.T) {
	l, err := NewZapAdapter(mocks.NewConfigProvider(), "realtime-service-test")
	if err != nil || l == nil {
		t.Fatalf("NewZapAdapter: %v", err)
	}
}
