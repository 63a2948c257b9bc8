package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	ctx := context.Background()
	if Logger(ctx) == nil || HasLogger(ctx) {
		t.Fatal("expected no-op logger without injection")
	}
	if HasLogger(WithLogger(ctx, nil)) {
		t.Fatal("nil logger must not count as injected")
	}

	logger := zap.NewExample()
	ctx = WithLogger(ctx, logger)
	if Logger(ctx) != logger || !HasLogger(ctx) {
		t.Fatal("expected injected logger")
	}
}

func TestTraceAndActor(t *testing.T) {
	ctx := context.Background()
	if _, ok := Trace(ctx); ok {
		t.Fatal("expected no trace")
	}
	if Actor(ctx) != "" {
		t.Fatal("expected empty actor")
	}

	ctx = WithActor(WithTrace(ctx, TraceInfo{TraceID: "t1", SpanID: "s1", Sampled: true}), "buyer-1")
	info, ok := Trace(ctx)
	if !ok || info.TraceID != "t1" || !info.Sampled {
		t.Fatalf("unexpected trace %+v", info)
	}
	if Actor(ctx) != "buyer-1" {
		t.Fatalf("unexpected actor %q", Actor(ctx))
	}
}
