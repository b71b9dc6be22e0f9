package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerFallsBackToNoop(t *testing.T) {
	if HasLogger(context.Background()) {
		t.Fatalf("expected no logger on background context")
	}
	if Logger(context.Background()) != noopLogger {
		t.Fatalf("expected noop logger")
	}

	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	if !HasLogger(ctx) || Logger(ctx) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestAnnotationsKeepInsertionOrder(t *testing.T) {
	ctx, bag := WithAnnotations(context.Background())
	Annotate(ctx, "session_id", "s-1")
	Annotate(ctx, "grade", "STANDARD")
	Annotate(ctx, "session_id", "s-2")
	Annotate(ctx, "empty", "")

	var got []string
	bag.Each(func(key, value string) {
		got = append(got, key+"="+value)
	})
	if len(got) != 2 || got[0] != "session_id=s-2" || got[1] != "grade=STANDARD" {
		t.Fatalf("unexpected annotations %v", got)
	}
}

func TestAnnotateWithoutBagIsNoop(t *testing.T) {
	Annotate(context.Background(), "session_id", "s-1")
	var bag *Annotations
	bag.Each(func(string, string) {
		t.Fatalf("nil bag must not yield annotations")
	})
}

func TestTraceID(t *testing.T) {
	if TraceID(context.Background()) != "" {
		t.Fatalf("expected empty trace id")
	}
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", Sampled: true})
	if TraceID(ctx) != "abc" {
		t.Fatalf("expected trace id abc, got %q", TraceID(ctx))
	}
}
