package observers

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/threadsage/server/internal/agent/telemetry"
)

type nodeStartKey struct{}

type nodeStart struct {
	at   time.Time
	span trace.Span
}

// newNodeHandler opens a span around every graph and lambda node and records
// node timings.
func newNodeHandler(metrics *telemetry.Metrics) einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			if !observed(info) {
				return ctx
			}
			ctx, span := telemetry.Tracer().Start(ctx, spanName(info),
				trace.WithAttributes(
					attribute.String("eino.component", string(info.Component)),
					attribute.String("eino.name", info.Name),
				))
			return context.WithValue(ctx, nodeStartKey{}, nodeStart{at: time.Now(), span: span})
		}).
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackOutput) context.Context {
			finish(ctx, info, metrics, nil)
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			finish(ctx, info, metrics, err)
			return ctx
		}).
		Build()
}

func observed(info *einocb.RunInfo) bool {
	return info != nil && (info.Component == compose.ComponentOfLambda || info.Component == compose.ComponentOfGraph)
}

func spanName(info *einocb.RunInfo) string {
	if info.Component == compose.ComponentOfGraph {
		return "graph." + info.Name
	}
	return "node." + info.Name
}

func finish(ctx context.Context, info *einocb.RunInfo, metrics *telemetry.Metrics, err error) {
	if !observed(info) {
		return
	}
	start, ok := ctx.Value(nodeStartKey{}).(nodeStart)
	if !ok {
		return
	}
	if err != nil {
		start.span.RecordError(err)
		start.span.SetStatus(codes.Error, err.Error())
	}
	start.span.End()

	if info.Component == compose.ComponentOfLambda {
		metrics.ObserveNode(info.Name, time.Since(start.at), err)
	}
}
