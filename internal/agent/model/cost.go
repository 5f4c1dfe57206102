package model

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// defaultPricing provides hardcoded USD pricing per 1M tokens (text tokens).
var defaultPricing = map[string]Pricing{
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.0-flash":      {InputPerM: 0.10, OutputPerM: 0.40},
}

// ResolvePricing returns hardcoded pricing for a model. Provider prefixes such
// as "models/" or "google/" are ignored; unknown models cost zero.
func ResolvePricing(model string) Pricing {
	name := model
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if p, ok := defaultPricing[name]; ok {
		return p
	}
	return Pricing{}
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}

// CostLedger accumulates model spend for one query across concurrent runs.
type CostLedger struct {
	mu      sync.Mutex
	byModel map[string]float64
}

func NewCostLedger() *CostLedger {
	return &CostLedger{byModel: map[string]float64{}}
}

// Add records usd spent on model.
func (l *CostLedger) Add(model string, usd float64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byModel[model] += usd
}

// Total returns the summed spend.
func (l *CostLedger) Total() float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var t float64
	for _, v := range l.byModel {
		t += v
	}
	return t
}

// ByModel returns a copy of the per-model spend.
func (l *CostLedger) ByModel() map[string]float64 {
	out := map[string]float64{}
	if l == nil {
		return out
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.byModel {
		out[k] = v
	}
	return out
}

type costLedgerKey struct{}

// WithCostLedger attaches a ledger that gateway calls made under ctx report into.
func WithCostLedger(ctx context.Context, l *CostLedger) context.Context {
	return context.WithValue(ctx, costLedgerKey{}, l)
}

// CostLedgerFrom returns the ledger attached to ctx, or nil.
func CostLedgerFrom(ctx context.Context) *CostLedger {
	l, _ := ctx.Value(costLedgerKey{}).(*CostLedger)
	return l
}
