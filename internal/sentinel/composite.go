package sentinel

import (
	"context"
	"log/slog"
)

// Composite runs the pattern matcher first and consults the classifier only
// for messages the patterns allow.
type Composite struct {
	patterns *PatternMatcher
	llm      Sentinel // nil disables the second stage
}

func NewComposite(patterns *PatternMatcher, llm Sentinel) *Composite {
	return &Composite{patterns: patterns, llm: llm}
}

func (c *Composite) Scan(ctx context.Context, input ScanInput) (ScanResult, error) {
	result, err := c.patterns.Scan(ctx, input)
	if err != nil {
		return result, err
	}
	if !result.Allowed || c.llm == nil {
		return result, nil
	}

	llmResult, err := c.llm.Scan(ctx, input)
	if err != nil {
		slog.Warn("sentinel second stage failed", "error", err)
		return result, nil
	}
	return llmResult, nil
}
