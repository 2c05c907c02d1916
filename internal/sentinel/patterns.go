package sentinel

import (
	"context"
	"regexp"
	"strings"
)

// Pattern is a named expression that marks a message as an injection attempt.
type Pattern struct {
	Name   string
	Regexp *regexp.Regexp
}

// PatternMatcher blocks messages matching any of its patterns.
type PatternMatcher struct {
	patterns []Pattern
}

func NewPatternMatcher(patterns []Pattern) *PatternMatcher {
	return &PatternMatcher{patterns: patterns}
}

// DefaultPatterns covers instruction overrides, prompt extraction, role
// tags and attempts to pull other residents' records out of the concierge.
func DefaultPatterns() []Pattern {
	raw := []struct {
		name    string
		pattern string
	}{
		{"ignore_instructions", `(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules)`},
		{"prompt_override", `(?i)(disregard|forget|override)\s+(all\s+)?(previous|prior|above|your)\s+(instructions|rules|guidelines)`},
		{"system_prompt_extract", `(?i)(repeat|show|print|reveal|output)\s+(me\s+)?(your\s+|the\s+)?(system\s+prompt|instructions|hidden\s+rules)`},
		{"role_injection", `(?i)(\[\[?\s*system\s*\]?\]|<\s*/?\s*system\s*>)`},
		{"jailbreak_dan", `(?i)you\s+are\s+now\s+DAN`},
		{"act_as_bypass", `(?i)(act|behave)\s+as\s+(an?\s+)?(unrestricted|unfiltered|uncensored)`},
		{"resident_data_probe", `(?i)(list|give|show|tell)\s+(me\s+)?(all\s+)?(the\s+)?(other\s+)?(tenants?|residents?|neighbou?rs?)('s?)?\s+(phone|e-?mail|contact|address|lease|payment)`},
		{"kb_dump", `(?i)(dump|print|output)\s+(the\s+)?(entire|whole|full|raw)\s+(knowledge\s*base|context|database)`},
	}

	patterns := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		patterns = append(patterns, Pattern{
			Name:   r.name,
			Regexp: regexp.MustCompile(r.pattern),
		})
	}
	return patterns
}

func (pm *PatternMatcher) Scan(_ context.Context, input ScanInput) (ScanResult, error) {
	content := strings.TrimSpace(input.Content)
	for _, p := range pm.patterns {
		if p.Regexp.MatchString(content) {
			return ScanResult{
				Allowed: false,
				Score:   1.0,
				Reason:  "pattern:" + p.Name,
			}, nil
		}
	}
	return ScanResult{Allowed: true}, nil
}
