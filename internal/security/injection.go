package security

import (
	"regexp"
	"strings"
)

// RiskLevel grades an injection scan.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// InjectionResult is the verdict of the heuristic injection scan. Identical
// input text always yields an identical result.
type InjectionResult struct {
	Detected bool      `json:"detected"`
	Risk     RiskLevel `json:"risk"`
	Patterns []string  `json:"patterns,omitempty"`
	Score    float64   `json:"score"`
}

type injectionPattern struct {
	name   string
	weight float64
	re     *regexp.Regexp
}

// Ordered so that scores and pattern lists come out deterministic.
var injectionPatterns = []injectionPattern{
	{"instruction_override", 0.9, regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\b.{0,40}\b(previous|prior|above|all)\b.{0,30}\b(instructions?|rules?|prompts?|directives?)\b`)},
	{"system_prompt_extraction", 0.9, regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output|leak)\b.{0,40}\b(system\s+prompt|initial\s+instructions?|hidden\s+instructions?)\b`)},
	{"role_override", 0.8, regexp.MustCompile(`(?i)\byou\s+are\s+(now|no\s+longer)\b|\bnew\s+persona\b|\bjailbreak\b|\bdan\s+mode\b`)},
	{"roleplay_coercion", 0.5, regexp.MustCompile(`(?i)\b(pretend|act\s+as|roleplay\s+as)\b.{0,40}\b(unrestricted|uncensored|without\s+(any\s+)?(rules|filters|restrictions))\b`)},
	{"delimiter_escape", 0.4, regexp.MustCompile("(?i)(```+|<\\|im_start\\|>|\\[/?(system|inst)\\])")},
	{"prompt_probe", 0.3, regexp.MustCompile(`(?i)\bwhat\s+(are|were)\s+your\s+(instructions?|rules?)\b`)},
}

const (
	injectionHighThreshold   = 0.8
	injectionMediumThreshold = 0.4
)

// DetectInjection scans inbound text for instruction-override phrasing,
// role-play jailbreaks, and system-prompt extraction attempts.
func DetectInjection(text string) InjectionResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return InjectionResult{Risk: RiskNone}
	}

	var (
		matched []string
		score   float64
	)
	for _, p := range injectionPatterns {
		if p.re.MatchString(trimmed) {
			matched = append(matched, p.name)
			if p.weight > score {
				score = p.weight
			}
		}
	}
	if len(matched) == 0 {
		return InjectionResult{Risk: RiskNone}
	}
	// Stacked distinct signals raise the score a notch.
	if len(matched) > 1 && score < 1.0 {
		score += 0.1
		if score > 1.0 {
			score = 1.0
		}
	}

	risk := RiskMedium
	if score >= injectionHighThreshold {
		risk = RiskHigh
	} else if score < injectionMediumThreshold {
		risk = RiskMedium
	}
	return InjectionResult{
		Detected: true,
		Risk:     risk,
		Patterns: matched,
		Score:    score,
	}
}
