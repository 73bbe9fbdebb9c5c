package planner

import (
	"fmt"
	"regexp"
	"strings"
)

// The analyzer is a rule-based classifier: identical text always produces an
// identical analysis. No model inference happens here.

const (
	// Flat requests above this many items get decomposed.
	flatItemThreshold = 8
	// Explicit nested specs above this many groups get decomposed.
	explicitGroupThreshold = 2
)

// CreateListRequest is the base creation input the analyzer inspects.
type CreateListRequest struct {
	Title       string
	Description string
	ListType    string
	Items       []string
	Groups      []GroupSpec
}

// GroupSpec is one explicitly requested child group.
type GroupSpec struct {
	Title string
	Items []string
}

// Analysis is ephemeral: produced and consumed within a single tool
// invocation, never persisted.
type Analysis struct {
	NeedsDecomposition bool
	Locations          []string
	Phases             []string
	Budget             string
	Duration           string
	Dates              string
}

var (
	cityCountRe   = regexp.MustCompile(`(?i)\b(\d+)[- ](?:city|cities|stop|stops|location|locations)\b`)
	namedPlacesRe = regexp.MustCompile(`\b(?:in|across|through|visiting)\s+((?:[A-Z][A-Za-z]+(?:\s[A-Z][A-Za-z]+)?)(?:\s*,\s*[A-Z][A-Za-z]+(?:\s[A-Z][A-Za-z]+)?)*(?:\s*,?\s+and\s+[A-Z][A-Za-z]+(?:\s[A-Z][A-Za-z]+)?)?)`)
	phaseVocabRe  = regexp.MustCompile(`(?i)\b(phases?|stages?|milestones?)\b`)
	phaseCountRe  = regexp.MustCompile(`(?i)\b(\d+)[- ](?:phase|phases|stage|stages)\b`)
	weekPlanRe    = regexp.MustCompile(`(?i)\b(\d+)[- ]week\s+plan\b`)
	budgetRe      = regexp.MustCompile(`(?i)budget(?:\s+of|\s*[:=])?\s*(\$?[\d,]+(?:\.\d+)?\s*[km]?)`)
	durationRe    = regexp.MustCompile(`(?i)\b(\d+)\s*(weeks?|months?|days?)\b`)
	datesRe       = regexp.MustCompile(`(?i)\b(q[1-4](?:\s+\d{4})?|january|february|march|april|may|june|july|august|september|october|november|december|\d{4}-\d{2}-\d{2})\b`)
)

// Analyze classifies a creation request as flat or needing hierarchical
// decomposition, and extracts structural hints from its text.
func Analyze(req CreateListRequest) Analysis {
	text := strings.TrimSpace(req.Title + " " + req.Description)
	var a Analysis

	a.Locations = extractLocations(text)
	a.Phases = extractPhases(text)
	a.Budget = firstMatch(budgetRe, text)
	a.Duration = firstMatch(durationRe, text)
	a.Dates = firstMatch(datesRe, text)

	switch {
	case len(a.Locations) > 0:
		a.NeedsDecomposition = true
	case len(a.Phases) > 0:
		a.NeedsDecomposition = true
	case len(req.Items) > flatItemThreshold:
		a.NeedsDecomposition = true
	case len(req.Groups) > explicitGroupThreshold:
		a.NeedsDecomposition = true
	}
	return a
}

// extractLocations finds named places first ("visiting Paris, Berlin and
// Rome" is enough on its own); failing that, a stop count ("3-city") yields
// numbered placeholders. Multi-location vocabulary with no extractable
// places or count gives nothing to build children from, so it stays flat.
func extractLocations(text string) []string {
	if m := namedPlacesRe.FindStringSubmatch(text); m != nil {
		if places := splitPlaceList(m[1]); places != nil {
			return places
		}
	}
	if m := cityCountRe.FindStringSubmatch(text); m != nil {
		n := atoiSafe(m[1])
		if n >= 2 && n <= 12 {
			out := make([]string, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fmt.Sprintf("City %d", i))
			}
			return out
		}
	}
	return nil
}

func extractPhases(text string) []string {
	count := 0
	label := "Phase"
	if m := weekPlanRe.FindStringSubmatch(text); m != nil {
		count = atoiSafe(m[1])
		label = "Week"
	} else if m := phaseCountRe.FindStringSubmatch(text); m != nil {
		count = atoiSafe(m[1])
	} else if phaseVocabRe.MatchString(text) {
		// Vocabulary without a count: assume a standard three-phase split.
		count = 3
	}
	if count < 2 || count > 12 {
		return nil
	}
	out := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, fmt.Sprintf("%s %d", label, i))
	}
	return out
}

func splitPlaceList(raw string) []string {
	raw = strings.ReplaceAll(raw, " and ", ",")
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

func firstMatch(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(m[0])
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
