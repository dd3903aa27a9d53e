// Pattern detection over a memory's observations. Recurring templates
// ("User prefers {X} food") support generalizing working memories into
// semantic memory during consolidation.
package consolidation

import (
	"sort"
	"strings"
)

// Pattern is a recurring template found across observation strings.
type Pattern struct {
	// Template is the observation with variable positions replaced by
	// "{X}" placeholders.
	Template string `json:"template"`

	// Variables are the deduplicated values seen at the variable
	// positions, in first-seen order.
	Variables []string `json:"variables"`

	// Occurrences is the number of observations matching the template.
	Occurrences int `json:"occurrences"`

	// Confidence is occurrences / total observations, capped at 1.
	Confidence float64 `json:"confidence"`

	// Sources are the unique observation texts that matched.
	Sources []string `json:"sources"`
}

// PatternDetector finds recurring templates in observation lists.
type PatternDetector struct {
	// MinOccurrences is the minimum match count for a pattern to be
	// reported. Default 2.
	MinOccurrences int
}

// NewPatternDetector creates a detector with the given minimum occurrence
// count (values < 2 default to 2).
func NewPatternDetector(minOccurrences int) *PatternDetector {
	if minOccurrences < 2 {
		minOccurrences = 2
	}
	return &PatternDetector{MinOccurrences: minOccurrences}
}

// Detect finds recurring templates across the observations.
//
// Every pair of observations with equal token counts yields a candidate
// template when at least one token differs (the variable) and at least one
// matches (the fixed context), and the fixed tokens are not outnumbered by
// the variables. Candidates are then re-scanned against all observations
// to catch additional matches. This is O(n^2) in the observation count;
// callers bound the input size.
func (d *PatternDetector) Detect(observations []string) []Pattern {
	if len(observations) < 2 {
		return nil
	}

	tokenized := make([][]string, len(observations))
	for i, obs := range observations {
		tokenized[i] = strings.Fields(obs)
	}

	seen := make(map[string]bool)
	var patterns []Pattern

	for i := 0; i < len(tokenized); i++ {
		for j := i + 1; j < len(tokenized); j++ {
			template, ok := candidateTemplate(tokenized[i], tokenized[j])
			if !ok || seen[template] {
				continue
			}
			seen[template] = true

			p := d.scanTemplate(template, observations, tokenized)
			if p.Occurrences >= d.MinOccurrences {
				patterns = append(patterns, p)
			}
		}
	}

	sort.SliceStable(patterns, func(a, b int) bool {
		return patterns[a].Occurrences > patterns[b].Occurrences
	})
	return patterns
}

// candidateTemplate builds a template from two equal-length token lists.
// Rejects pairs with no variable token, no fixed token, or more variable
// tokens than fixed ones (degenerate all-variable patterns).
func candidateTemplate(a, b []string) (string, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return "", false
	}

	fixed, variable := 0, 0
	parts := make([]string, len(a))
	for k := range a {
		if a[k] == b[k] {
			fixed++
			parts[k] = a[k]
		} else {
			variable++
			parts[k] = "{X}"
		}
	}
	if variable == 0 || fixed == 0 || fixed < variable {
		return "", false
	}
	return strings.Join(parts, " "), true
}

// scanTemplate matches every observation against the template,
// accumulating variable values and unique source texts.
func (d *PatternDetector) scanTemplate(template string, observations []string, tokenized [][]string) Pattern {
	tmplTokens := strings.Fields(template)

	p := Pattern{Template: template}
	varSeen := make(map[string]bool)
	srcSeen := make(map[string]bool)

	for i, tokens := range tokenized {
		vars, ok := matchTemplate(tmplTokens, tokens)
		if !ok {
			continue
		}
		p.Occurrences++
		for _, v := range vars {
			if !varSeen[v] {
				varSeen[v] = true
				p.Variables = append(p.Variables, v)
			}
		}
		if !srcSeen[observations[i]] {
			srcSeen[observations[i]] = true
			p.Sources = append(p.Sources, observations[i])
		}
	}

	if len(observations) > 0 {
		p.Confidence = float64(p.Occurrences) / float64(len(observations))
		if p.Confidence > 1 {
			p.Confidence = 1
		}
	}
	return p
}

// matchTemplate reports whether the tokens fit the template, returning the
// values found at the variable positions.
func matchTemplate(tmplTokens, tokens []string) ([]string, bool) {
	if len(tmplTokens) != len(tokens) {
		return nil, false
	}
	var vars []string
	for k, t := range tmplTokens {
		if t == "{X}" {
			vars = append(vars, tokens[k])
			continue
		}
		if t != tokens[k] {
			return nil, false
		}
	}
	return vars, true
}
