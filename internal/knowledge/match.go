package knowledge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/toolvet/toolvet/pkg/mcptool"
)

// Confidence model. A match's confidence reflects rule specificity: longer,
// more literal patterns score higher than short or heavily-wildcarded ones.
const (
	signatureBaseConfidence = 0.80
	patternBaseConfidence   = 0.55
	keywordBaseConfidence   = 0.45
	maxConfidence           = 0.98
)

// CheckVulnerabilityPatterns runs every vulnerability pattern against the
// text and reports all matches. location labels the text site in findings.
func (kb *KnowledgeBase) CheckVulnerabilityPatterns(text, location string) []Finding {
	patterns, _ := kb.snapshot()
	return matchPatterns(patterns, text, location)
}

// CheckMaliciousSignatures runs every malicious signature against the text
// and reports all matches. Signature findings always carry the
// malicious_code category and the signature's (high or critical) severity.
func (kb *KnowledgeBase) CheckMaliciousSignatures(text, location string) []Finding {
	_, signatures := kb.snapshot()
	return matchSignatures(signatures, text, location)
}

// AnalyzeSchema walks every string-bearing site of a tool definition (the
// tool name, the description, and all textual content of the JSON schema:
// property names, descriptions, titles, enum/const/default/examples values,
// patterns, nested structures) and runs both corpus checks at each site.
//
// Findings are deduplicated by (pattern id, location), keeping the highest
// confidence when a site matched the same rule more than once.
func (kb *KnowledgeBase) AnalyzeSchema(tool *mcptool.Tool) ([]Finding, error) {
	patterns, signatures := kb.snapshot()

	var findings []Finding
	check := func(text, location string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		findings = append(findings, matchPatterns(patterns, text, location)...)
		findings = append(findings, matchSignatures(signatures, text, location)...)
	}

	check(tool.Name, "name")
	check(tool.Description, "description")

	schema, err := tool.SchemaObject()
	if err != nil {
		return nil, err
	}
	walkSchema(schema, "schema", check)

	return dedupe(findings), nil
}

// walkSchema visits every string value in the schema, and every property
// name, calling check with the dotted location path.
func walkSchema(v any, path string, check func(text, location string)) {
	switch node := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			childPath := path + "." + k
			// Keys under "properties" are author-chosen property names and
			// are themselves text worth screening.
			if strings.HasSuffix(path, ".properties") {
				check(k, childPath)
			}
			walkSchema(node[k], childPath, check)
		}
	case []any:
		for i, item := range node {
			walkSchema(item, fmt.Sprintf("%s[%d]", path, i), check)
		}
	case string:
		check(node, path)
	}
}

func matchPatterns(patterns []*VulnerabilityPattern, text, location string) []Finding {
	var out []Finding
	lower := strings.ToLower(text)

	for _, p := range patterns {
		if p.suppressedBy(lower) {
			continue
		}

		best := -1.0
		evidence := ""
		for _, re := range p.compiled {
			loc := re.FindStringIndex(text)
			if loc == nil {
				continue
			}
			if c := clampConfidence(patternBaseConfidence + specificityBonus(re.String(), 0.25)); c > best {
				best = c
				evidence = excerpt(text, loc[0], loc[1])
			}
		}
		for _, kw := range p.Keywords {
			idx := strings.Index(lower, strings.ToLower(kw))
			if idx < 0 {
				continue
			}
			if c := clampConfidence(keywordBaseConfidence + specificityBonus(kw, 0.20)); c > best {
				best = c
				evidence = excerpt(text, idx, idx+len(kw))
			}
		}

		if best >= 0 {
			out = append(out, Finding{
				PatternID:   p.ID,
				Title:       p.Name,
				Category:    p.Category,
				Severity:    p.Severity,
				Confidence:  best,
				Location:    location,
				Evidence:    evidence,
				Remediation: p.Remediation,
			})
		}
	}
	return out
}

func matchSignatures(signatures []*MaliciousSignature, text, location string) []Finding {
	var out []Finding
	for _, s := range signatures {
		loc := s.compiled.FindStringIndex(text)
		if loc == nil {
			continue
		}
		out = append(out, Finding{
			PatternID:   s.ID,
			Title:       s.Name,
			Category:    CategoryMaliciousCode,
			Severity:    s.Severity,
			Confidence:  clampConfidence(signatureBaseConfidence + specificityBonus(s.Pattern, 0.18)),
			Location:    location,
			Evidence:    excerpt(text, loc[0], loc[1]),
			Remediation: s.Description,
		})
	}
	return out
}

// suppressedBy reports whether any false-positive indicator appears in the
// (lowercased) text, which disqualifies the pattern at this site.
func (p *VulnerabilityPattern) suppressedBy(lowerText string) bool {
	for _, fp := range p.FalsePositives {
		if fp != "" && strings.Contains(lowerText, strings.ToLower(fp)) {
			return true
		}
	}
	return false
}

// dedupe collapses findings sharing (pattern id, location), keeping the
// highest confidence, and returns them in a stable order.
func dedupe(findings []Finding) []Finding {
	type key struct{ id, loc string }
	best := make(map[key]Finding, len(findings))
	for _, f := range findings {
		k := key{f.PatternID, f.Location}
		if prev, ok := best[k]; !ok || f.Confidence > prev.Confidence {
			best[k] = f
		}
	}

	out := make([]Finding, 0, len(best))
	for _, f := range best {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].PatternID < out[j].PatternID
	})
	return out
}

// specificityBonus scales with the number of literal (non-metacharacter)
// runes in the rule, up to limit. A one-character wildcard earns nothing; a
// long anchored literal earns the full bonus.
func specificityBonus(rule string, limit float64) float64 {
	literals := 0
	for _, r := range rule {
		switch r {
		case '\\', '.', '*', '+', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|':
		default:
			literals++
		}
	}
	bonus := 0.015 * float64(literals)
	if bonus > limit {
		return limit
	}
	return bonus
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > maxConfidence {
		return maxConfidence
	}
	return c
}

// excerpt returns the matched text with a little surrounding context,
// truncated so audit entries and events stay small.
func excerpt(text string, start, end int) string {
	const pad = 20
	lo := start - pad
	if lo < 0 {
		lo = 0
	}
	hi := end + pad
	if hi > len(text) {
		hi = len(text)
	}
	s := text[lo:hi]
	if len(s) > 120 {
		s = s[:120]
	}
	return strings.TrimSpace(s)
}
