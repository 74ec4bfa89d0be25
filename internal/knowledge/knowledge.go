// Package knowledge maintains the security corpus used to screen MCP tool
// definitions: vulnerability patterns (suspicious constructs worth flagging)
// and malicious signatures (known-bad indicators). Matching is deterministic:
// the same corpus applied to the same input always produces the same findings.
package knowledge

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrCorpus is the error category for corpus violations: duplicate ids,
// malformed rules, unloadable files. Wrapped errors carry the detail.
var ErrCorpus = errors.New("security corpus error")

func corpusErrorf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrCorpus, fmt.Sprintf(format, a...))
}

// CategoryMaliciousCode is the finding category every signature match carries.
const CategoryMaliciousCode = "malicious_code"

// Severity grades a finding. The ordering low < medium < high < critical is
// used by the decision gate's weighting and by escalation rules.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering of a severity; unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(s)) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(strings.ToLower(s)), nil
	}
	return "", corpusErrorf("unknown severity %q", s)
}

// Finding is a single match produced by the corpus against some text site.
type Finding struct {
	PatternID   string   `json:"pattern_id"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Confidence  float64  `json:"confidence"` // [0,1]
	Location    string   `json:"location"`   // dotted path into the tool definition
	Evidence    string   `json:"evidence,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// VulnerabilityPattern describes a suspicious construct. A pattern matches a
// text site when any of its regular expressions or keywords match; a match is
// suppressed when any false-positive indicator also appears at that site.
type VulnerabilityPattern struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	Category       string   `yaml:"category" json:"category"`
	Severity       Severity `yaml:"severity" json:"severity"`
	Patterns       []string `yaml:"patterns,omitempty" json:"patterns,omitempty"` // regular expressions
	Keywords       []string `yaml:"keywords,omitempty" json:"keywords,omitempty"` // case-insensitive substrings
	FalsePositives []string `yaml:"false_positives,omitempty" json:"false_positives,omitempty"`
	References     []string `yaml:"references,omitempty" json:"references,omitempty"` // CVE/CWE identifiers
	Remediation    string   `yaml:"remediation,omitempty" json:"remediation,omitempty"`

	compiled []*regexp.Regexp
}

// MaliciousSignature is a known-bad indicator. Signature matches always carry
// category malicious_code and severity high or critical; a corpus entry below
// high is rejected at load time.
type MaliciousSignature struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Pattern     string   `yaml:"pattern" json:"pattern"` // regular expression
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	References  []string `yaml:"references,omitempty" json:"references,omitempty"`

	compiled *regexp.Regexp
}

// Stats summarises the loaded corpus.
type Stats struct {
	VulnerabilityPatterns int              `json:"vulnerability_patterns"`
	MaliciousSignatures   int              `json:"malicious_signatures"`
	ByCategory            map[string]int   `json:"by_category"`
	BySeverity            map[Severity]int `json:"by_severity"`
}

// KnowledgeBase is a thread-safe corpus of patterns and signatures.
// The zero value is not usable; construct with New or Builtin.
type KnowledgeBase struct {
	mu         sync.RWMutex
	patterns   map[string]*VulnerabilityPattern
	signatures map[string]*MaliciousSignature
}

// New returns an empty KnowledgeBase.
func New() *KnowledgeBase {
	return &KnowledgeBase{
		patterns:   make(map[string]*VulnerabilityPattern),
		signatures: make(map[string]*MaliciousSignature),
	}
}

// AddVulnerabilityPattern validates and adds one pattern. Duplicate ids and
// malformed rules are rejected without mutating the corpus.
func (kb *KnowledgeBase) AddVulnerabilityPattern(p VulnerabilityPattern) error {
	if err := p.compile(); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, dup := kb.patterns[p.ID]; dup {
		return corpusErrorf("duplicate vulnerability pattern id %q", p.ID)
	}
	if _, dup := kb.signatures[p.ID]; dup {
		return corpusErrorf("pattern id %q already used by a signature", p.ID)
	}
	kb.patterns[p.ID] = &p
	return nil
}

// AddMaliciousSignature validates and adds one signature. Duplicate ids,
// malformed patterns, and severities below high are rejected.
func (kb *KnowledgeBase) AddMaliciousSignature(s MaliciousSignature) error {
	if err := s.compile(); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, dup := kb.signatures[s.ID]; dup {
		return corpusErrorf("duplicate malicious signature id %q", s.ID)
	}
	if _, dup := kb.patterns[s.ID]; dup {
		return corpusErrorf("signature id %q already used by a pattern", s.ID)
	}
	kb.signatures[s.ID] = &s
	return nil
}

// Stats returns counts of the loaded corpus by category and severity.
func (kb *KnowledgeBase) Stats() Stats {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	st := Stats{
		VulnerabilityPatterns: len(kb.patterns),
		MaliciousSignatures:   len(kb.signatures),
		ByCategory:            make(map[string]int),
		BySeverity:            make(map[Severity]int),
	}
	for _, p := range kb.patterns {
		st.ByCategory[p.Category]++
		st.BySeverity[p.Severity]++
	}
	for _, s := range kb.signatures {
		st.ByCategory[CategoryMaliciousCode]++
		st.BySeverity[s.Severity]++
	}
	return st
}

// snapshot returns stable, sorted views of the corpus so matching walks
// entries in a deterministic order regardless of map iteration.
func (kb *KnowledgeBase) snapshot() ([]*VulnerabilityPattern, []*MaliciousSignature) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	ps := make([]*VulnerabilityPattern, 0, len(kb.patterns))
	for _, p := range kb.patterns {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })

	ss := make([]*MaliciousSignature, 0, len(kb.signatures))
	for _, s := range kb.signatures {
		ss = append(ss, s)
	}
	sort.Slice(ss, func(i, j int) bool { return ss[i].ID < ss[j].ID })

	return ps, ss
}

func (p *VulnerabilityPattern) compile() error {
	if p.ID == "" {
		return corpusErrorf("vulnerability pattern missing id")
	}
	if p.Name == "" {
		return corpusErrorf("pattern %q missing name", p.ID)
	}
	if p.Category == "" {
		return corpusErrorf("pattern %q missing category", p.ID)
	}
	if _, err := ParseSeverity(string(p.Severity)); err != nil {
		return corpusErrorf("pattern %q: invalid severity %q", p.ID, p.Severity)
	}
	if len(p.Patterns) == 0 && len(p.Keywords) == 0 {
		return corpusErrorf("pattern %q has no match rules", p.ID)
	}

	p.compiled = make([]*regexp.Regexp, 0, len(p.Patterns))
	for _, expr := range p.Patterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return corpusErrorf("pattern %q: bad regexp %q: %v", p.ID, expr, err)
		}
		p.compiled = append(p.compiled, re)
	}
	return nil
}

func (s *MaliciousSignature) compile() error {
	if s.ID == "" {
		return corpusErrorf("malicious signature missing id")
	}
	if s.Name == "" {
		return corpusErrorf("signature %q missing name", s.ID)
	}
	sev, err := ParseSeverity(string(s.Severity))
	if err != nil {
		return corpusErrorf("signature %q: invalid severity %q", s.ID, s.Severity)
	}
	if sev.Rank() < SeverityHigh.Rank() {
		return corpusErrorf("signature %q: severity must be high or critical, got %q", s.ID, sev)
	}
	if s.Pattern == "" {
		return corpusErrorf("signature %q missing pattern", s.ID)
	}
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return corpusErrorf("signature %q: bad regexp %q: %v", s.ID, s.Pattern, err)
	}
	s.compiled = re
	return nil
}
