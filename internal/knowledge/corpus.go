package knowledge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// corpusFile is the on-disk YAML corpus format:
//
//	version: 1
//	patterns:
//	  - id: sql-injection
//	    name: SQL injection construct
//	    category: injection
//	    severity: high
//	    patterns: ['(?i)union\s+select']
//	    keywords: ['drop table']
//	    false_positives: ['documentation example']
//	    references: ['CWE-89']
//	signatures:
//	  - id: eval-call
//	    name: Dynamic code evaluation
//	    severity: high
//	    pattern: 'eval\('
type corpusFile struct {
	Version    int                    `yaml:"version"`
	Patterns   []VulnerabilityPattern `yaml:"patterns"`
	Signatures []MaliciousSignature   `yaml:"signatures"`
}

const corpusFormatVersion = 1

// LoadFromFile reads a YAML corpus file and merges it into the knowledge
// base. The file is validated in full first: duplicate ids (within the
// file or against already-loaded entries) or any malformed rule reject the
// whole file, leaving the corpus unchanged.
func (kb *KnowledgeBase) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return corpusErrorf("read %s: %v", path, err)
	}
	return kb.Load(data)
}

// Load merges a YAML corpus document. See LoadFromFile.
func (kb *KnowledgeBase) Load(data []byte) error {
	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return corpusErrorf("parse corpus: %v", err)
	}
	if file.Version != corpusFormatVersion {
		return corpusErrorf("unsupported corpus version %d (want %d)", file.Version, corpusFormatVersion)
	}

	// Validate and compile everything before touching the corpus.
	seen := make(map[string]string, len(file.Patterns)+len(file.Signatures))
	for i := range file.Patterns {
		p := &file.Patterns[i]
		if err := p.compile(); err != nil {
			return err
		}
		if kind, dup := seen[p.ID]; dup {
			return corpusErrorf("id %q appears twice in corpus (first as %s)", p.ID, kind)
		}
		seen[p.ID] = "pattern"
	}
	for i := range file.Signatures {
		s := &file.Signatures[i]
		if err := s.compile(); err != nil {
			return err
		}
		if kind, dup := seen[s.ID]; dup {
			return corpusErrorf("id %q appears twice in corpus (first as %s)", s.ID, kind)
		}
		seen[s.ID] = "signature"
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	for id := range seen {
		if _, dup := kb.patterns[id]; dup {
			return corpusErrorf("id %q already loaded", id)
		}
		if _, dup := kb.signatures[id]; dup {
			return corpusErrorf("id %q already loaded", id)
		}
	}

	for i := range file.Patterns {
		p := file.Patterns[i]
		kb.patterns[p.ID] = &p
	}
	for i := range file.Signatures {
		s := file.Signatures[i]
		kb.signatures[s.ID] = &s
	}
	return nil
}

// ValidateCorpus parses and validates a corpus document without loading it
// anywhere. Used by the CLI's corpus linting command.
func ValidateCorpus(data []byte) (patterns, signatures int, err error) {
	kb := New()
	if err := kb.Load(data); err != nil {
		return 0, 0, err
	}
	st := kb.Stats()
	return st.VulnerabilityPatterns, st.MaliciousSignatures, nil
}

// Describe returns a short human-readable summary of corpus stats.
func (s Stats) Describe() string {
	return fmt.Sprintf("%d vulnerability patterns, %d malicious signatures",
		s.VulnerabilityPatterns, s.MaliciousSignatures)
}
