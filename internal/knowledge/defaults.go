package knowledge

// Builtin returns a KnowledgeBase preloaded with the default corpus. The
// defaults target the constructs most often seen in hostile or sloppy tool
// definitions: prompt manipulation, shell and SQL injection payloads,
// credential harvesting, exfiltration phrasing, and embedded executable code.
func Builtin() *KnowledgeBase {
	kb := New()
	for _, p := range builtinPatterns {
		if err := kb.AddVulnerabilityPattern(p); err != nil {
			panic(err) // defaults are fixed at compile time
		}
	}
	for _, s := range builtinSignatures {
		if err := kb.AddMaliciousSignature(s); err != nil {
			panic(err)
		}
	}
	return kb
}

var builtinPatterns = []VulnerabilityPattern{
	{
		ID:       "prompt-override",
		Name:     "Prompt override instruction",
		Category: "prompt_injection",
		Severity: SeverityHigh,
		Patterns: []string{
			`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`,
			`(?i)disregard\s+(the\s+)?system\s+prompt`,
		},
		Keywords:    []string{"you are now", "new instructions:"},
		References:  []string{"CWE-77"},
		Remediation: "Remove instruction-override language from tool metadata.",
	},
	{
		ID:       "exfiltration-phrasing",
		Name:     "Data exfiltration phrasing",
		Category: "data_exfiltration",
		Severity: SeverityHigh,
		Patterns: []string{
			`(?i)exfiltrat`,
			`(?i)(send|post|upload)\s+.{0,40}(credential|secret|token|key)s?\s+to`,
		},
		References:  []string{"CWE-200"},
		Remediation: "Tool descriptions must not direct data to third-party endpoints.",
	},
	{
		ID:       "credential-solicitation",
		Name:     "Credential solicitation",
		Category: "credential_access",
		Severity: SeverityMedium,
		Patterns: []string{
			`(?i)(password|passphrase|private[_\s-]?key|secret[_\s-]?key)\s*[:=]`,
			`(?i)paste\s+your\s+.{0,20}(token|password|key)`,
		},
		FalsePositives: []string{"redacted", "example only", "placeholder"},
		References:     []string{"CWE-522"},
		Remediation:    "Credentials belong in the host's secret store, never in tool arguments.",
	},
	{
		ID:       "shell-injection",
		Name:     "Shell command injection construct",
		Category: "injection",
		Severity: SeverityHigh,
		Patterns: []string{
			`;\s*rm\s+-rf`,
			`\$\([^)]*\)`,
			`(?i)&&\s*(curl|wget|nc)\b`,
			`(?i)\|\s*(sh|bash)\b`,
		},
		References:  []string{"CWE-78"},
		Remediation: "Schema text must not embed shell metacharacter sequences.",
	},
	{
		ID:       "sql-injection",
		Name:     "SQL injection construct",
		Category: "injection",
		Severity: SeverityHigh,
		Patterns: []string{
			`(?i)union\s+select`,
			`(?i)('|%27)\s*or\s+'?1'?\s*=\s*'?1`,
			`(?i);\s*drop\s+table`,
		},
		References:  []string{"CWE-89"},
		Remediation: "Remove SQL fragments from tool metadata; parameterise queries server-side.",
	},
	{
		ID:       "path-traversal",
		Name:     "Path traversal sequence",
		Category: "path_traversal",
		Severity: SeverityMedium,
		Patterns: []string{
			`\.\./\.\./`,
			`(?i)/etc/(passwd|shadow)`,
			`(?i)\\windows\\system32`,
		},
		References:  []string{"CWE-22"},
		Remediation: "Defaults and examples must not reference sensitive filesystem paths.",
	},
	{
		ID:       "insecure-transport",
		Name:     "Non-TLS endpoint reference",
		Category: "insecure_transport",
		Severity: SeverityLow,
		Patterns: []string{
			`\bhttp://[^\s"']+`,
		},
		FalsePositives: []string{"http://localhost", "http://127.0.0.1", "http://www.w3.org"},
		References:     []string{"CWE-319"},
		Remediation:    "Reference endpoints over https.",
	},
	{
		ID:       "obfuscated-payload",
		Name:     "Obfuscated payload",
		Category: "obfuscation",
		Severity: SeverityMedium,
		Patterns: []string{
			`(?i)base64[_\s-]?decode`,
			`[A-Za-z0-9+/]{120,}={0,2}`,
			`(?i)fromcharcode`,
		},
		References:  []string{"CWE-506"},
		Remediation: "Tool metadata must be plain text; encoded blobs are not reviewable.",
	},
}

var builtinSignatures = []MaliciousSignature{
	{
		ID:          "eval-call",
		Name:        "Dynamic code evaluation",
		Severity:    SeverityHigh,
		Pattern:     `eval\(`,
		Description: "eval() in tool metadata indicates an attempt to smuggle executable code.",
		References:  []string{"CWE-95"},
	},
	{
		ID:          "exec-call",
		Name:        "Dynamic process execution",
		Severity:    SeverityHigh,
		Pattern:     `(?i)\bexec\s*\(`,
		Description: "exec() in tool metadata indicates embedded process execution.",
		References:  []string{"CWE-78"},
	},
	{
		ID:          "subprocess-shell",
		Name:        "Subprocess with shell enabled",
		Severity:    SeverityCritical,
		Pattern:     `(?i)subprocess\.(popen|call|run).{0,40}shell\s*=\s*true`,
		Description: "shell=True subprocess invocation embedded in metadata.",
		References:  []string{"CWE-78"},
	},
	{
		ID:          "reverse-shell",
		Name:        "Reverse shell payload",
		Severity:    SeverityCritical,
		Pattern:     `(?i)(/dev/tcp/|nc\s+-e\s|bash\s+-i\s+>&)`,
		Description: "Classic reverse-shell one-liner fragments.",
		References:  []string{"CWE-94"},
	},
	{
		ID:          "powershell-encoded",
		Name:        "Encoded PowerShell command",
		Severity:    SeverityCritical,
		Pattern:     `(?i)powershell(\.exe)?\s+-enc(odedcommand)?\s`,
		Description: "Encoded PowerShell invocations hide their payload from review.",
		References:  []string{"CWE-506"},
	},
	{
		ID:          "curl-pipe-shell",
		Name:        "Remote script piped to shell",
		Severity:    SeverityCritical,
		Pattern:     `(?i)(curl|wget)\s+[^|]{0,80}\|\s*(ba|z)?sh\b`,
		Description: "Downloading and executing remote scripts in one step.",
		References:  []string{"CWE-494"},
	},
}
