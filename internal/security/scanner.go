// Package security implements the deterministic, LLM-free security gate
// (C7): regex-based scanning of aggregated PR code against named rules.
// No LLM calls by design — security checks must be reproducible, and an
// LLM's non-determinism is unacceptable for a hard gate. Grounded on
// original_source/services/security_service/{scanner.py,config.py,main.py}.
package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/admadc/pipeline/internal/contracts"
)

// rule is one named, regex-backed security check. Every violation maps to
// a rule name for auditability.
type rule struct {
	name    string
	pattern *regexp.Regexp
}

// securityRules mirrors security_service/config.py's SECURITY_RULES, plus
// two rules (permissive_cors, debug_flag_enabled) added as supplemented
// checks against configuration-level footguns the original list didn't
// cover.
var securityRules = []rule{
	{"hardcoded_api_key", regexp.MustCompile(`(?i)(api_key|apikey)\s*=\s*["'][A-Za-z0-9_\-]{16,}["']`)},
	{"hardcoded_password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*=\s*["'][^"']{4,}["']`)},
	{"hardcoded_token", regexp.MustCompile(`(?i)(token|secret)\s*=\s*["'][A-Za-z0-9_\-]{16,}["']`)},
	{"dangerous_eval", regexp.MustCompile(`\beval\s*\(`)},
	{"dangerous_exec", regexp.MustCompile(`\bexec\s*\(`)},
	{"unsafe_deserialization", regexp.MustCompile(`\b(pickle|marshal)\.loads\s*\(`)},
	{"path_traversal", regexp.MustCompile(`\.\./`)},
	{"shell_injection_os", regexp.MustCompile(`\bos\.system\s*\(`)},
	{"shell_injection_subprocess", regexp.MustCompile(`\bsubprocess\.(call|Popen|run)\s*\([^)]*shell\s*=\s*True`)},
	{"sql_injection_risk", regexp.MustCompile(`(?i)(execute|executemany)\s*\(\s*["'].*%s`)},
	{"permissive_cors", regexp.MustCompile(`(?i)allow_origins\s*=\s*\[\s*["']\*["']\s*\]`)},
	{"debug_flag_enabled", regexp.MustCompile(`(?i)\bdebug\s*=\s*True\b`)},
}

// ScanResult is the scan verdict for one aggregated PR payload.
type ScanResult struct {
	Approved     bool
	Violations   []string
	FilesScanned int
	Reasoning    string
}

// ScanFiles scans every file in files and approves only on zero violations.
// The returned Reasoning chains each file's upstream dev+QA reasoning ahead
// of the security summary, so the pipeline conclusion carries every
// upstream agent's reasoning rather than just the scan verdict.
func ScanFiles(files []contracts.PRFile) ScanResult {
	var violations []string
	var upstreamReasoning []string
	filesScanned := 0

	for _, f := range files {
		if f.Code == "" {
			continue
		}
		filesScanned++
		violations = append(violations, scanSingleFile(f.FilePath, f.Code)...)
		if f.Reasoning != "" {
			upstreamReasoning = append(upstreamReasoning, fmt.Sprintf("[%s] %s", f.FilePath, f.Reasoning))
		}
	}

	approved := len(violations) == 0
	rulesChecked := len(securityRules)

	var summary string
	if approved {
		summary = fmt.Sprintf(
			"[Security] Scanned %d file(s) against %d security rules (hardcoded secrets, dangerous functions, path traversal, shell/SQL injection). No violations found. Code is safe for repository publication.",
			filesScanned, rulesChecked)
	} else {
		summary = fmt.Sprintf(
			"[Security] Scanned %d file(s) against %d security rules. Found %d violation(s):\n- %s\nPublication blocked until violations are resolved.",
			filesScanned, rulesChecked, len(violations), strings.Join(violations, "\n- "))
	}

	parts := append(append([]string{}, upstreamReasoning...), summary)
	reasoning := strings.Join(parts, "\n")

	return ScanResult{Approved: approved, Violations: violations, FilesScanned: filesScanned, Reasoning: reasoning}
}

func scanSingleFile(filePath, code string) []string {
	var violations []string
	for _, r := range securityRules {
		if r.pattern.MatchString(code) {
			violations = append(violations, fmt.Sprintf("[%s] Rule '%s': pattern matched", filePath, r.name))
		}
	}
	return violations
}
