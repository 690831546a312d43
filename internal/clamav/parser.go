package clamav

import (
	"errors"
	"regexp"
	"strings"
)

// Sentinel errors
var (
	ErrNoThreatsInOutput = errors.New("malware detected but no threats found in output")
)

var databaseDatePattern = regexp.MustCompile(`ClamAV \d+\.\d+\.\d+/\d+/([A-Za-z]{3} [A-Za-z]{3}\s+\d+\s+\d+:\d+:\d+ \d{4})`)

// parseResult extracts scan results from clamscan output.
// Exit code 0 = clean, 1 = infected.
func parseResult(output []byte, exitCode int, version string) (Result, error) {
	result := Result{
		Clean: exitCode == 0,
		Metadata: Metadata{
			EngineVersion: version,
			DatabaseDate:  extractDatabaseDate(version),
		},
	}

	if !result.Clean {
		result.Findings = extractFindings(string(output))
		if len(result.Findings) == 0 {
			return result, ErrNoThreatsInOutput
		}
	}

	return result, nil
}

// extractFindings reads "<path>: <signature> FOUND" lines. Paths may
// contain colons, so the line is split at the last ": ".
func extractFindings(output string) []Finding {
	var findings []Finding
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, " FOUND") {
			continue
		}
		idx := strings.LastIndex(line, ": ")
		if idx < 0 {
			continue
		}
		findings = append(findings, Finding{
			File:      line[:idx],
			Signature: strings.TrimSpace(strings.TrimSuffix(line[idx+2:], " FOUND")),
		})
	}
	return findings
}

// extractDatabaseDate parses the virus database date from version string.
// Example version: "ClamAV 1.5.1/27805/Mon Oct 27 09:50:30 2025"
func extractDatabaseDate(version string) string {
	if m := databaseDatePattern.FindStringSubmatch(version); len(m) >= 2 {
		return m[1]
	}
	return "unknown"
}
