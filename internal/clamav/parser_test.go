package clamav

import (
	"errors"
	"testing"
)

func TestExtractFindings(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []Finding
	}{
		{
			name:   "single threat",
			output: "/scan: Eicar-Signature FOUND",
			want:   []Finding{{File: "/scan", Signature: "Eicar-Signature"}},
		},
		{
			name: "multiple threats in a directory",
			output: `/scan/plugins/a.php: Php.Webshell.Generic FOUND
/scan/themes/b.js: Js.Trojan.Agent FOUND`,
			want: []Finding{
				{File: "/scan/plugins/a.php", Signature: "Php.Webshell.Generic"},
				{File: "/scan/themes/b.js", Signature: "Js.Trojan.Agent"},
			},
		},
		{
			name:   "path with colon",
			output: "/scan/odd:name.php: Php.Malware FOUND",
			want:   []Finding{{File: "/scan/odd:name.php", Signature: "Php.Malware"}},
		},
		{
			name:   "clean file",
			output: "/scan: OK",
		},
		{
			name: "empty output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractFindings(tt.output)
			if len(got) != len(tt.want) {
				t.Fatalf("extractFindings() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("extractFindings()[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExtractDatabaseDate_FromVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    string
	}{
		{
			name:    "real version format",
			version: "ClamAV 1.5.1/27805/Mon Oct 27 09:50:30 2025",
			want:    "Mon Oct 27 09:50:30 2025",
		},
		{
			name:    "padded day",
			version: "ClamAV 1.0.3/27123/Fri Nov  1 12:34:56 2024",
			want:    "Fri Nov  1 12:34:56 2024",
		},
		{
			name:    "no version",
			version: "unknown",
			want:    "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractDatabaseDate(tt.version); got != tt.want {
				t.Errorf("extractDatabaseDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseResult(t *testing.T) {
	const version = "ClamAV 1.5.1/27805/Mon Oct 27 09:50:30 2025"

	clean, err := parseResult([]byte("\n----------- SCAN SUMMARY -----------\nInfected files: 0\n"), 0, version)
	if err != nil {
		t.Fatalf("parseResult() error = %v", err)
	}
	if !clean.Clean || len(clean.Findings) != 0 {
		t.Errorf("clean result = %+v", clean)
	}
	if clean.Metadata.DatabaseDate != "Mon Oct 27 09:50:30 2025" {
		t.Errorf("DatabaseDate = %q", clean.Metadata.DatabaseDate)
	}
	if clean.Err() != nil {
		t.Errorf("Err() = %v, want nil", clean.Err())
	}

	infected, err := parseResult([]byte("/scan: Eicar-Signature FOUND\n\nInfected files: 1\n"), 1, version)
	if err != nil {
		t.Fatalf("parseResult() error = %v", err)
	}
	if infected.Clean || len(infected.Threats()) != 1 || infected.Threats()[0] != "Eicar-Signature" {
		t.Errorf("infected result = %+v", infected)
	}
	if !errors.Is(infected.Err(), ErrInfected) {
		t.Errorf("Err() = %v, want ErrInfected", infected.Err())
	}

	if _, err := parseResult([]byte("Some output without a match"), 1, version); !errors.Is(err, ErrNoThreatsInOutput) {
		t.Errorf("parseResult() error = %v, want ErrNoThreatsInOutput", err)
	}
}
