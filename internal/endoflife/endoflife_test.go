package endoflife

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const ubuntuResponse = `{
  "schema_version": "1.0.0",
  "result": {
    "name": "ubuntu",
    "label": "Ubuntu",
    "releases": [
      {"name": "24.04", "isLts": true, "isEol": false, "isMaintained": true, "eolFrom": "2029-05-31"},
      {"name": "22.04", "isLts": true, "isEoas": true, "isEol": false, "isMaintained": true, "eolFrom": "2027-04-01"},
      {"name": "18.04", "isLts": true, "isEol": true, "isMaintained": false, "eolFrom": "2023-05-31"}
    ]
  }
}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		switch r.URL.Path {
		case "/products/ubuntu":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(ubuntuResponse))
		case "/products/broken":
			_, _ = w.Write([]byte("{not json"))
		case "/products/flaky":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCycle(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(Config{BaseURL: srv.URL})

	tests := []struct {
		name       string
		cycle      string
		wantStatus string
		wantEOL    string
	}{
		{name: "maintained", cycle: "24.04", wantStatus: "Active", wantEOL: "2029-05-31"},
		{name: "security only", cycle: "22.04", wantStatus: "Security Only", wantEOL: "2027-04-01"},
		{name: "end of life", cycle: "18.04", wantStatus: "End of Life", wantEOL: "2023-05-31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel, err := client.Cycle(context.Background(), "ubuntu", tt.cycle)
			if err != nil {
				t.Fatalf("Cycle() error = %v", err)
			}
			if got := rel.Status(); got != tt.wantStatus {
				t.Errorf("Status() = %q, want %q", got, tt.wantStatus)
			}
			if got := rel.EOL(); got != tt.wantEOL {
				t.Errorf("EOL() = %q, want %q", got, tt.wantEOL)
			}
		})
	}
}

func TestCycle_Errors(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(Config{BaseURL: srv.URL})

	tests := []struct {
		name    string
		product string
		cycle   string
		want    error
	}{
		{name: "unknown cycle", product: "ubuntu", cycle: "16.04", want: ErrCycleNotFound},
		{name: "unknown product", product: "nope", cycle: "1", want: ErrProductNotFound},
		{name: "empty product", product: "", cycle: "1", want: ErrInvalidResponse},
		{name: "malformed body", product: "broken", cycle: "1", want: ErrInvalidResponse},
		{name: "server error", product: "flaky", cycle: "1", want: ErrNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Cycle(context.Background(), tt.product, tt.cycle)
			if !errors.Is(err, tt.want) {
				t.Errorf("Cycle() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestErrAPIError(t *testing.T) {
	err := ErrAPIError{StatusCode: 404, Message: "404 Not Found", Product: "php"}
	if got, want := err.Error(), "API error for product php: 404 404 Not Found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if errors.Is(err, ErrNetworkError) {
		t.Error("404 must not be a network error")
	}
	if !errors.Is(ErrAPIError{Message: "dial tcp: refused"}, ErrNetworkError) {
		t.Error("transport failure must be a network error")
	}
}
