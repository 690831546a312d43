// Package registry persists the set of provisioned sites as a single JSON
// document. The document is always read whole and rewritten whole; callers
// are assumed to be the only writer.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Sentinel errors
var (
	ErrEmptyDomain = errors.New("domain must not be empty")
	ErrReservedKey = errors.New("key is reserved")
	ErrCorrupt     = errors.New("registry document is not valid JSON")
)

const sitesKey = "sites"

// Entry is the metadata recorded for one site.
type Entry struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Root         string    `json:"root,omitempty"`
	PHPVersion   string    `json:"php_version,omitempty"`
	ExtraDomains []string  `json:"extra_domains,omitempty"`
	Plugins      []string  `json:"plugins,omitempty"`
	Themes       []string  `json:"themes,omitempty"`
	SiteKey      string    `json:"site_key,omitempty"`
	Certificate  bool      `json:"certificate,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Document is the whole registry. Top-level keys other than "sites" are kept
// verbatim in Settings.
type Document struct {
	Sites    map[string]Entry
	Settings map[string]json.RawMessage
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Sites: map[string]Entry{}, Settings: map[string]json.RawMessage{}}
}

// Domains returns the registered domains in sorted order.
func (d *Document) Domains() []string {
	domains := make([]string, 0, len(d.Sites))
	for domain := range d.Sites {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	return domains
}

// MarshalJSON writes sites alongside the preserved settings.
func (d *Document) MarshalJSON() ([]byte, error) {
	top := make(map[string]any, len(d.Settings)+1)
	for k, v := range d.Settings {
		top[k] = v
	}
	sites := d.Sites
	if sites == nil {
		sites = map[string]Entry{}
	}
	top[sitesKey] = sites
	return json.Marshal(top)
}

// UnmarshalJSON splits "sites" from the remaining keys.
func (d *Document) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	d.Sites = map[string]Entry{}
	d.Settings = map[string]json.RawMessage{}
	for k, v := range top {
		if k != sitesKey {
			d.Settings[k] = v
		}
	}
	if raw, ok := top[sitesKey]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("[]")) {
		// An empty JSON array is how an empty sites object was written by
		// older tooling.
		if err := json.Unmarshal(raw, &d.Sites); err != nil {
			return fmt.Errorf("invalid sites: %w", err)
		}
		if d.Sites == nil {
			d.Sites = map[string]Entry{}
		}
	}
	return nil
}

// Registry reads and writes the document at a fixed path.
type Registry struct {
	path   string
	logger *slog.Logger
}

// New creates a registry backed by the file at path.
func New(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{path: path, logger: logger}
}

// Path returns the document location.
func (r *Registry) Path() string {
	return r.path
}

// Read loads the document. A missing file reads as an empty document.
func (r *Registry) Read() (*Document, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return NewDocument(), nil
	}

	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, r.path, err)
	}
	return doc, nil
}

// Write replaces the document on disk via a temporary file and rename.
func (r *Registry) Write(doc *Document) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

// EnsureExists writes an empty document if none is present.
func (r *Registry) EnsureExists() error {
	if _, err := os.Stat(r.path); err == nil {
		return nil
	}
	return r.Write(NewDocument())
}

func (r *Registry) update(fn func(doc *Document) error) error {
	doc, err := r.Read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return r.Write(doc)
}

// AddSite records or replaces the entry for domain.
func (r *Registry) AddSite(domain string, entry Entry) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return ErrEmptyDomain
	}
	err := r.update(func(doc *Document) error {
		doc.Sites[domain] = entry
		return nil
	})
	if err == nil {
		r.logger.Info("site registered", "domain", domain, "type", entry.Type)
	}
	return err
}

// RemoveSite deletes the entry for domain and reports whether one existed.
func (r *Registry) RemoveSite(domain string) (bool, error) {
	domain = strings.ToLower(domain)
	found := false
	err := r.update(func(doc *Document) error {
		_, found = doc.Sites[domain]
		delete(doc.Sites, domain)
		return nil
	})
	if err != nil {
		return false, err
	}
	if found {
		r.logger.Info("site unregistered", "domain", domain)
	}
	return found, nil
}

// Get returns the entry for domain.
func (r *Registry) Get(domain string) (Entry, bool, error) {
	doc, err := r.Read()
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := doc.Sites[strings.ToLower(domain)]
	return entry, ok, nil
}

// UpdateSite applies fn to an existing entry and stores the result.
func (r *Registry) UpdateSite(domain string, fn func(entry *Entry)) error {
	domain = strings.ToLower(domain)
	return r.update(func(doc *Document) error {
		entry, ok := doc.Sites[domain]
		if !ok {
			return fmt.Errorf("site %s is not registered", domain)
		}
		fn(&entry)
		doc.Sites[domain] = entry
		return nil
	})
}

// UpdateKey sets a top-level setting.
func (r *Registry) UpdateKey(key string, value any) error {
	if key == sitesKey {
		return fmt.Errorf("%w: %s", ErrReservedKey, key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return r.update(func(doc *Document) error {
		doc.Settings[key] = raw
		return nil
	})
}

// Setting decodes a top-level setting into v and reports whether it was present.
func (r *Registry) Setting(key string, v any) (bool, error) {
	doc, err := r.Read()
	if err != nil {
		return false, err
	}
	raw, ok := doc.Settings[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}
