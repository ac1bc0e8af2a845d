package export

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/riskmate/riskmate/internal/validation"
)

const (
	// ManifestVersion is written into every new manifest
	ManifestVersion = "1.0.0"
	// SupportedManifestVersions is the range the verifier accepts
	SupportedManifestVersions = ">= 1.0.0, < 2.0.0"

	ManifestFile  = "manifest.json"
	SignatureFile = "manifest.json.asc"
	EventsFile    = "events.json"
)

var sha256Hex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// FileEntry is one file listed in a manifest
type FileEntry struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest describes the content of one proof pack. Its hash is the SHA-256
// of its canonical JSON encoding.
type Manifest struct {
	Version           string      `json:"version"`
	ExportID          string      `json:"export_id"`
	OrganizationID    string      `json:"organization_id"`
	GeneratedAt       string      `json:"generated_at"`
	Filters           Filters     `json:"filters"`
	ActiveFilterCount int         `json:"active_filter_count"`
	EventCount        int         `json:"event_count"`
	Files             []FileEntry `json:"files"`
}

// NewManifest builds a manifest with files ordered by name
func NewManifest(version, exportID, orgID string, generatedAt time.Time, f Filters, eventCount int, files []FileEntry) *Manifest {
	if version == "" {
		version = ManifestVersion
	}
	sorted := make([]FileEntry, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	return &Manifest{
		Version:           version,
		ExportID:          exportID,
		OrganizationID:    orgID,
		GeneratedAt:       generatedAt.UTC().Format(time.RFC3339),
		Filters:           f,
		ActiveFilterCount: ActiveFilterCount(f),
		EventCount:        eventCount,
		Files:             sorted,
	}
}

// Canonical returns the canonical JSON encoding of m
func (m *Manifest) Canonical() ([]byte, error) {
	return Canonicalize(m)
}

// Hash returns the manifest hash and the canonical bytes it covers
func (m *Manifest) Hash() (string, []byte, error) {
	canon, err := m.Canonical()
	if err != nil {
		return "", nil, err
	}
	hash, err := HashJSON(canon)
	if err != nil {
		return "", nil, err
	}
	return hash, canon, nil
}

// ParseManifest decodes and validates a manifest body
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest JSON: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the version range and that the file list is well formed:
// non-empty, unique clean names in ascending order, lowercase hex digests.
func (m *Manifest) Validate() error {
	if err := validation.CheckVersion(m.Version, SupportedManifestVersions); err != nil {
		return fmt.Errorf("unsupported manifest version: %w", err)
	}
	if strings.TrimSpace(m.ExportID) == "" {
		return fmt.Errorf("manifest has no export_id")
	}
	if strings.TrimSpace(m.OrganizationID) == "" {
		return fmt.Errorf("manifest has no organization_id")
	}
	if _, err := time.Parse(time.RFC3339, m.GeneratedAt); err != nil {
		return fmt.Errorf("manifest generated_at is not RFC 3339: %w", err)
	}
	if m.ActiveFilterCount != ActiveFilterCount(m.Filters) {
		return fmt.Errorf("manifest active_filter_count %d does not match its filters", m.ActiveFilterCount)
	}
	if len(m.Files) == 0 {
		return fmt.Errorf("manifest lists no files")
	}

	for i, f := range m.Files {
		if f.Name == "" || path.Clean(f.Name) != f.Name || strings.ContainsAny(f.Name, `/\`) {
			return fmt.Errorf("manifest file %d has an invalid name %q", i, f.Name)
		}
		if f.Name == ManifestFile || f.Name == SignatureFile {
			return fmt.Errorf("manifest must not list %s", f.Name)
		}
		if i > 0 && m.Files[i-1].Name >= f.Name {
			return fmt.Errorf("manifest files are not sorted and unique at %q", f.Name)
		}
		if !sha256Hex.MatchString(f.SHA256) {
			return fmt.Errorf("manifest file %q has an invalid sha256", f.Name)
		}
		if f.Size < 0 {
			return fmt.Errorf("manifest file %q has a negative size", f.Name)
		}
	}
	return nil
}
