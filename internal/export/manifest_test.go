package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var generatedAt = time.Date(2026, 4, 2, 15, 4, 5, 0, time.UTC)

func sampleEntries() []FileEntry {
	return []FileEntry{
		{Name: LedgerExportPDF, SHA256: strings.Repeat("a", 64), Size: 1200},
		{Name: EventsFile, SHA256: strings.Repeat("b", 64), Size: 300},
		{Name: ControlsPDF, SHA256: strings.Repeat("c", 64), Size: 800},
	}
}

func sampleManifest() *Manifest {
	f := Filters{TimeRange: "30d", JobID: "job-123", Category: "security"}
	return NewManifest("", "exp-1", "org-1", generatedAt, f, 12, sampleEntries())
}

func TestNewManifest(t *testing.T) {
	m := sampleManifest()
	assert.Equal(t, ManifestVersion, m.Version)
	assert.Equal(t, "2026-04-02T15:04:05Z", m.GeneratedAt)
	assert.Equal(t, 3, m.ActiveFilterCount)
	assert.Equal(t, 12, m.EventCount)
	require.Len(t, m.Files, 3)
	assert.Equal(t, []string{ControlsPDF, EventsFile, LedgerExportPDF},
		[]string{m.Files[0].Name, m.Files[1].Name, m.Files[2].Name})
	assert.NoError(t, m.Validate())
}

func TestManifestHash_Deterministic(t *testing.T) {
	h1, c1, err := sampleManifest().Hash()
	require.NoError(t, err)

	reversed := sampleEntries()
	reversed[0], reversed[2] = reversed[2], reversed[0]
	f := Filters{TimeRange: "30d", JobID: "job-123", Category: "security"}
	h2, c2, err := NewManifest("", "exp-1", "org-1", generatedAt, f, 12, reversed).Hash()
	require.NoError(t, err)

	assert.Equal(t, c1, c2)
	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(string(c1), `{"active_filter_count":3,"event_count":12,"export_id":"exp-1","files":[`))
	assert.NotContains(t, string(c1), " ")
}

func TestManifestHash_ChangesWithContent(t *testing.T) {
	base, _, err := sampleManifest().Hash()
	require.NoError(t, err)

	m := sampleManifest()
	m.Files[0].SHA256 = strings.Repeat("d", 64)
	changed, _, err := m.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)
}

func TestParseManifest_RoundTrip(t *testing.T) {
	_, canon, err := sampleManifest().Hash()
	require.NoError(t, err)

	m, err := ParseManifest(canon)
	require.NoError(t, err)
	assert.Equal(t, sampleManifest(), m)
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Manifest)
	}{
		{"unsupported major", func(m *Manifest) { m.Version = "2.0.0" }},
		{"garbage version", func(m *Manifest) { m.Version = "latest" }},
		{"missing export id", func(m *Manifest) { m.ExportID = " " }},
		{"missing organization", func(m *Manifest) { m.OrganizationID = "" }},
		{"bad timestamp", func(m *Manifest) { m.GeneratedAt = "yesterday" }},
		{"filter count disagrees", func(m *Manifest) { m.ActiveFilterCount = 2 }},
		{"no files", func(m *Manifest) { m.Files = nil }},
		{"unsorted files", func(m *Manifest) { m.Files[0], m.Files[1] = m.Files[1], m.Files[0] }},
		{"duplicate files", func(m *Manifest) { m.Files[1].Name = m.Files[0].Name }},
		{"nested name", func(m *Manifest) { m.Files[0].Name = "pdf/controls.pdf" }},
		{"traversal name", func(m *Manifest) { m.Files[0].Name = "../controls.pdf" }},
		{"lists itself", func(m *Manifest) { m.Files[2].Name = ManifestFile }},
		{"uppercase digest", func(m *Manifest) { m.Files[0].SHA256 = strings.Repeat("A", 64) }},
		{"short digest", func(m *Manifest) { m.Files[0].SHA256 = "abc" }},
		{"negative size", func(m *Manifest) { m.Files[0].Size = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sampleManifest()
			tt.mutate(m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestParseManifest_Invalid(t *testing.T) {
	_, err := ParseManifest([]byte(`{"version":`))
	assert.Error(t, err)

	raw, err := json.Marshal(map[string]interface{}{"version": "1.0.0", "export_id": "exp-1"})
	require.NoError(t, err)
	_, err = ParseManifest(raw)
	assert.Error(t, err)
}
