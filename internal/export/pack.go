package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/validation"
	"github.com/riskmate/riskmate/pkg/checksum"
)

// File is one named artifact in a pack
type File struct {
	Name string
	Data []byte
}

// Pack is a built proof pack ready for upload
type Pack struct {
	Manifest     *Manifest
	ManifestJSON []byte
	ManifestHash string
	Signature    []byte
	Archive      []byte
}

// BuildError tags a failed build step with its stable failure reason
type BuildError struct {
	Reason string
	Err    error
}

func (e *BuildError) Error() string { return e.Reason + ": " + e.Err.Error() }
func (e *BuildError) Unwrap() error { return e.Err }

// Builder assembles proof packs
type Builder struct {
	version string
	signer  *Signer
}

// NewBuilder creates a Builder writing manifests of the given version. A nil
// signer produces unsigned packs.
func NewBuilder(version string, signer *Signer) *Builder {
	if version == "" {
		version = ManifestVersion
	}
	return &Builder{version: version, signer: signer}
}

// Build renders every file, hashes them into a manifest, optionally signs
// the manifest and packages the result. Identical documents produce
// identical manifests.
func (b *Builder) Build(d *Document) (*Pack, error) {
	files, err := RenderFiles(d)
	if err != nil {
		return nil, &BuildError{Reason: ReasonRenderFailed, Err: err}
	}

	entries := make([]FileEntry, 0, len(files))
	for _, f := range files {
		sum, size, err := checksum.Reader(bytes.NewReader(f.Data))
		if err != nil {
			return nil, &BuildError{Reason: ReasonManifestFailed, Err: err}
		}
		entries = append(entries, FileEntry{Name: f.Name, SHA256: sum, Size: size})
	}

	m := NewManifest(b.version, d.ExportID, d.OrganizationID, d.GeneratedAt, d.Filters, len(d.Events), entries)
	if err := m.Validate(); err != nil {
		return nil, &BuildError{Reason: ReasonManifestFailed, Err: err}
	}
	hash, canon, err := m.Hash()
	if err != nil {
		return nil, &BuildError{Reason: ReasonManifestFailed, Err: err}
	}

	pack := &Pack{Manifest: m, ManifestJSON: canon, ManifestHash: hash}
	files = append(files, File{Name: ManifestFile, Data: canon})
	if b.signer != nil {
		sig, err := b.signer.Sign(canon)
		if err != nil {
			return nil, &BuildError{Reason: ReasonManifestFailed, Err: err}
		}
		pack.Signature = sig
		files = append(files, File{Name: SignatureFile, Data: sig})
	}

	archive, err := Archive(files, d.GeneratedAt)
	if err != nil {
		return nil, &BuildError{Reason: ReasonRenderFailed, Err: err}
	}
	pack.Archive = archive
	return pack, nil
}

// RenderFiles produces events.json and the four PDFs for d
func RenderFiles(d *Document) ([]File, error) {
	events := d.Events
	if events == nil {
		events = []*models.AuditEvent{}
	}
	eventsJSON, err := Canonicalize(events)
	if err != nil {
		return nil, fmt.Errorf("failed to encode events: %w", err)
	}

	files := []File{{Name: EventsFile, Data: eventsJSON}}
	for _, r := range renderers {
		data, err := r.render(d)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", r.name, err)
		}
		files = append(files, File{Name: r.name, Data: data})
	}
	return files, nil
}

// Archive zips files in name order with a fixed modification time
func Archive(files []File, modified time.Time) ([]byte, error) {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range sorted {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: modified.UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadArchive validates a pack archive and returns its files by name
func ReadArchive(data []byte) (map[string][]byte, error) {
	r := bytes.NewReader(data)
	if err := validation.ValidatePack(r, int64(len(data)), 0); err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(r, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid zip archive: %w", err)
	}

	out := make(map[string][]byte, len(zr.File))
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", zf.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", zf.Name, err)
		}
		out[zf.Name] = b
	}
	return out, nil
}
