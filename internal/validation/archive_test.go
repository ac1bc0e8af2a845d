package validation

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

type zipEntry struct {
	name    string
	content string
}

// makeZip creates an in-memory zip archive with entries in the given order.
func makeZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("zip Create: %v", err)
		}
		if _, err := w.Write([]byte(e.content)); err != nil {
			t.Fatalf("zip Write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	return buf.Bytes()
}

func TestValidatePack(t *testing.T) {
	manifest := zipEntry{"manifest.json", `{"version":"1.0.0"}`}

	tests := []struct {
		name    string
		data    []byte
		maxSize int64
		wantErr bool
	}{
		{
			name:    "valid pack",
			data:    makeZip(t, zipEntry{"events.json", "[]"}, manifest, zipEntry{"controls.pdf", "%PDF"}),
			wantErr: false,
		},
		{
			name:    "manifest only",
			data:    makeZip(t, manifest),
			wantErr: false,
		},
		{
			name:    "not a zip",
			data:    []byte("this is not zip data"),
			wantErr: true,
		},
		{
			name:    "empty bytes",
			data:    []byte{},
			wantErr: true,
		},
		{
			name:    "empty archive",
			data:    makeZip(t),
			wantErr: true,
		},
		{
			name:    "missing manifest",
			data:    makeZip(t, zipEntry{"events.json", "[]"}),
			wantErr: true,
		},
		{
			name:    "path traversal with dotdot",
			data:    makeZip(t, manifest, zipEntry{"../etc/passwd", "root:x:0:0"}),
			wantErr: true,
		},
		{
			name:    "nested entry",
			data:    makeZip(t, manifest, zipEntry{"pdfs/controls.pdf", "%PDF"}),
			wantErr: true,
		},
		{
			name:    "directory entry",
			data:    makeZip(t, manifest, zipEntry{"pdfs/", ""}),
			wantErr: true,
		},
		{
			name:    "duplicate entry",
			data:    makeZip(t, manifest, manifest),
			wantErr: true,
		},
		{
			name:    "exceeds custom max size",
			data:    makeZip(t, manifest, zipEntry{"events.json", strings.Repeat("x", 64)}),
			maxSize: 32,
			wantErr: true,
		},
		{
			name:    "uses default max size when zero",
			data:    makeZip(t, manifest),
			maxSize: 0,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePack(bytes.NewReader(tt.data), int64(len(tt.data)), tt.maxSize)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePack() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"plain file", "ledger_export.pdf", false},
		{"hidden file", ".keep", false},
		{"empty", "", true},
		{"path traversal", "../outside", true},
		{"embedded traversal", "a/../../b", true},
		{"absolute unix path", "/etc/passwd", true},
		{"absolute path with drive letter", `C:\windows\system32\drivers\etc\hosts`, true},
		{"backslash separator", `pdfs\controls.pdf`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}
