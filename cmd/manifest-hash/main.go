// Package main prints the canonical SHA-256 of a proof-pack manifest so an
// auditor can compare it with the hash recorded in the ledger without running
// the server. It accepts either a downloaded proof-pack ZIP or a bare
// manifest.json.
//
//	manifest-hash [-expect HASH] [-key signer.asc] <proof-pack.zip|manifest.json>
//
// With -expect the exit status is 1 on a mismatch. With -key the detached
// manifest.json.asc inside the archive is checked against the public key.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/riskmate/riskmate/internal/export"
	"github.com/riskmate/riskmate/internal/validation"
	"github.com/riskmate/riskmate/pkg/checksum"
)

var errMismatch = errors.New("verification failed")

type options struct {
	expect string
	keys   []string
}

func main() {
	expect := flag.String("expect", "", "expected manifest hash (hex)")
	keyFile := flag.String("key", "", "ASCII-armored public key of the manifest signer")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-expect HASH] [-key signer.asc] <proof-pack.zip|manifest.json>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	opts := options{expect: *expect}
	if *keyFile != "" {
		key, err := os.ReadFile(*keyFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		if err := validation.ParseGPGPublicKey(string(key)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		opts.keys = []string{string(key)}
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := inspect(os.Stdout, data, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errMismatch) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func isZip(data []byte) bool {
	return bytes.HasPrefix(data, []byte("PK\x03\x04"))
}

// inspect writes the manifest hash and summary to w. Any failed check is
// reported and returned wrapped in errMismatch.
func inspect(w io.Writer, data []byte, opts options) error {
	manifest := data
	var files map[string][]byte
	if isZip(data) {
		var err error
		files, err = export.ReadArchive(data)
		if err != nil {
			return err
		}
		var ok bool
		if manifest, ok = files[export.ManifestFile]; !ok {
			return fmt.Errorf("archive has no %s", export.ManifestFile)
		}
	}

	hash, err := export.HashJSON(manifest)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "manifest_hash  %s\n", hash)

	var failures []string

	m, err := export.ParseManifest(manifest)
	if err != nil {
		failures = append(failures, err.Error())
	} else {
		fmt.Fprintf(w, "export_id      %s\n", m.ExportID)
		fmt.Fprintf(w, "organization   %s\n", m.OrganizationID)
		fmt.Fprintf(w, "version        %s\n", m.Version)
		fmt.Fprintf(w, "generated_at   %s\n", m.GeneratedAt)
		fmt.Fprintf(w, "events         %d\n", m.EventCount)
		fmt.Fprintf(w, "filters        %d active\n", m.ActiveFilterCount)
		if cmp, err := validation.CompareSemver(m.Version, export.ManifestVersion); err == nil && cmp > 0 {
			fmt.Fprintf(w, "note           manifest is newer than this tool (%s)\n", export.ManifestVersion)
		}
		if files != nil {
			failures = append(failures, checkFiles(w, m, files)...)
		}
	}

	if opts.expect != "" {
		if checksum.Equal(hash, opts.expect) {
			fmt.Fprintln(w, "expected hash  match")
		} else {
			failures = append(failures, fmt.Sprintf("manifest hash %s does not match expected %s", hash, opts.expect))
		}
	}

	if len(opts.keys) > 0 {
		sig, ok := files[export.SignatureFile]
		if !ok {
			failures = append(failures, "no "+export.SignatureFile+" to verify")
		} else if res := validation.VerifyManifestSignature(manifest, sig, opts.keys); res.Verified {
			fmt.Fprintf(w, "signature      valid (key %s)\n", res.KeyID)
		} else {
			failures = append(failures, res.Error.Error())
		}
	}

	if len(failures) > 0 {
		for _, f := range failures {
			fmt.Fprintf(w, "FAIL           %s\n", f)
		}
		return fmt.Errorf("%w: %d problem(s)", errMismatch, len(failures))
	}
	return nil
}

// checkFiles compares every listed file with the archive content
func checkFiles(w io.Writer, m *export.Manifest, files map[string][]byte) []string {
	var failures []string
	listed := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		listed[f.Name] = true
		data, ok := files[f.Name]
		switch {
		case !ok:
			failures = append(failures, f.Name+" is listed but missing")
		case int64(len(data)) != f.Size || !checksum.Equal(checksum.Sum(data), f.SHA256):
			failures = append(failures, f.Name+" does not match its manifest entry")
		default:
			fmt.Fprintf(w, "file           %s ok\n", f.Name)
		}
	}

	extra := make([]string, 0)
	for name := range files {
		if name == export.ManifestFile || name == export.SignatureFile || listed[name] {
			continue
		}
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		failures = append(failures, name+" is not listed in the manifest")
	}
	return failures
}
