package export

import (
	"github.com/riskmate/riskmate/pkg/checksum"
)

// VerifyInput is everything a three-way manifest check compares
type VerifyInput struct {
	// Manifest is the body presented by the caller
	Manifest []byte
	// ExportID is the export the caller claims the manifest belongs to
	ExportID string
	// StoredHash is export_jobs.manifest_hash
	StoredHash string
	// LedgerHash is metadata.manifest_hash of the export.completed event
	LedgerHash string
}

// VerifyResult reports each check separately so callers can tell which
// record disagrees
type VerifyResult struct {
	ManifestValid bool     `json:"manifest_valid"`
	ExportMatch   bool     `json:"export_match"`
	LedgerMatch   bool     `json:"ledger_match"`
	ComputedHash  string   `json:"computed_hash,omitempty"`
	Problems      []string `json:"problems,omitempty"`
}

// Verified is true only when all three checks pass
func (r VerifyResult) Verified() bool {
	return r.ManifestValid && r.ExportMatch && r.LedgerMatch
}

// Verify recomputes the manifest hash and compares it with the stored export
// record and the ledger. A mismatch is a false flag, never an error.
func Verify(in VerifyInput) VerifyResult {
	var res VerifyResult

	hash, err := HashJSON(in.Manifest)
	if err != nil {
		res.Problems = append(res.Problems, err.Error())
		return res
	}
	res.ComputedHash = hash

	m, err := ParseManifest(in.Manifest)
	switch {
	case err != nil:
		res.Problems = append(res.Problems, err.Error())
	case m.ExportID != in.ExportID:
		res.Problems = append(res.Problems, "manifest export_id does not match the requested export")
	default:
		res.ManifestValid = true
	}

	res.ExportMatch = checksum.Equal(hash, in.StoredHash)
	if !res.ExportMatch {
		res.Problems = append(res.Problems, "manifest hash does not match the export record")
	}
	res.LedgerMatch = checksum.Equal(hash, in.LedgerHash)
	if !res.LedgerMatch {
		res.Problems = append(res.Problems, "manifest hash does not match the ledger")
	}
	return res
}
