package ledger

import "fmt"

// TargetType is the closed set of subjects an event can be about
type TargetType string

const (
	TargetJob          TargetType = "job"
	TargetMitigation   TargetType = "mitigation"
	TargetHazard       TargetType = "hazard"
	TargetControl      TargetType = "control"
	TargetDocument     TargetType = "document"
	TargetReport       TargetType = "report"
	TargetSubscription TargetType = "subscription"
	TargetLegal        TargetType = "legal"
	TargetSystem       TargetType = "system"
	TargetSite         TargetType = "site"
	TargetUser         TargetType = "user"
	TargetSignoff      TargetType = "signoff"
	TargetOrganization TargetType = "organization"
	TargetProofPack    TargetType = "proof_pack"
	TargetEvidence     TargetType = "evidence"
	TargetExport       TargetType = "export"
)

var targetTypes = map[TargetType]struct{}{
	TargetJob: {}, TargetMitigation: {}, TargetHazard: {}, TargetControl: {},
	TargetDocument: {}, TargetReport: {}, TargetSubscription: {}, TargetLegal: {},
	TargetSystem: {}, TargetSite: {}, TargetUser: {}, TargetSignoff: {},
	TargetOrganization: {}, TargetProofPack: {}, TargetEvidence: {}, TargetExport: {},
}

// ParseTargetType validates s against the closed target set
func ParseTargetType(s string) (TargetType, error) {
	t := TargetType(s)
	if _, ok := targetTypes[t]; !ok {
		return "", fmt.Errorf("unknown target type %q", s)
	}
	return t, nil
}

// Valid reports whether t is a member of the closed set
func (t TargetType) Valid() bool {
	_, ok := targetTypes[t]
	return ok
}
