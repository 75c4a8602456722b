package curation

import (
	"slices"
	"strings"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
)

// Status is the curator verdict on a record. Values are the strings stored
// in the status column.
type Status string

const (
	StatusUnset      Status = ""
	StatusValid      Status = "valid record"
	StatusInvalid    Status = "invalid record"
	StatusExcluded   Status = "exclude species"
	StatusReincluded Status = "reinclude species"
)

var statusAliases = map[string]Status{
	"":                  StatusUnset,
	"unset":             StatusUnset,
	"uncurated":         StatusUnset,
	"valid":             StatusValid,
	"valid record":      StatusValid,
	"invalid":           StatusInvalid,
	"invalid record":    StatusInvalid,
	"excluded":          StatusExcluded,
	"exclude":           StatusExcluded,
	"exclude species":   StatusExcluded,
	"reincluded":        StatusReincluded,
	"reinclude":         StatusReincluded,
	"reinclude species": StatusReincluded,
}

// ParseStatus accepts a stored status string or its short name.
func ParseStatus(s string) (Status, error) {
	if st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st, nil
	}
	return StatusUnset, errors.Newf("unknown status %q", s).
		Component("curation").
		Category(errors.CategoryValidation).
		Context("field", "status").
		Build()
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUnset, StatusValid, StatusInvalid, StatusExcluded, StatusReincluded:
		return true
	}
	return false
}

// Cascades reports whether setting s propagates over the identification group.
func (s Status) Cascades() bool {
	return s == StatusExcluded || s == StatusReincluded
}

// Short returns the short name used by the API.
func (s Status) Short() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusInvalid:
		return "invalid"
	case StatusExcluded:
		return "excluded"
	case StatusReincluded:
		return "reincluded"
	default:
		return "unset"
	}
}

// CanonicalStatus maps a status written by another tool ("Valid Record",
// " excluded ") to the stored form. Unknown values are returned unchanged.
// Stored values are compared exactly, both here and in store predicates, so
// everything that writes the status column goes through this function.
func CanonicalStatus(raw string) string {
	if st, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return string(st)
	}
	return raw
}

// hiddenStatuses are left out of grouping analysis and, unless asked
// otherwise, out of browse results.
var hiddenStatuses = []string{string(StatusInvalid), string(StatusExcluded)}

// isHidden matches a stored value the way the NotInOrNull(hiddenStatuses)
// predicate does.
func isHidden(raw string) bool {
	return slices.Contains(hiddenStatuses, raw)
}

// Reason records why a species name was corrected.
type Reason string

const (
	ReasonUnset         Reason = ""
	ReasonMisidentified Reason = "misidentified"
	ReasonSynonym       Reason = "synonym"
	ReasonTypo          Reason = "typo"
	ReasonOther         Reason = "other"
)

// ParseReason accepts a correction reason, case-insensitively.
func ParseReason(s string) (Reason, error) {
	r := Reason(strings.ToLower(strings.TrimSpace(s)))
	if r.Valid() {
		return r, nil
	}
	return ReasonUnset, errors.Newf("unknown correction reason %q", s).
		Component("curation").
		Category(errors.CategoryValidation).
		Context("field", "correction_reason").
		Build()
}

// Valid reports whether r is one of the known reasons.
func (r Reason) Valid() bool {
	switch r {
	case ReasonUnset, ReasonMisidentified, ReasonSynonym, ReasonTypo, ReasonOther:
		return true
	}
	return false
}

// RenamesGlobally reports whether a species change with this reason applies
// to every record holding the old name.
func (r Reason) RenamesGlobally() bool {
	return r == ReasonTypo || r == ReasonSynonym
}
