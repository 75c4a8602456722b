package curation

import (
	"slices"
	"strings"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
)

// MaxSearches is the number of search conditions honoured per request.
const MaxSearches = 2

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// SearchSpec is a substring search on one column.
type SearchSpec struct {
	Column string `json:"column"`
	Term   string `json:"term"`
}

// SortSpec orders results by one column.
type SortSpec struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

// ColumnPolicy is the allow-list of columns usable for search and sort.
// Anything outside it is dropped, never reported.
type ColumnPolicy struct {
	columns []string
	allowed map[string]struct{}
}

// NewColumnPolicy builds a policy from columns, ignoring names that are not
// plain identifiers and duplicates.
func NewColumnPolicy(columns []string) *ColumnPolicy {
	p := &ColumnPolicy{allowed: make(map[string]struct{}, len(columns))}
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if !datastore.ValidColumnName(c) {
			continue
		}
		if _, dup := p.allowed[c]; dup {
			continue
		}
		p.allowed[c] = struct{}{}
		p.columns = append(p.columns, c)
	}
	return p
}

// Restrict returns a policy keeping only columns that also appear in available.
func (p *ColumnPolicy) Restrict(available []string) *ColumnPolicy {
	kept := make([]string, 0, len(p.columns))
	for _, c := range p.columns {
		if slices.Contains(available, c) {
			kept = append(kept, c)
		}
	}
	return NewColumnPolicy(kept)
}

// Allows reports whether column is on the allow-list.
func (p *ColumnPolicy) Allows(column string) bool {
	_, ok := p.allowed[column]
	return ok
}

// Columns returns the allow-list in configured order.
func (p *ColumnPolicy) Columns() []string {
	return slices.Clone(p.columns)
}

// Searches keeps at most MaxSearches usable search specs.
func (p *ColumnPolicy) Searches(in []SearchSpec) []SearchSpec {
	out := make([]SearchSpec, 0, MaxSearches)
	for _, s := range in {
		if len(out) == MaxSearches {
			break
		}
		term := strings.TrimSpace(s.Term)
		if term == "" || !p.Allows(s.Column) {
			continue
		}
		out = append(out, SearchSpec{Column: s.Column, Term: term})
	}
	return out
}

// Sorts keeps sort specs on allowed columns and normalizes their direction.
func (p *ColumnPolicy) Sorts(in []SortSpec) []SortSpec {
	out := make([]SortSpec, 0, len(in))
	for _, s := range in {
		if !p.Allows(s.Column) {
			continue
		}
		dir := SortAsc
		if strings.EqualFold(strings.TrimSpace(s.Direction), SortDesc) {
			dir = SortDesc
		}
		out = append(out, SortSpec{Column: s.Column, Direction: dir})
	}
	return out
}

// BuildPredicate turns sanitized searches into a store predicate. Unless
// includeInvalid is set, invalid and excluded records are left out;
// records without a status are kept.
func BuildPredicate(searches []SearchSpec, includeInvalid bool) datastore.Predicate {
	conds := make([]datastore.Condition, 0, len(searches)+1)
	for _, s := range searches {
		conds = append(conds, datastore.Contains(s.Column, s.Term))
	}
	if !includeInvalid {
		conds = append(conds, datastore.NotInOrNull(datastore.ColumnStatus, hiddenStatuses...))
	}
	return datastore.Where(conds...)
}

// DefaultOrder is used when the caller gives no usable sort: identification
// ignoring case, then country representatives, then rank score highest first.
var DefaultOrder = []datastore.OrderTerm{
	{Column: datastore.ColumnIdentification, Kind: datastore.OrderTextNoCase},
	{Column: datastore.ColumnCountryRepresentative, Kind: datastore.OrderFlagYesFirst},
	{Column: datastore.ColumnRankScore, Kind: datastore.OrderNumeric, Desc: true},
}

// BuildOrder turns sanitized sorts into store order terms. User sorts
// replace the default order entirely.
func BuildOrder(sorts []SortSpec) []datastore.OrderTerm {
	if len(sorts) == 0 {
		return slices.Clone(DefaultOrder)
	}
	order := make([]datastore.OrderTerm, 0, len(sorts))
	for _, s := range sorts {
		order = append(order, datastore.OrderTerm{
			Column: s.Column,
			Kind:   datastore.OrderText,
			Desc:   s.Direction == SortDesc,
		})
	}
	return order
}
