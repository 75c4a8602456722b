package datastore

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Column names of the records table that the curation core reads or writes.
const (
	ColumnProcessID             = "processid"
	ColumnSampleID              = "sampleid"
	ColumnBinURI                = "bin_uri"
	ColumnIdentification        = "identification"
	ColumnSpecies               = "species"
	ColumnStatus                = "status"
	ColumnCorrectionReason      = "additionalStatus"
	ColumnCuratorNotes          = "curator_notes"
	ColumnCountryRepresentative = "country_representative"
	ColumnRankScore             = "sumscore"
	ColumnExtra                 = "extra"
)

// Record is one specimen entry. Columns without a named field are kept
// in Extra, keyed by their source field name.
type Record struct {
	ProcessID             string            `gorm:"column:processid;primaryKey;size:64"`
	SampleID              string            `gorm:"column:sampleid"`
	URL                   string            `gorm:"column:url"`
	BinURI                string            `gorm:"column:bin_uri;index"`
	Identification        string            `gorm:"column:identification;index;size:255"`
	Species               string            `gorm:"column:species;index;size:255"`
	SpeciesReference      string            `gorm:"column:species_reference"`
	Subspecies            string            `gorm:"column:subspecies"`
	Class                 string            `gorm:"column:class"`
	Order                 string            `gorm:"column:order"`
	Family                string            `gorm:"column:family"`
	Genus                 string            `gorm:"column:genus"`
	CountryOcean          string            `gorm:"column:country_ocean"`
	Ranking               string            `gorm:"column:ranking"`
	RankScore             string            `gorm:"column:sumscore"`
	CountryRepresentative string            `gorm:"column:country_representative"`
	Status                string            `gorm:"column:status"`
	CorrectionReason      string            `gorm:"column:additionalStatus"`
	CuratorNotes          string            `gorm:"column:curator_notes;type:text"`
	Extra                 datatypes.JSONMap `gorm:"column:extra"`
}

// TableName keeps the table name used by existing dataset databases.
func (Record) TableName() string { return "records" }

// accessor reads and writes one named column of a Record.
type accessor struct {
	get func(*Record) string
	set func(*Record, string)
}

var namedColumns = map[string]accessor{
	ColumnProcessID:             {func(r *Record) string { return r.ProcessID }, func(r *Record, v string) { r.ProcessID = v }},
	ColumnSampleID:              {func(r *Record) string { return r.SampleID }, func(r *Record, v string) { r.SampleID = v }},
	"url":                       {func(r *Record) string { return r.URL }, func(r *Record, v string) { r.URL = v }},
	ColumnBinURI:                {func(r *Record) string { return r.BinURI }, func(r *Record, v string) { r.BinURI = v }},
	ColumnIdentification:        {func(r *Record) string { return r.Identification }, func(r *Record, v string) { r.Identification = v }},
	ColumnSpecies:               {func(r *Record) string { return r.Species }, func(r *Record, v string) { r.Species = v }},
	"species_reference":         {func(r *Record) string { return r.SpeciesReference }, func(r *Record, v string) { r.SpeciesReference = v }},
	"subspecies":                {func(r *Record) string { return r.Subspecies }, func(r *Record, v string) { r.Subspecies = v }},
	"class":                     {func(r *Record) string { return r.Class }, func(r *Record, v string) { r.Class = v }},
	"order":                     {func(r *Record) string { return r.Order }, func(r *Record, v string) { r.Order = v }},
	"family":                    {func(r *Record) string { return r.Family }, func(r *Record, v string) { r.Family = v }},
	"genus":                     {func(r *Record) string { return r.Genus }, func(r *Record, v string) { r.Genus = v }},
	"country_ocean":             {func(r *Record) string { return r.CountryOcean }, func(r *Record, v string) { r.CountryOcean = v }},
	"ranking":                   {func(r *Record) string { return r.Ranking }, func(r *Record, v string) { r.Ranking = v }},
	ColumnRankScore:             {func(r *Record) string { return r.RankScore }, func(r *Record, v string) { r.RankScore = v }},
	ColumnCountryRepresentative: {func(r *Record) string { return r.CountryRepresentative }, func(r *Record, v string) { r.CountryRepresentative = v }},
	ColumnStatus:                {func(r *Record) string { return r.Status }, func(r *Record, v string) { r.Status = v }},
	ColumnCorrectionReason:      {func(r *Record) string { return r.CorrectionReason }, func(r *Record, v string) { r.CorrectionReason = v }},
	ColumnCuratorNotes:          {func(r *Record) string { return r.CuratorNotes }, func(r *Record, v string) { r.CuratorNotes = v }},
}

// NamedColumns returns the columns stored as dedicated fields, sorted.
func NamedColumns() []string {
	return slices.Sorted(maps.Keys(namedColumns))
}

// IsNamedColumn reports whether column has a dedicated field.
func IsNamedColumn(column string) bool {
	_, ok := namedColumns[column]
	return ok
}

// RecordFromFields builds a Record from source field values. Unknown
// fields land in Extra; empty values are dropped from Extra.
func RecordFromFields(fields map[string]string) Record {
	var r Record
	for name, value := range fields {
		value = strings.TrimSpace(value)
		if a, ok := namedColumns[name]; ok {
			a.set(&r, value)
			continue
		}
		if name == ColumnExtra || value == "" {
			continue
		}
		if r.Extra == nil {
			r.Extra = datatypes.JSONMap{}
		}
		r.Extra[name] = value
	}
	return r
}

// Value returns the value of column, looking in Extra for columns
// without a dedicated field.
func (r *Record) Value(column string) (string, bool) {
	if a, ok := namedColumns[column]; ok {
		return a.get(r), true
	}
	v, ok := r.Extra[column]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// ExtraKeys returns the keys held in Extra, sorted.
func (r *Record) ExtraKeys() []string {
	return slices.Sorted(maps.Keys(r.Extra))
}

// AuditLog is the persisted form of one audit entry.
type AuditLog struct {
	ID        string         `gorm:"primaryKey;size:36"`
	ProcessID string         `gorm:"column:processid;index;size:64;not null"`
	Action    string         `gorm:"size:64;not null"`
	Changes   datatypes.JSON `gorm:"column:changes"`
	CreatedAt time.Time      `gorm:"index"`
}

// TableName returns the audit table name.
func (AuditLog) TableName() string { return "audit_entries" }
