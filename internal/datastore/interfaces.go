// Package datastore is the record store behind the curation engine.
//
// One gorm-backed implementation serves SQLite (one file per dataset) and
// MySQL. Predicates and orderings are described with plain values so the
// curation package never builds SQL itself.
package datastore

import (
	"context"
	"fmt"
	"strings"
)

// Store is the narrow read/write contract used by the curation engine.
type Store interface {
	// Find returns one page of records matching q.
	Find(ctx context.Context, q Query) ([]Record, error)
	// FindAll returns every record matching p, unordered.
	FindAll(ctx context.Context, p Predicate) ([]Record, error)
	// Get returns one record or an error matching ErrRecordNotFound.
	Get(ctx context.Context, processID string) (*Record, error)
	// UpdateFields writes column values to one record.
	UpdateFields(ctx context.Context, processID string, fields map[string]any) error
	// CountMatching counts records matching p.
	CountMatching(ctx context.Context, p Predicate) (int64, error)

	// DistinctCount counts distinct non-null values of column among records matching p.
	DistinctCount(ctx context.Context, column string, p Predicate) (int64, error)
	// Columns lists the columns of the records table.
	Columns(ctx context.Context) ([]string, error)
	// SaveRecords inserts records, replacing rows with the same processid.
	SaveRecords(ctx context.Context, records []Record) error
	// SaveAuditEntries appends audit rows.
	SaveAuditEntries(ctx context.Context, entries []AuditLog) error
	// AuditTrail returns the audit rows of one record, newest first.
	AuditTrail(ctx context.Context, processID string) ([]AuditLog, error)

	// Transaction runs fn as one atomic write unit. The Store passed to fn
	// is bound to the transaction and must not escape it.
	Transaction(ctx context.Context, fn func(tx Store) error) error
	// Snapshot runs fn against a consistent read view of the store.
	Snapshot(ctx context.Context, fn func(view Store) error) error

	Close() error
}

// ConditionOp selects how a condition compares a column.
type ConditionOp int

const (
	// OpContains is a substring match.
	OpContains ConditionOp = iota
	// OpEquals is an exact match against Values[0].
	OpEquals
	// OpNotInOrNull keeps rows whose column is NULL or not one of Values.
	OpNotInOrNull
)

func (op ConditionOp) String() string {
	switch op {
	case OpContains:
		return "contains"
	case OpEquals:
		return "eq"
	case OpNotInOrNull:
		return "notin"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Condition is one column test.
type Condition struct {
	Column string
	Op     ConditionOp
	Values []string
}

// Contains builds a substring condition.
func Contains(column, text string) Condition {
	return Condition{Column: column, Op: OpContains, Values: []string{text}}
}

// Equals builds an exact match condition.
func Equals(column, value string) Condition {
	return Condition{Column: column, Op: OpEquals, Values: []string{value}}
}

// NotInOrNull builds a condition keeping NULL values and values outside values.
func NotInOrNull(column string, values ...string) Condition {
	return Condition{Column: column, Op: OpNotInOrNull, Values: values}
}

// Predicate is a conjunction of conditions. The zero value matches every record.
type Predicate struct {
	Conditions []Condition
}

// Where builds a predicate from conditions.
func Where(conds ...Condition) Predicate {
	return Predicate{Conditions: conds}
}

// And returns a copy of p with c appended.
func (p Predicate) And(c Condition) Predicate {
	conds := make([]Condition, 0, len(p.Conditions)+1)
	conds = append(conds, p.Conditions...)
	return Predicate{Conditions: append(conds, c)}
}

// Signature is a stable text form of p, usable as a cache key.
func (p Predicate) Signature() string {
	var sb strings.Builder
	for i, c := range p.Conditions {
		if i > 0 {
			sb.WriteByte('&')
		}
		fmt.Fprintf(&sb, "%s:%s:%q", c.Column, c.Op, c.Values)
	}
	return sb.String()
}

// OrderKind selects how an order term compares values.
type OrderKind int

const (
	// OrderText compares raw values.
	OrderText OrderKind = iota
	// OrderTextNoCase compares values ignoring case.
	OrderTextNoCase
	// OrderFlagYesFirst puts "Yes" values before everything else.
	OrderFlagYesFirst
	// OrderNumeric compares values as numbers; empty and non-numeric
	// values always sort last.
	OrderNumeric
)

// OrderTerm is one ORDER BY element.
type OrderTerm struct {
	Column string
	Kind   OrderKind
	Desc   bool
}

// Query is a paginated read.
type Query struct {
	Where  Predicate
	Order  []OrderTerm
	Offset int
	Limit  int // 0 means no limit
}
