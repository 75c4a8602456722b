package curation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/errors"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/logger"
	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/observability/metrics"
)

// Branch names the rule that resolved an edit's target set.
type Branch string

const (
	BranchExclude   Branch = "exclude"   // status cascade over the identification group
	BranchReinclude Branch = "reinclude" // status cascade over the identification group
	BranchRename    Branch = "rename"    // typo or synonym rename of every record with the old species
	BranchSingle    Branch = "single"    // the edited record only
)

// Edit outcomes, used as metric labels.
const (
	outcomeApplied   = "applied"
	outcomeUnchanged = "unchanged"
	outcomePartial   = "partial"
	outcomeNotFound  = "not_found"
	outcomeInvalid   = "invalid"
	outcomeConflict  = "conflict"
	outcomeError     = "error"
)

var errScopeMoved = errors.NewStd("record moved to another scope while waiting for its lock")

// EditRequest is a curator's edit of one record. Nil fields are left as they are.
type EditRequest struct {
	RecordID string
	Status   *Status
	Reason   *Reason
	Species  *string
	Notes    *string
}

// EditResult describes an applied edit.
type EditResult struct {
	RecordID string
	Branch   Branch
	Message  string
	// Affected counts records that actually changed.
	Affected int
	// StatusRejected is set when a cascade reached a valid primary record;
	// its status was kept while its other fields were applied.
	StatusRejected bool
	Entries        []AuditEntry
	// AuditErr reports audit delivery failures. The edit itself is committed.
	AuditErr error
}

// recordChange is the pending diff of one record.
type recordChange struct {
	processID string
	changes   []FieldChange
}

func (c *recordChange) fields() map[string]any {
	fields := make(map[string]any, len(c.changes))
	for _, ch := range c.changes {
		fields[ch.Field] = ch.New
	}
	return fields
}

type editPlan struct {
	branch         Branch
	statusRejected bool
	changes        []recordChange
}

// fieldTargets holds the new values for one record; nil leaves a field alone.
type fieldTargets struct {
	status  *string
	reason  *string
	notes   *string
	species *string
}

// NormalizeSpecies trims a species name and brings it to NFC form.
func NormalizeSpecies(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// SubmitEdit applies req and every cascade it triggers as one atomic write,
// then emits one audit entry per changed record.
func (e *Engine) SubmitEdit(ctx context.Context, req EditRequest) (*EditResult, error) {
	req.RecordID = strings.TrimSpace(req.RecordID)
	if err := validateEdit(&req); err != nil {
		e.recordEdit(BranchSingle, outcomeInvalid, 0)
		return nil, err
	}

	var newSpecies string
	if req.Species != nil {
		newSpecies = NormalizeSpecies(*req.Species)
	}

	log := e.log.WithContext(ctx).With(logger.String("process_id", req.RecordID))
	for attempt := 1; attempt <= maxScopeAttempts; attempt++ {
		res, err := e.tryEdit(ctx, &req, newSpecies)
		if !errors.Is(err, errScopeMoved) {
			return res, err
		}
		log.Debug("record changed scope while waiting for lock, retrying", logger.Int("attempt", attempt))
	}

	if e.metrics != nil {
		e.metrics.RecordLockConflict()
	}
	e.recordEdit(BranchSingle, outcomeConflict, 0)
	log.Warn("edit rejected, record kept changing scope", logger.Int("attempts", maxScopeAttempts))
	return nil, errors.New(errScopeMoved).
		Component("curation").
		Category(errors.CategoryConflict).
		Context("process_id", req.RecordID).
		Context("attempts", maxScopeAttempts).
		Build()
}

func validateEdit(req *EditRequest) error {
	if req.RecordID == "" {
		return errors.Newf("record id is required").
			Component("curation").
			Category(errors.CategoryValidation).
			Context("field", "record_id").
			Build()
	}
	if req.Status != nil && !req.Status.Valid() {
		return errors.Newf("unknown status %q", string(*req.Status)).
			Component("curation").
			Category(errors.CategoryValidation).
			Context("field", "status").
			Build()
	}
	if req.Reason != nil && !req.Reason.Valid() {
		return errors.Newf("unknown correction reason %q", string(*req.Reason)).
			Component("curation").
			Category(errors.CategoryValidation).
			Context("field", "correction_reason").
			Build()
	}
	return nil
}

// tryEdit resolves the lock scope from a first read, locks it and applies
// the edit. It returns errScopeMoved when the record changed scope before
// the lock was held.
func (e *Engine) tryEdit(ctx context.Context, req *EditRequest, newSpecies string) (*EditResult, error) {
	pre, err := e.store.Get(ctx, req.RecordID)
	if err != nil {
		e.recordEdit(BranchSingle, failureOutcome(err), 0)
		return nil, err
	}
	scope := snapshotFor(pre, newSpecies)

	waitStart := time.Now()
	unlock := e.locks.Lock(scope.keys()...)
	defer unlock()
	e.recorder.RecordDuration(metrics.OpLockWait, time.Since(waitStart).Seconds())

	plan, err := e.commit(ctx, req, newSpecies, &scope)
	if err != nil {
		if !errors.Is(err, errScopeMoved) {
			e.recordEdit(planBranch(plan, req), failureOutcome(err), 0)
		}
		return nil, err
	}

	res := &EditResult{
		RecordID:       req.RecordID,
		Branch:         plan.branch,
		Affected:       len(plan.changes),
		StatusRejected: plan.statusRejected,
	}

	if res.Affected > 0 {
		now := e.now()
		res.Entries = make([]AuditEntry, 0, res.Affected)
		for i := range plan.changes {
			res.Entries = append(res.Entries, newAuditEntry(plan.changes[i].processID, plan.changes[i].changes, now))
		}
		// the records are committed; a cancelled request must not lose their log
		res.AuditErr = e.audit.Write(context.WithoutCancel(ctx), res.Entries)
	}

	outcome := outcomeApplied
	switch {
	case res.StatusRejected:
		outcome = outcomePartial
		res.Message = fmt.Sprintf("record %s is a valid record, its status was left unchanged; %d record(s) updated", req.RecordID, res.Affected)
	case res.Affected == 0:
		outcome = outcomeUnchanged
		res.Message = "no changes"
	default:
		res.Message = fmt.Sprintf("%d record(s) updated", res.Affected)
	}
	e.recordEdit(res.Branch, outcome, res.Affected)

	e.log.WithContext(ctx).Info("edit applied",
		logger.String("process_id", req.RecordID),
		logger.String("branch", string(res.Branch)),
		logger.String("outcome", outcome),
		logger.Int("affected", res.Affected),
		logger.Bool("audit_failed", res.AuditErr != nil))

	return res, nil
}

// commit plans and writes the edit in one transaction. Edits of disjoint
// scopes run concurrently; viewMu is taken only around the commit itself so
// that readers never see new records next to stats cached before them.
func (e *Engine) commit(ctx context.Context, req *EditRequest, newSpecies string, scope *recordSnapshot) (*editPlan, error) {
	var plan *editPlan
	locked := false
	defer func() {
		if locked {
			e.viewMu.Unlock()
		}
	}()

	err := e.store.Transaction(ctx, func(tx datastore.Store) error {
		primary, err := tx.Get(ctx, req.RecordID)
		if err != nil {
			return err
		}
		if scope.moved(primary, newSpecies) {
			return errors.New(errScopeMoved).
				Component("curation").
				Category(errors.CategoryConflict).
				Build()
		}

		plan, err = e.plan(ctx, tx, primary, req, newSpecies)
		if err != nil {
			return err
		}
		for i := range plan.changes {
			if err := tx.UpdateFields(ctx, plan.changes[i].processID, plan.changes[i].fields()); err != nil {
				return err
			}
		}
		if len(plan.changes) > 0 {
			// held until the transaction has committed and the cache is dropped
			e.viewMu.Lock()
			locked = true
		}
		return nil
	})
	if err != nil {
		return plan, err
	}
	if locked {
		e.invalidate()
	}
	return plan, nil
}

// plan resolves the target set of an edit and the diff of every target.
// Only records with at least one differing field are kept.
func (e *Engine) plan(ctx context.Context, tx datastore.Store, primary *datastore.Record, req *EditRequest, newSpecies string) (*editPlan, error) {
	p := &editPlan{branch: BranchSingle}

	target := fieldTargets{notes: req.Notes}
	if req.Status != nil {
		target.status = ptr(string(*req.Status))
	}
	if req.Reason != nil {
		target.reason = ptr(string(*req.Reason))
	}
	renames := newSpecies != "" && newSpecies != NormalizeSpecies(primary.Species)
	if renames {
		target.species = &newSpecies
	}

	reason := Reason(strings.ToLower(strings.TrimSpace(primary.CorrectionReason)))
	if req.Reason != nil {
		reason = *req.Reason
	}

	var members []datastore.Record
	var member fieldTargets

	switch {
	case req.Status != nil && req.Status.Cascades():
		p.branch = BranchExclude
		if *req.Status == StatusReincluded {
			p.branch = BranchReinclude
		}
		if Status(primary.Status) == StatusValid {
			p.statusRejected = true
			target.status = nil
		}
		if primary.Identification != "" {
			var err error
			members, err = tx.FindAll(ctx, datastore.Where(
				datastore.Equals(datastore.ColumnIdentification, primary.Identification),
				datastore.NotInOrNull(datastore.ColumnStatus, string(StatusValid)),
			))
			if err != nil {
				return p, err
			}
		}
		member.status = ptr(string(*req.Status))

	case renames && reason.RenamesGlobally():
		p.branch = BranchRename
		if primary.Species != "" {
			var err error
			members, err = tx.FindAll(ctx, datastore.Where(
				datastore.Equals(datastore.ColumnSpecies, primary.Species),
			))
			if err != nil {
				return p, err
			}
		}
		if len(members) == 0 {
			return p, errors.Newf("no records found with species %q", primary.Species).
				Component("curation").
				Category(errors.CategoryNotFound).
				Context("process_id", primary.ProcessID).
				Context("species", primary.Species).
				Build()
		}
		member.species = &newSpecies
	}

	if ch := diffRecord(primary, &target); len(ch) > 0 {
		p.changes = append(p.changes, recordChange{processID: primary.ProcessID, changes: ch})
	}

	slices.SortFunc(members, func(a, b datastore.Record) int { return strings.Compare(a.ProcessID, b.ProcessID) })
	for i := range members {
		if members[i].ProcessID == primary.ProcessID {
			continue
		}
		if ch := diffRecord(&members[i], &member); len(ch) > 0 {
			p.changes = append(p.changes, recordChange{processID: members[i].ProcessID, changes: ch})
		}
	}

	return p, nil
}

// diffRecord lists the fields of r that t changes, in the fixed order
// status, correction reason, curator notes, species.
func diffRecord(r *datastore.Record, t *fieldTargets) []FieldChange {
	var changes []FieldChange
	add := func(column, old string, want *string) {
		if want != nil && *want != old {
			changes = append(changes, FieldChange{Field: column, Old: old, New: *want})
		}
	}
	add(datastore.ColumnStatus, r.Status, t.status)
	add(datastore.ColumnCorrectionReason, r.CorrectionReason, t.reason)
	add(datastore.ColumnCuratorNotes, r.CuratorNotes, t.notes)
	add(datastore.ColumnSpecies, r.Species, t.species)
	return changes
}

func planBranch(p *editPlan, req *EditRequest) Branch {
	if p != nil {
		return p.branch
	}
	if req.Status != nil && *req.Status == StatusExcluded {
		return BranchExclude
	}
	if req.Status != nil && *req.Status == StatusReincluded {
		return BranchReinclude
	}
	return BranchSingle
}

func failureOutcome(err error) string {
	switch errors.GetCategory(err) {
	case errors.CategoryNotFound:
		return outcomeNotFound
	case errors.CategoryValidation:
		return outcomeInvalid
	default:
		return outcomeError
	}
}

func ptr[T any](v T) *T { return &v }
