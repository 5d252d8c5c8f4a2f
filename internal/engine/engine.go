package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"bayline/internal/config"
	"bayline/internal/domain"
	"bayline/internal/engine/auth"
	"bayline/internal/events"
	"bayline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// LockedWorkOrderError is returned when an upsert or fan-out change hits
// a work order whose current status forbids editing.
type LockedWorkOrderError struct {
	ID     string
	Status string
}

func (e LockedWorkOrderError) Error() string {
	return fmt.Sprintf("work order %s is locked in status %s", e.ID, e.Status)
}

// SlotUnavailableError is returned when a requested bay interval collides
// with an existing non-terminal allocation.
type SlotUnavailableError struct {
	BayID       string
	BookingDate string
	StartTime   string
	EndTime     string
}

func (e SlotUnavailableError) Error() string {
	return fmt.Sprintf("bay %s has no free slot %s %s-%s", e.BayID, e.BookingDate, e.StartTime, e.EndTime)
}

// UnknownSupplierError is returned when a supplier id is not in the
// company directory, or not invited to the work order in question.
type UnknownSupplierError struct {
	SupplierID string
}

func (e UnknownSupplierError) Error() string {
	return fmt.Sprintf("unknown supplier %s", e.SupplierID)
}

// ApprovalConflictError is returned when a second supplier is approved
// after a winner has already been settled.
type ApprovalConflictError struct {
	ApprovedSupplier string
}

func (e ApprovalConflictError) Error() string {
	return fmt.Sprintf("supplier %s already approved", e.ApprovedSupplier)
}

// ErrNoResponse is returned when approving a supplier that has not
// submitted a quote response yet.
var ErrNoResponse = errors.New("supplier has not responded")

// InitCompany creates a company with default config and grants the
// calling actor the owner role.
func (e Engine) InitCompany(ctx context.Context, companyID, name, actorID string) (domain.Company, error) {
	if name == "" {
		name = companyID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Company{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Company{
		ID:        companyID,
		Name:      name,
		Status:    "active",
		CreatedAt: now,
	}
	if err := e.Repo.InsertCompanyTx(ctx, tx, c); err != nil {
		return domain.Company{}, fmt.Errorf("insert company: %w", err)
	}
	cfg := config.Default(companyID)
	if err := e.Repo.UpsertCompanyConfigTx(ctx, tx, companyID, cfg); err != nil {
		return domain.Company{}, fmt.Errorf("insert company config: %w", err)
	}
	if err := e.seedRBAC(ctx, tx, companyID, cfg, now); err != nil {
		return domain.Company{}, err
	}
	if actorID != "" {
		if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
			return domain.Company{}, err
		}
		if err := e.Repo.AssignRole(ctx, tx, companyID, actorID, "owner"); err != nil {
			return domain.Company{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "company.init", c.ID, "company", c.ID, actorID, events.EventPayload{"status": c.Status}); err != nil {
		return domain.Company{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Company{}, err
	}
	return c, nil
}

// ApplyConfig replaces the stored company config and reseeds RBAC from
// its role definitions.
func (e Engine) ApplyConfig(ctx context.Context, companyID string, cfg *config.Config, actorID string) error {
	if _, err := e.Repo.GetCompany(ctx, companyID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertCompanyConfigTx(ctx, tx, companyID, cfg); err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.seedRBAC(ctx, tx, companyID, cfg, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "company.config.imported", companyID, "company", companyID, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) seedRBAC(ctx context.Context, tx *sql.Tx, companyID string, cfg *config.Config, now string) error {
	roleIDs := make([]string, 0, len(cfg.RBAC.Roles))
	for id := range cfg.RBAC.Roles {
		roleIDs = append(roleIDs, id)
	}
	sort.Strings(roleIDs)
	for _, roleID := range roleIDs {
		role := cfg.RBAC.Roles[roleID]
		if err := e.Repo.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				return err
			}
			if err := e.Repo.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return err
			}
		}
	}
	return nil
}

// WorkOrderUpsertOptions are parameters for creating or editing a work
// order by identity key.
type WorkOrderUpsertOptions struct {
	Identity domain.Identity
	Mode     domain.Mode

	// bay mode
	BayID       string
	BookingDate string
	StartTime   string
	EndTime     string
	Description string

	// supplier mode
	SelectedSuppliers []string

	ActorID string
}

// UpsertWorkOrder resolves the identity key and either creates a fresh
// work order or edits the existing one. Editing resets status to
// request and starts a new acceptance cycle; switching mode additionally
// wipes the other mode's field group. Returns true when a new record was
// created.
func (e Engine) UpsertWorkOrder(ctx context.Context, opts WorkOrderUpsertOptions) (domain.WorkOrder, bool, error) {
	if e.Config == nil {
		return domain.WorkOrder{}, false, errors.New("config not loaded")
	}
	if err := validateIdentity(opts.Identity); err != nil {
		return domain.WorkOrder{}, false, err
	}
	switch opts.Mode {
	case domain.ModeBay:
		if err := validateBaySlot(opts.BayID, opts.BookingDate, opts.StartTime, opts.EndTime); err != nil {
			return domain.WorkOrder{}, false, err
		}
	case domain.ModeSupplier:
		if len(opts.SelectedSuppliers) == 0 {
			return domain.WorkOrder{}, false, errors.New("at least one supplier is required")
		}
	default:
		return domain.WorkOrder{}, false, fmt.Errorf("invalid mode %s", opts.Mode)
	}
	if _, err := e.Repo.GetCompany(ctx, opts.Identity.CompanyID); err != nil {
		return domain.WorkOrder{}, false, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, false, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	existing, err := e.Repo.ResolveWorkOrderTx(ctx, tx, opts.Identity)
	if errors.Is(err, repo.ErrNotFound) {
		w, err := e.createWorkOrder(ctx, tx, opts, now)
		if identityConflict(err) {
			// Lost a create race: another caller inserted the same
			// identity first. Retry on a fresh transaction so the
			// edit path sees the winner's record.
			tx.Rollback()
			return e.editResolved(ctx, opts, now)
		}
		if err != nil {
			return domain.WorkOrder{}, false, err
		}
		if err := tx.Commit(); err != nil {
			return domain.WorkOrder{}, false, err
		}
		return w, true, nil
	}
	if err != nil {
		return domain.WorkOrder{}, false, err
	}
	w, err := e.editWorkOrder(ctx, tx, existing, opts, now)
	if err != nil {
		return domain.WorkOrder{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, false, err
	}
	return w, false, nil
}

// editResolved re-resolves the identity key and applies the edit path on
// its own transaction. The resolved record may be locked, in which case
// the caller observes the usual LockedWorkOrderError.
func (e Engine) editResolved(ctx context.Context, opts WorkOrderUpsertOptions, now string) (domain.WorkOrder, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, false, err
	}
	defer tx.Rollback()
	existing, err := e.Repo.ResolveWorkOrderTx(ctx, tx, opts.Identity)
	if err != nil {
		return domain.WorkOrder{}, false, err
	}
	w, err := e.editWorkOrder(ctx, tx, existing, opts, now)
	if err != nil {
		return domain.WorkOrder{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, false, err
	}
	return w, false, nil
}

// identityConflict reports whether err is the UNIQUE violation raised
// when two creates race on the same identity key.
func identityConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: work_orders.")
}

func (e Engine) createWorkOrder(ctx context.Context, tx *sql.Tx, opts WorkOrderUpsertOptions, now string) (domain.WorkOrder, error) {
	w := domain.WorkOrder{
		ID:        uuid.New().String(),
		Identity:  opts.Identity,
		Mode:      opts.Mode,
		Status:    "request",
		CreatedBy: opts.ActorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload := events.EventPayload{"mode": string(w.Mode), "status": w.Status}
	if opts.Mode == domain.ModeBay {
		if err := e.checkBayBookable(ctx, tx, opts, ""); err != nil {
			return w, err
		}
		w.Bay = &domain.BayAllocation{
			BayID:       opts.BayID,
			BookingDate: opts.BookingDate,
			StartTime:   opts.StartTime,
			EndTime:     opts.EndTime,
			Description: opts.Description,
		}
		payload["bay_id"] = opts.BayID
		payload["booking_date"] = opts.BookingDate
	} else {
		if err := e.checkSuppliers(ctx, opts.Identity.CompanyID, opts.SelectedSuppliers); err != nil {
			return w, err
		}
		w.Supplier = &domain.SupplierQuote{SelectedSuppliers: opts.SelectedSuppliers}
		payload["suppliers"] = opts.SelectedSuppliers
	}
	if err := e.Repo.InsertWorkOrderTx(ctx, tx, w); err != nil {
		return w, err
	}
	if opts.Mode == domain.ModeSupplier {
		if err := e.Repo.AddInvitesTx(ctx, tx, w.ID, opts.SelectedSuppliers, now); err != nil {
			return w, err
		}
	}
	if err := e.Events.Append(ctx, tx, "workorder.created", w.Identity.CompanyID, "workorder", w.ID, opts.ActorID, payload); err != nil {
		return w, err
	}
	return w, nil
}

func (e Engine) editWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder, opts WorkOrderUpsertOptions, now string) (domain.WorkOrder, error) {
	switch w.Status {
	case "in_progress", "review", "rework":
		return w, LockedWorkOrderError{ID: w.ID, Status: w.Status}
	}
	modeSwitch := opts.Mode != w.Mode
	// Same-mode edits are only allowed while the work order is still
	// open. A mode switch is the one sanctioned way past an approved
	// allocation; it discards the outgoing mode's history.
	if !modeSwitch && w.Status != "request" && w.Status != "rejected" {
		return w, LockedWorkOrderError{ID: w.ID, Status: w.Status}
	}
	if modeSwitch && w.Mode == domain.ModeSupplier {
		if err := e.Repo.ClearSupplierModeTx(ctx, tx, w.ID); err != nil {
			return w, err
		}
	}

	w.Mode = opts.Mode
	w.Bay = nil
	w.Supplier = nil
	if opts.Mode == domain.ModeBay {
		if err := e.checkBayBookable(ctx, tx, opts, w.ID); err != nil {
			return w, err
		}
		w.Bay = &domain.BayAllocation{
			BayID:       opts.BayID,
			BookingDate: opts.BookingDate,
			StartTime:   opts.StartTime,
			EndTime:     opts.EndTime,
			Description: opts.Description,
		}
	} else {
		if err := e.checkSuppliers(ctx, opts.Identity.CompanyID, opts.SelectedSuppliers); err != nil {
			return w, err
		}
		w.Supplier = &domain.SupplierQuote{}
	}
	fromStatus := w.Status
	w.Status = "request"
	w.WorkStartedAt = nil
	w.WorkSubmittedAt = nil
	w.WorkCompletedAt = nil
	w.UpdatedAt = now
	if err := e.Repo.UpdateWorkOrderTx(ctx, tx, w); err != nil {
		return w, err
	}
	if opts.Mode == domain.ModeSupplier {
		if err := e.Repo.AddInvitesTx(ctx, tx, w.ID, opts.SelectedSuppliers, now); err != nil {
			return w, err
		}
	}
	action := "workorder.updated"
	if modeSwitch {
		action = "workorder.mode_switched"
	}
	if err := e.Events.Append(ctx, tx, action, w.Identity.CompanyID, "workorder", w.ID, opts.ActorID, events.EventPayload{
		"from_status": fromStatus,
		"to_status":   w.Status,
		"mode":        string(w.Mode),
	}); err != nil {
		return w, err
	}
	return e.Repo.GetWorkOrderTx(ctx, tx, w.ID)
}

func validateIdentity(id domain.Identity) error {
	if !domain.ValidVehicleType(id.VehicleType) {
		return fmt.Errorf("invalid vehicle_type %s", id.VehicleType)
	}
	if id.CompanyID == "" {
		return errors.New("company_id is required")
	}
	if id.VehicleStockID <= 0 {
		return errors.New("vehicle_stock_id is required")
	}
	if id.FieldID == "" {
		return errors.New("field_id is required")
	}
	return nil
}

func validateBaySlot(bayID, date, start, end string) error {
	if bayID == "" {
		return errors.New("bay_id is required")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("booking_date must be YYYY-MM-DD: %w", err)
	}
	if !config.ValidClock(start) || !config.ValidClock(end) {
		return errors.New("start_time/end_time must be HH:mm")
	}
	if end <= start {
		return errors.New("end_time must be after start_time")
	}
	return nil
}

// checkBayBookable validates the target bay and runs the overlap check
// inside the write transaction.
func (e Engine) checkBayBookable(ctx context.Context, tx *sql.Tx, opts WorkOrderUpsertOptions, excludeID string) error {
	b, err := e.Repo.GetBayTx(ctx, tx, opts.BayID)
	if err != nil {
		return err
	}
	if b.CompanyID != opts.Identity.CompanyID {
		return fmt.Errorf("bay %s not in company %s", opts.BayID, opts.Identity.CompanyID)
	}
	if !b.Active {
		return fmt.Errorf("bay %s is inactive", opts.BayID)
	}
	if opts.StartTime < b.OpenTime || b.CloseTime < opts.EndTime {
		return fmt.Errorf("slot outside bay hours %s-%s", b.OpenTime, b.CloseTime)
	}
	holiday, err := e.Repo.IsBayHolidayTx(ctx, tx, opts.BayID, opts.BookingDate)
	if err != nil {
		return err
	}
	if holiday {
		return fmt.Errorf("bay %s is closed on %s", opts.BayID, opts.BookingDate)
	}
	conflict, err := e.Repo.HasBayConflictTx(ctx, tx, opts.BayID, opts.BookingDate, opts.StartTime, opts.EndTime, excludeID)
	if err != nil {
		return err
	}
	if conflict {
		return SlotUnavailableError{
			BayID:       opts.BayID,
			BookingDate: opts.BookingDate,
			StartTime:   opts.StartTime,
			EndTime:     opts.EndTime,
		}
	}
	return nil
}

func (e Engine) checkSuppliers(ctx context.Context, companyID string, supplierIDs []string) error {
	for _, id := range supplierIDs {
		s, err := e.Repo.GetSupplier(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return UnknownSupplierError{SupplierID: id}
		}
		if err != nil {
			return err
		}
		if s.CompanyID != companyID {
			return UnknownSupplierError{SupplierID: id}
		}
		if !s.Active {
			return fmt.Errorf("supplier %s is inactive", id)
		}
	}
	return nil
}

// fire applies a transition event, persists the work order and appends
// the matching event record, all inside the caller's transaction.
func (e Engine) fire(ctx context.Context, tx *sql.Tx, w *domain.WorkOrder, event, actorID string, extra events.EventPayload) error {
	to, err := applyTransition(w.Status, event)
	if err != nil {
		return err
	}
	from := w.Status
	w.Status = to
	w.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateWorkOrderTx(ctx, tx, *w); err != nil {
		return err
	}
	payload := events.EventPayload{"from_status": from, "to_status": to}
	for k, v := range extra {
		payload[k] = v
	}
	return e.Events.Append(ctx, tx, "workorder."+event, w.Identity.CompanyID, "workorder", w.ID, actorID, payload)
}

// ensureAssignee checks the actor is allowed to execute the work: a
// member of the allocated bay, or the approved supplier.
func (e Engine) ensureAssignee(ctx context.Context, tx *sql.Tx, w domain.WorkOrder, actorID string) error {
	if w.Bay != nil {
		ok, err := e.Repo.IsBayMemberTx(ctx, tx, w.Bay.BayID, actorID)
		if err != nil {
			return err
		}
		if !ok {
			return auth.ForbiddenError{Permission: "workorder.execute"}
		}
		return nil
	}
	if w.Supplier != nil && w.Supplier.ApprovedSupplier != nil && *w.Supplier.ApprovedSupplier == actorID {
		return nil
	}
	return auth.ForbiddenError{Permission: "workorder.execute"}
}

func (e Engine) ensureBayMember(ctx context.Context, tx *sql.Tx, w domain.WorkOrder, actorID, perm string) error {
	if w.Bay == nil {
		return errors.New("operation applies to bay bookings only")
	}
	ok, err := e.Repo.IsBayMemberTx(ctx, tx, w.Bay.BayID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

// AcceptBooking records a bay member taking the requested slot.
func (e Engine) AcceptBooking(ctx context.Context, workOrderID, actorID string) (domain.WorkOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return w, err
	}
	if err := e.ensureBayMember(ctx, tx, w, actorID, "workorder.execute"); err != nil {
		return w, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	w.Bay.AcceptedBy = &actorID
	w.Bay.AcceptedAt = &now
	w.Bay.RejectedReason = nil
	if err := e.fire(ctx, tx, &w, EventAccept, actorID, nil); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// RejectBooking declines a requested slot or quote request with a
// reason. A rejected slot is released immediately; the owner may rebook
// (bay) or re-invite (supplier) later.
func (e Engine) RejectBooking(ctx context.Context, workOrderID, reason, actorID string) (domain.WorkOrder, error) {
	if reason == "" {
		return domain.WorkOrder{}, errors.New("reason is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return w, err
	}
	if w.Bay != nil {
		if err := e.ensureBayMember(ctx, tx, w, actorID, "workorder.execute"); err != nil {
			return w, err
		}
		w.Bay.RejectedReason = &reason
	} else {
		if w.Supplier == nil || !contains(w.Supplier.SelectedSuppliers, actorID) {
			return w, auth.ForbiddenError{Permission: "workorder.execute"}
		}
	}
	if err := e.fire(ctx, tx, &w, EventReject, actorID, events.EventPayload{"reason": reason}); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// RebookOptions carries the replacement slot for a rejected bay booking.
type RebookOptions struct {
	WorkOrderID string
	BayID       string
	BookingDate string
	StartTime   string
	EndTime     string
	Description string
	ActorID     string
}

// Rebook moves a rejected bay booking back to request with a new slot.
func (e Engine) Rebook(ctx context.Context, opts RebookOptions) (domain.WorkOrder, error) {
	if err := validateBaySlot(opts.BayID, opts.BookingDate, opts.StartTime, opts.EndTime); err != nil {
		return domain.WorkOrder{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkOrderTx(ctx, tx, opts.WorkOrderID)
	if err != nil {
		return w, err
	}
	if w.Mode != domain.ModeBay || w.Bay == nil {
		return w, errors.New("rebook applies to bay bookings only")
	}
	if err := e.checkBayBookable(ctx, tx, WorkOrderUpsertOptions{
		Identity:    w.Identity,
		BayID:       opts.BayID,
		BookingDate: opts.BookingDate,
		StartTime:   opts.StartTime,
		EndTime:     opts.EndTime,
	}, w.ID); err != nil {
		return w, err
	}
	desc := opts.Description
	if desc == "" {
		desc = w.Bay.Description
	}
	w.Bay = &domain.BayAllocation{
		BayID:       opts.BayID,
		BookingDate: opts.BookingDate,
		StartTime:   opts.StartTime,
		EndTime:     opts.EndTime,
		Description: desc,
	}
	if err := e.fire(ctx, tx, &w, EventRebook, opts.ActorID, events.EventPayload{
		"bay_id":       opts.BayID,
		"booking_date": opts.BookingDate,
	}); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// StartWork moves an accepted work order into execution.
func (e Engine) StartWork(ctx context.Context, workOrderID, actorID string) (domain.WorkOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return w, err
	}
	if err := e.ensureAssignee(ctx, tx, w, actorID); err != nil {
		return w, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	w.WorkStartedAt = &now
	if err := e.fire(ctx, tx, &w, EventStart, actorID, nil); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// SaveCommentSheet stores the execution comment sheet. With submit set
// it also hands the work order over to review.
func (e Engine) SaveCommentSheet(ctx context.Context, workOrderID, sheetJSON string, submit bool, actorID string) (domain.WorkOrder, error) {
	if err := validateJSON(sheetJSON); err != nil {
		return domain.WorkOrder{}, fmt.Errorf("comment sheet JSON: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return w, err
	}
	if w.Status != "in_progress" {
		return w, LockedWorkOrderError{ID: w.ID, Status: w.Status}
	}
	if err := e.ensureAssignee(ctx, tx, w, actorID); err != nil {
		return w, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	w.CommentSheetJSON = &sheetJSON
	if submit {
		w.WorkSubmittedAt = &now
		if err := e.fire(ctx, tx, &w, EventSubmit, actorID, nil); err != nil {
			return w, err
		}
	} else {
		w.UpdatedAt = now
		if err := e.Repo.UpdateWorkOrderTx(ctx, tx, w); err != nil {
			return w, err
		}
		if err := e.Events.Append(ctx, tx, "workorder.sheet.saved", w.Identity.CompanyID, "workorder", w.ID, actorID, events.EventPayload{"status": w.Status}); err != nil {
			return w, err
		}
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// CompleteWork signs off reviewed work.
func (e Engine) CompleteWork(ctx context.Context, workOrderID, actorID string) (domain.WorkOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return w, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	w.WorkCompletedAt = &now
	if err := e.fire(ctx, tx, &w, EventComplete, actorID, nil); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// RequestRework sends reviewed work back to the executor. The feedback
// note is mandatory and lands in the comment sheet so the executor sees
// it next to their own entries.
func (e Engine) RequestRework(ctx context.Context, workOrderID, note, actorID string) (domain.WorkOrder, error) {
	if note == "" {
		return domain.WorkOrder{}, errors.New("feedback note is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return w, err
	}
	var sheet map[string]any
	if w.CommentSheetJSON != nil {
		if err := json.Unmarshal([]byte(*w.CommentSheetJSON), &sheet); err != nil {
			sheet = nil
		}
	}
	if sheet == nil {
		sheet = map[string]any{}
	}
	sheet["rework_reason"] = note
	data, err := json.Marshal(sheet)
	if err != nil {
		return w, err
	}
	merged := string(data)
	w.CommentSheetJSON = &merged
	if err := e.fire(ctx, tx, &w, EventRework, actorID, events.EventPayload{"note": note}); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// ResumeWork picks reworked items back up.
func (e Engine) ResumeWork(ctx context.Context, workOrderID, actorID string) (domain.WorkOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return w, err
	}
	if err := e.ensureAssignee(ctx, tx, w, actorID); err != nil {
		return w, err
	}
	if err := e.fire(ctx, tx, &w, EventResume, actorID, nil); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// InviteSuppliers union-appends suppliers to an open fan-out. Inviting
// into a rejected quote request reopens it.
func (e Engine) InviteSuppliers(ctx context.Context, workOrderID string, supplierIDs []string, actorID string) (domain.WorkOrder, error) {
	if len(supplierIDs) == 0 {
		return domain.WorkOrder{}, errors.New("at least one supplier is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return w, err
	}
	if w.Mode != domain.ModeSupplier || w.Supplier == nil {
		return w, errors.New("work order is not in supplier mode")
	}
	if w.Status != "request" && w.Status != "rejected" {
		return w, LockedWorkOrderError{ID: w.ID, Status: w.Status}
	}
	if err := e.checkSuppliers(ctx, w.Identity.CompanyID, supplierIDs); err != nil {
		return w, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if w.Status == "rejected" {
		if err := e.fire(ctx, tx, &w, EventReinvite, actorID, nil); err != nil {
			return w, err
		}
	}
	if err := e.Repo.AddInvitesTx(ctx, tx, w.ID, supplierIDs, now); err != nil {
		return w, err
	}
	if err := e.Events.Append(ctx, tx, "supplier.invited", w.Identity.CompanyID, "workorder", w.ID, actorID, events.EventPayload{"suppliers": supplierIDs}); err != nil {
		return w, err
	}
	w, err = e.Repo.GetWorkOrderTx(ctx, tx, w.ID)
	if err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// ResponseOptions is one supplier's quote for a work order.
type ResponseOptions struct {
	WorkOrderID   string
	SupplierID    string
	EstimatedCost int64
	EstimatedTime string
	Comments      string
	ActorID       string
}

// RecordResponse upserts an invited supplier's quote. A supplier may
// revise its quote any number of times before a winner is settled.
func (e Engine) RecordResponse(ctx context.Context, opts ResponseOptions) (domain.SupplierResponse, error) {
	if opts.SupplierID == "" {
		return domain.SupplierResponse{}, errors.New("supplier_id is required")
	}
	if opts.EstimatedCost < 0 {
		return domain.SupplierResponse{}, errors.New("estimated_cost must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SupplierResponse{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkOrderTx(ctx, tx, opts.WorkOrderID)
	if err != nil {
		return domain.SupplierResponse{}, err
	}
	if w.Mode != domain.ModeSupplier || w.Supplier == nil {
		return domain.SupplierResponse{}, errors.New("work order is not in supplier mode")
	}
	if w.Status != "request" {
		return domain.SupplierResponse{}, LockedWorkOrderError{ID: w.ID, Status: w.Status}
	}
	if !contains(w.Supplier.SelectedSuppliers, opts.SupplierID) {
		return domain.SupplierResponse{}, UnknownSupplierError{SupplierID: opts.SupplierID}
	}
	resp := domain.SupplierResponse{
		WorkOrderID:   w.ID,
		SupplierID:    opts.SupplierID,
		EstimatedCost: opts.EstimatedCost,
		EstimatedTime: opts.EstimatedTime,
		Comments:      opts.Comments,
		Status:        "pending",
		RespondedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.UpsertResponseTx(ctx, tx, resp); err != nil {
		return resp, err
	}
	if err := e.Events.Append(ctx, tx, "supplier.responded", w.Identity.CompanyID, "workorder", w.ID, opts.ActorID, events.EventPayload{
		"supplier_id":    opts.SupplierID,
		"estimated_cost": opts.EstimatedCost,
	}); err != nil {
		return resp, err
	}
	if err := tx.Commit(); err != nil {
		return resp, err
	}
	return resp, nil
}

// ApproveSupplier settles the fan-out on a single winner: the winner's
// response is approved, every other response is rejected, and the work
// order advances to accepted. Re-approving the settled winner is a
// no-op; approving anyone else fails.
func (e Engine) ApproveSupplier(ctx context.Context, workOrderID, supplierID, actorID string) (domain.WorkOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return w, err
	}
	if w.Mode != domain.ModeSupplier || w.Supplier == nil {
		return w, errors.New("work order is not in supplier mode")
	}
	if w.Supplier.ApprovedSupplier != nil {
		if *w.Supplier.ApprovedSupplier == supplierID {
			return w, nil
		}
		return w, ApprovalConflictError{ApprovedSupplier: *w.Supplier.ApprovedSupplier}
	}
	if !contains(w.Supplier.SelectedSuppliers, supplierID) {
		return w, UnknownSupplierError{SupplierID: supplierID}
	}
	resp, err := e.Repo.GetResponseTx(ctx, tx, w.ID, supplierID)
	if errors.Is(err, repo.ErrNotFound) {
		return w, ErrNoResponse
	}
	if err != nil {
		return w, err
	}
	if err := e.Repo.SettleApprovalTx(ctx, tx, w.ID, supplierID); err != nil {
		return w, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	w.Supplier.ApprovedSupplier = &supplierID
	w.Supplier.ApprovedAt = &now
	if err := e.fire(ctx, tx, &w, EventAccept, actorID, events.EventPayload{
		"supplier_id":    supplierID,
		"estimated_cost": resp.EstimatedCost,
	}); err != nil {
		return w, err
	}
	w, err = e.Repo.GetWorkOrderTx(ctx, tx, w.ID)
	if err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// CheckSlot reports whether a bay interval is free without booking it.
// It applies the same bay checks as the booking path, so inactive bays,
// holidays and out-of-hours slots all read as unavailable.
func (e Engine) CheckSlot(ctx context.Context, bayID, date, start, end string) (bool, error) {
	if err := validateBaySlot(bayID, date, start, end); err != nil {
		return false, err
	}
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBayTx(ctx, tx, bayID)
	if err != nil {
		return false, err
	}
	if !b.Active {
		return false, nil
	}
	if start < b.OpenTime || b.CloseTime < end {
		return false, nil
	}
	holiday, err := e.Repo.IsBayHolidayTx(ctx, tx, bayID, date)
	if err != nil {
		return false, err
	}
	if holiday {
		return false, nil
	}
	conflict, err := e.Repo.HasBayConflictTx(ctx, tx, bayID, date, start, end, "")
	if err != nil {
		return false, err
	}
	return !conflict, nil
}

// CreateBay registers a bay; missing working hours fall back to the
// company booking defaults.
func (e Engine) CreateBay(ctx context.Context, b domain.Bay, actorID string) (domain.Bay, error) {
	if e.Config == nil {
		return b, errors.New("config not loaded")
	}
	if b.Name == "" {
		return b, errors.New("name is required")
	}
	if _, err := e.Repo.GetCompany(ctx, b.CompanyID); err != nil {
		return b, err
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.OpenTime == "" {
		b.OpenTime = e.Config.Booking.DayOpen
	}
	if b.CloseTime == "" {
		b.CloseTime = e.Config.Booking.DayClose
	}
	if !config.ValidClock(b.OpenTime) || !config.ValidClock(b.CloseTime) || b.CloseTime <= b.OpenTime {
		return b, errors.New("open_time/close_time must be HH:mm with close after open")
	}
	b.Active = true
	b.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBayTx(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, "bay.created", b.CompanyID, "bay", b.ID, actorID, events.EventPayload{"name": b.Name}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

// CreateSupplier registers a supplier in the company directory.
func (e Engine) CreateSupplier(ctx context.Context, s domain.Supplier, actorID string) (domain.Supplier, error) {
	if s.Name == "" {
		return s, errors.New("name is required")
	}
	if _, err := e.Repo.GetCompany(ctx, s.CompanyID); err != nil {
		return s, err
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.Active = true
	s.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSupplierTx(ctx, tx, s); err != nil {
		return s, err
	}
	// supplier ids double as actor ids for responses and execution
	if err := e.Repo.EnsureActor(ctx, tx, s.ID, s.CreatedAt); err != nil {
		return s, err
	}
	if err := e.Repo.AssignRole(ctx, tx, s.CompanyID, s.ID, "supplier"); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "supplier.created", s.CompanyID, "supplier", s.ID, actorID, events.EventPayload{"name": s.Name}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// AddBayMember grants an actor execution rights on a bay.
func (e Engine) AddBayMember(ctx context.Context, bayID, memberID, actorID string) error {
	b, err := e.Repo.GetBay(ctx, bayID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.EnsureActor(ctx, tx, memberID, now); err != nil {
		return err
	}
	if err := e.Repo.AddBayMemberTx(ctx, tx, bayID, memberID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "bay.member.added", b.CompanyID, "bay", bayID, actorID, events.EventPayload{"member": memberID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveBayMember(ctx context.Context, bayID, memberID, actorID string) error {
	b, err := e.Repo.GetBay(ctx, bayID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveBayMemberTx(ctx, tx, bayID, memberID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "bay.member.removed", b.CompanyID, "bay", bayID, actorID, events.EventPayload{"member": memberID}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddBayHoliday closes a bay for one date. Existing bookings on that
// date are left alone; only new ones are blocked.
func (e Engine) AddBayHoliday(ctx context.Context, h domain.BayHoliday, actorID string) error {
	b, err := e.Repo.GetBay(ctx, h.BayID)
	if err != nil {
		return err
	}
	if _, err := time.Parse("2006-01-02", h.Date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.AddBayHolidayTx(ctx, tx, h); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "bay.holiday.added", b.CompanyID, "bay", h.BayID, actorID, events.EventPayload{"date": h.Date}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveBayHoliday(ctx context.Context, bayID, date, actorID string) error {
	b, err := e.Repo.GetBay(ctx, bayID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveBayHolidayTx(ctx, tx, bayID, date); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "bay.holiday.removed", b.CompanyID, "bay", bayID, actorID, events.EventPayload{"date": date}); err != nil {
		return err
	}
	return tx.Commit()
}

// SetBayActive toggles whether a bay accepts new bookings.
func (e Engine) SetBayActive(ctx context.Context, bayID string, active bool, actorID string) error {
	b, err := e.Repo.GetBay(ctx, bayID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetBayActiveTx(ctx, tx, bayID, active); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "bay.updated", b.CompanyID, "bay", bayID, actorID, events.EventPayload{"active": active}); err != nil {
		return err
	}
	return tx.Commit()
}

// WhoAmIResult lists an actor's effective roles and permissions in a
// company.
type WhoAmIResult struct {
	ActorID     string
	Roles       []string
	Permissions []string
}

func (e Engine) WhoAmI(ctx context.Context, companyID, actorID string) (WhoAmIResult, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return WhoAmIResult{}, err
	}
	defer tx.Rollback()
	roles, err := e.Auth.ActorRoles(ctx, tx, companyID, actorID)
	if err != nil {
		return WhoAmIResult{}, err
	}
	perms, err := e.Auth.ActorPermissions(ctx, tx, companyID, actorID)
	if err != nil {
		return WhoAmIResult{}, err
	}
	return WhoAmIResult{ActorID: actorID, Roles: roles, Permissions: perms}, nil
}

// GrantRole assigns a role to an actor. The granting actor needs
// company.manage.
func (e Engine) GrantRole(ctx context.Context, companyID, grantorID, actorID, roleID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, companyID, grantorID, "company.manage")
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: "company.manage"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, companyID, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.role.granted", companyID, "rbac", actorID, grantorID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RevokeRole(ctx context.Context, companyID, revokerID, actorID, roleID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, companyID, revokerID, "company.manage")
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: "company.manage"}
	}
	if err := e.Repo.RevokeRole(ctx, tx, companyID, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.role.revoked", companyID, "rbac", actorID, revokerID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- helpers ---

func validateJSON(in string) error {
	var tmp any
	if err := json.Unmarshal([]byte(in), &tmp); err != nil {
		return err
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
