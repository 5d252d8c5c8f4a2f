package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bayline/internal/config"
	"bayline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- companies ---

func (r Repo) InsertCompanyTx(ctx context.Context, tx *sql.Tx, c domain.Company) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO companies(id,name,status,created_at) VALUES (?,?,?,?)`,
		c.ID, c.Name, c.Status, c.CreatedAt)
	return err
}

func (r Repo) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	var c domain.Company
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM companies WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) SingleCompany(ctx context.Context) (domain.Company, error) {
	companies, err := r.ListCompanies(ctx)
	if err != nil {
		return domain.Company{}, err
	}
	if len(companies) == 0 {
		return domain.Company{}, ErrNotFound
	}
	if len(companies) > 1 {
		return domain.Company{}, fmt.Errorf("multiple companies exist; specify --company")
	}
	return companies[0], nil
}

func (r Repo) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at FROM companies ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Company
	for rows.Next() {
		var c domain.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpsertCompanyConfig(ctx context.Context, companyID string, cfg *config.Config) error {
	return upsertCompanyConfig(ctx, r.DB, nil, companyID, cfg)
}

func (r Repo) UpsertCompanyConfigTx(ctx context.Context, tx *sql.Tx, companyID string, cfg *config.Config) error {
	return upsertCompanyConfig(ctx, nil, tx, companyID, cfg)
}

func upsertCompanyConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, companyID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Company.ID = companyID
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := cfg.ToYAML()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	query := `INSERT INTO company_configs(company_id,yaml,updated_at) VALUES (?,?,?)
ON CONFLICT(company_id) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, companyID, string(data), now)
	} else {
		_, err = db.ExecContext(ctx, query, companyID, string(data), now)
	}
	return err
}

func (r Repo) GetCompanyConfig(ctx context.Context, companyID string) (*config.Config, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT yaml FROM company_configs WHERE company_id=?`, companyID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}

// --- work orders ---

const workOrderColumns = `id, company_id, vehicle_type, vehicle_stock_id, field_id, mode, status,
bay_id, booking_date, start_time, end_time, booking_description, accepted_by, accepted_at, rejected_reason,
approved_supplier_id, approved_at,
comment_sheet_json, work_started_at, work_submitted_at, work_completed_at,
created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row rowScanner) (domain.WorkOrder, error) {
	var (
		w                                                 domain.WorkOrder
		bayID, bookingDate, startTime, endTime            sql.NullString
		description, acceptedBy, acceptedAt, rejectReason sql.NullString
		approvedSupplier, approvedAt                      sql.NullString
		sheet, startedAt, submittedAt, completedAt        sql.NullString
	)
	err := row.Scan(
		&w.ID, &w.Identity.CompanyID, &w.Identity.VehicleType, &w.Identity.VehicleStockID, &w.Identity.FieldID,
		&w.Mode, &w.Status,
		&bayID, &bookingDate, &startTime, &endTime, &description, &acceptedBy, &acceptedAt, &rejectReason,
		&approvedSupplier, &approvedAt,
		&sheet, &startedAt, &submittedAt, &completedAt,
		&w.CreatedBy, &w.CreatedAt, &w.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if w.Mode == domain.ModeBay {
		w.Bay = &domain.BayAllocation{
			BayID:          bayID.String,
			BookingDate:    bookingDate.String,
			StartTime:      startTime.String,
			EndTime:        endTime.String,
			Description:    description.String,
			AcceptedBy:     strPtr(acceptedBy),
			AcceptedAt:     strPtr(acceptedAt),
			RejectedReason: strPtr(rejectReason),
		}
	} else {
		w.Supplier = &domain.SupplierQuote{
			ApprovedSupplier: strPtr(approvedSupplier),
			ApprovedAt:       strPtr(approvedAt),
		}
	}
	w.CommentSheetJSON = strPtr(sheet)
	w.WorkStartedAt = strPtr(startedAt)
	w.WorkSubmittedAt = strPtr(submittedAt)
	w.WorkCompletedAt = strPtr(completedAt)
	return w, nil
}

func (r Repo) InsertWorkOrderTx(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	args := workOrderArgs(w)
	_, err := tx.ExecContext(ctx, `INSERT INTO work_orders(`+workOrderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return err
}

func (r Repo) UpdateWorkOrderTx(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	// identity columns are immutable; update everything else
	args := append(workOrderArgs(w)[5:21:21], w.UpdatedAt, w.ID)
	res, err := tx.ExecContext(ctx, `UPDATE work_orders SET
mode=?, status=?,
bay_id=?, booking_date=?, start_time=?, end_time=?, booking_description=?, accepted_by=?, accepted_at=?, rejected_reason=?,
approved_supplier_id=?, approved_at=?,
comment_sheet_json=?, work_started_at=?, work_submitted_at=?, work_completed_at=?,
updated_at=?
WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func workOrderArgs(w domain.WorkOrder) []any {
	var bay domain.BayAllocation
	if w.Bay != nil {
		bay = *w.Bay
	}
	var quote domain.SupplierQuote
	if w.Supplier != nil {
		quote = *w.Supplier
	}
	return []any{
		w.ID, w.Identity.CompanyID, string(w.Identity.VehicleType), w.Identity.VehicleStockID, w.Identity.FieldID,
		string(w.Mode), w.Status,
		nullable(bay.BayID), nullable(bay.BookingDate), nullable(bay.StartTime), nullable(bay.EndTime),
		nullable(bay.Description), nullableStringPtr(bay.AcceptedBy), nullableStringPtr(bay.AcceptedAt), nullableStringPtr(bay.RejectedReason),
		nullableStringPtr(quote.ApprovedSupplier), nullableStringPtr(quote.ApprovedAt),
		nullableStringPtr(w.CommentSheetJSON), nullableStringPtr(w.WorkStartedAt), nullableStringPtr(w.WorkSubmittedAt), nullableStringPtr(w.WorkCompletedAt),
		w.CreatedBy, w.CreatedAt, w.UpdatedAt,
	}
}

func (r Repo) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	w, err := scanWorkOrder(r.DB.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id=?`, id))
	if err != nil {
		return w, err
	}
	return r.attachSupplierData(ctx, w)
}

func (r Repo) GetWorkOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkOrder, error) {
	w, err := scanWorkOrder(tx.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id=?`, id))
	if err != nil {
		return w, err
	}
	if w.Mode == domain.ModeSupplier {
		w.Supplier.SelectedSuppliers, err = r.InvitedSuppliersTx(ctx, tx, w.ID)
		if err != nil {
			return w, err
		}
		w.Supplier.Responses, err = r.ListResponsesTx(ctx, tx, w.ID)
		if err != nil {
			return w, err
		}
	}
	return w, nil
}

// ResolveWorkOrder finds the single record for an identity key.
func (r Repo) ResolveWorkOrder(ctx context.Context, id domain.Identity) (domain.WorkOrder, error) {
	w, err := scanWorkOrder(r.DB.QueryRowContext(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders WHERE vehicle_type=? AND company_id=? AND vehicle_stock_id=? AND field_id=?`,
		string(id.VehicleType), id.CompanyID, id.VehicleStockID, id.FieldID))
	if err != nil {
		return w, err
	}
	return r.attachSupplierData(ctx, w)
}

func (r Repo) ResolveWorkOrderTx(ctx context.Context, tx *sql.Tx, id domain.Identity) (domain.WorkOrder, error) {
	w, err := scanWorkOrder(tx.QueryRowContext(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders WHERE vehicle_type=? AND company_id=? AND vehicle_stock_id=? AND field_id=?`,
		string(id.VehicleType), id.CompanyID, id.VehicleStockID, id.FieldID))
	if err != nil {
		return w, err
	}
	if w.Mode == domain.ModeSupplier {
		w.Supplier.SelectedSuppliers, err = r.InvitedSuppliersTx(ctx, tx, w.ID)
		if err != nil {
			return w, err
		}
		w.Supplier.Responses, err = r.ListResponsesTx(ctx, tx, w.ID)
		if err != nil {
			return w, err
		}
	}
	return w, nil
}

func (r Repo) attachSupplierData(ctx context.Context, w domain.WorkOrder) (domain.WorkOrder, error) {
	if w.Mode != domain.ModeSupplier {
		return w, nil
	}
	var err error
	w.Supplier.SelectedSuppliers, err = r.InvitedSuppliers(ctx, w.ID)
	if err != nil {
		return w, err
	}
	w.Supplier.Responses, err = r.ListResponses(ctx, w.ID)
	return w, err
}

type WorkOrderFilters struct {
	CompanyID string
	Status    string
	Mode      string
	BayID     string
}

func (r Repo) ListWorkOrders(ctx context.Context, f WorkOrderFilters) ([]domain.WorkOrder, error) {
	query := `SELECT ` + workOrderColumns + ` FROM work_orders`
	var (
		conds []string
		args  []any
	)
	if f.CompanyID != "" {
		conds = append(conds, "company_id=?")
		args = append(args, f.CompanyID)
	}
	if f.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, f.Status)
	}
	if f.Mode != "" {
		conds = append(conds, "mode=?")
		args = append(args, f.Mode)
	}
	if f.BayID != "" {
		conds = append(conds, "bay_id=?")
		args = append(args, f.BayID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) CountWorkOrdersByStatus(ctx context.Context, companyID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM work_orders WHERE company_id=? GROUP BY status`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// HasBayConflictTx reports whether [start,end) collides with any
// non-terminal allocation on the same bay and date. The three OR'd
// predicates cover partial overlap from either side and full
// containment; intervals that merely touch do not conflict. Runs inside
// the caller's transaction so the check and the write it gates commit
// together.
func (r Repo) HasBayConflictTx(ctx context.Context, tx *sql.Tx, bayID, date, start, end, excludeID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `
SELECT 1 FROM work_orders
WHERE mode='bay' AND bay_id=? AND booking_date=?
  AND status NOT IN ('rejected','completed')
  AND id <> ?
  AND (
       (start_time <= ? AND ? < end_time)
    OR (start_time < ? AND ? <= end_time)
    OR (? <= start_time AND end_time <= ?)
  )
LIMIT 1`, bayID, date, excludeID, start, start, end, end, start, end)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ListAllocations returns the non-terminal bay bookings for one bay and
// date, ordered by start time. Read-only calendar projection.
func (r Repo) ListAllocations(ctx context.Context, bayID, date string) ([]domain.Allocation, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, bay_id, booking_date, start_time, end_time, status, COALESCE(booking_description,'')
FROM work_orders
WHERE mode='bay' AND bay_id=? AND booking_date=? AND status NOT IN ('rejected','completed')
ORDER BY start_time ASC`, bayID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Allocation
	for rows.Next() {
		var a domain.Allocation
		if err := rows.Scan(&a.WorkOrderID, &a.BayID, &a.BookingDate, &a.StartTime, &a.EndTime, &a.Status, &a.Description); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, companyID, action, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, companyID, action, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, companyID, action, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, ts, action, COALESCE(company_id,''), entity_kind, COALESCE(entity_id,''), actor_id, payload_json FROM events`
	var (
		conds []string
		args  []any
	)
	if cursor > 0 {
		conds = append(conds, "id < ?")
		args = append(args, cursor)
	}
	if companyID != "" {
		conds = append(conds, "company_id=?")
		args = append(args, companyID)
	}
	if action != "" {
		conds = append(conds, "action=?")
		args = append(args, action)
	}
	if entityKind != "" {
		conds = append(conds, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		conds = append(conds, "entity_id=?")
		args = append(args, entityID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &e.CompanyID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with id > cursor in ascending order,
// used by the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, companyID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, ts, action, COALESCE(company_id,''), entity_kind, COALESCE(entity_id,''), actor_id, payload_json FROM events WHERE id > ?`
	args := []any{cursor}
	if companyID != "" {
		query += ` AND company_id=?`
		args = append(args, companyID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &e.CompanyID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context, companyID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if companyID != "" {
		query += ` WHERE company_id=?`
		args = append(args, companyID)
	}
	var id int64
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}
