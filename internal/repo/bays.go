package repo

import (
	"context"
	"database/sql"

	"bayline/internal/domain"
)

// Directory writes run on the caller's transaction so they commit or
// roll back together with the actor rows and event records the engine
// writes alongside them. Mixing pool writes into an open transaction
// deadlocks on the shared-cache write lock.

func (r Repo) InsertBayTx(ctx context.Context, tx *sql.Tx, b domain.Bay) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bays(id, company_id, name, active, open_time, close_time, created_at) VALUES (?,?,?,?,?,?,?)`,
		b.ID, b.CompanyID, b.Name, boolInt(b.Active), b.OpenTime, b.CloseTime, b.CreatedAt)
	return err
}

func (r Repo) GetBay(ctx context.Context, id string) (domain.Bay, error) {
	b, err := scanBay(r.DB.QueryRowContext(ctx, `SELECT id, company_id, name, active, open_time, close_time, created_at FROM bays WHERE id=?`, id))
	if err != nil {
		return b, err
	}
	b.Members, err = r.ListBayMembers(ctx, id)
	return b, err
}

func (r Repo) GetBayTx(ctx context.Context, tx *sql.Tx, id string) (domain.Bay, error) {
	return scanBay(tx.QueryRowContext(ctx, `SELECT id, company_id, name, active, open_time, close_time, created_at FROM bays WHERE id=?`, id))
}

func scanBay(row rowScanner) (domain.Bay, error) {
	var b domain.Bay
	var active int
	err := row.Scan(&b.ID, &b.CompanyID, &b.Name, &active, &b.OpenTime, &b.CloseTime, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	b.Active = active != 0
	return b, err
}

func (r Repo) ListBays(ctx context.Context, companyID string) ([]domain.Bay, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, company_id, name, active, open_time, close_time, created_at FROM bays WHERE company_id=? ORDER BY name ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bay
	for rows.Next() {
		b, err := scanBay(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) SetBayActiveTx(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE bays SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AddBayMemberTx(ctx context.Context, tx *sql.Tx, bayID, actorID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO bay_members(bay_id, actor_id) VALUES (?,?)`, bayID, actorID)
	return err
}

func (r Repo) RemoveBayMemberTx(ctx context.Context, tx *sql.Tx, bayID, actorID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM bay_members WHERE bay_id=? AND actor_id=?`, bayID, actorID)
	return err
}

func (r Repo) ListBayMembers(ctx context.Context, bayID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id FROM bay_members WHERE bay_id=? ORDER BY actor_id ASC`, bayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r Repo) IsBayMemberTx(ctx context.Context, tx *sql.Tx, bayID, actorID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM bay_members WHERE bay_id=? AND actor_id=? LIMIT 1`, bayID, actorID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) AddBayHolidayTx(ctx context.Context, tx *sql.Tx, h domain.BayHoliday) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO bay_holidays(bay_id, holiday_date, reason) VALUES (?,?,?)`,
		h.BayID, h.Date, nullable(h.Reason))
	return err
}

func (r Repo) RemoveBayHolidayTx(ctx context.Context, tx *sql.Tx, bayID, date string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM bay_holidays WHERE bay_id=? AND holiday_date=?`, bayID, date)
	return err
}

func (r Repo) ListBayHolidays(ctx context.Context, bayID string) ([]domain.BayHoliday, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT bay_id, holiday_date, COALESCE(reason,'') FROM bay_holidays WHERE bay_id=? ORDER BY holiday_date ASC`, bayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BayHoliday
	for rows.Next() {
		var h domain.BayHoliday
		if err := rows.Scan(&h.BayID, &h.Date, &h.Reason); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) IsBayHolidayTx(ctx context.Context, tx *sql.Tx, bayID, date string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM bay_holidays WHERE bay_id=? AND holiday_date=? LIMIT 1`, bayID, date)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// --- suppliers directory ---

func (r Repo) InsertSupplierTx(ctx context.Context, tx *sql.Tx, s domain.Supplier) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO suppliers(id, company_id, name, contact, active, created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.CompanyID, s.Name, nullable(s.Contact), boolInt(s.Active), s.CreatedAt)
	return err
}

func (r Repo) GetSupplier(ctx context.Context, id string) (domain.Supplier, error) {
	var s domain.Supplier
	var contact sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id, company_id, name, COALESCE(contact,''), active, created_at FROM suppliers WHERE id=?`, id).
		Scan(&s.ID, &s.CompanyID, &s.Name, &contact, &active, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Contact = contact.String
	s.Active = active != 0
	return s, nil
}

func (r Repo) ListSuppliers(ctx context.Context, companyID string) ([]domain.Supplier, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, company_id, name, COALESCE(contact,''), active, created_at FROM suppliers WHERE company_id=? ORDER BY name ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Supplier
	for rows.Next() {
		var s domain.Supplier
		var active int
		if err := rows.Scan(&s.ID, &s.CompanyID, &s.Name, &s.Contact, &active, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Active = active != 0
		res = append(res, s)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
