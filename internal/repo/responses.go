package repo

import (
	"context"
	"database/sql"

	"bayline/internal/domain"
)

// Supplier fan-out persistence: the invited-supplier set and the single
// response each invited supplier may hold.

func (r Repo) InvitedSuppliers(ctx context.Context, workOrderID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT supplier_id FROM work_order_suppliers WHERE work_order_id=? ORDER BY invited_at ASC, supplier_id ASC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r Repo) InvitedSuppliersTx(ctx context.Context, tx *sql.Tx, workOrderID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT supplier_id FROM work_order_suppliers WHERE work_order_id=? ORDER BY invited_at ASC, supplier_id ASC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// AddInvitesTx union-appends suppliers; already-invited ids are ignored.
func (r Repo) AddInvitesTx(ctx context.Context, tx *sql.Tx, workOrderID string, supplierIDs []string, now string) error {
	for _, id := range supplierIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO work_order_suppliers(work_order_id, supplier_id, invited_at) VALUES (?,?,?)`,
			workOrderID, id, now); err != nil {
			return err
		}
	}
	return nil
}

// ClearSupplierModeTx drops the whole fan-out history for a work order.
// Used by the mode switch; intentionally destructive.
func (r Repo) ClearSupplierModeTx(ctx context.Context, tx *sql.Tx, workOrderID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM supplier_responses WHERE work_order_id=?`, workOrderID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM work_order_suppliers WHERE work_order_id=?`, workOrderID)
	return err
}

func (r Repo) UpsertResponseTx(ctx context.Context, tx *sql.Tx, resp domain.SupplierResponse) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO supplier_responses(work_order_id, supplier_id, estimated_cost, estimated_time, comments, status, responded_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(work_order_id, supplier_id) DO UPDATE SET
estimated_cost=excluded.estimated_cost, estimated_time=excluded.estimated_time,
comments=excluded.comments, status=excluded.status, responded_at=excluded.responded_at`,
		resp.WorkOrderID, resp.SupplierID, resp.EstimatedCost, nullable(resp.EstimatedTime), nullable(resp.Comments), resp.Status, resp.RespondedAt)
	return err
}

func (r Repo) GetResponseTx(ctx context.Context, tx *sql.Tx, workOrderID, supplierID string) (domain.SupplierResponse, error) {
	var resp domain.SupplierResponse
	var eta, comments sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT work_order_id, supplier_id, estimated_cost, estimated_time, comments, status, responded_at
FROM supplier_responses WHERE work_order_id=? AND supplier_id=?`, workOrderID, supplierID).
		Scan(&resp.WorkOrderID, &resp.SupplierID, &resp.EstimatedCost, &eta, &comments, &resp.Status, &resp.RespondedAt)
	if err == sql.ErrNoRows {
		return resp, ErrNotFound
	}
	if err != nil {
		return resp, err
	}
	resp.EstimatedTime = eta.String
	resp.Comments = comments.String
	return resp, nil
}

func (r Repo) ListResponses(ctx context.Context, workOrderID string) ([]domain.SupplierResponse, error) {
	rows, err := r.DB.QueryContext(ctx, responseListQuery, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResponses(rows)
}

func (r Repo) ListResponsesTx(ctx context.Context, tx *sql.Tx, workOrderID string) ([]domain.SupplierResponse, error) {
	rows, err := tx.QueryContext(ctx, responseListQuery, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResponses(rows)
}

const responseListQuery = `SELECT work_order_id, supplier_id, estimated_cost, COALESCE(estimated_time,''), COALESCE(comments,''), status, responded_at
FROM supplier_responses WHERE work_order_id=? ORDER BY responded_at ASC, supplier_id ASC`

func scanResponses(rows *sql.Rows) ([]domain.SupplierResponse, error) {
	var res []domain.SupplierResponse
	for rows.Next() {
		var resp domain.SupplierResponse
		if err := rows.Scan(&resp.WorkOrderID, &resp.SupplierID, &resp.EstimatedCost, &resp.EstimatedTime, &resp.Comments, &resp.Status, &resp.RespondedAt); err != nil {
			return nil, err
		}
		res = append(res, resp)
	}
	return res, rows.Err()
}

// SettleApprovalTx marks the winner approved and every other response
// rejected in two statements under one transaction, so no intermediate
// state with two approved responses is ever visible.
func (r Repo) SettleApprovalTx(ctx context.Context, tx *sql.Tx, workOrderID, supplierID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE supplier_responses SET status='rejected' WHERE work_order_id=? AND supplier_id<>?`,
		workOrderID, supplierID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE supplier_responses SET status='approved' WHERE work_order_id=? AND supplier_id=?`,
		workOrderID, supplierID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var res []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
