package repo

import (
	"context"
	"database/sql"

	"workboard/internal/domain"
)

func (r Repo) InsertLedgerEntry(ctx context.Context, tx *sql.Tx, e domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries(id,owner_id,kind,label,amount_cents,entry_date,task_id,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.OwnerID, e.Kind, e.Label, e.AmountCents, e.EntryDate, nullablePtr(e.TaskID), e.CreatedAt)
	return err
}

func (r Repo) GetLedgerEntry(ctx context.Context, id string) (domain.LedgerEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,owner_id,kind,label,amount_cents,entry_date,task_id,created_at FROM ledger_entries WHERE id=?`, id)
	return scanLedgerEntry(row.Scan)
}

func (r Repo) ListLedgerEntries(ctx context.Context, ownerID string) ([]domain.LedgerEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,owner_id,kind,label,amount_cents,entry_date,task_id,created_at
FROM ledger_entries WHERE owner_id=? ORDER BY entry_date DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) DeleteLedgerEntry(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LedgerTotal reduces the ledger to income minus expense, in cents.
func (r Repo) LedgerTotal(ctx context.Context, ownerID string) (int64, error) {
	var total sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT SUM(CASE kind WHEN 'income' THEN amount_cents ELSE -amount_cents END)
FROM ledger_entries WHERE owner_id=?`, ownerID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

func scanLedgerEntry(scan func(dest ...any) error) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var taskID sql.NullString
	err := scan(&e.ID, &e.OwnerID, &e.Kind, &e.Label, &e.AmountCents, &e.EntryDate, &taskID, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if taskID.Valid {
		e.TaskID = &taskID.String
	}
	return e, nil
}
