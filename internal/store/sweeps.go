package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitushen/netsweep/internal/models"
)

// SweepInterrupted 是进程重启时遗留巡检的错误信息。
const SweepInterrupted = "interrupted"

// CreateSweep 新增一条待执行的扫描记录。
func (s *Store) CreateSweep(ctx context.Context, prefix string, start, end int) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO sweeps (prefix, range_start, range_end, status) VALUES (?, ?, ?, ?)`,
		prefix, start, end, models.SweepStatusPending,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// StartSweep 将扫描标记为执行中。
func (s *Store) StartSweep(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE sweeps SET status = ? WHERE id = ?`, models.SweepStatusRunning, id)
	return err
}

// FinishSweep 写入扫描结果；errMsg 非空时状态记为失败，但已得到的存活地址依然保存。
func (s *Store) FinishSweep(ctx context.Context, id int64, alive []string, errMsg string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sweep_hosts WHERE sweep_id = ?`, id); err != nil {
		return err
	}
	for i, addr := range alive {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO sweep_hosts (sweep_id, address, position) VALUES (?, ?, ?)`,
			id, addr, i,
		); err != nil {
			return err
		}
	}

	status := models.SweepStatusDone
	if errMsg != "" {
		status = models.SweepStatusFailed
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sweeps SET status = ?, live_count = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, len(alive), errMsg, time.Now().UTC(), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetSweep 返回扫描记录及其存活地址。
func (s *Store) GetSweep(ctx context.Context, id int64) (*models.Sweep, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, prefix, range_start, range_end, status, live_count, error, created_at, finished_at FROM sweeps WHERE id = ?`, id)
	sw, err := scanSweep(row)
	if err != nil {
		return nil, notFound(err)
	}
	hosts, err := s.SweepHosts(ctx, id)
	if err != nil {
		return nil, err
	}
	sw.Hosts = hosts
	return sw, nil
}

// ListSweeps 按创建时间倒序返回最近的扫描记录。
func (s *Store) ListSweeps(ctx context.Context, limit int) ([]models.Sweep, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, prefix, range_start, range_end, status, live_count, error, created_at, finished_at
		 FROM sweeps ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Sweep
	for rows.Next() {
		sw, err := scanSweep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sw)
	}
	return out, rows.Err()
}

// SweepHosts 返回扫描得到的存活地址，保持写入时的排序。
func (s *Store) SweepHosts(ctx context.Context, id int64) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT address FROM sweep_hosts WHERE sweep_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSweep(row rowScanner) (*models.Sweep, error) {
	var sw models.Sweep
	var finished sql.NullTime
	if err := row.Scan(&sw.ID, &sw.Prefix, &sw.RangeStart, &sw.RangeEnd, &sw.Status, &sw.LiveCount, &sw.Error, &sw.CreatedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		sw.FinishedAt = &t
	}
	return &sw, nil
}
