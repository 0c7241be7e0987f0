package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitushen/netsweep/internal/models"
	"github.com/hitushen/netsweep/internal/targets"
)

const hostColumns = `
	h.id, h.name, h.address, h.scanning, h.created_at, h.updated_at,
	(SELECT COUNT(1) FROM ports p WHERE p.host_id = h.id AND p.status = 'open') AS open_count`

// ListHosts 按名称排序返回全部主机记录。
func (s *Store) ListHosts(ctx context.Context) ([]models.Host, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+hostColumns+` FROM hosts h ORDER BY h.name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []models.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, *h)
	}
	return hosts, rows.Err()
}

// GetHost 根据 ID 获取主机信息。
func (s *Store) GetHost(ctx context.Context, id int64) (*models.Host, error) {
	h, err := scanHost(s.DB.QueryRowContext(ctx, `SELECT `+hostColumns+` FROM hosts h WHERE h.id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return h, nil
}

// CreateHost 创建新的主机记录，名称重复时返回唯一约束错误。
func (s *Store) CreateHost(ctx context.Context, name, address string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `INSERT INTO hosts (name, address, scanning) VALUES (?, ?, 0)`, name, targets.Normalize(address))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ImportHosts 以地址作为名称批量添加主机，已存在的名称会被跳过，返回新增数量。
func (s *Store) ImportHosts(ctx context.Context, addresses []string) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	added := 0
	for _, addr := range addresses {
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO hosts (name, address, scanning) VALUES (?, ?, 0)`, addr, addr)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// DeleteHost 删除主机及其关联端口。
func (s *Store) DeleteHost(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// BeginScan 尝试为主机加扫描标记，已在扫描时返回 false。
func (s *Store) BeginScan(ctx context.Context, hostID int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE hosts SET scanning = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND scanning = 0`, hostID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// EndScan 清除主机的扫描标记。
func (s *Store) EndScan(ctx context.Context, hostID int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE hosts SET scanning = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, hostID)
	return err
}

// ResetScanning 清除上次进程异常退出遗留的扫描标记，未完成的巡检记为失败。
func (s *Store) ResetScanning(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, `UPDATE hosts SET scanning = 0 WHERE scanning = 1`); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sweeps SET status = ?, error = ?, finished_at = ? WHERE status IN (?, ?)`,
		models.SweepStatusFailed, SweepInterrupted, time.Now().UTC(),
		models.SweepStatusPending, models.SweepStatusRunning,
	)
	return err
}

// UpsertPort 写入端口的最新探测结果。
func (s *Store) UpsertPort(ctx context.Context, hostID int64, number int, service, status string, checkedAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO ports (host_id, number, service, status, last_checked) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(host_id, number) DO UPDATE SET
			service = excluded.service,
			status = excluded.status,
			last_checked = excluded.last_checked,
			updated_at = CURRENT_TIMESTAMP`,
		hostID, number, service, status, checkedAt.UTC(),
	)
	return err
}

// MarkClosedExcept 将主机上不在 open 中的已知端口标记为关闭，返回受影响的端口号。
func (s *Store) MarkClosedExcept(ctx context.Context, hostID int64, open []int, checkedAt time.Time) ([]int, error) {
	keep := make(map[int]struct{}, len(open))
	for _, p := range open {
		keep[p] = struct{}{}
	}
	known, err := s.ListPorts(ctx, hostID, "")
	if err != nil {
		return nil, err
	}
	var changed []int
	for _, p := range known {
		if _, ok := keep[p.Number]; ok || p.Status == models.PortStatusClosed {
			continue
		}
		if _, err := s.DB.ExecContext(ctx,
			`UPDATE ports SET status = ?, last_checked = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			models.PortStatusClosed, checkedAt.UTC(), p.ID,
		); err != nil {
			return nil, err
		}
		changed = append(changed, p.Number)
	}
	return changed, nil
}

// ListPorts 返回主机的端口记录，status 非空时按状态过滤。
func (s *Store) ListPorts(ctx context.Context, hostID int64, status string) ([]models.Port, error) {
	query := `SELECT id, host_id, number, service, status, last_checked, created_at, updated_at FROM ports WHERE host_id = ?`
	args := []any{hostID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY number ASC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ports []models.Port
	for rows.Next() {
		var p models.Port
		var lastChecked sql.NullTime
		if err := rows.Scan(&p.ID, &p.HostID, &p.Number, &p.Service, &p.Status, &lastChecked, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if lastChecked.Valid {
			p.LastChecked = lastChecked.Time
		}
		ports = append(ports, p)
	}
	return ports, rows.Err()
}

func scanHost(row rowScanner) (*models.Host, error) {
	var h models.Host
	var scanning int
	if err := row.Scan(&h.ID, &h.Name, &h.Address, &scanning, &h.CreatedAt, &h.UpdatedAt, &h.OpenCount); err != nil {
		return nil, err
	}
	h.Scanning = scanning == 1
	return &h, nil
}
