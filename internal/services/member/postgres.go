package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type pgMemberRegistry struct {
	db *sql.DB
}

var _ IMemberRegistry = (*pgMemberRegistry)(nil)

func NewPostgresMemberRegistry(db *sql.DB) IMemberRegistry {
	return &pgMemberRegistry{db: db}
}

const memberColumns = `connection_id, room_id, device_type, device_id, nick_name, instance_id, joined_at`

func (r *pgMemberRegistry) Upsert(ctx context.Context, m Member) (*Member, error) {
	const q = `
	  INSERT INTO members (connection_id, room_id, device_type, device_id, nick_name, instance_id)
	       VALUES ($1, $2, $3, $4, $5, $6)
	  ON CONFLICT (connection_id) DO UPDATE
	        SET room_id     = EXCLUDED.room_id,
	            device_type = EXCLUDED.device_type,
	            device_id   = EXCLUDED.device_id,
	            nick_name   = EXCLUDED.nick_name,
	            instance_id = EXCLUDED.instance_id,
	            joined_at   = now()
	  RETURNING ` + memberColumns

	row := r.db.QueryRowContext(ctx, q,
		m.ConnectionID, m.RoomID, int16(m.DeviceType), m.DeviceID, m.NickName, m.InstanceID)
	out, err := scanMember(row)
	if err != nil {
		return nil, fmt.Errorf("upsert member %s: %w", m.ConnectionID, err)
	}
	return out, nil
}

func (r *pgMemberRegistry) FindOne(ctx context.Context, connectionID string) (*Member, error) {
	q := `SELECT ` + memberColumns + ` FROM members WHERE connection_id = $1`
	m, err := scanMember(r.db.QueryRowContext(ctx, q, connectionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find member %s: %w", connectionID, err)
	}
	return m, nil
}

func (r *pgMemberRegistry) Delete(ctx context.Context, connectionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM members WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("delete member %s: %w", connectionID, err)
	}
	return nil
}

func (r *pgMemberRegistry) Take(ctx context.Context, connectionID string) (*Member, error) {
	q := `DELETE FROM members WHERE connection_id = $1 RETURNING ` + memberColumns
	m, err := scanMember(r.db.QueryRowContext(ctx, q, connectionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take member %s: %w", connectionID, err)
	}
	return m, nil
}

func (r *pgMemberRegistry) ListByRoom(ctx context.Context, roomID string) ([]Member, error) {
	return r.list(ctx, `SELECT `+memberColumns+` FROM members WHERE room_id = $1 ORDER BY joined_at`, roomID)
}

func (r *pgMemberRegistry) FindByDevice(ctx context.Context, deviceType DeviceType, deviceID string) ([]Member, error) {
	return r.list(ctx, `SELECT `+memberColumns+` FROM members WHERE device_type = $1 AND device_id = $2`,
		int16(deviceType), deviceID)
}

func (r *pgMemberRegistry) ListByInstance(ctx context.Context, instanceID string) ([]Member, error) {
	return r.list(ctx, `SELECT `+memberColumns+` FROM members WHERE instance_id = $1`, instanceID)
}

func (r *pgMemberRegistry) Instances(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT instance_id FROM members ORDER BY instance_id`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *pgMemberRegistry) list(ctx context.Context, q string, args ...any) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Member
	for rows.Next() {
		var (
			m  Member
			dt int16
		)
		if err := rows.Scan(&m.ConnectionID, &m.RoomID, &dt, &m.DeviceID,
			&m.NickName, &m.InstanceID, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.DeviceType = DeviceType(dt)
		list = append(list, m)
	}
	return list, rows.Err()
}

func scanMember(row *sql.Row) (*Member, error) {
	var (
		m  Member
		dt int16
	)
	if err := row.Scan(&m.ConnectionID, &m.RoomID, &dt, &m.DeviceID,
		&m.NickName, &m.InstanceID, &m.JoinedAt); err != nil {
		return nil, err
	}
	m.DeviceType = DeviceType(dt)
	return &m, nil
}
