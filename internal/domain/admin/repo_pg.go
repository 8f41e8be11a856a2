package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdobody2040/medilablis2/internal/platform/db"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// -- Settings --

type settingsRepoPG struct {
	pool *pgxpool.Pool
}

func NewSettingsRepoPG(pool *pgxpool.Pool) SettingsRepository {
	return &settingsRepoPG{pool: pool}
}

const settingCols = `key, value, updated_by, updated_at`

func scanSetting(row rowScanner) (*Setting, error) {
	var s Setting
	var raw []byte
	if err := row.Scan(&s.Key, &raw, &s.UpdatedBy, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Value = json.RawMessage(raw)
	return &s, nil
}

func (r *settingsRepoPG) List(ctx context.Context) ([]*Setting, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+settingCols+` FROM lab_settings ORDER BY key`)
	if err != nil {
		return nil, db.Classify(err, "setting", nil)
	}
	defer rows.Close()

	var out []*Setting
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *settingsRepoPG) Get(ctx context.Context, key string) (*Setting, error) {
	s, err := scanSetting(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+settingCols+` FROM lab_settings WHERE key = $1`, key))
	return s, db.Classify(err, "setting", nil)
}

func (r *settingsRepoPG) Upsert(ctx context.Context, key string, value json.RawMessage, updatedBy *uuid.UUID) (*Setting, error) {
	s, err := scanSetting(db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO lab_settings (key, value, updated_by)
		VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = now()
		RETURNING `+settingCols, key, []byte(value), updatedBy))
	return s, db.Classify(err, "setting", db.ConstraintFields{"lab_settings_updated_by_fkey": "updatedBy"})
}

// -- Action log --

type actionLogRepoPG struct {
	pool *pgxpool.Pool
}

func NewActionLogRepoPG(pool *pgxpool.Pool) ActionLogRepository {
	return &actionLogRepoPG{pool: pool}
}

const actionLogCols = `id, user_id, username, action, entity_type, entity_id, method, path,
	status_code, ip_address, request_id, created_at`

func scanActionLog(row rowScanner) (*ActionLog, error) {
	var l ActionLog
	err := row.Scan(&l.ID, &l.UserID, &l.Username, &l.Action, &l.EntityType, &l.EntityID,
		&l.Method, &l.Path, &l.StatusCode, &l.IPAddress, &l.RequestID, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *actionLogRepoPG) Create(ctx context.Context, l *ActionLog) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO action_logs (user_id, username, action, entity_type, entity_id, method, path,
			status_code, ip_address, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		l.UserID, l.Username, l.Action, l.EntityType, l.EntityID, l.Method, l.Path,
		l.StatusCode, l.IPAddress, l.RequestID, l.CreatedAt,
	).Scan(&l.ID)
	return db.Classify(err, "action log", nil)
}

func (r *actionLogRepoPG) List(ctx context.Context, f ActionLogFilter) ([]*ActionLog, int, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM action_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "action log", nil)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM action_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		actionLogCols, where, len(args)-1, len(args))
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err, "action log", nil)
	}
	defer rows.Close()

	var out []*ActionLog
	for rows.Next() {
		l, err := scanActionLog(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}
