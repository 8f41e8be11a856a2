package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdobody2040/medilablis2/internal/platform/db"
)

var userConstraints = db.ConstraintFields{
	"users_username_key": "username",
	"users_email_key":    "email",
}

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, username, email, password_hash, first_name, last_name, role,
	is_active, last_login_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role,
		&u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, first_name, last_name, role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6::user_role, $7)
		RETURNING id, created_at, updated_at`,
		u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, string(u.Role), u.IsActive,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return db.Classify(err, "user", userConstraints)
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	return u, db.Classify(err, "user", nil)
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
	return u, db.Classify(err, "user", nil)
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE users SET first_name = $2, last_name = $3, role = $4::user_role, is_active = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.FirstName, u.LastName, string(u.Role), u.IsActive,
	).Scan(&u.UpdatedAt)
	return db.Classify(err, "user", userConstraints)
}

func (r *userRepoPG) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	return db.Classify(err, "user", nil)
}

func (r *userRepoPG) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "user", nil)
	}

	rows, err := conn.Query(ctx, `SELECT `+userCols+` FROM users ORDER BY username LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(err, "user", nil)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, db.Classify(err, "user", nil)
		}
		out = append(out, u)
	}
	return out, total, db.Classify(rows.Err(), "user", nil)
}

func (r *userRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, db.Classify(err, "user", nil)
}
