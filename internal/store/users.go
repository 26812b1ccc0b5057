package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateUser はユーザーを登録し、採番されたIDを設定して返します。
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user == nil {
		return errors.New("user is nil")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	if s.driver == driverPostgres {
		query := s.rebind(`INSERT INTO users
			(username, email, password_hash, api_key_hash, api_key_prefix, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
		err := s.db.QueryRowContext(ctx, query,
			user.Username, user.Email, user.PasswordHash,
			user.APIKeyHash, user.APIKeyPrefix, user.IsActive, user.CreatedAt,
		).Scan(&user.ID)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO users
		(username, email, password_hash, api_key_hash, api_key_prefix, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Username, user.Email, user.PasswordHash,
		user.APIKeyHash, user.APIKeyPrefix, user.IsActive, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	user.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted user id: %w", err)
	}
	return nil
}

const userColumns = `id, username, email, password_hash, api_key_hash, api_key_prefix, is_active, created_at`

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.APIKeyHash, &u.APIKeyPrefix, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// GetUserByID はIDでユーザーを取得します。存在しない場合は nil を返します。
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	return s.scanUser(row)
}

// GetUserByAPIKeyHash はAPIキーのハッシュでユーザーを検索します。
func (s *Store) GetUserByAPIKeyHash(ctx context.Context, hash string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE api_key_hash = ?`), hash)
	return s.scanUser(row)
}

// GetUserByLogin はユーザー名またはメールアドレスでユーザーを検索します。
func (s *Store) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE username = ? OR email = ?`), login, login)
	return s.scanUser(row)
}

// GetUserByUsername はユーザー名でユーザーを検索します。
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username)
	return s.scanUser(row)
}

// GetUserByEmail はメールアドレスでユーザーを検索します。
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`), email)
	return s.scanUser(row)
}

// CountUsers は登録済みユーザー数を返します。初期管理者の作成判定に使用します。
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// UpdateAPIKey はユーザーのAPIキー（ハッシュとプレフィックス）を差し替えます。
func (s *Store) UpdateAPIKey(ctx context.Context, userID int64, hash, prefix string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE users SET api_key_hash = ?, api_key_prefix = ? WHERE id = ?`),
		hash, prefix, userID)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user not found: %d", userID)
	}
	return nil
}
