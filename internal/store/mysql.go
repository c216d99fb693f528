package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkeye/dumpvoice/internal/domain"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	email VARCHAR(255) NOT NULL UNIQUE,
	username VARCHAR(64) NOT NULL UNIQUE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS channels (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	server_id BIGINT NOT NULL,
	name VARCHAR(255) NOT NULL,
	type VARCHAR(16) NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS server_members (
	server_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	PRIMARY KEY (server_id, user_id)
);
`

// MySQL is a Directory over the application's MySQL database.
type MySQL struct {
	db *sql.DB
}

// OpenMySQL connects with dsn and makes sure the tables exist.
// The dsn must enable multiStatements for the schema bootstrap.
func OpenMySQL(ctx context.Context, dsn string) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	log.Info().Str("module", "store.mysql").Msg("database initialized")
	return &MySQL{db: db}, nil
}

func (s *MySQL) Close() error { return s.db.Close() }

func (s *MySQL) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, username, is_active FROM users WHERE email = ?", email,
	).Scan(&u.ID, &u.Email, &u.Username, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (s *MySQL) User(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, username, is_active FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Email, &u.Username, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (s *MySQL) Channel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	var ch domain.Channel
	err := s.db.QueryRowContext(ctx,
		"SELECT id, server_id, name, type FROM channels WHERE id = ?", id,
	).Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query channel: %w", err)
	}
	return &ch, nil
}

func (s *MySQL) IsServerMember(ctx context.Context, server domain.ServerID, user domain.UserID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?", server, user,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return true, nil
}
