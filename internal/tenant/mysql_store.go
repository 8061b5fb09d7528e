package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"agentgate/deploy/migrations"
)

// SQLStore reads tenant records from MySQL. The schema is ensured at
// construction so a fresh database works without a separate migration step.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens the database, verifies connectivity and ensures the
// tenants table exists.
func NewSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql dsn cannot be empty")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}
	statements, err := migrations.Statements()
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema migration: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

// Lookup loads the record for id.
func (s *SQLStore) Lookup(ctx context.Context, id string) (*Record, error) {
	const query = `SELECT id, agent_account, owner_account,
		COALESCE(chain_key, ''), permission, network, provider_key,
		gateway_secret, COALESCE(telegram_token, ''), COALESCE(xmtp_key, ''),
		sleep_policy
	FROM tenants WHERE id = ?`

	var record Record
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.AgentAccount,
		&record.OwnerAccount,
		&record.ChainKey,
		&record.Permission,
		&record.Network,
		&record.ProviderKey,
		&record.GatewaySecret,
		&record.TelegramToken,
		&record.XMTPKey,
		&record.SleepPolicy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", id, err)
	}
	return &record, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
