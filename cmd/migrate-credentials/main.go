// Package main provides a CLI tool to migrate stored upstream API keys from
// plaintext to encrypted storage.
//
// It encrypts all credentials where encryption_version=0 (plaintext) to
// version=1 (AES-256-GCM). ENCRYPTION_KEY must be set.
//
// Usage:
//
//	migrate-credentials [--dry-run] [--user USER_ID]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/onnwee/nomi-bridge/crypto"
)

type credentialRow struct {
	UserID   string
	Provider string
	APIKey   string
}

func main() {
	dryRun := flag.Bool("dry-run", false, "show what would be migrated without making changes")
	user := flag.String("user", "", "migrate credentials for a specific user only")
	flag.Parse()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration")
		os.Exit(1)
	}

	encryptor, err := crypto.NewAESEncryptor(encryptionKey)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("error", err))
		os.Exit(1)
	}

	database, err := sql.Open("pgx", dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	if err := migrateCredentials(ctx, database, encryptor, *dryRun, *user); err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("migration completed successfully")
}

// migrateCredentials encrypts all plaintext credentials (encryption_version=0).
func migrateCredentials(ctx context.Context, database *sql.DB, encryptor crypto.Encryptor, dryRun bool, userFilter string) error {
	query := `SELECT user_id, provider, COALESCE(api_key,'') FROM credentials WHERE encryption_version = 0`
	args := []any{}
	if userFilter != "" {
		query += " AND user_id = $1"
		args = append(args, userFilter)
	}
	query += " ORDER BY user_id, provider"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query plaintext credentials: %w", err)
	}
	defer rows.Close()

	var creds []credentialRow
	for rows.Next() {
		var c credentialRow
		if err := rows.Scan(&c.UserID, &c.Provider, &c.APIKey); err != nil {
			return fmt.Errorf("failed to scan credential row: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating credential rows: %w", err)
	}

	if len(creds) == 0 {
		slog.Info("no plaintext credentials found to migrate")
		return nil
	}
	slog.Info("found plaintext credentials to migrate",
		slog.Int("count", len(creds)),
		slog.Bool("dry_run", dryRun))

	migrated := 0
	errored := 0
	for i, c := range creds {
		logger := slog.With(
			slog.String("user", c.UserID),
			slog.String("provider", c.Provider),
			slog.Int("index", i+1),
			slog.Int("total", len(creds)))
		if dryRun {
			logger.Info("would migrate credential (dry-run)")
			migrated++
			continue
		}
		if err := migrateOne(ctx, database, encryptor, c); err != nil {
			logger.Error("failed to migrate credential", slog.Any("error", err))
			errored++
			continue
		}
		logger.Info("migrated credential successfully")
		migrated++
	}

	slog.Info("migration summary",
		slog.Int("total", len(creds)),
		slog.Int("migrated", migrated),
		slog.Int("errors", errored),
		slog.Bool("dry_run", dryRun))
	if errored > 0 {
		return fmt.Errorf("migration completed with %d errors", errored)
	}
	return nil
}

func migrateOne(ctx context.Context, database *sql.DB, encryptor crypto.Encryptor, c credentialRow) error {
	encrypted := ""
	if c.APIKey != "" {
		var err error
		encrypted, err = crypto.EncryptString(encryptor, c.APIKey)
		if err != nil {
			return fmt.Errorf("encrypt api key: %w", err)
		}
	}
	res, err := database.ExecContext(ctx,
		`UPDATE credentials SET api_key=$1, encryption_version=1, updated_at=NOW()
		 WHERE user_id=$2 AND provider=$3 AND encryption_version=0`,
		encrypted, c.UserID, c.Provider)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credential changed concurrently, not updated")
	}
	return nil
}
