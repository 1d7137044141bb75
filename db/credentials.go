package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/onnwee/nomi-bridge/crypto"
)

// Credential providers.
const (
	ProviderNomi = "nomi"
	ProviderLLM  = "llm"
)

var (
	encryptor     crypto.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

// initEncryptor initializes the encryptor from ENCRYPTION_KEY. When unset,
// keys are stored in plaintext (encryption_version=0) with a warning.
func initEncryptor() {
	encryptorOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, upstream API keys will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
			return
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("failed to initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("error", encryptorErr), slog.String("component", "db_encryption"))
			return
		}
		encryptor = enc
		slog.Info("credential encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
	})
}

func getEncryptor() (crypto.Encryptor, error) {
	initEncryptor()
	if encryptorErr != nil {
		return nil, encryptorErr
	}
	return encryptor, nil
}

// UpsertCredential stores or updates a per-user upstream credential. The key
// is encrypted at rest when ENCRYPTION_KEY is configured.
func UpsertCredential(ctx context.Context, dbx *sql.DB, userID, provider, apiKey, model string) error {
	enc, err := getEncryptor()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}
	encVersion := 0
	keyToStore := apiKey
	if enc != nil {
		encVersion = 1
		if apiKey != "" {
			encKey, err := crypto.EncryptString(enc, apiKey)
			if err != nil {
				return fmt.Errorf("encrypt api key: %w", err)
			}
			keyToStore = encKey
		}
	}
	q := `INSERT INTO credentials(user_id, provider, api_key, model, encryption_version, updated_at)
		  VALUES($1,$2,$3,$4,$5,NOW())
		  ON CONFLICT(user_id, provider) DO UPDATE SET
		    api_key=EXCLUDED.api_key,
		    model=EXCLUDED.model,
		    encryption_version=EXCLUDED.encryption_version,
		    updated_at=NOW()`
	_, err = dbx.ExecContext(ctx, q, userID, provider, keyToStore, model, encVersion)
	return err
}

// GetCredential retrieves a stored credential, decrypting when needed.
// Returns zero values if no row exists. Supports plaintext rows written
// before encryption was configured (version=0).
func GetCredential(ctx context.Context, dbx *sql.DB, userID, provider string) (apiKey, model string, err error) {
	var encVersion int
	row := dbx.QueryRowContext(ctx,
		`SELECT COALESCE(api_key,''), COALESCE(model,''), COALESCE(encryption_version, 0)
		 FROM credentials WHERE user_id=$1 AND provider=$2`, userID, provider)
	err = row.Scan(&apiKey, &model, &encVersion)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	if encVersion == 1 && apiKey != "" {
		enc, encErr := getEncryptor()
		if encErr != nil {
			return "", "", fmt.Errorf("get encryptor for decryption: %w", encErr)
		}
		if enc == nil {
			return "", "", fmt.Errorf("credential is encrypted but ENCRYPTION_KEY not configured")
		}
		dec, decErr := crypto.DecryptString(enc, apiKey)
		if decErr != nil {
			return "", "", fmt.Errorf("decrypt api key: %w", decErr)
		}
		apiKey = dec
	}
	return apiKey, model, nil
}
