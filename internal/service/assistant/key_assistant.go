package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SetProviderKey stores (or replaces) the user's API key for a provider.
func (s *Service) SetProviderKey(ctx context.Context, userID int64, provider, key string) error {
	provider = strings.TrimSpace(provider)
	key = strings.TrimSpace(key)
	if provider == "" || key == "" {
		return errors.New("provider and key are required")
	}
	stored := key
	if s.cipher != nil {
		enc, err := s.cipher.Encrypt(key)
		if err != nil {
			return fmt.Errorf("encrypt provider key: %w", err)
		}
		stored = enc
	}
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM api_keys WHERE user_id = ? AND provider = ?`, userID, provider,
	); err != nil {
		return fmt.Errorf("replace provider key: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO api_keys (user_id, provider, api_key, created_at) VALUES (?, ?, ?, ?)`,
		userID, provider, stored, now,
	); err != nil {
		return fmt.Errorf("store provider key: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit provider key: %w", err)
	}
	return nil
}

// ListProviderKeys returns the providers a user has configured (never keys).
func (s *Service) ListProviderKeys(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider FROM api_keys WHERE user_id = ? ORDER BY provider`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list provider keys: %w", err)
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// DeleteProviderKey removes one provider key.
func (s *Service) DeleteProviderKey(ctx context.Context, userID int64, provider string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE user_id = ? AND provider = ?`, userID, provider,
	)
	if err != nil {
		return fmt.Errorf("delete provider key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// EnsureAIReady returns the user's decrypted key for the provider, verifying
// the model boundary can be built for this turn.
func (s *Service) EnsureAIReady(ctx context.Context, userID int64, provider string) (string, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", errors.New("provider is required")
	}
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key FROM api_keys WHERE user_id = ? AND provider = ?`, userID, provider,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("no API key configured for provider %s", provider)
		}
		return "", fmt.Errorf("load provider key: %w", err)
	}
	if s.cipher == nil {
		return stored, nil
	}
	plain, err := s.cipher.Decrypt(stored)
	if err != nil {
		if errors.Is(err, errInvalidCiphertext) {
			// Key predates encryption; accept as plaintext.
			return stored, nil
		}
		return "", err
	}
	return plain, nil
}
