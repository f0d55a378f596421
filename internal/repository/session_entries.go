package repository

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/tokenstore"
)

var _ tokenstore.Store = (*Repository)(nil)

func (r *Repository) Load(ctx context.Context) (domain.Tokens, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entry_key, entry_value FROM session_entries`)
	if err != nil {
		return domain.Tokens{}, fmt.Errorf("failed to query session entries: %w", err)
	}
	defer rows.Close()

	var tokens domain.Tokens
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return domain.Tokens{}, fmt.Errorf("failed to scan session entry: %w", err)
		}
		switch key {
		case tokenstore.KeyAccessToken:
			tokens.AccessToken = value
		case tokenstore.KeyRefreshToken:
			tokens.RefreshToken = value
		case tokenstore.KeyRole:
			tokens.Role = value
		}
	}

	if err := rows.Err(); err != nil {
		return domain.Tokens{}, fmt.Errorf("row iteration error: %w", err)
	}
	return tokens, nil
}

func (r *Repository) Save(ctx context.Context, tokens domain.Tokens) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_entries`); err != nil {
		return fmt.Errorf("delete session entries: %w", err)
	}

	entries := [][2]string{
		{tokenstore.KeyAccessToken, tokens.AccessToken},
		{tokenstore.KeyRefreshToken, tokens.RefreshToken},
		{tokenstore.KeyRole, tokens.Role},
	}
	for _, e := range entries {
		if e[1] == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_entries (entry_key, entry_value) VALUES (?, ?)`, e[0], e[1]); err != nil {
			return fmt.Errorf("insert session entry %s: %w", e[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session entries: %w", err)
	}
	return nil
}

func (r *Repository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM session_entries`); err != nil {
		return fmt.Errorf("clear session entries: %w", err)
	}
	return nil
}
