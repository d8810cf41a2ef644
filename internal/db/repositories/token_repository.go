// token_repository.go implements TokenRepository, providing database queries for upload
// token lookup by prefix, creation, expiry cleanup, and last-used timestamp updates.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pratikychavan/PyPI-clone/internal/db/models"
)

// TokenRepository handles upload token database operations
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new TokenRepository
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// CreateToken creates a new upload token
func (r *TokenRepository) CreateToken(ctx context.Context, token *models.Token) error {
	token.ID = uuid.New().String()
	token.CreatedAt = time.Now()

	query := `
		INSERT INTO tokens (id, user_id, name, token_prefix, token_hash, expires_at, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.Name,
		token.TokenPrefix,
		token.TokenHash,
		token.ExpiresAt,
		token.LastUsedAt,
		token.CreatedAt,
	)

	return err
}

// GetTokenByID retrieves a token by ID
func (r *TokenRepository) GetTokenByID(ctx context.Context, tokenID string) (*models.Token, error) {
	query := `
		SELECT id, user_id, name, token_prefix, token_hash, expires_at, last_used_at, created_at
		FROM tokens
		WHERE id = $1
	`

	token := &models.Token{}
	err := r.db.QueryRowContext(ctx, query, tokenID).Scan(
		&token.ID,
		&token.UserID,
		&token.Name,
		&token.TokenPrefix,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.LastUsedAt,
		&token.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return token, nil
}

// GetTokensByPrefix retrieves tokens matching a prefix (for authentication).
// The prefix is not unique, so authentication bcrypt-compares the presented
// value against every candidate.
func (r *TokenRepository) GetTokensByPrefix(ctx context.Context, tokenPrefix string) ([]*models.Token, error) {
	query := `
		SELECT id, user_id, name, token_prefix, token_hash, expires_at, last_used_at, created_at
		FROM tokens
		WHERE token_prefix = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, tokenPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]*models.Token, 0)
	for rows.Next() {
		token := &models.Token{}
		err := rows.Scan(
			&token.ID,
			&token.UserID,
			&token.Name,
			&token.TokenPrefix,
			&token.TokenHash,
			&token.ExpiresAt,
			&token.LastUsedAt,
			&token.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

// ListTokensByUser retrieves all tokens belonging to a user
func (r *TokenRepository) ListTokensByUser(ctx context.Context, userID string) ([]*models.Token, error) {
	query := `
		SELECT id, user_id, name, token_prefix, token_hash, expires_at, last_used_at, created_at
		FROM tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]*models.Token, 0)
	for rows.Next() {
		token := &models.Token{}
		err := rows.Scan(
			&token.ID,
			&token.UserID,
			&token.Name,
			&token.TokenPrefix,
			&token.TokenHash,
			&token.ExpiresAt,
			&token.LastUsedAt,
			&token.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

// UpdateLastUsed updates the last_used_at timestamp for a token
func (r *TokenRepository) UpdateLastUsed(ctx context.Context, tokenID string) error {
	query := `
		UPDATE tokens
		SET last_used_at = $1
		WHERE id = $2
	`

	_, err := r.db.ExecContext(ctx, query, time.Now(), tokenID)
	return err
}

// RevokeToken deletes a token. Revocation is immediate and irreversible.
func (r *TokenRepository) RevokeToken(ctx context.Context, tokenID string) error {
	query := `DELETE FROM tokens WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, tokenID)
	return err
}

// DeleteExpiredTokens deletes all expired tokens and reports how many rows
// were removed (for the sweeper metric).
func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM tokens
		WHERE expires_at IS NOT NULL AND expires_at < $1
	`

	res, err := r.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}

	purged, err := res.RowsAffected()
	if err != nil {
		// Both supported drivers report affected rows; treat failure as zero.
		return 0, nil
	}
	return purged, nil
}
