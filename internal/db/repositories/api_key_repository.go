// api_key_repository.go implements APIKeyRepository, providing database queries for API key
// creation, lookup by prefix during authentication and last-used tracking.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/consortium-members/membership-backend/internal/db/models"
)

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, scopes, expires_at, last_used_at, created_at`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db DBTX
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func scanAPIKey(row interface{ Scan(...interface{}) error }) (*models.APIKey, error) {
	k := &models.APIKey{}
	var scopesJSON []byte
	err := row.Scan(
		&k.ID,
		&k.UserID,
		&k.Name,
		&k.KeyHash,
		&k.KeyPrefix,
		&scopesJSON,
		&k.ExpiresAt,
		&k.LastUsedAt,
		&k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scopesJSON, &k.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode api key scopes: %w", err)
	}
	return k, nil
}

// CreateAPIKey creates a new API key
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	k.ID = uuid.New().String()
	k.CreatedAt = time.Now()

	scopesJSON, err := json.Marshal(k.Scopes)
	if err != nil {
		return fmt.Errorf("failed to encode api key scopes: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		k.ID,
		k.UserID,
		k.Name,
		k.KeyHash,
		k.KeyPrefix,
		scopesJSON,
		k.ExpiresAt,
		k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByID retrieves an API key by ID
func (r *APIKeyRepository) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`
	k, err := scanAPIKey(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return k, nil
}

func (r *APIKeyRepository) list(ctx context.Context, where string, arg interface{}) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE ` + where + ` ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetAPIKeysByPrefix retrieves API keys matching a prefix (for authentication)
func (r *APIKeyRepository) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	return r.list(ctx, "key_prefix = $1", prefix)
}

// ListAPIKeysByUser retrieves all API keys owned by a profile
func (r *APIKeyRepository) ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	return r.list(ctx, "user_id = $1", userID)
}

// UpdateLastUsed updates the last_used_at timestamp for an API key
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update api key last used: %w", err)
	}
	return nil
}

// DeleteAPIKey revokes an API key
func (r *APIKeyRepository) DeleteAPIKey(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return nil
}
