// Package creatives provides the PostgreSQL-backed repository for local
// creatives and their platform creative ids.
package creatives

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/adpipe/internal/common"
	"github.com/dmitrijs2005/adpipe/internal/dbx"
	"github.com/dmitrijs2005/adpipe/internal/models"
)

// PostgresRepository implements creative storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByIDs returns the creatives with the given ids, in the order of ids.
// Missing ids are skipped; callers compare lengths.
func (r *PostgresRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Creative, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT id, direction_id, COALESCE(title, ''), COALESCE(message, ''), media_type,
			COALESCE(media_key, ''), media_size,
			COALESCE(remote_creative_ids, '{}'::jsonb), COALESCE(carousel_cards, '[]'::jsonb), created_at
		FROM creatives WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select creatives: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*models.Creative, len(ids))
	for rows.Next() {
		var (
			c              models.Creative
			mediaType      string
			remote, carous []byte
		)
		if err := rows.Scan(&c.ID, &c.DirectionID, &c.Title, &c.Message, &mediaType,
			&c.MediaKey, &c.MediaSize, &remote, &carous, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.MediaType = models.MediaType(mediaType)
		if err := json.Unmarshal(remote, &c.RemoteCreativeIDs); err != nil {
			return nil, fmt.Errorf("creative %s: decode remote_creative_ids: %w", c.ID, err)
		}
		if err := json.Unmarshal(carous, &c.CarouselCards); err != nil {
			return nil, fmt.Errorf("creative %s: decode carousel_cards: %w", c.ID, err)
		}
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*models.Creative, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// SetRemoteCreativeID stores the platform creative id of a creative for one
// objective. Returns common.ErrorNotFound when the creative does not exist.
func (r *PostgresRepository) SetRemoteCreativeID(ctx context.Context, creativeID string, objective models.Objective, remoteID string) error {
	query := `
		UPDATE creatives
		SET remote_creative_ids = COALESCE(remote_creative_ids, '{}'::jsonb) || jsonb_build_object($2::text, $3::text)
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, creativeID, string(objective), remoteID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
