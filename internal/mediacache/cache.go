// Package mediacache remembers uploaded media per ad account in a local
// SQLite database so the same file is not uploaded twice.
package mediacache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/dbx"
	"github.com/dmitrijs2005/adpipe/internal/filex"
	"github.com/dmitrijs2005/adpipe/internal/mediacache/migrations"
	"github.com/dmitrijs2005/adpipe/internal/models"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

type SQLiteCache struct {
	db     dbx.DBTX
	maxAge time.Duration
	now    func() time.Time
}

// New returns a cache over an already migrated database. Entries older than
// maxAge are ignored; zero keeps them forever.
func New(db dbx.DBTX, maxAge time.Duration) *SQLiteCache {
	return &SQLiteCache{db: db, maxAge: maxAge, now: time.Now}
}

// Open opens the SQLite database at dsn and applies the cache migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if err := filex.EnsureParentDir(dsn); err != nil {
		return nil, fmt.Errorf("open media cache: %w", err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open media cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// RunMigrations uses a goose provider rather than the package-level goose
// state, which belongs to the Postgres store.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("media cache migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("media cache migrations: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Lookup(ctx context.Context, adAccountID, fingerprint string) (models.MediaAsset, bool, error) {
	var (
		a       models.MediaAsset
		kind    string
		created int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT kind, remote_id, hash, thumbnail_url, created_at
		FROM media_assets
		WHERE ad_account_id = ? AND fingerprint = ?
	`, adAccountID, fingerprint).Scan(&kind, &a.ID, &a.Hash, &a.ThumbnailURL, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MediaAsset{}, false, nil
	}
	if err != nil {
		return models.MediaAsset{}, false, fmt.Errorf("failed to look up media[%s]: %w", fingerprint, err)
	}
	if c.expired(created) {
		return models.MediaAsset{}, false, nil
	}
	a.Kind = models.MediaKind(kind)
	return a, true, nil
}

func (c *SQLiteCache) Store(ctx context.Context, adAccountID, fingerprint string, asset models.MediaAsset) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO media_assets (ad_account_id, fingerprint, kind, remote_id, hash, thumbnail_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ad_account_id, fingerprint) DO UPDATE SET
			kind = excluded.kind,
			remote_id = excluded.remote_id,
			hash = excluded.hash,
			thumbnail_url = excluded.thumbnail_url,
			created_at = excluded.created_at
	`, adAccountID, fingerprint, string(asset.Kind), asset.ID, asset.Hash, asset.ThumbnailURL, c.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store media[%s]: %w", fingerprint, err)
	}
	return nil
}

// List returns the live entries of an ad account, newest first.
func (c *SQLiteCache) List(ctx context.Context, adAccountID string) ([]models.CachedAsset, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT fingerprint, kind, remote_id, hash, thumbnail_url, created_at
		FROM media_assets
		WHERE ad_account_id = ?
		ORDER BY created_at DESC, fingerprint
	`, adAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}
	defer rows.Close()

	var out []models.CachedAsset
	for rows.Next() {
		var (
			e       models.CachedAsset
			kind    string
			created int64
		)
		if err := rows.Scan(&e.Fingerprint, &kind, &e.Asset.ID, &e.Asset.Hash, &e.Asset.ThumbnailURL, &created); err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		if c.expired(created) {
			continue
		}
		e.AdAccountID = adAccountID
		e.Asset.Kind = models.MediaKind(kind)
		e.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate media rows: %w", err)
	}
	return out, nil
}

// Purge deletes expired entries and returns how many were removed.
func (c *SQLiteCache) Purge(ctx context.Context) (int64, error) {
	if c.maxAge <= 0 {
		return 0, nil
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM media_assets WHERE created_at < ?`, c.now().Add(-c.maxAge).Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge media: %w", err)
	}
	return res.RowsAffected()
}

func (c *SQLiteCache) expired(created int64) bool {
	return c.maxAge > 0 && c.now().Add(-c.maxAge).Unix() > created
}
