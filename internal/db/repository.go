package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/sitelevels/sitelevels/internal/records"
	"github.com/sitelevels/sitelevels/internal/snapshot"
)

// Repository implements snapshot.Repository on PostgreSQL.
type Repository struct {
	db *DB
}

// NewRepository wraps an open DB as a snapshot repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `url, title, description, header_tags, version, recorded_at, top_level_count, level, like_count, target_likes`

// LoadGroups loads all versions for a property, grouped by URL with each
// group's versions newest first.
func (r *Repository) LoadGroups(ctx context.Context, property string) ([]snapshot.Group, error) {
	rows, err := r.db.client.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM url_records
		WHERE property = $1
		ORDER BY url ASC, recorded_at DESC
	`, property)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot groups: %w", err)
	}
	defer rows.Close()

	var groups []snapshot.Group
	for rows.Next() {
		var (
			rec        records.Record
			headerJSON []byte
			likeCell   string
			targetCell string
		)
		if err := rows.Scan(
			&rec.URL, &rec.Title, &rec.Description, &headerJSON,
			&rec.Version, &rec.Timestamp, &rec.TopLevelCount, &rec.Level,
			&likeCell, &targetCell,
		); err != nil {
			return nil, fmt.Errorf("failed to scan url record: %w", err)
		}

		if err := json.Unmarshal(headerJSON, &rec.HeaderTags); err != nil {
			log.Warn().Err(err).Str("url", rec.URL).Msg("Unreadable header tags, leaving empty")
			rec.HeaderTags = map[string][]string{}
		}
		rec.LikeCount = parseCountCell(likeCell)
		rec.TargetLikes = parseCountCell(targetCell)

		if len(groups) == 0 || groups[len(groups)-1].URL != rec.URL {
			groups = append(groups, snapshot.Group{URL: rec.URL})
		}
		last := &groups[len(groups)-1]
		last.Versions = append(last.Versions, rec)
	}

	return groups, rows.Err()
}

// InsertRecords appends a batch of records for a property. The column
// order mirrors the persisted row shape and must not change.
func (r *Repository) InsertRecords(ctx context.Context, property string, recs []records.Record) error {
	return r.db.Execute(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO url_records (property, `+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare record insert statement: %w", err)
		}
		defer stmt.Close()

		for _, rec := range recs {
			if rec.URL == "" {
				return fmt.Errorf("%w: missing url", snapshot.ErrInvalidRecord)
			}

			headerJSON, err := json.Marshal(rec.HeaderTags)
			if err != nil {
				return fmt.Errorf("failed to encode header tags for %s: %w", rec.URL, err)
			}

			if _, err := stmt.ExecContext(ctx,
				property, rec.URL, rec.Title, rec.Description, headerJSON,
				rec.Version, rec.Timestamp, rec.TopLevelCount, rec.Level,
				rec.LikeCountCell(), rec.TargetLikesCell(),
			); err != nil {
				return fmt.Errorf("failed to insert record for %s: %w", rec.URL, err)
			}
		}
		return nil
	})
}

// UpsertProperty creates or updates a property index entry. A zero
// LastUpdated registers the property without bumping its timestamp, so
// runs can create the row up front and stamp completion separately.
func (r *Repository) UpsertProperty(ctx context.Context, info snapshot.PropertyInfo) error {
	var techJSON any
	if info.Technologies != nil {
		encoded, err := json.Marshal(info.Technologies)
		if err != nil {
			return fmt.Errorf("failed to encode technologies: %w", err)
		}
		techJSON = encoded
	}

	_, err := r.db.client.ExecContext(ctx, `
		INSERT INTO properties (name, base_url, technologies, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			base_url = EXCLUDED.base_url,
			technologies = COALESCE(EXCLUDED.technologies, properties.technologies),
			last_updated = GREATEST(properties.last_updated, EXCLUDED.last_updated)
	`, info.Name, info.BaseURL, techJSON, info.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert property %s: %w", info.Name, err)
	}

	r.db.Cache.Delete(propertyCacheKey(info.Name))
	return nil
}

// GetProperty returns one property index entry, cached between writes.
func (r *Repository) GetProperty(ctx context.Context, name string) (*snapshot.PropertyInfo, error) {
	if cached, ok := r.db.Cache.Get(propertyCacheKey(name)); ok {
		if info, ok := cached.(snapshot.PropertyInfo); ok {
			copied := info
			return &copied, nil
		}
	}

	var (
		info     snapshot.PropertyInfo
		techJSON []byte
	)
	err := r.db.client.QueryRowContext(ctx, `
		SELECT name, base_url, technologies, last_updated
		FROM properties
		WHERE name = $1
	`, name).Scan(&info.Name, &info.BaseURL, &techJSON, &info.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrPropertyNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load property %s: %w", name, err)
	}

	if len(techJSON) > 0 {
		if err := json.Unmarshal(techJSON, &info.Technologies); err != nil {
			log.Warn().Err(err).Str("property", name).Msg("Unreadable technologies column")
		}
	}

	r.db.Cache.Set(propertyCacheKey(name), info)
	return &info, nil
}

// ListProperties returns all property index entries.
func (r *Repository) ListProperties(ctx context.Context) ([]snapshot.PropertyInfo, error) {
	rows, err := r.db.client.QueryContext(ctx, `
		SELECT name, base_url, last_updated
		FROM properties
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer rows.Close()

	var infos []snapshot.PropertyInfo
	for rows.Next() {
		var info snapshot.PropertyInfo
		if err := rows.Scan(&info.Name, &info.BaseURL, &info.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// RemoveProperty deletes a property and, via cascade, its record history.
// This is the explicit reset operation.
func (r *Repository) RemoveProperty(ctx context.Context, name string) error {
	_, err := r.db.client.ExecContext(ctx, `DELETE FROM properties WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to remove property %s: %w", name, err)
	}
	r.db.Cache.Delete(propertyCacheKey(name))
	return nil
}

func propertyCacheKey(name string) string {
	return "property:" + name
}

// parseCountCell turns a persisted like/target cell back into a count.
// The sentinel strings map to nil.
func parseCountCell(cell string) *int {
	n, err := strconv.Atoi(cell)
	if err != nil {
		return nil
	}
	return &n
}
