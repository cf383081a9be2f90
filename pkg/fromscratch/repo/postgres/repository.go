// Package postgres provides the PostgreSQL-backed repository. The schema
// lives in schema.sql; event retention has no TTL equivalent here and is
// handled by a periodic DELETE (see the note in schema.sql).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

// DBTX is the database interface, satisfied by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements fromscratch.Repository using PostgreSQL.
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository.
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// eventFilterClause builds the WHERE conditions for an event filter,
// continuing the positional arguments from args.
func eventFilterClause(f fromscratch.EventFilter, args []interface{}) (string, []interface{}) {
	clause := ""
	if f.Start != nil {
		args = append(args, *f.Start)
		clause += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if f.End != nil {
		args = append(args, *f.End)
		clause += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	if f.EventType != "" {
		args = append(args, f.EventType)
		clause += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		clause += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	return clause, args
}

// Event operations

func (r *Repository) CreateEvent(ctx context.Context, event *fromscratch.AnalyticsEvent) error {
	query := `
		INSERT INTO analytics_events (
			id, event_type, event_data, session_id, user_id, timestamp,
			ip_address, country, city, region, timezone,
			device, browser, os
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`
	_, err := r.db.Exec(ctx, query,
		event.ID, event.EventType, event.EventData, event.SessionID,
		event.UserID, event.Timestamp,
		event.IPAddress, event.Country, event.City, event.Region, event.Timezone,
		event.Device, event.Browser, event.OS,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func scanEvents(rows pgx.Rows) ([]*fromscratch.AnalyticsEvent, error) {
	defer rows.Close()

	var events []*fromscratch.AnalyticsEvent
	for rows.Next() {
		ev := &fromscratch.AnalyticsEvent{}
		err := rows.Scan(
			&ev.ID, &ev.EventType, &ev.EventData, &ev.SessionID,
			&ev.UserID, &ev.Timestamp,
			&ev.IPAddress, &ev.Country, &ev.City, &ev.Region, &ev.Timezone,
			&ev.Device, &ev.Browser, &ev.OS,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *Repository) ListEvents(ctx context.Context, filter fromscratch.EventFilter, limit, skip int) ([]*fromscratch.AnalyticsEvent, int64, error) {
	clause, args := eventFilterClause(filter, nil)

	var total int64
	countQuery := "SELECT count(*) FROM analytics_events WHERE true" + clause
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := `
		SELECT id, event_type, event_data, session_id, user_id, timestamp,
		       ip_address, country, city, region, timezone,
		       device, browser, os
		FROM analytics_events
		WHERE true` + clause + `
		ORDER BY timestamp DESC
	`
	args = append(args, skip)
	query += fmt.Sprintf(" OFFSET $%d", len(args))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan events: %w", err)
	}
	return events, total, nil
}

func (r *Repository) CountEvents(ctx context.Context, filter fromscratch.EventFilter) (int64, error) {
	clause, args := eventFilterClause(filter, nil)

	var n int64
	query := "SELECT count(*) FROM analytics_events WHERE true" + clause
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (r *Repository) CountDistinctSessions(ctx context.Context, filter fromscratch.EventFilter) (int64, error) {
	clause, args := eventFilterClause(filter, nil)

	var n int64
	query := "SELECT count(DISTINCT session_id) FROM analytics_events WHERE true" + clause
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count distinct sessions: %w", err)
	}
	return n, nil
}

func (r *Repository) CountDistinctIPs(ctx context.Context, filter fromscratch.EventFilter) (int64, error) {
	clause, args := eventFilterClause(filter, nil)

	var n int64
	query := "SELECT count(DISTINCT ip_address) FROM analytics_events WHERE ip_address <> ''" + clause
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count distinct ips: %w", err)
	}
	return n, nil
}

func scanBuckets(rows pgx.Rows) ([]fromscratch.BucketCount, error) {
	defer rows.Close()

	var buckets []fromscratch.BucketCount
	for rows.Next() {
		var b fromscratch.BucketCount
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (r *Repository) CountEventsByField(ctx context.Context, field fromscratch.EventField, filter fromscratch.EventFilter, limit int) ([]fromscratch.BucketCount, error) {
	column, ok := fieldColumns[field]
	if !ok {
		return nil, fmt.Errorf("unknown event field %q", field)
	}
	clause, args := eventFilterClause(filter, nil)

	query := fmt.Sprintf(`
		SELECT %s, count(*) AS n
		FROM analytics_events
		WHERE %s <> ''%s
		GROUP BY %s
		ORDER BY n DESC, %s ASC
	`, column, column, clause, column, column)
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count events by %s: %w", column, err)
	}
	buckets, err := scanBuckets(rows)
	if err != nil {
		return nil, fmt.Errorf("scan buckets: %w", err)
	}
	return buckets, nil
}

// fieldColumns maps aggregation fields to their columns. Field names are
// never interpolated from user input.
var fieldColumns = map[fromscratch.EventField]string{
	fromscratch.FieldEventType: "event_type",
	fromscratch.FieldCountry:   "country",
	fromscratch.FieldDevice:    "device",
	fromscratch.FieldBrowser:   "browser",
	fromscratch.FieldOS:        "os",
}

func (r *Repository) TopPages(ctx context.Context, filter fromscratch.EventFilter, limit int) ([]fromscratch.BucketCount, error) {
	clause, args := eventFilterClause(filter, nil)

	// Key priority matches fromscratch.ResolvePagePath.
	query := `
		SELECT page_path, count(*) AS n
		FROM (
			SELECT COALESCE(
				NULLIF(event_data->>'path', ''),
				NULLIF(event_data->>'page', ''),
				NULLIF(event_data->>'pathname', ''),
				NULLIF(event_data->>'url', '')
			) AS page_path
			FROM analytics_events
			WHERE true` + clause + `
		) paths
		WHERE page_path IS NOT NULL
		GROUP BY page_path
		ORDER BY n DESC, page_path ASC
	`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("top pages: %w", err)
	}
	buckets, err := scanBuckets(rows)
	if err != nil {
		return nil, fmt.Errorf("scan top pages: %w", err)
	}
	return buckets, nil
}

func (r *Repository) DailyEventCounts(ctx context.Context, since time.Time) ([]fromscratch.DailyCount, error) {
	query := `
		SELECT to_char(timestamp, 'YYYY-MM-DD') AS day, count(*)
		FROM analytics_events
		WHERE timestamp >= $1
		GROUP BY day
		ORDER BY day ASC
	`
	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("daily event counts: %w", err)
	}
	defer rows.Close()

	var days []fromscratch.DailyCount
	for rows.Next() {
		var d fromscratch.DailyCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (r *Repository) OldestEventTime(ctx context.Context) (*time.Time, error) {
	var oldest time.Time
	err := r.db.QueryRow(ctx, "SELECT timestamp FROM analytics_events ORDER BY timestamp ASC LIMIT 1").Scan(&oldest)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oldest event: %w", err)
	}
	return &oldest, nil
}

// Rate limiting

// RegisterHit runs the increment-with-reset as a single upsert. The DO
// UPDATE WHERE guard drops the at-ceiling in-window case, so a rejected
// hit updates nothing and RETURNING yields no row.
func (r *Repository) RegisterHit(ctx context.Context, sessionID string, max int, window time.Duration, now time.Time) (bool, error) {
	cutoff := now.Add(-window)
	query := `
		INSERT INTO rate_limits (session_id, event_count, window_start)
		VALUES ($1, 1, $2)
		ON CONFLICT (session_id) DO UPDATE SET
			event_count = CASE
				WHEN rate_limits.window_start <= $3 THEN 1
				ELSE rate_limits.event_count + 1
			END,
			window_start = CASE
				WHEN rate_limits.window_start <= $3 THEN $2
				ELSE rate_limits.window_start
			END
		WHERE rate_limits.window_start <= $3 OR rate_limits.event_count < $4
		RETURNING event_count
	`

	var count int
	err := r.db.QueryRow(ctx, query, sessionID, now, cutoff, max).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("register hit: %w", err)
	}
	return true, nil
}

// Post operations

const postColumns = `
	id, title, slug, summary, content, category, tags, project_id,
	banner_url, author, seo_title, seo_description,
	is_published, published_date, created_at, updated_at
`

func scanPost(row pgx.Row) (*fromscratch.Post, error) {
	post := &fromscratch.Post{}
	err := row.Scan(
		&post.ID, &post.Title, &post.Slug, &post.Summary, &post.Content,
		&post.Category, &post.Tags, &post.ProjectID,
		&post.BannerURL, &post.Author, &post.SEOTitle, &post.SEODescription,
		&post.IsPublished, &post.PublishedDate, &post.CreatedAt, &post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (r *Repository) CreatePost(ctx context.Context, post *fromscratch.Post) error {
	query := `
		INSERT INTO posts (` + postColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Exec(ctx, query,
		post.ID, post.Title, post.Slug, post.Summary, post.Content,
		post.Category, post.Tags, post.ProjectID,
		post.BannerURL, post.Author, post.SEOTitle, post.SEODescription,
		post.IsPublished, post.PublishedDate, post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fromscratch.ErrSlugTaken
		}
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (r *Repository) GetPost(ctx context.Context, id uuid.UUID) (*fromscratch.Post, error) {
	query := "SELECT " + postColumns + " FROM posts WHERE id = $1"
	post, err := scanPost(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fromscratch.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

func (r *Repository) GetPostBySlug(ctx context.Context, slug string) (*fromscratch.Post, error) {
	query := "SELECT " + postColumns + " FROM posts WHERE slug = $1"
	post, err := scanPost(r.db.QueryRow(ctx, query, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fromscratch.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post by slug: %w", err)
	}
	return post, nil
}

func (r *Repository) UpdatePost(ctx context.Context, post *fromscratch.Post) error {
	query := `
		UPDATE posts SET
			title = $2, slug = $3, summary = $4, content = $5, category = $6,
			tags = $7, project_id = $8, banner_url = $9, author = $10,
			seo_title = $11, seo_description = $12,
			is_published = $13, published_date = $14, updated_at = $15
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		post.ID, post.Title, post.Slug, post.Summary, post.Content,
		post.Category, post.Tags, post.ProjectID, post.BannerURL, post.Author,
		post.SEOTitle, post.SEODescription,
		post.IsPublished, post.PublishedDate, post.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fromscratch.ErrSlugTaken
		}
		return fmt.Errorf("update post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fromscratch.ErrPostNotFound
	}
	return nil
}

func (r *Repository) DeletePost(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM posts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fromscratch.ErrPostNotFound
	}
	return nil
}

func (r *Repository) ListPosts(ctx context.Context, filter fromscratch.PostFilter) ([]*fromscratch.Post, error) {
	var args []interface{}
	clause := ""
	if !filter.IncludeDrafts {
		clause += " AND is_published"
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		clause += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		clause += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM unnest(tags) t WHERE lower(t) = lower($%d))", len(args))
	}

	query := "SELECT " + postColumns + ` FROM posts
		WHERE true` + clause + `
		ORDER BY COALESCE(published_date, created_at) DESC
	`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []*fromscratch.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// Project operations

const projectColumns = `
	id, title, slug, description, tech, repo_url, demo_url, image_url,
	featured, sort_order, created_at, updated_at
`

func scanProject(row pgx.Row) (*fromscratch.Project, error) {
	project := &fromscratch.Project{}
	err := row.Scan(
		&project.ID, &project.Title, &project.Slug, &project.Description,
		&project.Tech, &project.RepoURL, &project.DemoURL, &project.ImageURL,
		&project.Featured, &project.SortOrder, &project.CreatedAt, &project.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (r *Repository) CreateProject(ctx context.Context, project *fromscratch.Project) error {
	query := `
		INSERT INTO projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		project.ID, project.Title, project.Slug, project.Description,
		project.Tech, project.RepoURL, project.DemoURL, project.ImageURL,
		project.Featured, project.SortOrder, project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r *Repository) GetProject(ctx context.Context, id uuid.UUID) (*fromscratch.Project, error) {
	query := "SELECT " + projectColumns + " FROM projects WHERE id = $1"
	project, err := scanProject(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fromscratch.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

func (r *Repository) UpdateProject(ctx context.Context, project *fromscratch.Project) error {
	query := `
		UPDATE projects SET
			title = $2, slug = $3, description = $4, tech = $5,
			repo_url = $6, demo_url = $7, image_url = $8,
			featured = $9, sort_order = $10, updated_at = $11
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		project.ID, project.Title, project.Slug, project.Description,
		project.Tech, project.RepoURL, project.DemoURL, project.ImageURL,
		project.Featured, project.SortOrder, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fromscratch.ErrProjectNotFound
	}
	return nil
}

func (r *Repository) DeleteProject(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM projects WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fromscratch.ErrProjectNotFound
	}
	return nil
}

func (r *Repository) ListProjects(ctx context.Context) ([]*fromscratch.Project, error) {
	query := "SELECT " + projectColumns + ` FROM projects
		ORDER BY featured DESC, sort_order ASC, created_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*fromscratch.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// Preview token operations

func (r *Repository) CreatePreviewToken(ctx context.Context, token *fromscratch.PreviewToken) error {
	query := `
		INSERT INTO preview_tokens (token, post_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(ctx, query, token.Token, token.PostID, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert preview token: %w", err)
	}
	return nil
}

func (r *Repository) GetPreviewToken(ctx context.Context, token string) (*fromscratch.PreviewToken, error) {
	query := "SELECT token, post_id, created_at, expires_at FROM preview_tokens WHERE token = $1"

	t := &fromscratch.PreviewToken{}
	err := r.db.QueryRow(ctx, query, token).Scan(&t.Token, &t.PostID, &t.CreatedAt, &t.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fromscratch.ErrPreviewTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preview token: %w", err)
	}
	return t, nil
}

func (r *Repository) DeletePreviewToken(ctx context.Context, token string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM preview_tokens WHERE token = $1", token)
	if err != nil {
		return fmt.Errorf("delete preview token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fromscratch.ErrPreviewTokenNotFound
	}
	return nil
}

func (r *Repository) DeleteExpiredPreviewTokens(ctx context.Context, postID uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM preview_tokens WHERE post_id = $1 AND expires_at < $2", postID, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired preview tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) DeletePreviewTokensForPost(ctx context.Context, postID uuid.UUID) error {
	_, err := r.db.Exec(ctx, "DELETE FROM preview_tokens WHERE post_id = $1", postID)
	if err != nil {
		return fmt.Errorf("delete preview tokens for post: %w", err)
	}
	return nil
}
