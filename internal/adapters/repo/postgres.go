package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/infra/metrics"
)

// Postgres implements the repositories on pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.PostRepo        = (*Postgres)(nil)
	_ domain.InteractionRepo = (*Postgres)(nil)
)

// NewPostgres creates the database adapter.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const postColumns = `id, content, original_content, platforms, workflow_state, scheduled_at, priority, timezone, run_handle, created_by_command, originating_interaction_id, publish_results, created_at, updated_at`

func scanPost(row pgx.Row) (domain.Post, error) {
	var (
		post        domain.Post
		scheduledAt sql.NullTime
		priority    sql.NullString
		runHandle   sql.NullString
		originating sql.NullInt64
		results     []byte
	)
	err := row.Scan(&post.ID, &post.Content, &post.OriginalContent, &post.Platforms, &post.State, &scheduledAt, &priority, &post.Timezone, &runHandle, &post.CreatedByCommand, &originating, &results, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Post{}, domain.ErrPostNotFound
		}
		return domain.Post{}, err
	}
	if scheduledAt.Valid {
		ts := scheduledAt.Time
		post.ScheduledAt = &ts
	}
	if priority.Valid {
		post.Priority = domain.Priority(priority.String)
	}
	if runHandle.Valid {
		post.RunHandle = runHandle.String
	}
	if originating.Valid {
		id := originating.Int64
		post.OriginatingInteractionID = &id
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &post.PublishResults); err != nil {
			return domain.Post{}, fmt.Errorf("decode publish results: %w", err)
		}
	}
	return post, nil
}

// CreatePost stores the post with its variations and image options in
// one transaction, so a draft never appears without its options.
func (p *Postgres) CreatePost(ctx context.Context, post domain.Post, variations []domain.ContentVariation, images []domain.ImageOption) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "posts", start, err)
	if err != nil {
		return domain.Post{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var originating sql.NullInt64
	if post.OriginatingInteractionID != nil {
		originating = sql.NullInt64{Int64: *post.OriginatingInteractionID, Valid: true}
	}
	start = time.Now()
	created, err := scanPost(tx.QueryRow(ctx, `
INSERT INTO posts (content, original_content, platforms, workflow_state, timezone, created_by_command, originating_interaction_id)
VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7)
RETURNING `+postColumns, post.Content, post.OriginalContent, post.Platforms, post.State, post.Timezone, post.CreatedByCommand, originating))
	metrics.ObserveNetworkRequest("postgres", "posts_insert", "posts", start, err)
	if err != nil {
		return domain.Post{}, err
	}

	for _, v := range variations {
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO content_variations (post_id, variation_type, content, is_selected)
VALUES ($1, $2, $3, $4)
`, created.ID, v.VariationType, v.Content, v.IsSelected)
		metrics.ObserveNetworkRequest("postgres", "variations_insert", "content_variations", start, err)
		if err != nil {
			return domain.Post{}, err
		}
	}
	for _, img := range images {
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO image_options (post_id, option_index, url, caption, mime_type, is_selected)
VALUES ($1, $2, $3, $4, $5, $6)
`, created.ID, img.OptionIndex, img.URL, img.Caption, img.MimeType, img.IsSelected)
		metrics.ObserveNetworkRequest("postgres", "images_insert", "image_options", start, err)
		if err != nil {
			return domain.Post{}, err
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "posts", start, err)
	if err != nil {
		return domain.Post{}, err
	}
	return created, nil
}

// GetPost returns a post by id.
func (p *Postgres) GetPost(ctx context.Context, id int64) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	post, err := scanPost(p.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "posts_get", "posts", start, err)
	return post, err
}

// UpdateState commits a state transition guarded by the expected
// current state, so concurrent transitions cannot clobber each other.
func (p *Postgres) UpdateState(ctx context.Context, id int64, from, to domain.WorkflowState, upd domain.StateUpdate) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query := `UPDATE posts SET workflow_state = $3, updated_at = now()`
	args := []any{id, from, to}
	if upd.SetSchedule {
		args = append(args, upd.ScheduledAt, nullString(string(upd.Priority)))
		query += fmt.Sprintf(", scheduled_at = $%d, priority = $%d", len(args)-1, len(args))
	}
	if upd.ClearSchedule {
		query += ", scheduled_at = NULL, priority = NULL"
	}
	if upd.SetRunHandle {
		args = append(args, nullString(upd.RunHandle))
		query += fmt.Sprintf(", run_handle = $%d", len(args))
	}
	if upd.SetResults {
		payload, err := json.Marshal(upd.Results)
		if err != nil {
			return domain.Post{}, fmt.Errorf("encode publish results: %w", err)
		}
		args = append(args, payload)
		query += fmt.Sprintf(", publish_results = $%d", len(args))
	}
	query += ` WHERE id = $1 AND workflow_state = $2 RETURNING ` + postColumns

	start := time.Now()
	post, err := scanPost(p.pool.QueryRow(ctx, query, args...))
	metrics.ObserveNetworkRequest("postgres", "posts_update_state", "posts", start, err)
	if errors.Is(err, domain.ErrPostNotFound) {
		// Either the id is unknown or the state moved underneath us.
		if _, getErr := p.GetPost(ctx, id); getErr == nil {
			return domain.Post{}, domain.ErrStaleState
		}
		return domain.Post{}, domain.ErrPostNotFound
	}
	return post, err
}

// UpdateContent replaces the post body without touching the state.
func (p *Postgres) UpdateContent(ctx context.Context, id int64, content string) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	post, err := scanPost(p.pool.QueryRow(ctx, `
UPDATE posts SET content = $2, updated_at = now() WHERE id = $1
RETURNING `+postColumns, id, content))
	metrics.ObserveNetworkRequest("postgres", "posts_update_content", "posts", start, err)
	return post, err
}

// ListByState returns the most recent posts in the given states.
func (p *Postgres) ListByState(ctx context.Context, states []domain.WorkflowState, limit int) ([]domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, string(s))
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+postColumns+` FROM posts
WHERE workflow_state = ANY($1)
ORDER BY updated_at DESC
LIMIT $2`, names, limit)
	metrics.ObserveNetworkRequest("postgres", "posts_list_by_state", "posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPosts(rows)
}

// ListScheduled returns every post currently in scheduled state. Slot
// occupancy is always derived from this, never stored separately.
func (p *Postgres) ListScheduled(ctx context.Context) ([]domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+postColumns+` FROM posts
WHERE workflow_state = $1
ORDER BY scheduled_at ASC`, domain.StateScheduled)
	metrics.ObserveNetworkRequest("postgres", "posts_list_scheduled", "posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPosts(rows)
}

func collectPosts(rows pgx.Rows) ([]domain.Post, error) {
	var posts []domain.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// ListVariations returns the post's content variations in insertion
// order.
func (p *Postgres) ListVariations(ctx context.Context, postID int64) ([]domain.ContentVariation, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, post_id, variation_type, content, is_selected, created_at
FROM content_variations WHERE post_id = $1 ORDER BY id`, postID)
	metrics.ObserveNetworkRequest("postgres", "variations_list", "content_variations", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ContentVariation
	for rows.Next() {
		var v domain.ContentVariation
		if err := rows.Scan(&v.ID, &v.PostID, &v.VariationType, &v.Content, &v.IsSelected, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SelectVariation atomically deselects the previous variation and
// selects the named one, keeping exactly one selected per post.
func (p *Postgres) SelectVariation(ctx context.Context, postID int64, variationType string) (domain.ContentVariation, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "content_variations", start, err)
	if err != nil {
		return domain.ContentVariation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE content_variations SET is_selected = FALSE WHERE post_id = $1 AND is_selected`, postID); err != nil {
		return domain.ContentVariation{}, err
	}
	var v domain.ContentVariation
	err = tx.QueryRow(ctx, `
UPDATE content_variations SET is_selected = TRUE
WHERE post_id = $1 AND variation_type = $2
RETURNING id, post_id, variation_type, content, is_selected, created_at`, postID, variationType).
		Scan(&v.ID, &v.PostID, &v.VariationType, &v.Content, &v.IsSelected, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ContentVariation{}, domain.NewValidationError("post %d has no %q variation", postID, variationType)
		}
		return domain.ContentVariation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ContentVariation{}, err
	}
	return v, nil
}

// ListImageOptions returns the post's image options by option index.
func (p *Postgres) ListImageOptions(ctx context.Context, postID int64) ([]domain.ImageOption, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, post_id, option_index, url, caption, mime_type, is_selected, created_at
FROM image_options WHERE post_id = $1 ORDER BY option_index`, postID)
	metrics.ObserveNetworkRequest("postgres", "images_list", "image_options", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ImageOption
	for rows.Next() {
		var img domain.ImageOption
		if err := rows.Scan(&img.ID, &img.PostID, &img.OptionIndex, &img.URL, &img.Caption, &img.MimeType, &img.IsSelected, &img.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// SelectImageOption mirrors SelectVariation for image options; the two
// single-selection invariants are scoped independently.
func (p *Postgres) SelectImageOption(ctx context.Context, postID int64, optionIndex int) (domain.ImageOption, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "image_options", start, err)
	if err != nil {
		return domain.ImageOption{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE image_options SET is_selected = FALSE WHERE post_id = $1 AND is_selected`, postID); err != nil {
		return domain.ImageOption{}, err
	}
	var img domain.ImageOption
	err = tx.QueryRow(ctx, `
UPDATE image_options SET is_selected = TRUE
WHERE post_id = $1 AND option_index = $2
RETURNING id, post_id, option_index, url, caption, mime_type, is_selected, created_at`, postID, optionIndex).
		Scan(&img.ID, &img.PostID, &img.OptionIndex, &img.URL, &img.Caption, &img.MimeType, &img.IsSelected, &img.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImageOption{}, domain.NewValidationError("post %d has no image option %d", postID, optionIndex)
		}
		return domain.ImageOption{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ImageOption{}, err
	}
	return img, nil
}

// CreateInteraction appends one audit record. Interactions are never
// updated afterwards.
func (p *Postgres) CreateInteraction(ctx context.Context, it domain.Interaction) (domain.Interaction, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO interactions (actor, command, raw_args, status, result)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`, it.Actor, it.Command, it.RawArgs, it.Status, it.Result).
		Scan(&it.ID, &it.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "interactions_insert", "interactions", start, err)
	return it, err
}

// ListRecentInteractions returns the latest audit records.
func (p *Postgres) ListRecentInteractions(ctx context.Context, limit int) ([]domain.Interaction, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, actor, command, raw_args, status, result, created_at
FROM interactions ORDER BY id DESC LIMIT $1`, limit)
	metrics.ObserveNetworkRequest("postgres", "interactions_list", "interactions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Interaction
	for rows.Next() {
		var it domain.Interaction
		if err := rows.Scan(&it.ID, &it.Actor, &it.Command, &it.RawArgs, &it.Status, &it.Result, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
