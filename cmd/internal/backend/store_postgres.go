package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ripple/cmd/internal/feed"
	"ripple/cmd/internal/ids"
)

// PostgresStore is a feed.Querier and feed.Backend backed by PostgreSQL,
// bound to one viewer for per-viewer like state.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	viewer string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "ripple").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("backend: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("backend: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed feed store for one viewer.
func NewPostgresStore(pool *pgxpool.Pool, viewer string, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "ripple",
		viewer: viewer,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("backend: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// FetchPage implements feed.Querier with keyset pagination: newest first,
// id ascending on equal timestamps, strictly older than the cursor.
func (s *PostgresStore) FetchPage(ctx context.Context, topic feed.Topic, pageSize int, before *feed.Cursor) ([]feed.Item, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("backend: nil store")
	}
	if err := topic.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = feed.DefaultPageSize
	}

	switch topic.Kind() {
	case feed.KindComment:
		return s.fetchComments(ctx, topic.Scope(), pageSize, before)
	case feed.KindNotification:
		return s.fetchNotifications(ctx, topic.Scope(), pageSize, before)
	default:
		return s.fetchPosts(ctx, pageSize, before)
	}
}

func (s *PostgresStore) fetchPosts(ctx context.Context, pageSize int, before *feed.Cursor) ([]feed.Item, error) {
	posts := pgIdent(s.schema, "posts")
	profiles := pgIdent(s.schema, "profiles")
	likes := pgIdent(s.schema, "likes")

	q := `SELECT p.id, p.author_id, COALESCE(pr.name, ''), COALESCE(pr.avatar_url, ''),
	             p.created_at, p.updated_at,
	             COALESCE(p.body, ''), COALESCE(p.image_url, ''), COALESCE(p.video_url, ''),
	             p.like_count, p.comment_count, p.share_count,
	             EXISTS (SELECT 1 FROM ` + likes + ` l WHERE l.item_id = p.id AND l.user_id = $1)
	        FROM ` + posts + ` p
	        LEFT JOIN ` + profiles + ` pr ON pr.id = p.author_id`
	args := []any{s.viewer}
	if before != nil {
		q += `
	       WHERE p.created_at < $2 OR (p.created_at = $2 AND p.id > $3)`
		args = append(args, before.CreatedAt, before.ID)
	}
	q += fmt.Sprintf(`
	       ORDER BY p.created_at DESC, p.id ASC
	       LIMIT $%d`, len(args)+1)
	args = append(args, pageSize)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]feed.Item, 0, pageSize)
	for rows.Next() {
		it := feed.Item{Kind: feed.KindPost}
		if err := rows.Scan(
			&it.ID, &it.AuthorID, &it.AuthorName, &it.AuthorAvatarURL,
			&it.CreatedAt, &it.UpdatedAt,
			&it.Body, &it.ImageURL, &it.VideoURL,
			&it.LikeCount, &it.CommentCount, &it.ShareCount,
			&it.ViewerHasLiked,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) fetchComments(ctx context.Context, postID string, pageSize int, before *feed.Cursor) ([]feed.Item, error) {
	comments := pgIdent(s.schema, "comments")
	profiles := pgIdent(s.schema, "profiles")
	likes := pgIdent(s.schema, "likes")

	q := `SELECT c.id, c.author_id, COALESCE(pr.name, ''), COALESCE(pr.avatar_url, ''),
	             c.created_at, c.updated_at, COALESCE(c.body, ''), c.like_count,
	             EXISTS (SELECT 1 FROM ` + likes + ` l WHERE l.item_id = c.id AND l.user_id = $1)
	        FROM ` + comments + ` c
	        LEFT JOIN ` + profiles + ` pr ON pr.id = c.author_id
	       WHERE c.post_id = $2`
	args := []any{s.viewer, postID}
	if before != nil {
		q += ` AND (c.created_at < $3 OR (c.created_at = $3 AND c.id > $4))`
		args = append(args, before.CreatedAt, before.ID)
	}
	q += fmt.Sprintf(`
	       ORDER BY c.created_at DESC, c.id ASC
	       LIMIT $%d`, len(args)+1)
	args = append(args, pageSize)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]feed.Item, 0, pageSize)
	for rows.Next() {
		it := feed.Item{Kind: feed.KindComment, TargetID: postID}
		if err := rows.Scan(
			&it.ID, &it.AuthorID, &it.AuthorName, &it.AuthorAvatarURL,
			&it.CreatedAt, &it.UpdatedAt, &it.Body, &it.LikeCount,
			&it.ViewerHasLiked,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) fetchNotifications(ctx context.Context, userID string, pageSize int, before *feed.Cursor) ([]feed.Item, error) {
	notifications := pgIdent(s.schema, "notifications")
	profiles := pgIdent(s.schema, "profiles")

	q := `SELECT n.id, n.sender_id, COALESCE(pr.name, ''), COALESCE(pr.avatar_url, ''),
	             n.created_at, n.type, COALESCE(n.target_id, ''), n.read
	        FROM ` + notifications + ` n
	        LEFT JOIN ` + profiles + ` pr ON pr.id = n.sender_id
	       WHERE n.user_id = $1`
	args := []any{userID}
	if before != nil {
		q += ` AND (n.created_at < $2 OR (n.created_at = $2 AND n.id > $3))`
		args = append(args, before.CreatedAt, before.ID)
	}
	q += fmt.Sprintf(`
	       ORDER BY n.created_at DESC, n.id ASC
	       LIMIT $%d`, len(args)+1)
	args = append(args, pageSize)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]feed.Item, 0, pageSize)
	for rows.Next() {
		it := feed.Item{Kind: feed.KindNotification}
		if err := rows.Scan(
			&it.ID, &it.AuthorID, &it.AuthorName, &it.AuthorAvatarURL,
			&it.CreatedAt, &it.NoteType, &it.TargetID, &it.Read,
		); err != nil {
			return nil, err
		}
		it.UpdatedAt = it.CreatedAt
		items = append(items, it)
	}
	return items, rows.Err()
}

// Insert implements feed.Backend. The store assigns the id and timestamps;
// a comment insert bumps its parent post's counter in the same transaction.
func (s *PostgresStore) Insert(ctx context.Context, it feed.Item) (feed.Item, error) {
	if s == nil || s.pool == nil {
		return feed.Item{}, errors.New("backend: nil store")
	}
	if err := ctx.Err(); err != nil {
		return feed.Item{}, err
	}
	if _, err := topicFor(it); err != nil {
		return feed.Item{}, err
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return feed.Item{}, err
	}
	it.ID = id
	it.CreatedAt = now
	it.UpdatedAt = now

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return feed.Item{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	switch it.Kind {
	case feed.KindPost:
		posts := pgIdent(s.schema, "posts")
		_, err = tx.Exec(ctx,
			`INSERT INTO `+posts+` (id, author_id, body, image_url, video_url, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			it.ID, it.AuthorID, it.Body, it.ImageURL, it.VideoURL, now,
		)
	case feed.KindComment:
		comments := pgIdent(s.schema, "comments")
		posts := pgIdent(s.schema, "posts")
		_, err = tx.Exec(ctx,
			`INSERT INTO `+comments+` (id, post_id, author_id, body, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $5)`,
			it.ID, it.TargetID, it.AuthorID, it.Body, now,
		)
		if err == nil {
			_, err = tx.Exec(ctx,
				`UPDATE `+posts+` SET comment_count = comment_count + 1, updated_at = $2 WHERE id = $1`,
				it.TargetID, now,
			)
		}
	case feed.KindNotification:
		notifications := pgIdent(s.schema, "notifications")
		_, err = tx.Exec(ctx,
			`INSERT INTO `+notifications+` (id, user_id, sender_id, type, read, created_at)
			 VALUES ($1, $2, $3, $4, FALSE, $5)`,
			it.ID, it.TargetID, it.AuthorID, it.NoteType, now,
		)
	}
	if err != nil {
		return feed.Item{}, fmt.Errorf("insert %s: %w", it.Kind, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return feed.Item{}, err
	}

	s.fillAuthor(ctx, &it)
	return it, nil
}

// Update implements feed.Backend for posts and comments.
func (s *PostgresStore) Update(ctx context.Context, topic feed.Topic, id string, ch feed.EditChanges) (feed.Item, error) {
	if s == nil || s.pool == nil {
		return feed.Item{}, errors.New("backend: nil store")
	}
	if err := ctx.Err(); err != nil {
		return feed.Item{}, err
	}

	now := time.Now().UTC()

	switch topic.Kind() {
	case feed.KindComment:
		comments := pgIdent(s.schema, "comments")
		it := feed.Item{Kind: feed.KindComment, TargetID: topic.Scope()}
		err := s.pool.QueryRow(ctx,
			`UPDATE `+comments+` SET body = $2, updated_at = $3
			  WHERE id = $1
			  RETURNING id, author_id, created_at, updated_at, COALESCE(body, ''), like_count`,
			id, ch.Body, now,
		).Scan(&it.ID, &it.AuthorID, &it.CreatedAt, &it.UpdatedAt, &it.Body, &it.LikeCount)
		if errors.Is(err, pgx.ErrNoRows) {
			return feed.Item{}, ErrNotFound
		}
		if err != nil {
			return feed.Item{}, err
		}
		s.fillAuthor(ctx, &it)
		return it, nil

	case feed.KindPost:
		posts := pgIdent(s.schema, "posts")
		it := feed.Item{Kind: feed.KindPost}
		err := s.pool.QueryRow(ctx,
			`UPDATE `+posts+` SET body = $2, image_url = $3, video_url = $4, updated_at = $5
			  WHERE id = $1
			  RETURNING id, author_id, created_at, updated_at,
			            COALESCE(body, ''), COALESCE(image_url, ''), COALESCE(video_url, ''),
			            like_count, comment_count, share_count`,
			id, ch.Body, ch.ImageURL, ch.VideoURL, now,
		).Scan(&it.ID, &it.AuthorID, &it.CreatedAt, &it.UpdatedAt,
			&it.Body, &it.ImageURL, &it.VideoURL,
			&it.LikeCount, &it.CommentCount, &it.ShareCount)
		if errors.Is(err, pgx.ErrNoRows) {
			return feed.Item{}, ErrNotFound
		}
		if err != nil {
			return feed.Item{}, err
		}
		s.fillAuthor(ctx, &it)
		return it, nil

	default:
		return feed.Item{}, errors.New("backend: notifications are not editable")
	}
}

// Delete implements feed.Backend.
func (s *PostgresStore) Delete(ctx context.Context, topic feed.Topic, id string) error {
	if s == nil || s.pool == nil {
		return errors.New("backend: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var tag pgconn.CommandTag
	switch topic.Kind() {
	case feed.KindComment:
		comments := pgIdent(s.schema, "comments")
		posts := pgIdent(s.schema, "posts")
		tag, err = tx.Exec(ctx, `DELETE FROM `+comments+` WHERE id = $1`, id)
		if err == nil && tag.RowsAffected() > 0 {
			_, err = tx.Exec(ctx,
				`UPDATE `+posts+` SET comment_count = GREATEST(comment_count - 1, 0) WHERE id = $1`,
				topic.Scope(),
			)
		}
	case feed.KindNotification:
		notifications := pgIdent(s.schema, "notifications")
		tag, err = tx.Exec(ctx, `DELETE FROM `+notifications+` WHERE id = $1`, id)
	default:
		likes := pgIdent(s.schema, "likes")
		comments := pgIdent(s.schema, "comments")
		posts := pgIdent(s.schema, "posts")
		if _, err = tx.Exec(ctx, `DELETE FROM `+likes+` WHERE item_id = $1`, id); err == nil {
			if _, err = tx.Exec(ctx, `DELETE FROM `+comments+` WHERE post_id = $1`, id); err == nil {
				tag, err = tx.Exec(ctx, `DELETE FROM `+posts+` WHERE id = $1`, id)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", topic.Kind(), err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// SetLike implements feed.Backend. The like row is the source of truth; the
// counter only moves when the row actually appears or disappears, so
// duplicate calls cannot skew it.
func (s *PostgresStore) SetLike(ctx context.Context, targetID, viewerID string, liked bool) error {
	if s == nil || s.pool == nil {
		return errors.New("backend: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	likes := pgIdent(s.schema, "likes")
	posts := pgIdent(s.schema, "posts")
	comments := pgIdent(s.schema, "comments")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var tag pgconn.CommandTag
	if liked {
		tag, err = tx.Exec(ctx,
			`INSERT INTO `+likes+` (item_id, user_id) VALUES ($1, $2)
			 ON CONFLICT (item_id, user_id) DO NOTHING`,
			targetID, viewerID,
		)
	} else {
		tag, err = tx.Exec(ctx,
			`DELETE FROM `+likes+` WHERE item_id = $1 AND user_id = $2`,
			targetID, viewerID,
		)
	}
	if err != nil {
		return fmt.Errorf("set like: %w", err)
	}

	if tag.RowsAffected() > 0 {
		delta := `like_count + 1`
		if !liked {
			delta = `GREATEST(like_count - 1, 0)`
		}
		tag, err = tx.Exec(ctx, `UPDATE `+posts+` SET like_count = `+delta+` WHERE id = $1`, targetID)
		if err == nil && tag.RowsAffected() == 0 {
			_, err = tx.Exec(ctx, `UPDATE `+comments+` SET like_count = `+delta+` WHERE id = $1`, targetID)
		}
		if err != nil {
			return fmt.Errorf("like counter: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// IncrementShare implements feed.Backend with a single atomic update.
func (s *PostgresStore) IncrementShare(ctx context.Context, id string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("backend: nil store")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	posts := pgIdent(s.schema, "posts")
	var count int
	err := s.pool.QueryRow(ctx,
		`UPDATE `+posts+` SET share_count = share_count + 1 WHERE id = $1 RETURNING share_count`,
		id,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return count, err
}

// MarkRead implements feed.Backend.
func (s *PostgresStore) MarkRead(ctx context.Context, id string) error {
	if s == nil || s.pool == nil {
		return errors.New("backend: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	notifications := pgIdent(s.schema, "notifications")
	tag, err := s.pool.Exec(ctx, `UPDATE `+notifications+` SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead implements feed.Backend.
func (s *PostgresStore) MarkAllRead(ctx context.Context, userID string) error {
	if s == nil || s.pool == nil {
		return errors.New("backend: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	notifications := pgIdent(s.schema, "notifications")
	_, err := s.pool.Exec(ctx,
		`UPDATE `+notifications+` SET read = TRUE WHERE user_id = $1 AND NOT read`,
		userID,
	)
	return err
}

// fillAuthor resolves display fields after a write. Failure is tolerated;
// the item is still authoritative without them.
func (s *PostgresStore) fillAuthor(ctx context.Context, it *feed.Item) {
	profiles := pgIdent(s.schema, "profiles")
	_ = s.pool.QueryRow(ctx,
		`SELECT COALESCE(name, ''), COALESCE(avatar_url, '') FROM `+profiles+` WHERE id = $1`,
		it.AuthorID,
	).Scan(&it.AuthorName, &it.AuthorAvatarURL)
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
