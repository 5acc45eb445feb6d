package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ripple/cmd/internal/feed"
)

// Integration tests are enabled when RIPPLE_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_FetchPage_Order_Cursor_NoOverlap(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema, "viewer-1")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	base := time.Now().UTC().Truncate(time.Microsecond)
	mustSeedPost(t, pool, schema, "a", base.Add(-10*time.Minute))
	mustSeedPost(t, pool, schema, "b", base.Add(-20*time.Minute))
	mustSeedPost(t, pool, schema, "c", base.Add(-30*time.Minute))
	// Equal timestamp pair: id ascending breaks the tie.
	mustSeedPost(t, pool, schema, "d1", base.Add(-40*time.Minute))
	mustSeedPost(t, pool, schema, "d2", base.Add(-40*time.Minute))

	first, err := store.FetchPage(ctx, feed.PostsTopic(), 3, nil)
	if err != nil {
		t.Fatalf("fetch first: %v", err)
	}
	assertIDs(t, first, "a", "b", "c")

	last := first[len(first)-1]
	second, err := store.FetchPage(ctx, feed.PostsTopic(), 3, &feed.Cursor{ID: last.ID, CreatedAt: last.CreatedAt})
	if err != nil {
		t.Fatalf("fetch second: %v", err)
	}
	assertIDs(t, second, "d1", "d2")
}

func TestPostgresStore_InsertComment_BumpsParentCounter(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema, "viewer-1")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	mustSeedPost(t, pool, schema, "p1", time.Now().UTC())

	created, err := store.Insert(ctx, feed.Item{
		Kind:     feed.KindComment,
		AuthorID: "viewer-1",
		TargetID: "p1",
		Body:     "nice",
	})
	if err != nil {
		t.Fatalf("insert comment: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected server-assigned id")
	}

	posts, err := store.FetchPage(ctx, feed.PostsTopic(), 10, nil)
	if err != nil {
		t.Fatalf("fetch posts: %v", err)
	}
	if posts[0].CommentCount != 1 {
		t.Fatalf("expected comment_count=1 got=%d", posts[0].CommentCount)
	}

	comments, err := store.FetchPage(ctx, feed.CommentsTopic("p1"), 10, nil)
	if err != nil {
		t.Fatalf("fetch comments: %v", err)
	}
	assertIDs(t, comments, created.ID)

	if err := store.Delete(ctx, feed.CommentsTopic("p1"), created.ID); err != nil {
		t.Fatalf("delete comment: %v", err)
	}
	posts, _ = store.FetchPage(ctx, feed.PostsTopic(), 10, nil)
	if posts[0].CommentCount != 0 {
		t.Fatalf("expected comment_count=0 got=%d", posts[0].CommentCount)
	}
}

func TestPostgresStore_SetLike_RowIsSourceOfTruth(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema, "viewer-1")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	mustSeedPost(t, pool, schema, "p1", time.Now().UTC())

	// Repeated likes must not inflate the counter.
	for i := 0; i < 3; i++ {
		if err := store.SetLike(ctx, "p1", "viewer-1", true); err != nil {
			t.Fatalf("set like: %v", err)
		}
	}
	page, err := store.FetchPage(ctx, feed.PostsTopic(), 10, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page[0].LikeCount != 1 || !page[0].ViewerHasLiked {
		t.Fatalf("after likes: count=%d liked=%v", page[0].LikeCount, page[0].ViewerHasLiked)
	}

	for i := 0; i < 3; i++ {
		if err := store.SetLike(ctx, "p1", "viewer-1", false); err != nil {
			t.Fatalf("clear like: %v", err)
		}
	}
	page, _ = store.FetchPage(ctx, feed.PostsTopic(), 10, nil)
	if page[0].LikeCount != 0 || page[0].ViewerHasLiked {
		t.Fatalf("after unlikes: count=%d liked=%v", page[0].LikeCount, page[0].ViewerHasLiked)
	}
}

func TestPostgresStore_Notifications_ReadFlow(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema, "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	n1, err := store.Insert(ctx, feed.Item{Kind: feed.KindNotification, AuthorID: "u2", NoteType: "like", TargetID: "u1"})
	if err != nil {
		t.Fatalf("insert notification: %v", err)
	}
	if _, err := store.Insert(ctx, feed.Item{Kind: feed.KindNotification, AuthorID: "u3", NoteType: "comment", TargetID: "u1"}); err != nil {
		t.Fatalf("insert notification: %v", err)
	}

	if err := store.MarkRead(ctx, n1.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	page, err := store.FetchPage(ctx, feed.NotificationsTopic("u1"), 10, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	unread := 0
	for _, it := range page {
		if !it.Read {
			unread++
		}
	}
	if unread != 1 {
		t.Fatalf("expected 1 unread got=%d", unread)
	}

	if err := store.MarkAllRead(ctx, "u1"); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	page, _ = store.FetchPage(ctx, feed.NotificationsTopic("u1"), 10, nil)
	for _, it := range page {
		if !it.Read {
			t.Fatalf("unread notification after MarkAllRead: %s", it.ID)
		}
	}
}

func TestPostgresStore_IncrementShare_Atomic(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema, "viewer-1")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	mustSeedPost(t, pool, schema, "p1", time.Now().UTC())

	count, err := store.IncrementShare(ctx, "p1")
	if err != nil {
		t.Fatalf("increment share: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected share_count=1 got=%d", count)
	}
	count, err = store.IncrementShare(ctx, "p1")
	if err != nil || count != 2 {
		t.Fatalf("expected share_count=2 got=%d err=%v", count, err)
	}
}

// ---- helpers ----

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("RIPPLE_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: RIPPLE_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse RIPPLE_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "ripple_it_" + randomHex(t, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	profiles := pgIdent(schema, "profiles")
	posts := pgIdent(schema, "posts")
	comments := pgIdent(schema, "comments")
	notifications := pgIdent(schema, "notifications")
	likes := pgIdent(schema, "likes")

	// Minimal schema required by PostgresStore.
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id         TEXT PRIMARY KEY,
  name       TEXT,
  avatar_url TEXT
);

CREATE TABLE IF NOT EXISTS %s (
  id            TEXT PRIMARY KEY,
  author_id     TEXT NOT NULL,
  body          TEXT,
  image_url     TEXT,
  video_url     TEXT,
  like_count    INT NOT NULL DEFAULT 0,
  comment_count INT NOT NULL DEFAULT 0,
  share_count   INT NOT NULL DEFAULT 0,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  id         TEXT PRIMARY KEY,
  post_id    TEXT NOT NULL,
  author_id  TEXT NOT NULL,
  body       TEXT,
  like_count INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  id         TEXT PRIMARY KEY,
  user_id    TEXT NOT NULL,
  sender_id  TEXT NOT NULL,
  type       TEXT NOT NULL,
  target_id  TEXT,
  read       BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  item_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  PRIMARY KEY (item_id, user_id)
);
`, profiles, posts, comments, notifications, likes)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustNewStore(t *testing.T, pool *pgxpool.Pool, schema, viewer string) *PostgresStore {
	t.Helper()

	store, err := NewPostgresStore(pool, viewer, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func mustSeedPost(t *testing.T, pool *pgxpool.Pool, schema, id string, createdAt time.Time) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	posts := pgIdent(schema, "posts")
	_, err := pool.Exec(ctx,
		`INSERT INTO `+posts+` (id, author_id, body, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`,
		id, "author-"+id, "body "+id, createdAt,
	)
	if err != nil {
		t.Fatalf("seed post %s: %v", id, err)
	}
}

func assertIDs(t *testing.T, items []feed.Item, ids ...string) {
	t.Helper()

	got := make([]string, len(items))
	for i := range items {
		got[i] = items[i].ID
	}
	if len(got) != len(ids) {
		t.Fatalf("page=%v want=%v", got, ids)
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("page[%d]=%q want=%q (full: %v)", i, got[i], ids[i], got)
		}
	}
}

func randomHex(t *testing.T, n int) string {
	t.Helper()

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("random: %v", err)
	}
	return hex.EncodeToString(buf)
}
