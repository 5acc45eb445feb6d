package feed

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"ripple/cmd/internal/ids"
)

// fakeBackend records calls and serves scripted results.
type fakeBackend struct {
	mu sync.Mutex

	insertErr  error
	updateErr  error
	deleteErr  error
	setLikeErr error
	shareErr   error
	readErr    error

	shareCount int

	setLikeCalls  []bool
	insertCalls   int
	markReadCalls int
	markAllViewer string
}

func (b *fakeBackend) Insert(ctx context.Context, it Item) (Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertCalls++
	if b.insertErr != nil {
		return Item{}, b.insertErr
	}
	it.ID = "srv_" + it.ID
	return it, nil
}

func (b *fakeBackend) Update(ctx context.Context, topic Topic, id string, ch EditChanges) (Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.updateErr != nil {
		return Item{}, b.updateErr
	}
	return Item{ID: id, Body: ch.Body, ImageURL: ch.ImageURL, VideoURL: ch.VideoURL}, nil
}

func (b *fakeBackend) Delete(ctx context.Context, topic Topic, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteErr
}

func (b *fakeBackend) SetLike(ctx context.Context, targetID, viewerID string, liked bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLikeCalls = append(b.setLikeCalls, liked)
	return b.setLikeErr
}

func (b *fakeBackend) IncrementShare(ctx context.Context, id string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shareErr != nil {
		return 0, b.shareErr
	}
	b.shareCount++
	return b.shareCount, nil
}

func (b *fakeBackend) MarkRead(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markReadCalls++
	return b.readErr
}

func (b *fakeBackend) MarkAllRead(ctx context.Context, viewerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markAllViewer = viewerID
	return b.readErr
}

// fakeUploader returns deterministic URLs, or fails when err is set.
type fakeUploader struct {
	err     error
	uploads []string
}

func (u *fakeUploader) Upload(ctx context.Context, collection, name string, r io.Reader) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.uploads = append(u.uploads, collection+"/"+name)
	return "https://cdn.test/" + collection + "/" + name, nil
}

func newTestMutator(t *testing.T, s *Store, b Backend, up Uploader) *Mutator {
	t.Helper()
	m, err := NewMutator(MutatorConfig{
		Store:    s,
		Backend:  b,
		Identity: staticIdentity("viewer-1"),
		Media:    up,
		Log:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewMutator: %v", err)
	}
	return m
}

type staticIdentity string

func (s staticIdentity) ViewerID(ctx context.Context) (string, error) { return string(s), nil }
func (s staticIdentity) IsAuthenticated(ctx context.Context) bool     { return true }

func TestMutatorToggleLikeRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, PostsTopic(), 10)
	loadFirst(t, s, post("a", 10))
	b := &fakeBackend{}
	m := newTestMutator(t, s, b, nil)

	if err := m.ToggleLike(context.Background(), "a"); err != nil {
		t.Fatalf("ToggleLike: %v", err)
	}

	got, _ := s.Get("a")
	if !got.ViewerHasLiked || got.LikeCount != 1 {
		t.Fatalf("after toggle: liked=%v count=%d", got.ViewerHasLiked, got.LikeCount)
	}
	if len(b.setLikeCalls) != 1 || !b.setLikeCalls[0] {
		t.Fatalf("backend calls=%v", b.setLikeCalls)
	}
	if s.PendingCount() != 0 {
		t.Fatalf("pending=%d want=0", s.PendingCount())
	}
}

func TestMutatorToggleLikeFailureRollsBack(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, PostsTopic(), 10)
	it := post("a", 10)
	it.LikeCount = 2
	loadFirst(t, s, it)
	b := &fakeBackend{setLikeErr: errors.New("rejected")}
	m := newTestMutator(t, s, b, nil)

	if err := m.ToggleLike(context.Background(), "a"); err == nil {
		t.Fatalf("ToggleLike succeeded against a failing backend")
	}

	got, _ := s.Get("a")
	if got.ViewerHasLiked || got.LikeCount != 2 {
		t.Fatalf("rollback missed: liked=%v count=%d", got.ViewerHasLiked, got.LikeCount)
	}
}

func TestMutatorCreateSwapsInAuthoritativeItem(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, PostsTopic(), 10)
	loadFirst(t, s, post("a", 10))
	b := &fakeBackend{}
	m := newTestMutator(t, s, b, nil)

	created, err := m.Create(context.Background(), CreateInput{Body: "  hello  "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Body != "hello" {
		t.Fatalf("body=%q want trimmed", created.Body)
	}
	if created.AuthorID != "viewer-1" {
		t.Fatalf("author=%q", created.AuthorID)
	}

	items := s.Items()
	if len(items) != 2 || items[0].ID != created.ID {
		t.Fatalf("window=%v want authoritative item on top", itemIDs(items))
	}
	if ids.IsTempID(items[0].ID) {
		t.Fatalf("placeholder id survived commit: %q", items[0].ID)
	}
}

func TestMutatorCreateEmptyBodyRefused(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, PostsTopic(), 10)
	loadFirst(t, s)
	b := &fakeBackend{}
	m := newTestMutator(t, s, b, nil)

	if _, err := m.Create(context.Background(), CreateInput{Body: "   "}); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("err=%v want=%v", err, ErrEmptyBody)
	}
	if b.insertCalls != 0 {
		t.Fatalf("empty create reached the backend")
	}
}

func TestMutatorCreateFailureRemovesPlaceholder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, PostsTopic(), 10)
	loadFirst(t, s, post("a", 10))
	b := &fakeBackend{insertErr: errors.New("boom")}
	m := newTestMutator(t, s, b, nil)

	if _, err := m.Create(context.Background(), CreateInput{Body: "hello"}); err == nil {
		t.Fatalf("Create succeeded against a failing backend")
	}
	wantOrder(t, s.Items(), "a")
}

func TestMutatorCreateUploadsBeforeOptimisticState(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, PostsTopic(), 10)
	loadFirst(t, s, post("a", 10))
	b := &fakeBackend{}
	up := &fakeUploader{err: errors.New("storage down")}
	m := newTestMutator(t, s, b, up)

	in := CreateInput{Body: "pic", Image: &MediaInput{Name: "cat.png", Data: strings.NewReader("png")}}
	if _, err := m.Create(context.Background(), in); err == nil {
		t.Fatalf("Create succeeded with a failing uploader")
	}

	// The upload failed before any placeholder existed.
	wantOrder(t, s.Items(), "a")
	if b.insertCalls != 0 {
		t.Fatalf("failed upload still reached the backend")
	}
}

func TestMutatorCreateWithImageSetsURL(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, PostsTopic(), 10)
	loadFirst(t, s)
	b := &fakeBackend{}
	up := &fakeUploader{}
	m := newTestMutator(t, s, b, up)

	in := CreateInput{Body: "pic", Image: &MediaInput{Name: "cat.png", Data: strings.NewReader("png")}}
	created, err := m.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ImageURL != "https://cdn.test/"+CollectionImages+"/cat.png" {
		t.Fatalf("image url=%q", created.ImageURL)
	}
}

func TestMutatorEditRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, PostsTopic(), 10)
	loadFirst(t, s, post("a", 10))
	m := newTestMutator(t, s, &fakeBackend{}, nil)

	if err := m.Edit(context.Background(), "a", EditChanges{Body: "rewritten"}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	got, _ := s.Get("a")
	if got.Body != "rewritten" {
		t.Fatalf("body=%q", got.Body)
	}
}

func TestMutatorEditFailureRestoresSnapshot(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, PostsTopic(), 10)
	loadFirst(t, s, post("a", 10))
	m := newTestMutator(t, s, &fakeBackend{updateErr: errors.New("forbidden")}, nil)

	if err := m.Edit(context.Background(), "a", EditChanges{Body: "rewritten"}); err == nil {
		t.Fatalf("Edit succeeded against a failing backend")
	}
	got, _ := s.Get("a")
	if got.Body != "body a" {
		t.Fatalf("body=%q want snapshot restored", got.Body)
	}
}

func TestMutatorDeleteFailureReinserts(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, PostsTopic(), 10)
	loadFirst(t, s, post("a", 10), post("b", 20))
	m := newTestMutator(t, s, &fakeBackend{deleteErr: errors.New("timeout")}, nil)

	if err := m.Delete(context.Background(), "b"); err == nil {
		t.Fatalf("Delete succeeded against a failing backend")
	}
	wantOrder(t, s.Items(), "a", "b")
}

func TestMutatorShareReconcilesAuthoritativeCount(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, PostsTopic(), 10)
	it := post("a", 10)
	it.ShareCount = 1
	loadFirst(t, s, it)
	m := newTestMutator(t, s, &fakeBackend{shareCount: 5}, nil)

	if err := m.Share(context.Background(), "a"); err != nil {
		t.Fatalf("Share: %v", err)
	}
	got, _ := s.Get("a")
	if got.ShareCount != 6 {
		t.Fatalf("share count=%d want backend result 6", got.ShareCount)
	}
}

func TestMutatorMarkReadSkipsAlreadyRead(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, NotificationsTopic("u1"), 10)
	loadFirst(t, s, note("n1", 10, true))
	b := &fakeBackend{}
	m := newTestMutator(t, s, b, nil)

	if err := m.MarkRead(context.Background(), "n1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if b.markReadCalls != 0 {
		t.Fatalf("already-read notification reached the backend")
	}
}

func TestMutatorMarkAllReadPassesViewer(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, NotificationsTopic("u1"), 10)
	loadFirst(t, s, note("n1", 10, false))
	b := &fakeBackend{}
	m := newTestMutator(t, s, b, nil)

	if err := m.MarkAllRead(context.Background()); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if b.markAllViewer != "viewer-1" {
		t.Fatalf("viewer=%q", b.markAllViewer)
	}
	if got := s.UnreadCount(); got != 0 {
		t.Fatalf("UnreadCount()=%d want=0", got)
	}
}
