package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ripple/cmd/internal/feed"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	feeds map[feed.Topic]*Feed,
	metrics *feed.Metrics,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if reg := metrics.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/v1/feed", handleFeedSnapshot(feeds))
}

// feedSnapshot is the introspection view of one window.
type feedSnapshot struct {
	Topic            string     `json:"topic"`
	Items            []feedItem `json:"items"`
	HasMore          bool       `json:"has_more"`
	Loading          bool       `json:"loading"`
	Refreshing       bool       `json:"refreshing"`
	UnreadCount      int        `json:"unread_count,omitempty"`
	PendingMutations int        `json:"pending_mutations"`
}

type feedItem struct {
	ID              string    `json:"id"`
	AuthorID        string    `json:"author_id"`
	AuthorName      string    `json:"author_name,omitempty"`
	AuthorAvatarURL string    `json:"author_avatar_url,omitempty"`
	Kind            string    `json:"kind"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Body            string    `json:"body,omitempty"`
	ImageURL        string    `json:"image_url,omitempty"`
	VideoURL        string    `json:"video_url,omitempty"`
	NoteType        string    `json:"note_type,omitempty"`
	TargetID        string    `json:"target_id,omitempty"`
	Read            bool      `json:"read,omitempty"`
	LikeCount       int       `json:"like_count"`
	CommentCount    int       `json:"comment_count"`
	ShareCount      int       `json:"share_count"`
	ViewerHasLiked  bool      `json:"viewer_has_liked"`
}

func handleFeedSnapshot(feeds map[feed.Topic]*Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := feed.Topic(r.URL.Query().Get("topic"))
		if topic == "" {
			topic = feed.PostsTopic()
		}

		f, ok := feeds[topic]
		if !ok {
			http.Error(w, "unknown topic", http.StatusNotFound)
			return
		}

		items := f.Store.Items()
		snap := feedSnapshot{
			Topic:            string(topic),
			Items:            make([]feedItem, 0, len(items)),
			HasMore:          f.Store.HasMore(),
			Loading:          f.Store.Loading(),
			Refreshing:       f.Store.Refreshing(),
			PendingMutations: f.Store.PendingCount(),
		}
		if topic.Kind() == feed.KindNotification {
			snap.UnreadCount = f.Store.UnreadCount()
		}
		for _, it := range items {
			snap.Items = append(snap.Items, feedItem{
				ID:              it.ID,
				AuthorID:        it.AuthorID,
				AuthorName:      it.AuthorName,
				AuthorAvatarURL: it.AuthorAvatarURL,
				Kind:            string(it.Kind),
				CreatedAt:       it.CreatedAt,
				UpdatedAt:       it.UpdatedAt,
				Body:            it.Body,
				ImageURL:        it.ImageURL,
				VideoURL:        it.VideoURL,
				NoteType:        it.NoteType,
				TargetID:        it.TargetID,
				Read:            it.Read,
				LikeCount:       it.LikeCount,
				CommentCount:    it.CommentCount,
				ShareCount:      it.ShareCount,
				ViewerHasLiked:  it.ViewerHasLiked,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, "encode failed", http.StatusInternalServerError)
		}
	}
}
