package evidence

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/sentryvision/internal/videoproc"
)

// Link is a time-limited playable reference to uploaded evidence.
type Link struct {
	VideoID   string    `json:"video_id"`
	SignedURL string    `json:"signed_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Publisher uploads an evidence file and returns a signed link for it.
// The notification dispatcher depends on this interface, not on MinIO.
type Publisher interface {
	Publish(ctx context.Context, ev *videoproc.EvidenceFile, expiry time.Duration) (Link, error)
}

// LinkService implements Publisher on top of an ObjectStore.
type LinkService struct {
	store  ObjectStore
	prefix string
	logger *zap.Logger
}

// NewLinkService stores objects under the given key prefix (e.g. "incidents").
func NewLinkService(store ObjectStore, prefix string) *LinkService {
	if prefix == "" {
		prefix = "incidents"
	}
	return &LinkService{
		store:  store,
		prefix: prefix,
		logger: zap.L().Named("evidence-link"),
	}
}

// Publish uploads the file and mints a signed URL valid for expiry. The
// local file stays on disk; the tempstore still owns its lifecycle.
func (l *LinkService) Publish(ctx context.Context, ev *videoproc.EvidenceFile, expiry time.Duration) (Link, error) {
	if ev == nil {
		return Link{}, fmt.Errorf("no evidence file to publish")
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	videoID := uuid.NewString()
	key := fmt.Sprintf("%s/%s/%s%s",
		l.prefix,
		time.Now().UTC().Format("2006/01/02"),
		videoID,
		filepath.Ext(ev.Path))

	if err := l.store.PutFile(ctx, key, ev.Path); err != nil {
		return Link{}, fmt.Errorf("upload evidence: %w", err)
	}

	url, err := l.store.PresignedURL(ctx, key, expiry)
	if err != nil {
		// The object is up but unlinkable; remove it so it does not leak.
		_ = l.store.Delete(ctx, key)
		return Link{}, fmt.Errorf("sign evidence link: %w", err)
	}

	link := Link{
		VideoID:   videoID,
		SignedURL: url,
		ExpiresAt: time.Now().Add(expiry),
	}
	l.logger.Info("evidence published",
		zap.String("video_id", videoID),
		zap.String("key", key),
		zap.Time("expires_at", link.ExpiresAt))
	return link, nil
}
