package evidence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mikeyg42/sentryvision/internal/videoproc"
)

type fakeObjectStore struct {
	putErr     error
	presignErr error
	putKeys    []string
	deleted    []string
}

func (f *fakeObjectStore) PutFile(_ context.Context, key, _ string) error {
	f.putKeys = append(f.putKeys, key)
	return f.putErr
}

func (f *fakeObjectStore) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return "https://store.local/" + key + "?sig=ok", nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjectStore) HealthCheck(context.Context) error { return nil }

func TestPublishKeyLayout(t *testing.T) {
	store := &fakeObjectStore{}
	svc := NewLinkService(store, "incidents")

	link, err := svc.Publish(context.Background(), &videoproc.EvidenceFile{Path: "/tmp/ev.mp4"}, time.Hour)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if link.VideoID == "" || link.SignedURL == "" {
		t.Fatalf("incomplete link: %+v", link)
	}
	if len(store.putKeys) != 1 {
		t.Fatalf("expected one upload, got %d", len(store.putKeys))
	}
	key := store.putKeys[0]
	if !strings.HasPrefix(key, "incidents/") || !strings.HasSuffix(key, ".mp4") {
		t.Fatalf("key layout wrong: %q", key)
	}
	if !strings.Contains(key, link.VideoID) {
		t.Fatalf("key should embed the video ID: %q", key)
	}
	if remaining := time.Until(link.ExpiresAt); remaining <= 0 || remaining > time.Hour {
		t.Fatalf("expiry out of range: %v", link.ExpiresAt)
	}
}

func TestPublishNilEvidence(t *testing.T) {
	svc := NewLinkService(&fakeObjectStore{}, "")
	if _, err := svc.Publish(context.Background(), nil, time.Hour); err == nil {
		t.Fatal("expected error for nil evidence")
	}
}

func TestPublishUploadFailure(t *testing.T) {
	store := &fakeObjectStore{putErr: errors.New("bucket gone")}
	svc := NewLinkService(store, "incidents")
	if _, err := svc.Publish(context.Background(), &videoproc.EvidenceFile{Path: "/tmp/ev.mp4"}, time.Hour); err == nil {
		t.Fatal("expected upload error to surface")
	}
	if len(store.deleted) != 0 {
		t.Fatal("nothing to clean up when the upload itself failed")
	}
}

func TestPublishPresignFailureCleansUp(t *testing.T) {
	store := &fakeObjectStore{presignErr: errors.New("signer down")}
	svc := NewLinkService(store, "incidents")
	if _, err := svc.Publish(context.Background(), &videoproc.EvidenceFile{Path: "/tmp/ev.mp4"}, time.Hour); err == nil {
		t.Fatal("expected presign error to surface")
	}
	if len(store.deleted) != 1 {
		t.Fatalf("unlinkable object must be deleted, got %v", store.deleted)
	}
}
