package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ntavlas/go-newsletter-backend/internal/domain"
	"github.com/ntavlas/go-newsletter-backend/internal/repo"
)

func newPublishDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newPublishFileDB uses a file-backed database so multiple goroutines can
// run concurrent transactions against it.
func newPublishFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "publish_test.db")
	db, err := repo.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedConfirmed(t *testing.T, db *gorm.DB, emails ...string) {
	t.Helper()
	now := time.Now().UTC()
	for i, e := range emails {
		sub := domain.Subscriber{
			ID:           fmt.Sprintf("sub-%d", i),
			Email:        e,
			Name:         "Sub",
			Status:       domain.SubscriberConfirmed,
			SubscribedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := db.Create(&sub).Error; err != nil {
			t.Fatalf("seed subscriber %s: %v", e, err)
		}
	}
}

func TestPublish_ValidationErrors(t *testing.T) {
	svc := &PublishService{DB: newPublishDB(t)}
	ctx := context.Background()

	if _, _, err := svc.Publish(ctx, "admin", "Title", "<p>h</p>", "t", ""); err != ErrInvalidIdempotencyKey {
		t.Fatalf("empty key: expected ErrInvalidIdempotencyKey, got %v", err)
	}
	if _, _, err := svc.Publish(ctx, "admin", "Title", "h", "t", "bad key!"); err != ErrInvalidIdempotencyKey {
		t.Fatalf("malformed key: expected ErrInvalidIdempotencyKey, got %v", err)
	}
	if _, _, err := svc.Publish(ctx, "admin", "   ", "h", "t", "k1"); err != ErrEmptyTitle {
		t.Fatalf("blank title: expected ErrEmptyTitle, got %v", err)
	}
}

func TestPublish_CreatesIssueAndFansOut(t *testing.T) {
	db := newPublishDB(t)
	seedConfirmed(t, db, "a@example.com", "b@example.com")
	svc := &PublishService{DB: db}
	ctx := context.Background()

	resp, replayed, err := svc.Publish(ctx, "admin", "Issue #1", "<p>hi</p>", "hi", "key-1")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if replayed {
		t.Fatal("first publish must not be a replay")
	}
	if resp.Status != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", resp.Status, http.StatusSeeOther)
	}

	var ack PublishAck
	if err := json.Unmarshal(resp.Body, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Message != PublishedMessage || ack.IssueID == "" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	// Location header points back at the admin page.
	var loc string
	for _, h := range resp.Headers {
		if h.Name == "Location" {
			loc = h.Value
		}
	}
	if loc != "/admin/newsletters" {
		t.Fatalf("Location = %q", loc)
	}

	// Exactly one issue and one delivery task per confirmed subscriber.
	issues, total, err := svc.ListIssuesPage(ctx, 1, 10)
	if err != nil || total != 1 || len(issues) != 1 {
		t.Fatalf("issues after publish: total=%d err=%v", total, err)
	}
	n, err := repo.CountDeliveryTasks(ctx, db)
	if err != nil || n != 2 {
		t.Fatalf("queued tasks = %d, err = %v", n, err)
	}
}

func TestPublish_SameKeyReplaysByteForByte(t *testing.T) {
	db := newPublishDB(t)
	seedConfirmed(t, db, "a@example.com")
	svc := &PublishService{DB: db}
	ctx := context.Background()

	first, replayed, err := svc.Publish(ctx, "admin", "Issue #1", "<p>hi</p>", "hi", "key-1")
	if err != nil || replayed {
		t.Fatalf("first publish: replayed=%v err=%v", replayed, err)
	}

	second, replayed, err := svc.Publish(ctx, "admin", "Issue #1", "<p>hi</p>", "hi", "key-1")
	if err != nil {
		t.Fatalf("retry publish: %v", err)
	}
	if !replayed {
		t.Fatal("retry with same key must replay")
	}
	if second.Status != first.Status || !bytes.Equal(second.Body, first.Body) {
		t.Fatalf("replay differs: first=%+v second=%+v", first, second)
	}
	if len(second.Headers) != len(first.Headers) {
		t.Fatalf("replay header count differs: %d vs %d", len(second.Headers), len(first.Headers))
	}
	for i := range first.Headers {
		if second.Headers[i] != first.Headers[i] {
			t.Fatalf("replay header %d differs: %+v vs %+v", i, second.Headers[i], first.Headers[i])
		}
	}

	// No duplicated side effects.
	_, total, err := svc.ListIssuesPage(ctx, 1, 10)
	if err != nil || total != 1 {
		t.Fatalf("issue count after replay = %d, err = %v", total, err)
	}
	n, err := repo.CountDeliveryTasks(ctx, db)
	if err != nil || n != 1 {
		t.Fatalf("queued tasks after replay = %d, err = %v", n, err)
	}
}

func TestPublish_DifferentKeysPublishSeparately(t *testing.T) {
	db := newPublishDB(t)
	svc := &PublishService{DB: db}
	ctx := context.Background()

	if _, _, err := svc.Publish(ctx, "admin", "Issue #1", "h", "t", "key-1"); err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	if _, _, err := svc.Publish(ctx, "admin", "Issue #2", "h", "t", "key-2"); err != nil {
		t.Fatalf("publish 2: %v", err)
	}

	_, total, err := svc.ListIssuesPage(ctx, 1, 10)
	if err != nil || total != 2 {
		t.Fatalf("issue count = %d, err = %v", total, err)
	}
}

func TestPublish_ConcurrentSameKey_SingleIssue(t *testing.T) {
	db := newPublishFileDB(t)
	seedConfirmed(t, db, "a@example.com", "b@example.com", "c@example.com")
	svc := &PublishService{DB: db}
	ctx := context.Background()

	const attempts = 5
	var wg sync.WaitGroup
	responses := make([]*domain.StoredResponse, attempts)
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _, err := svc.Publish(ctx, "admin", "Issue #1", "<p>hi</p>", "hi", "shared-key")
			responses[i], errs[i] = resp, err
		}(i)
	}
	wg.Wait()

	// Exactly one caller publishes; every other caller must observe the
	// stored response rather than an error.
	first := responses[0]
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("concurrent publish %d failed: %v", i, errs[i])
		}
		if responses[i].Status != first.Status || !bytes.Equal(responses[i].Body, first.Body) {
			t.Fatalf("divergent responses under concurrency: %+v vs %+v", responses[i], first)
		}
	}

	_, total, err := svc.ListIssuesPage(ctx, 1, 10)
	if err != nil || total != 1 {
		t.Fatalf("issue count under concurrency = %d, err = %v", total, err)
	}
	n, err := repo.CountDeliveryTasks(ctx, db)
	if err != nil || n != 3 {
		t.Fatalf("queued tasks under concurrency = %d, err = %v", n, err)
	}
}

func TestPublish_KeysScopedPerUser(t *testing.T) {
	db := newPublishDB(t)
	svc := &PublishService{DB: db}
	ctx := context.Background()

	if _, _, err := svc.Publish(ctx, "alice", "Issue A", "h", "t", "k"); err != nil {
		t.Fatalf("alice publish: %v", err)
	}
	resp, replayed, err := svc.Publish(ctx, "bob", "Issue B", "h", "t", "k")
	if err != nil {
		t.Fatalf("bob publish: %v", err)
	}
	if replayed {
		t.Fatal("same key under a different user must not replay")
	}
	if resp == nil || resp.Status != http.StatusSeeOther {
		t.Fatalf("unexpected bob response: %+v", resp)
	}

	_, total, err := svc.ListIssuesPage(ctx, 1, 10)
	if err != nil || total != 2 {
		t.Fatalf("issue count = %d, err = %v", total, err)
	}
}

func TestPublish_ReplayIgnoresInvalidRetryPayload(t *testing.T) {
	db := newPublishDB(t)
	seedConfirmed(t, db, "a@example.com")
	svc := &PublishService{DB: db}
	ctx := context.Background()

	first, replayed, err := svc.Publish(ctx, "admin", "Issue #1", "<p>hi</p>", "hi", "key-1")
	if err != nil || replayed {
		t.Fatalf("fresh publish: replayed = %v, err = %v", replayed, err)
	}

	// A retry that lost its payload still gets the stored response.
	second, replayed, err := svc.Publish(ctx, "admin", "", "", "", "key-1")
	if err != nil {
		t.Fatalf("blank-title retry: %v", err)
	}
	if !replayed {
		t.Fatal("blank-title retry with a completed key must replay")
	}
	if second.Status != first.Status || !bytes.Equal(second.Body, first.Body) {
		t.Fatalf("replay diverged: %+v vs %+v", second, first)
	}

	// A blank title under an unused key is still rejected.
	if _, _, err := svc.Publish(ctx, "admin", "   ", "h", "t", "key-2"); err != ErrEmptyTitle {
		t.Fatalf("fresh blank title: expected ErrEmptyTitle, got %v", err)
	}
}
