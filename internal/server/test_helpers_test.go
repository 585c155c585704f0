package server

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/portfolio-blog/backend/internal/counters"
	"github.com/portfolio-blog/backend/internal/posts"
	"gorm.io/gorm"
)

func newCountersService(t *testing.T, notifier counters.Notifier) *counters.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&counters.PostView{}, &counters.PostReaction{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := counters.NewStore(db, nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	service, err := counters.NewService(counters.ServiceConfig{Store: store, Notifier: notifier})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func newServiceWithStore(t *testing.T, store counters.CounterStore) *counters.Service {
	t.Helper()
	service, err := counters.NewService(counters.ServiceConfig{Store: store})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

// failingStore increments successfully but can be told to fail either step.
type failingStore struct {
	incrementErr error
	fetchErr     error
}

func (s failingStore) IncrementViewCount(context.Context, counters.Slug) error {
	return s.incrementErr
}

func (s failingStore) IncrementReactionCount(context.Context, counters.Slug, counters.ReactionKind) error {
	return s.incrementErr
}

func (s failingStore) ViewCount(context.Context, counters.Slug) (int64, bool, error) {
	return 0, false, s.fetchErr
}

func (s failingStore) ReactionCounts(context.Context, counters.Slug) (counters.ReactionCounts, bool, error) {
	return counters.ReactionCounts{}, false, s.fetchErr
}

type stubCatalog struct {
	entries []posts.Post
	err     error
}

func (c stubCatalog) All() ([]posts.Post, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.entries, nil
}

func (c stubCatalog) BySlug(slug string) (posts.Post, error) {
	if c.err != nil {
		return posts.Post{}, c.err
	}
	for _, entry := range c.entries {
		if entry.Slug == slug {
			return entry, nil
		}
	}
	return posts.Post{}, posts.ErrPostNotFound
}

var errStorageDown = errors.New("storage down")
