package counters

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustStore(t *testing.T) *Store {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "counters.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := database.AutoMigrate(&PostView{}, &PostReaction{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(database, func() time.Time {
		return time.Unix(1700000000, 0).UTC()
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func mustSlug(t *testing.T, value string) Slug {
	t.Helper()
	slug, err := NewSlug(value)
	if err != nil {
		t.Fatalf("unexpected slug error: %v", err)
	}
	return slug
}

// stubStore records calls and returns injected failures.
type stubStore struct {
	mu             sync.Mutex
	views          map[Slug]int64
	reactions      map[Slug]ReactionCounts
	incrementErr   error
	viewFetchErr   error
	reactFetchErr  error
	hideRows       bool
	incrementCalls int
}

func newStubStore() *stubStore {
	return &stubStore{
		views:     map[Slug]int64{},
		reactions: map[Slug]ReactionCounts{},
	}
}

func (s *stubStore) IncrementViewCount(_ context.Context, slug Slug) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incrementCalls++
	if s.incrementErr != nil {
		return s.incrementErr
	}
	s.views[slug]++
	return nil
}

func (s *stubStore) IncrementReactionCount(_ context.Context, slug Slug, kind ReactionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incrementCalls++
	if s.incrementErr != nil {
		return s.incrementErr
	}
	s.reactions[slug] = s.reactions[slug].Add(kind, 1)
	return nil
}

func (s *stubStore) ViewCount(_ context.Context, slug Slug) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewFetchErr != nil {
		return 0, false, s.viewFetchErr
	}
	value, ok := s.views[slug]
	if s.hideRows {
		return 0, false, nil
	}
	return value, ok, nil
}

func (s *stubStore) ReactionCounts(_ context.Context, slug Slug) (ReactionCounts, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reactFetchErr != nil {
		return ReactionCounts{}, false, s.reactFetchErr
	}
	value, ok := s.reactions[slug]
	if s.hideRows {
		return ReactionCounts{}, false, nil
	}
	return value, ok, nil
}

type recordingNotifier struct {
	mu          sync.Mutex
	events      []Event
	contextErrs []error
	err         error
}

func (n *recordingNotifier) Notify(ctx context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.contextErrs = append(n.contextErrs, ctx.Err())
	return n.err
}

// contexts returns the context error observed by each notification.
func (n *recordingNotifier) contexts() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.contextErrs...)
}

func (n *recordingNotifier) recorded() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}
