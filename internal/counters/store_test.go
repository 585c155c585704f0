package counters

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestIncrementViewCountCreatesThenIncrements(testContext *testing.T) {
	store := mustStore(testContext)
	slug := mustSlug(testContext, "hello-world")
	ctx := context.Background()

	for expected := int64(1); expected <= 3; expected++ {
		if err := store.IncrementViewCount(ctx, slug); err != nil {
			testContext.Fatalf("increment failed: %v", err)
		}
		count, found, err := store.ViewCount(ctx, slug)
		if err != nil {
			testContext.Fatalf("read failed: %v", err)
		}
		if !found {
			testContext.Fatalf("expected row to exist after increment")
		}
		if count != expected {
			testContext.Fatalf("expected view count %d, got %d", expected, count)
		}
	}
}

func TestIncrementReactionCountTouchesOnlyTargetKind(testContext *testing.T) {
	store := mustStore(testContext)
	slug := mustSlug(testContext, "reactions")
	ctx := context.Background()

	if err := store.IncrementReactionCount(ctx, slug, ReactionLove); err != nil {
		testContext.Fatalf("increment failed: %v", err)
	}
	counts, found, err := store.ReactionCounts(ctx, slug)
	if err != nil || !found {
		testContext.Fatalf("expected stored row, found=%v err=%v", found, err)
	}
	if counts != (ReactionCounts{Like: 0, Love: 1, Celebrate: 0}) {
		testContext.Fatalf("unexpected counts after love: %+v", counts)
	}

	if err := store.IncrementReactionCount(ctx, slug, ReactionCelebrate); err != nil {
		testContext.Fatalf("increment failed: %v", err)
	}
	if err := store.IncrementReactionCount(ctx, slug, ReactionLove); err != nil {
		testContext.Fatalf("increment failed: %v", err)
	}
	counts, _, err = store.ReactionCounts(ctx, slug)
	if err != nil {
		testContext.Fatalf("read failed: %v", err)
	}
	if counts != (ReactionCounts{Like: 0, Love: 2, Celebrate: 1}) {
		testContext.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestIncrementReactionCountRejectsUnknownKind(testContext *testing.T) {
	store := mustStore(testContext)
	slug := mustSlug(testContext, "reactions")

	err := store.IncrementReactionCount(context.Background(), slug, ReactionKind("dislike"))
	if !errors.Is(err, ErrInvalidReaction) {
		testContext.Fatalf("expected invalid reaction error, got %v", err)
	}
	_, found, err := store.ReactionCounts(context.Background(), slug)
	if err != nil {
		testContext.Fatalf("read failed: %v", err)
	}
	if found {
		testContext.Fatalf("rejected reaction must not create a row")
	}
}

func TestReadsReturnZeroForMissingRows(testContext *testing.T) {
	store := mustStore(testContext)
	slug := mustSlug(testContext, "never-seen")

	views, found, err := store.ViewCount(context.Background(), slug)
	if err != nil {
		testContext.Fatalf("view read failed: %v", err)
	}
	if found || views != 0 {
		testContext.Fatalf("expected zero missing view row, got %d found=%v", views, found)
	}

	counts, found, err := store.ReactionCounts(context.Background(), slug)
	if err != nil {
		testContext.Fatalf("reaction read failed: %v", err)
	}
	if found || counts != (ReactionCounts{}) {
		testContext.Fatalf("expected zero missing reaction row, got %+v found=%v", counts, found)
	}
}

func TestConcurrentIncrementsAreNotLost(testContext *testing.T) {
	store := mustStore(testContext)
	slug := mustSlug(testContext, "busy-post")
	const writers = 25

	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for index := 0; index < writers; index++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.IncrementViewCount(context.Background(), slug); err != nil {
				errs <- err
			}
			if err := store.IncrementReactionCount(context.Background(), slug, ReactionLike); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		testContext.Fatalf("concurrent increment failed: %v", err)
	}

	views, _, err := store.ViewCount(context.Background(), slug)
	if err != nil {
		testContext.Fatalf("read failed: %v", err)
	}
	if views != writers {
		testContext.Fatalf("expected %d views, got %d", writers, views)
	}
	counts, _, err := store.ReactionCounts(context.Background(), slug)
	if err != nil {
		testContext.Fatalf("read failed: %v", err)
	}
	if counts.Like != writers || counts.Love != 0 || counts.Celebrate != 0 {
		testContext.Fatalf("unexpected reaction counts: %+v", counts)
	}
}

func TestNewStoreRequiresDatabase(testContext *testing.T) {
	if _, err := NewStore(nil, nil); err == nil {
		testContext.Fatalf("expected error for missing database")
	}
}
