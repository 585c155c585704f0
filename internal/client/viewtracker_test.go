package client

import (
	"context"
	"errors"
	"testing"
)

func newTracker(t *testing.T, api API, session Storage) *ViewTracker {
	t.Helper()
	tracker, err := NewViewTracker(ViewTrackerConfig{Slug: "hello-world", API: api, Session: session})
	if err != nil {
		t.Fatalf("failed to create tracker: %v", err)
	}
	return tracker
}

func TestViewTrackerFiresOncePerSession(testContext *testing.T) {
	api := &fakeAPI{}
	session := NewMemoryStorage()
	tracker := newTracker(testContext, api, session)

	if state := tracker.Mount(); state != ViewArmed {
		testContext.Fatalf("expected armed tracker, got %s", state)
	}
	if !tracker.ObserveVisibility(context.Background(), 0.75) {
		testContext.Fatalf("expected first visible observation to fire")
	}
	if tracker.ObserveVisibility(context.Background(), 1) {
		testContext.Fatalf("second observation must not fire")
	}
	tracker.Wait()

	if api.views() != 1 {
		testContext.Fatalf("expected exactly one view call, got %d", api.views())
	}
	if tracker.State() != ViewTracked {
		testContext.Fatalf("expected tracked state, got %s", tracker.State())
	}
	if value, ok := session.Get(ViewMarkerKey("hello-world")); !ok || value != "true" {
		testContext.Fatalf("expected session marker, got %q %v", value, ok)
	}

	remounted := newTracker(testContext, api, session)
	if state := remounted.Mount(); state != ViewSkipped {
		testContext.Fatalf("expected skipped state for counted session, got %s", state)
	}
	if remounted.ObserveVisibility(context.Background(), 1) {
		testContext.Fatalf("skipped tracker must not fire")
	}
	if api.views() != 1 {
		testContext.Fatalf("remount triggered another view call")
	}
}

func TestViewTrackerWaitsForHalfVisibility(testContext *testing.T) {
	api := &fakeAPI{}
	tracker := newTracker(testContext, api, NewMemoryStorage())
	tracker.Mount()

	if tracker.ObserveVisibility(context.Background(), 0.49) {
		testContext.Fatalf("observation below threshold must not fire")
	}
	if tracker.State() != ViewArmed {
		testContext.Fatalf("expected tracker to remain armed")
	}
	if !tracker.ObserveVisibility(context.Background(), VisibilityThreshold) {
		testContext.Fatalf("observation at threshold must fire")
	}
	tracker.Wait()
	if api.views() != 1 {
		testContext.Fatalf("expected one view call, got %d", api.views())
	}
}

func TestViewTrackerMarksBeforeRequestCompletes(testContext *testing.T) {
	api := &fakeAPI{gate: make(chan struct{})}
	session := NewMemoryStorage()
	tracker := newTracker(testContext, api, session)
	tracker.Mount()

	if !tracker.ObserveVisibility(context.Background(), 1) {
		testContext.Fatalf("expected observation to fire")
	}
	if _, ok := session.Get(ViewMarkerKey("hello-world")); !ok {
		testContext.Fatalf("marker must be set while the request is in flight")
	}
	close(api.gate)
	tracker.Wait()
}

func TestViewTrackerKeepsMarkerAfterFailure(testContext *testing.T) {
	api := &fakeAPI{viewErr: errors.New("offline")}
	session := NewMemoryStorage()
	tracker := newTracker(testContext, api, session)
	tracker.Mount()

	tracker.ObserveVisibility(context.Background(), 1)
	tracker.Wait()

	if _, ok := session.Get(ViewMarkerKey("hello-world")); !ok {
		testContext.Fatalf("failed requests must not clear the marker")
	}
	if tracker.State() != ViewTracked {
		testContext.Fatalf("expected tracked state after failure, got %s", tracker.State())
	}
}

func TestViewTrackerUnmountBeforeVisible(testContext *testing.T) {
	api := &fakeAPI{}
	session := NewMemoryStorage()
	tracker := newTracker(testContext, api, session)
	tracker.Mount()
	tracker.Unmount()

	if tracker.ObserveVisibility(context.Background(), 1) {
		testContext.Fatalf("unmounted tracker must not fire")
	}
	if _, ok := session.Get(ViewMarkerKey("hello-world")); ok {
		testContext.Fatalf("unmounted tracker must not mark the session")
	}
	if tracker.Mount() != ViewArmed {
		testContext.Fatalf("expected tracker to re-arm on mount")
	}
}

func TestViewTrackerCountsAgainInNewSession(testContext *testing.T) {
	api := &fakeAPI{}
	session := NewMemoryStorage()
	first := newTracker(testContext, api, session)
	first.Mount()
	first.ObserveVisibility(context.Background(), 1)
	first.Wait()

	session.Clear()
	second := newTracker(testContext, api, session)
	if second.Mount() != ViewArmed {
		testContext.Fatalf("expected a new session to arm the tracker")
	}
	second.ObserveVisibility(context.Background(), 1)
	second.Wait()
	if api.views() != 2 {
		testContext.Fatalf("expected two view calls across sessions, got %d", api.views())
	}
}

func TestNewViewTrackerValidatesConfig(testContext *testing.T) {
	testCases := []struct {
		name string
		cfg  ViewTrackerConfig
		want error
	}{
		{name: "slug", cfg: ViewTrackerConfig{API: &fakeAPI{}, Session: NewMemoryStorage()}, want: errMissingSlug},
		{name: "api", cfg: ViewTrackerConfig{Slug: "post", Session: NewMemoryStorage()}, want: errMissingAPI},
		{name: "storage", cfg: ViewTrackerConfig{Slug: "post", API: &fakeAPI{}}, want: errMissingStorage},
	}
	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(testContext *testing.T) {
			if _, err := NewViewTracker(testCase.cfg); !errors.Is(err, testCase.want) {
				testContext.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}
