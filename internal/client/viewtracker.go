package client

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ViewState is the lifecycle of a view tracker for one post in one session.
type ViewState string

const (
	// ViewUntracked means no observer is attached.
	ViewUntracked ViewState = "untracked"
	// ViewArmed means the tracker is waiting for the post to become visible.
	ViewArmed ViewState = "armed"
	// ViewTracked means the view was counted and the observer detached.
	ViewTracked ViewState = "tracked"
	// ViewSkipped means the session had already counted this post when mounted.
	ViewSkipped ViewState = "skipped"
)

// VisibilityThreshold is the fraction of the post that must be on screen to count a view.
const VisibilityThreshold = 0.5

var (
	errMissingSlug    = errors.New("post slug is required")
	errMissingAPI     = errors.New("api dependency is required")
	errMissingStorage = errors.New("storage dependency is required")
)

type ViewTrackerConfig struct {
	Slug    string
	API     API
	Session Storage
	Logger  *zap.Logger
}

// ViewTracker counts at most one view per post per browsing session. The session marker
// is written before the request leaves, so a failed request is lost rather than retried.
type ViewTracker struct {
	mu       sync.Mutex
	slug     string
	api      API
	session  Storage
	logger   *zap.Logger
	state    ViewState
	inflight sync.WaitGroup
}

func NewViewTracker(cfg ViewTrackerConfig) (*ViewTracker, error) {
	slug := strings.TrimSpace(cfg.Slug)
	if slug == "" {
		return nil, errMissingSlug
	}
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	if cfg.Session == nil {
		return nil, errMissingStorage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewTracker{
		slug:    slug,
		api:     cfg.API,
		session: cfg.Session,
		logger:  logger,
		state:   ViewUntracked,
	}, nil
}

// Mount arms the tracker unless this session already counted the post.
func (t *ViewTracker) Mount() ViewState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != ViewUntracked {
		return t.state
	}
	if _, seen := t.session.Get(ViewMarkerKey(t.slug)); seen {
		t.state = ViewSkipped
		return t.state
	}
	t.state = ViewArmed
	return t.state
}

// ObserveVisibility reports the visible fraction of the post. It returns true when this
// observation fired the view request.
func (t *ViewTracker) ObserveVisibility(ctx context.Context, ratio float64) bool {
	t.mu.Lock()
	if t.state != ViewArmed || ratio < VisibilityThreshold {
		t.mu.Unlock()
		return false
	}
	if err := t.session.Set(ViewMarkerKey(t.slug), viewMarkerValue); err != nil {
		t.logger.Warn("failed to persist view marker", zap.String("slug", t.slug), zap.Error(err))
	}
	t.state = ViewTracked
	t.inflight.Add(1)
	t.mu.Unlock()

	go t.send(context.WithoutCancel(ctx))
	return true
}

func (t *ViewTracker) send(ctx context.Context) {
	defer t.inflight.Done()
	if _, err := t.api.RecordView(ctx, t.slug); err != nil {
		t.logger.Warn("failed to track view", zap.String("slug", t.slug), zap.Error(err))
	}
}

// Unmount detaches an armed observer. Terminal states are kept.
func (t *ViewTracker) Unmount() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == ViewArmed {
		t.state = ViewUntracked
	}
}

func (t *ViewTracker) State() ViewState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Wait blocks until the outstanding view request, if any, has completed.
func (t *ViewTracker) Wait() {
	t.inflight.Wait()
}
