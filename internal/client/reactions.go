package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/portfolio-blog/backend/internal/counters"
	"go.uber.org/zap"
)

type ReactionWidgetConfig struct {
	Slug    string
	Initial counters.ReactionCounts
	API     API
	Local   Storage
	Logger  *zap.Logger
}

// ReactionWidget lets a visitor leave each reaction at most once per post. Clicks apply
// optimistically, reconcile with the server's counts on success and revert on failure.
// A single in-flight flag serializes submissions across all kinds.
type ReactionWidget struct {
	mu         sync.Mutex
	slug       string
	api        API
	local      Storage
	logger     *zap.Logger
	counts     counters.ReactionCounts
	recorded   []counters.ReactionKind
	submitting bool
	inflight   sync.WaitGroup
}

// NewReactionWidget mounts the widget, loading the visitor's reactions from local storage.
func NewReactionWidget(cfg ReactionWidgetConfig) (*ReactionWidget, error) {
	slug := strings.TrimSpace(cfg.Slug)
	if slug == "" {
		return nil, errMissingSlug
	}
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	if cfg.Local == nil {
		return nil, errMissingStorage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	widget := &ReactionWidget{
		slug:   slug,
		api:    cfg.API,
		local:  cfg.Local,
		logger: logger,
		counts: cfg.Initial,
	}
	widget.recorded = widget.loadRecord()
	return widget, nil
}

// React handles a click on one reaction. It returns false when the click is ignored
// because the kind is already recorded, a submission is in flight, or the kind is unknown.
func (w *ReactionWidget) React(ctx context.Context, kind counters.ReactionKind) bool {
	if _, err := counters.ParseReactionKind(kind.String()); err != nil {
		return false
	}

	w.mu.Lock()
	if w.submitting || w.hasReactedLocked(kind) {
		w.mu.Unlock()
		return false
	}
	w.counts = w.counts.Add(kind, 1)
	w.recorded = append(w.recorded, kind)
	w.persistLocked()
	w.submitting = true
	w.inflight.Add(1)
	w.mu.Unlock()

	go w.submit(context.WithoutCancel(ctx), kind)
	return true
}

func (w *ReactionWidget) submit(ctx context.Context, kind counters.ReactionKind) {
	defer w.inflight.Done()
	counts, err := w.api.RecordReaction(ctx, w.slug, kind)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitting = false
	if err != nil {
		w.logger.Warn("failed to submit reaction",
			zap.String("slug", w.slug),
			zap.String("reaction", kind.String()),
			zap.Error(err))
		w.counts = w.counts.Add(kind, -1)
		w.removeLocked(kind)
		w.persistLocked()
		return
	}
	w.counts = counts
}

func (w *ReactionWidget) Counts() counters.ReactionCounts {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts
}

func (w *ReactionWidget) HasReacted(kind counters.ReactionKind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasReactedLocked(kind)
}

// Submitting reports whether a reaction request is outstanding. Every button is disabled
// while it is true.
func (w *ReactionWidget) Submitting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitting
}

// Recorded returns the visitor's reactions in the order they were left.
func (w *ReactionWidget) Recorded() []counters.ReactionKind {
	w.mu.Lock()
	defer w.mu.Unlock()
	kinds := make([]counters.ReactionKind, len(w.recorded))
	copy(kinds, w.recorded)
	return kinds
}

// Wait blocks until the outstanding submission, if any, has settled.
func (w *ReactionWidget) Wait() {
	w.inflight.Wait()
}

func (w *ReactionWidget) hasReactedLocked(kind counters.ReactionKind) bool {
	return containsKind(w.recorded, kind)
}

func (w *ReactionWidget) removeLocked(kind counters.ReactionKind) {
	kept := w.recorded[:0]
	for _, recorded := range w.recorded {
		if recorded != kind {
			kept = append(kept, recorded)
		}
	}
	w.recorded = kept
}

func (w *ReactionWidget) loadRecord() []counters.ReactionKind {
	raw, ok := w.local.Get(ReactionRecordKey(w.slug))
	if !ok {
		return nil
	}
	var stored []string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		w.logger.Warn("ignoring unreadable reaction record", zap.String("slug", w.slug), zap.Error(err))
		return nil
	}
	kinds := make([]counters.ReactionKind, 0, len(stored))
	for _, value := range stored {
		kind, err := counters.ParseReactionKind(value)
		if err != nil {
			continue
		}
		if !containsKind(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func (w *ReactionWidget) persistLocked() {
	values := make([]string, 0, len(w.recorded))
	for _, kind := range w.recorded {
		values = append(values, kind.String())
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		w.logger.Warn("failed to encode reaction record", zap.String("slug", w.slug), zap.Error(err))
		return
	}
	if err := w.local.Set(ReactionRecordKey(w.slug), string(encoded)); err != nil {
		w.logger.Warn("failed to persist reaction record", zap.String("slug", w.slug), zap.Error(err))
	}
}

func containsKind(kinds []counters.ReactionKind, kind counters.ReactionKind) bool {
	for _, existing := range kinds {
		if existing == kind {
			return true
		}
	}
	return false
}
