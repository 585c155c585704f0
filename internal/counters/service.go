package counters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrMissingStore reports a service built without a counter store.
	ErrMissingStore = errors.New("counter store is required")
	// ErrIncrementFailed reports that the atomic increment did not commit.
	ErrIncrementFailed = errors.New("counter increment failed")
	// ErrFetchFailed reports that counts could not be read back.
	ErrFetchFailed = errors.New("counter fetch failed")
	noOpLogger     = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "counters.service.new"
	opRecordView        = "counters.record_view"
	opRecordReaction    = "counters.record_reaction"
	opStats             = "counters.stats"
	reasonMissing       = "missing_store"
	reasonSlug          = "invalid_slug"
	reasonReaction      = "invalid_reaction"
	reasonIncrement     = "increment_failed"
	reasonFetch         = "fetch_failed"
	reasonRowMissing    = "row_missing"
	reasonInvalidate    = "cache_invalidate_failed"
	reasonNotify        = "notify_failed"
	reasonNotifyDropped = "notify_dropped"
	defaultViewCount    = int64(1)
	fieldSlug           = "slug"
	fieldReactionKind   = "reaction"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// CounterStore is the atomic increment and read contract of the counter tables.
type CounterStore interface {
	IncrementViewCount(ctx context.Context, slug Slug) error
	IncrementReactionCount(ctx context.Context, slug Slug, kind ReactionKind) error
	ViewCount(ctx context.Context, slug Slug) (int64, bool, error)
	ReactionCounts(ctx context.Context, slug Slug) (ReactionCounts, bool, error)
}

// StatsLoader reads fresh stats from the store on a cache miss.
type StatsLoader func(ctx context.Context) (Stats, bool, error)

// StatsCache fronts page-render reads. Increments always bypass it.
type StatsCache interface {
	Stats(ctx context.Context, slug Slug, load StatsLoader) (Stats, error)
	Invalidate(ctx context.Context, slug Slug) error
}

// Notifier receives committed counter changes.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Notifiers fans a change out to every notifier, returning the joined failures.
type Notifiers []Notifier

// Notify delivers the event to each notifier in order.
func (notifiers Notifiers) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, notifier := range notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const (
	// DefaultInvalidateTimeout bounds the cache invalidation that follows an increment.
	DefaultInvalidateTimeout = 250 * time.Millisecond
	// DefaultNotifyTimeout bounds one background notification.
	DefaultNotifyTimeout = 5 * time.Second
	// DefaultMaxPendingNotifications caps notifications running in the background.
	DefaultMaxPendingNotifications = 64
)

type ServiceConfig struct {
	Store    CounterStore
	Cache    StatsCache
	Notifier Notifier
	Clock    func() time.Time
	Logger   *zap.Logger

	InvalidateTimeout       time.Duration
	NotifyTimeout           time.Duration
	MaxPendingNotifications int
}

// Service records views and reactions and serves the counts back. Notifications run in
// the background once the increment committed, so the response never waits on them.
type Service struct {
	store    CounterStore
	cache    StatsCache
	notifier Notifier
	clock    func() time.Time
	logger   *zap.Logger

	invalidateTimeout time.Duration
	notifyTimeout     time.Duration
	notifySlots       chan struct{}
	notifications     sync.WaitGroup
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, reasonMissing, ErrMissingStore)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	invalidateTimeout := cfg.InvalidateTimeout
	if invalidateTimeout <= 0 {
		invalidateTimeout = DefaultInvalidateTimeout
	}
	notifyTimeout := cfg.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}
	maxPending := cfg.MaxPendingNotifications
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingNotifications
	}

	return &Service{
		store:             cfg.Store,
		cache:             cfg.Cache,
		notifier:          cfg.Notifier,
		clock:             clock,
		logger:            logger,
		invalidateTimeout: invalidateTimeout,
		notifyTimeout:     notifyTimeout,
		notifySlots:       make(chan struct{}, maxPending),
	}, nil
}

// Wait blocks until every background notification has finished.
func (s *Service) Wait() {
	s.notifications.Wait()
}

// RecordView increments the view counter and returns the count observed afterwards.
// A failed read-back degrades to a count of one because the increment already committed.
func (s *Service) RecordView(ctx context.Context, rawSlug string) (int64, error) {
	slug, err := NewSlug(rawSlug)
	if err != nil {
		return 0, newServiceError(opRecordView, reasonSlug, err)
	}
	if s.store == nil {
		s.logError(opRecordView, reasonMissing, ErrMissingStore)
		return 0, newServiceError(opRecordView, reasonMissing, ErrMissingStore)
	}

	if err := s.store.IncrementViewCount(ctx, slug); err != nil {
		s.logError(opRecordView, reasonIncrement, err, zap.String(fieldSlug, slug.String()))
		return 0, newServiceError(opRecordView, reasonIncrement, fmt.Errorf("%w: %w", ErrIncrementFailed, err))
	}

	viewCount, found, err := s.store.ViewCount(ctx, slug)
	switch {
	case err != nil:
		s.loggerOrDefault().Warn("view count fetch failed after increment",
			zap.String("operation", opRecordView),
			zap.String("reason", reasonFetch),
			zap.String(fieldSlug, slug.String()),
			zap.Error(err))
		viewCount = defaultViewCount
	case !found:
		s.loggerOrDefault().Debug("view row missing after increment",
			zap.String("operation", opRecordView),
			zap.String("reason", reasonRowMissing),
			zap.String(fieldSlug, slug.String()))
		viewCount = defaultViewCount
	case viewCount < defaultViewCount:
		viewCount = defaultViewCount
	}

	s.afterIncrement(ctx, opRecordView, Event{
		Type:       EventViewRecorded,
		Slug:       slug,
		Views:      viewCount,
		OccurredAt: s.clock().UTC(),
	})
	return viewCount, nil
}

// RecordReaction increments one reaction counter and returns all three counts.
func (s *Service) RecordReaction(ctx context.Context, rawSlug string, rawKind string) (ReactionCounts, error) {
	slug, err := NewSlug(rawSlug)
	if err != nil {
		return ReactionCounts{}, newServiceError(opRecordReaction, reasonSlug, err)
	}
	kind, err := ParseReactionKind(rawKind)
	if err != nil {
		return ReactionCounts{}, newServiceError(opRecordReaction, reasonReaction, err)
	}
	if s.store == nil {
		s.logError(opRecordReaction, reasonMissing, ErrMissingStore)
		return ReactionCounts{}, newServiceError(opRecordReaction, reasonMissing, ErrMissingStore)
	}

	if err := s.store.IncrementReactionCount(ctx, slug, kind); err != nil {
		s.logError(opRecordReaction, reasonIncrement, err,
			zap.String(fieldSlug, slug.String()),
			zap.String(fieldReactionKind, kind.String()))
		return ReactionCounts{}, newServiceError(opRecordReaction, reasonIncrement, fmt.Errorf("%w: %w", ErrIncrementFailed, err))
	}

	counts, found, err := s.store.ReactionCounts(ctx, slug)
	if err != nil {
		s.logError(opRecordReaction, reasonFetch, err, zap.String(fieldSlug, slug.String()))
		return ReactionCounts{}, newServiceError(opRecordReaction, reasonFetch, fmt.Errorf("%w: %w", ErrFetchFailed, err))
	}
	if !found {
		s.loggerOrDefault().Debug("reaction row missing after increment",
			zap.String("operation", opRecordReaction),
			zap.String("reason", reasonRowMissing),
			zap.String(fieldSlug, slug.String()))
	}

	s.afterIncrement(ctx, opRecordReaction, Event{
		Type:       EventReactionRecorded,
		Slug:       slug,
		Reaction:   kind,
		Reactions:  counts,
		OccurredAt: s.clock().UTC(),
	})
	return counts, nil
}

// Stats returns the counts shown on a post page, zero-valued for posts never counted.
func (s *Service) Stats(ctx context.Context, rawSlug string) (Stats, error) {
	slug, err := NewSlug(rawSlug)
	if err != nil {
		return Stats{}, newServiceError(opStats, reasonSlug, err)
	}
	if s.store == nil {
		s.logError(opStats, reasonMissing, ErrMissingStore)
		return Stats{}, newServiceError(opStats, reasonMissing, ErrMissingStore)
	}

	load := func(loadCtx context.Context) (Stats, bool, error) {
		return s.loadStats(loadCtx, slug)
	}
	if s.cache == nil {
		stats, _, err := load(ctx)
		if err != nil {
			return Stats{}, newServiceError(opStats, reasonFetch, fmt.Errorf("%w: %w", ErrFetchFailed, err))
		}
		return stats, nil
	}

	stats, err := s.cache.Stats(ctx, slug, load)
	if err != nil {
		return Stats{}, newServiceError(opStats, reasonFetch, fmt.Errorf("%w: %w", ErrFetchFailed, err))
	}
	return stats, nil
}

func (s *Service) loadStats(ctx context.Context, slug Slug) (Stats, bool, error) {
	views, viewsFound, err := s.store.ViewCount(ctx, slug)
	if err != nil {
		s.logError(opStats, reasonFetch, err, zap.String(fieldSlug, slug.String()))
		return Stats{}, false, err
	}
	reactions, reactionsFound, err := s.store.ReactionCounts(ctx, slug)
	if err != nil {
		s.logError(opStats, reasonFetch, err, zap.String(fieldSlug, slug.String()))
		return Stats{}, false, err
	}
	found := viewsFound || reactionsFound
	if !found {
		s.loggerOrDefault().Debug("counter rows missing, using zero stats",
			zap.String("operation", opStats),
			zap.String("reason", reasonRowMissing),
			zap.String(fieldSlug, slug.String()))
	}
	return Stats{Slug: slug, Views: views, Reactions: reactions}, found, nil
}

// afterIncrement runs once the increment committed. The cache invalidation is bounded by
// invalidateTimeout; the notification is handed to a background goroutine and dropped when
// too many are already pending.
func (s *Service) afterIncrement(ctx context.Context, operation string, event Event) {
	detached := context.WithoutCancel(ctx)
	if s.cache != nil {
		invalidateCtx, cancel := context.WithTimeout(detached, s.invalidateTimeout)
		err := s.cache.Invalidate(invalidateCtx, event.Slug)
		cancel()
		if err != nil {
			s.loggerOrDefault().Warn("stats cache invalidation failed",
				zap.String("operation", operation),
				zap.String("reason", reasonInvalidate),
				zap.String(fieldSlug, event.Slug.String()),
				zap.Error(err))
		}
	}
	if s.notifier == nil {
		return
	}

	select {
	case s.notifySlots <- struct{}{}:
	default:
		s.loggerOrDefault().Warn("counter change notification dropped",
			zap.String("operation", operation),
			zap.String("reason", reasonNotifyDropped),
			zap.String(fieldSlug, event.Slug.String()))
		return
	}
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		defer func() { <-s.notifySlots }()

		notifyCtx, cancel := context.WithTimeout(detached, s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(notifyCtx, event); err != nil {
			s.loggerOrDefault().Warn("counter change notification failed",
				zap.String("operation", operation),
				zap.String("reason", reasonNotify),
				zap.String(fieldSlug, event.Slug.String()),
				zap.Error(err))
		}
	}()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("counters service error", attrs...)
}
