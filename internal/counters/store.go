package counters

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnPostSlug  = "post_slug"
	columnViewCount = "view_count"
	columnUpdatedAt = "updated_at"
	queryPostSlug   = columnPostSlug + " = ?"
)

var errMissingDatabase = errors.New("database handle is required")

// Store persists the per-post counters. Every mutation is a single upsert statement so
// concurrent writers never lose an increment.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStore wraps a gorm connection whose schema already contains PostView and PostReaction.
func NewStore(db *gorm.DB, clock func() time.Time) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, clock: clock}, nil
}

// IncrementViewCount creates the row with a count of one or adds one to the stored count.
func (store *Store) IncrementViewCount(ctx context.Context, slug Slug) error {
	now := store.clock().UTC()
	row := PostView{
		PostSlug:  slug.String(),
		ViewCount: 1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: columnPostSlug}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				columnViewCount: gorm.Expr(columnViewCount+" + ?", 1),
				columnUpdatedAt: now,
			}),
		}).
		Create(&row).Error
}

// IncrementReactionCount adds one to the counter of a single reaction kind.
func (store *Store) IncrementReactionCount(ctx context.Context, slug Slug, kind ReactionKind) error {
	if _, err := ParseReactionKind(kind.String()); err != nil {
		return err
	}
	now := store.clock().UTC()
	initial := ReactionCounts{}.Add(kind, 1)
	row := PostReaction{
		PostSlug:       slug.String(),
		LikeCount:      initial.Like,
		LoveCount:      initial.Love,
		CelebrateCount: initial.Celebrate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: columnPostSlug}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				kind.column():   gorm.Expr(kind.column()+" + ?", 1),
				columnUpdatedAt: now,
			}),
		}).
		Create(&row).Error
}

// ViewCount reads the stored view count. found is false when no row exists yet.
func (store *Store) ViewCount(ctx context.Context, slug Slug) (int64, bool, error) {
	var row PostView
	err := store.db.WithContext(ctx).Where(queryPostSlug, slug.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.ViewCount, true, nil
}

// ReactionCounts reads the stored reaction triple. found is false when no row exists yet.
func (store *Store) ReactionCounts(ctx context.Context, slug Slug) (ReactionCounts, bool, error) {
	var row PostReaction
	err := store.db.WithContext(ctx).Where(queryPostSlug, slug.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ReactionCounts{}, false, nil
	}
	if err != nil {
		return ReactionCounts{}, false, err
	}
	return row.Counts(), true, nil
}
