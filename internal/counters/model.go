package counters

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ReactionKind enumerates the reactions a visitor can leave on a post.
type ReactionKind string

const (
	// ReactionLike is the thumbs-up reaction.
	ReactionLike ReactionKind = "like"
	// ReactionLove is the heart reaction.
	ReactionLove ReactionKind = "love"
	// ReactionCelebrate is the party reaction.
	ReactionCelebrate ReactionKind = "celebrate"
)

const maxSlugLength = 190

var (
	// ErrInvalidSlug indicates that a post slug is empty or exceeds storage bounds.
	ErrInvalidSlug = errors.New("counters: invalid post slug")
	// ErrInvalidReaction indicates that a reaction kind is outside the supported set.
	ErrInvalidReaction = errors.New("counters: invalid reaction kind")
	// ErrSlugTooLong narrows ErrInvalidSlug to slugs exceeding the storage key size.
	ErrSlugTooLong = fmt.Errorf("%w: exceeds %d characters", ErrInvalidSlug, maxSlugLength)
)

var reactionKinds = []ReactionKind{ReactionLike, ReactionLove, ReactionCelebrate}

// ReactionKinds returns the supported reaction kinds in display order.
func ReactionKinds() []ReactionKind {
	kinds := make([]ReactionKind, len(reactionKinds))
	copy(kinds, reactionKinds)
	return kinds
}

// ParseReactionKind accepts only the exact lowercase names of the supported kinds.
func ParseReactionKind(rawInput string) (ReactionKind, error) {
	for _, kind := range reactionKinds {
		if rawInput == string(kind) {
			return kind, nil
		}
	}
	if rawInput == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidReaction)
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReaction, rawInput)
}

// String returns the wire name of the reaction kind.
func (kind ReactionKind) String() string {
	return string(kind)
}

func (kind ReactionKind) column() string {
	return string(kind) + "_count"
}

// Slug identifies a blog post across both counter tables.
type Slug string

// NewSlug validates raw input and returns a Slug.
func NewSlug(rawInput string) (Slug, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSlug)
	}
	if len(trimmed) > maxSlugLength {
		return "", ErrSlugTooLong
	}
	return Slug(trimmed), nil
}

// String returns the underlying slug.
func (slug Slug) String() string {
	return string(slug)
}

// ReactionCounts holds the three reaction totals of a post.
type ReactionCounts struct {
	Like      int64 `json:"like_count"`
	Love      int64 `json:"love_count"`
	Celebrate int64 `json:"celebrate_count"`
}

// Get returns the total for a single kind.
func (counts ReactionCounts) Get(kind ReactionKind) int64 {
	switch kind {
	case ReactionLike:
		return counts.Like
	case ReactionLove:
		return counts.Love
	case ReactionCelebrate:
		return counts.Celebrate
	default:
		return 0
	}
}

// Add returns a copy with delta applied to one kind.
func (counts ReactionCounts) Add(kind ReactionKind, delta int64) ReactionCounts {
	switch kind {
	case ReactionLike:
		counts.Like += delta
	case ReactionLove:
		counts.Love += delta
	case ReactionCelebrate:
		counts.Celebrate += delta
	}
	return counts
}

// Stats is the read model used when rendering a post.
type Stats struct {
	Slug      Slug
	Views     int64
	Reactions ReactionCounts
}

// PostView is the persisted view counter of a post.
type PostView struct {
	PostSlug  string    `gorm:"column:post_slug;primaryKey;size:190;not null"`
	ViewCount int64     `gorm:"column:view_count;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (PostView) TableName() string {
	return "blog_views"
}

// PostReaction is the persisted reaction counters of a post.
type PostReaction struct {
	PostSlug       string    `gorm:"column:post_slug;primaryKey;size:190;not null"`
	LikeCount      int64     `gorm:"column:like_count;not null;default:0"`
	LoveCount      int64     `gorm:"column:love_count;not null;default:0"`
	CelebrateCount int64     `gorm:"column:celebrate_count;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (PostReaction) TableName() string {
	return "blog_reactions"
}

// Counts converts the row into the wire triple.
func (row PostReaction) Counts() ReactionCounts {
	return ReactionCounts{
		Like:      row.LikeCount,
		Love:      row.LoveCount,
		Celebrate: row.CelebrateCount,
	}
}

// EventType distinguishes the two counter change notifications.
type EventType string

const (
	// EventViewRecorded is emitted after a view increment.
	EventViewRecorded EventType = "view-count"
	// EventReactionRecorded is emitted after a reaction increment.
	EventReactionRecorded EventType = "reaction-count"
)

// Event describes a committed counter change and the counts observed right after it.
type Event struct {
	Type       EventType
	Slug       Slug
	Reaction   ReactionKind
	Views      int64
	Reactions  ReactionCounts
	OccurredAt time.Time
}
