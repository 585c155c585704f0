package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/portfolio-blog/backend/internal/counters"
	"github.com/portfolio-blog/backend/internal/posts"
	"go.uber.org/zap"
)

const defaultHeartbeatInterval = 25 * time.Second

const (
	messageSlugRequired            = "Slug is required"
	messageSlugTooLong             = "Slug is too long"
	messageViewIncrementFailed     = "Failed to increment view count"
	messageSlugAndReactionRequired = "Slug and reaction are required"
	messageInvalidReaction         = "Invalid reaction type"
	messageReactionIncrementFailed = "Failed to increment reaction count"
	messageReactionFetchFailed     = "Failed to fetch reaction counts"
	messagePostNotFound            = "Post not found"
	messagePostsUnavailable        = "Failed to load posts"
	messagePostUnavailable         = "Failed to load post"
)

var (
	errMissingCountersService = errors.New("counters service dependency required")
	errMissingPostCatalog     = errors.New("post catalog dependency required")
)

// PostCatalog lists blog posts from the content source.
type PostCatalog interface {
	All() ([]posts.Post, error)
	BySlug(slug string) (posts.Post, error)
}

type Dependencies struct {
	CountersService   *counters.Service
	Posts             PostCatalog
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.CountersService == nil {
		return nil, errMissingCountersService
	}
	if deps.Posts == nil {
		return nil, errMissingPostCatalog
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		counters:  deps.CountersService,
		posts:     deps.Posts,
		realtime:  deps.Realtime,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)

	blog := router.Group("/api/blog")
	blog.POST("/view", handler.handleRecordView)
	blog.POST("/reaction", handler.handleRecordReaction)
	blog.GET("/posts", handler.handleListPosts)
	blog.GET("/posts/:slug", handler.handleGetPost)
	if handler.realtime != nil {
		blog.GET("/posts/:slug/stream", handler.handleCounterStream)
	}

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", headerRequestID},
		ExposeHeaders: []string{headerRequestID},
		MaxAge:        12 * time.Hour,
	})
}

type httpHandler struct {
	counters  *counters.Service
	posts     PostCatalog
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	heartbeat time.Duration
}

type viewRequestPayload struct {
	Slug string `json:"slug"`
}

type viewResponsePayload struct {
	ViewCount int64 `json:"view_count"`
}

type reactionRequestPayload struct {
	Slug     string `json:"slug"`
	Reaction string `json:"reaction"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleRecordView(c *gin.Context) {
	var request viewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Slug) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageSlugRequired})
		return
	}

	viewCount, err := h.counters.RecordView(c.Request.Context(), request.Slug)
	if err != nil {
		if errors.Is(err, counters.ErrSlugTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"error": messageSlugTooLong})
			return
		}
		if errors.Is(err, counters.ErrInvalidSlug) {
			c.JSON(http.StatusBadRequest, gin.H{"error": messageSlugRequired})
			return
		}
		h.logger.Error("failed to record view", zap.String("slug", request.Slug), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": messageViewIncrementFailed})
		return
	}

	c.JSON(http.StatusOK, viewResponsePayload{ViewCount: viewCount})
}

func (h *httpHandler) handleRecordReaction(c *gin.Context) {
	var request reactionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Slug) == "" || request.Reaction == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageSlugAndReactionRequired})
		return
	}

	counts, err := h.counters.RecordReaction(c.Request.Context(), request.Slug, request.Reaction)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, counts)
	case errors.Is(err, counters.ErrInvalidReaction):
		c.JSON(http.StatusBadRequest, gin.H{"error": messageInvalidReaction})
	case errors.Is(err, counters.ErrSlugTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": messageSlugTooLong})
	case errors.Is(err, counters.ErrInvalidSlug):
		c.JSON(http.StatusBadRequest, gin.H{"error": messageSlugAndReactionRequired})
	case errors.Is(err, counters.ErrFetchFailed):
		h.logger.Error("failed to fetch reaction counts", zap.String("slug", request.Slug), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": messageReactionFetchFailed})
	default:
		h.logger.Error("failed to record reaction",
			zap.String("slug", request.Slug),
			zap.String("reaction", request.Reaction),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": messageReactionIncrementFailed})
	}
}

type postListResponsePayload struct {
	Posts []posts.Post `json:"posts"`
}

type postDetailResponsePayload struct {
	posts.Post
	Content   string `json:"content"`
	ViewCount int64  `json:"view_count"`
	counters.ReactionCounts
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	entries, err := h.posts.All()
	if err != nil {
		h.logger.Error("failed to list posts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": messagePostsUnavailable})
		return
	}
	c.JSON(http.StatusOK, postListResponsePayload{Posts: entries})
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	slug := c.Param("slug")
	post, err := h.posts.BySlug(slug)
	if errors.Is(err, posts.ErrPostNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": messagePostNotFound})
		return
	}
	if err != nil {
		h.logger.Error("failed to load post", zap.String("slug", slug), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": messagePostUnavailable})
		return
	}

	// Counts are decoration; the post still renders with zeros when they cannot be read.
	stats, err := h.counters.Stats(c.Request.Context(), post.Slug)
	if err != nil {
		h.logger.Warn("post stats unavailable, rendering zero counts",
			zap.String("slug", post.Slug),
			zap.Error(err))
		stats = counters.Stats{}
	}

	c.JSON(http.StatusOK, postDetailResponsePayload{
		Post:           post,
		Content:        post.Content,
		ViewCount:      stats.Views,
		ReactionCounts: stats.Reactions,
	})
}

func (h *httpHandler) handleCounterStream(c *gin.Context) {
	slug, err := counters.NewSlug(c.Param("slug"))
	if errors.Is(err, counters.ErrSlugTooLong) {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageSlugTooLong})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageSlugRequired})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, slug.String())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case update, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(update.EventType, update.payload())
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{
				"timestamp": tick.UTC().Unix(),
				"source":    realtimeSourceBackend,
			})
			return true
		}
	})
}
