// Package interaction implements likes, saves, shares, views and comments with
// an optimistic local mirror and a local-only fallback when the backend is
// unreachable.
package interaction

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/italolelis/content_companion/internal/api"
	"github.com/italolelis/content_companion/internal/backend"
	"github.com/italolelis/content_companion/internal/localstore"
	"github.com/italolelis/content_companion/internal/logctx"
	"github.com/italolelis/content_companion/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

// Backend is the part of the content API used for interactions.
type Backend interface {
	ToggleLike(ctx context.Context, contentID, contentType string) (backend.LikeState, error)
	ToggleBookmark(ctx context.Context, contentID string) (backend.BookmarkState, error)
	BookmarkStatus(ctx context.Context, contentID string) (backend.BookmarkState, error)
	RecordView(ctx context.Context, contentID, contentType string, durationMs int64, progressPct float64, complete bool) error
	Share(ctx context.Context, contentID, contentType, platform, message string) (int, error)
	Comments(ctx context.Context, contentID, contentType string, query backend.CommentQuery) (backend.Page[backend.Comment], error)
	PostComment(ctx context.Context, contentID, contentType, text, parentID string) (backend.Comment, error)
	LikeComment(ctx context.Context, commentID string) (backend.CommentLike, error)
}

// Source says where a result came from.
type Source string

const (
	SourceServer Source = "server"
	// SourceOptimistic is an unconfirmed local value kept after a throttled request.
	SourceOptimistic Source = "optimistic"
	// SourceFallback is a local-only approximation.
	SourceFallback Source = "fallback"
)

// State is the optimistic mirror of one content item's interactions.
type State struct {
	Liked        bool `json:"liked"`
	LikeCount    int  `json:"likeCount"`
	Saved        bool `json:"saved"`
	SaveCount    int  `json:"saveCount"`
	ShareCount   int  `json:"shareCount"`
	ViewCount    int  `json:"viewCount"`
	CommentCount int  `json:"commentCount"`
}

type LikeResult struct {
	Liked      bool   `json:"liked"`
	TotalLikes int    `json:"totalLikes"`
	Source     Source `json:"source"`
}

type SaveResult struct {
	Saved      bool   `json:"saved"`
	TotalSaves int    `json:"totalSaves"`
	Source     Source `json:"source"`
}

// ViewOptions describes how much of the content was consumed.
type ViewOptions struct {
	DurationMs  int64
	ProgressPct float64
	IsComplete  bool
}

var ErrEmptyComment = errors.New("comment text must not be empty")

var idPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// ValidID reports whether id has the shape backend ids have (24 hex characters).
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

type Client struct {
	backend    Backend
	library    *localstore.Library
	fallback   *localstore.Fallback
	comments   *localstore.PageCache[backend.Comment]
	telemetry  *telemetry.Telemetry
	throttle   *logctx.Throttle
	production bool

	inflight singleflight.Group

	mu     sync.RWMutex
	states map[string]State

	views sync.WaitGroup
}

type Option func(*Client)

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(c *Client) { c.telemetry = t }
}

// WithProduction keeps diagnostic payloads out of the logs.
func WithProduction(production bool) Option {
	return func(c *Client) { c.production = production }
}

// WithViewLogWindow sets how often a failing view report may be logged.
func WithViewLogWindow(window time.Duration) Option {
	return func(c *Client) { c.throttle = logctx.NewThrottle(window) }
}

func NewClient(
	b Backend,
	library *localstore.Library,
	fallback *localstore.Fallback,
	comments *localstore.PageCache[backend.Comment],
	opts ...Option,
) *Client {
	c := &Client{
		backend:  b,
		library:  library,
		fallback: fallback,
		comments: comments,
		throttle: logctx.NewThrottle(time.Minute),
		states:   make(map[string]State),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Close waits for pending view reports.
func (c *Client) Close() {
	c.views.Wait()
}

// State returns the mirrored interaction state for contentID.
func (c *Client) State(contentID string) State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.states[contentID]
}

func (c *Client) update(contentID string, fn func(s *State)) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.states[contentID]
	fn(&s)
	c.states[contentID] = s

	return s
}

func (c *Client) restore(contentID string, prev State, fn func(cur *State, prev State)) {
	c.update(contentID, func(s *State) { fn(s, prev) })
}

// outcome is how a failed toggle must be handled.
type outcome int

const (
	outcomeRollback outcome = iota
	outcomeKeepOptimistic
	outcomeFallback
)

// classify applies the failure policy: 429 keeps the optimistic value; 400,
// 401, 404 and unreadable responses roll back; every other failure toggles
// the local fallback instead.
func (c *Client) classify(ctx context.Context, action, contentID string, err error) outcome {
	logger := logctx.LoggerFromContext(ctx).With("action", action, "content_id", contentID)

	if api.IsDegradable(err) {
		logger.Info("backend unavailable, using local fallback", "err", err)

		return outcomeFallback
	}

	var be *api.BackendError
	if !errors.As(err, &be) {
		logger.Warn("interaction failed", "err", err)

		return outcomeRollback
	}

	switch be.Kind {
	case api.KindRateLimited:
		logger.Warn("interaction rate limited, keeping optimistic state")

		return outcomeKeepOptimistic
	case api.KindBadRequest:
		if !c.production {
			logger.Warn("interaction rejected as malformed", "status", be.Status, "detail", be.Detail)
		} else {
			logger.Warn("interaction rejected as malformed", "status", be.Status)
		}
	case api.KindUnauthorized:
		logger.Info("interaction needs re-authentication")
	default:
		logger.Warn("interaction failed", "kind", be.Kind, "status", be.Status)
	}

	return outcomeRollback
}

func (c *Client) record(ctx context.Context, action string, source Source) {
	c.telemetry.RecordInteraction(ctx, action, string(source))
}
