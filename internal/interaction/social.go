package interaction

import (
	"context"
	"strings"

	"github.com/italolelis/content_companion/internal/api"
	"github.com/italolelis/content_companion/internal/backend"
	"github.com/italolelis/content_companion/internal/localstore"
	"github.com/italolelis/content_companion/internal/logctx"
)

// RecordView reports a view in the background. It never blocks and never
// fails; errors are logged at most once per window.
func (c *Client) RecordView(ctx context.Context, contentID, contentType string, opts ViewOptions) {
	c.views.Add(1)

	go func() {
		defer c.views.Done()

		ctx := context.WithoutCancel(ctx)

		err := c.backend.RecordView(ctx, contentID, contentType, opts.DurationMs, opts.ProgressPct, opts.IsComplete)
		if err != nil {
			c.throttle.Warn(ctx, "record_view", "failed to record view", "content_id", contentID, "err", err)

			return
		}

		c.update(contentID, func(s *State) { s.ViewCount++ })
		c.record(ctx, "view", SourceServer)
	}()
}

// Share records a share and returns the new share count.
func (c *Client) Share(ctx context.Context, contentID, contentType, platform, message string) (int, error) {
	count, err := c.backend.Share(ctx, contentID, contentType, platform, message)
	if err != nil {
		return 0, err
	}

	s := c.update(contentID, func(s *State) {
		if count > 0 {
			s.ShareCount = count
		} else {
			s.ShareCount++
		}
	})

	c.record(ctx, "share", SourceServer)

	return s.ShareCount, nil
}

// commentsPrefix is shared by the cached listings of every sort order.
func commentsPrefix(contentID, contentType string) string {
	return backend.RouteSegment(contentType) + ":" + contentID + "|"
}

func commentsKey(contentID, contentType, sortBy string) string {
	return commentsPrefix(contentID, contentType) + sortBy
}

// Comments returns comments for contentID. A fresh first page is served from
// the cache; later pages extend it. When the backend is unreachable the last
// cached listing is returned.
func (c *Client) Comments(ctx context.Context, contentID, contentType string, query backend.CommentQuery) (localstore.CachedPage[backend.Comment], error) {
	logger := logctx.LoggerFromContext(ctx).With("content_id", contentID)
	key := commentsKey(contentID, contentType, query.SortBy)

	if query.Page <= 1 {
		if cached, fresh, err := c.comments.Get(ctx, key); err == nil && fresh {
			return cached, nil
		}
	}

	page, err := c.backend.Comments(ctx, contentID, contentType, query)
	if err != nil {
		if api.IsTransport(err) {
			if cached, _, cerr := c.comments.Get(ctx, key); cerr == nil && len(cached.Items) > 0 {
				logger.Info("serving cached comments", "err", err)

				return cached, nil
			}
		}

		return localstore.CachedPage[backend.Comment]{}, err
	}

	merged, err := c.comments.Merge(ctx, key, page.Items, max(page.Page, 1), page.Limit, page.Total)
	if err != nil {
		return localstore.CachedPage[backend.Comment]{}, err
	}

	if page.Total > 0 {
		c.update(contentID, func(s *State) { s.CommentCount = page.Total })
	}

	return merged, nil
}

// PostComment posts text on contentID, as a reply when parentID is set.
func (c *Client) PostComment(ctx context.Context, contentID, contentType, text, parentID string) (backend.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return backend.Comment{}, ErrEmptyComment
	}

	cm, err := c.backend.PostComment(ctx, contentID, contentType, text, parentID)
	if err != nil {
		return backend.Comment{}, err
	}

	c.invalidateComments(ctx, contentID, contentType)
	c.update(contentID, func(s *State) { s.CommentCount++ })
	c.record(ctx, "comment", SourceServer)

	return cm, nil
}

// LikeComment toggles the like on a comment.
func (c *Client) LikeComment(ctx context.Context, commentID string) (backend.CommentLike, error) {
	v, err, _ := c.inflight.Do("comment_like:"+commentID, func() (any, error) {
		return c.backend.LikeComment(ctx, commentID)
	})

	res, _ := v.(backend.CommentLike)

	if err == nil {
		c.record(ctx, "comment_like", SourceServer)
	}

	return res, err
}

func (c *Client) invalidateComments(ctx context.Context, contentID, contentType string) {
	if err := c.comments.InvalidatePrefix(ctx, commentsPrefix(contentID, contentType)); err != nil {
		logctx.LoggerFromContext(ctx).Debug("failed to invalidate comments cache", "content_id", contentID, "err", err)
	}
}
