package interaction

import (
	"context"

	"github.com/italolelis/content_companion/internal/localstore"
	"github.com/italolelis/content_companion/internal/logctx"
)

// ToggleLike flips the like on contentID. Ids that do not look like backend
// ids never reach the network and are toggled in the local fallback map.
// Concurrent calls for the same id share one request.
func (c *Client) ToggleLike(ctx context.Context, contentID, contentType string) (LikeResult, error) {
	if !ValidID(contentID) {
		return c.fallbackLike(ctx, contentID)
	}

	v, err, _ := c.inflight.Do("like:"+contentID, func() (any, error) {
		return c.toggleLike(ctx, contentID, contentType)
	})

	res, _ := v.(LikeResult)

	return res, err
}

func (c *Client) toggleLike(ctx context.Context, contentID, contentType string) (LikeResult, error) {
	prev := c.State(contentID)

	optimistic := c.update(contentID, func(s *State) {
		s.Liked = !s.Liked
		s.LikeCount = adjust(s.LikeCount, s.Liked)
	})

	res, err := c.backend.ToggleLike(ctx, contentID, contentType)
	if err == nil {
		c.update(contentID, func(s *State) {
			s.Liked = res.Liked
			s.LikeCount = res.LikeCount
		})

		c.mirrorFallback(ctx, localstore.FallbackLikes, contentID, res.Liked)
		c.record(ctx, "like", SourceServer)

		return LikeResult{Liked: res.Liked, TotalLikes: res.LikeCount, Source: SourceServer}, nil
	}

	switch c.classify(ctx, "like", contentID, err) {
	case outcomeFallback:
		return c.fallbackLike(ctx, contentID)
	case outcomeKeepOptimistic:
		c.record(ctx, "like", SourceOptimistic)

		return LikeResult{Liked: optimistic.Liked, TotalLikes: optimistic.LikeCount, Source: SourceOptimistic}, err
	default:
		c.restore(contentID, prev, func(s *State, prev State) {
			s.Liked = prev.Liked
			s.LikeCount = prev.LikeCount
		})

		return LikeResult{Liked: prev.Liked, TotalLikes: prev.LikeCount, Source: SourceServer}, err
	}
}

func (c *Client) fallbackLike(ctx context.Context, contentID string) (LikeResult, error) {
	liked, count, err := c.fallback.Toggle(ctx, localstore.FallbackLikes, contentID)
	if err != nil {
		return LikeResult{}, err
	}

	c.update(contentID, func(s *State) {
		s.Liked = liked
		s.LikeCount = count
	})

	c.record(ctx, "like", SourceFallback)

	return LikeResult{Liked: liked, TotalLikes: count, Source: SourceFallback}, nil
}

// ToggleSave flips the bookmark on contentID. When an unsave is confirmed the
// item is removed from the library; adding to the library is the caller's job
// since only the caller holds the full item.
func (c *Client) ToggleSave(ctx context.Context, contentID, contentType string) (SaveResult, error) {
	if !ValidID(contentID) {
		return c.fallbackSave(ctx, contentID)
	}

	v, err, _ := c.inflight.Do("save:"+contentID, func() (any, error) {
		return c.toggleSave(ctx, contentID)
	})

	res, _ := v.(SaveResult)

	return res, err
}

func (c *Client) toggleSave(ctx context.Context, contentID string) (SaveResult, error) {
	prev := c.State(contentID)

	optimistic := c.update(contentID, func(s *State) {
		s.Saved = !s.Saved
		s.SaveCount = adjust(s.SaveCount, s.Saved)
	})

	res, err := c.backend.ToggleBookmark(ctx, contentID)
	if err == nil {
		c.update(contentID, func(s *State) {
			s.Saved = res.Bookmarked
			s.SaveCount = res.BookmarkCount
		})

		c.mirrorFallback(ctx, localstore.FallbackSaves, contentID, res.Bookmarked)

		if !res.Bookmarked {
			c.removeFromLibrary(ctx, contentID)
		}

		c.record(ctx, "save", SourceServer)

		return SaveResult{Saved: res.Bookmarked, TotalSaves: res.BookmarkCount, Source: SourceServer}, nil
	}

	switch c.classify(ctx, "save", contentID, err) {
	case outcomeFallback:
		return c.fallbackSave(ctx, contentID)
	case outcomeKeepOptimistic:
		c.record(ctx, "save", SourceOptimistic)

		return SaveResult{Saved: optimistic.Saved, TotalSaves: optimistic.SaveCount, Source: SourceOptimistic}, err
	default:
		c.restore(contentID, prev, func(s *State, prev State) {
			s.Saved = prev.Saved
			s.SaveCount = prev.SaveCount
		})

		return SaveResult{Saved: prev.Saved, TotalSaves: prev.SaveCount, Source: SourceServer}, err
	}
}

func (c *Client) fallbackSave(ctx context.Context, contentID string) (SaveResult, error) {
	saved, count, err := c.fallback.Toggle(ctx, localstore.FallbackSaves, contentID)
	if err != nil {
		return SaveResult{}, err
	}

	c.update(contentID, func(s *State) {
		s.Saved = saved
		s.SaveCount = count
	})

	if !saved {
		c.removeFromLibrary(ctx, contentID)
	}

	c.record(ctx, "save", SourceFallback)

	return SaveResult{Saved: saved, TotalSaves: count, Source: SourceFallback}, nil
}

// SaveStatus reads the bookmark state from the backend and refreshes the mirror.
func (c *Client) SaveStatus(ctx context.Context, contentID string) (SaveResult, error) {
	if !ValidID(contentID) {
		saved, count, err := c.fallback.Get(ctx, localstore.FallbackSaves, contentID)

		return SaveResult{Saved: saved, TotalSaves: count, Source: SourceFallback}, err
	}

	res, err := c.backend.BookmarkStatus(ctx, contentID)
	if err != nil {
		return SaveResult{}, err
	}

	c.update(contentID, func(s *State) {
		s.Saved = res.Bookmarked
		s.SaveCount = res.BookmarkCount
	})

	return SaveResult{Saved: res.Bookmarked, TotalSaves: res.BookmarkCount, Source: SourceServer}, nil
}

func (c *Client) removeFromLibrary(ctx context.Context, contentID string) {
	if c.library == nil {
		return
	}

	if err := c.library.Remove(ctx, contentID); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to remove item from library", "content_id", contentID, "err", err)
	}
}

// mirrorFallback keeps the fallback map aligned with confirmed server state so
// an offline toggle starts from the right value.
func (c *Client) mirrorFallback(ctx context.Context, kind, contentID string, value bool) {
	if err := c.fallback.Set(ctx, kind, contentID, value); err != nil {
		logctx.LoggerFromContext(ctx).Debug("failed to mirror fallback state", "kind", kind, "content_id", contentID, "err", err)
	}
}

func adjust(count int, on bool) int {
	if on {
		return count + 1
	}

	return max(count-1, 0)
}
