// Package backend holds the typed calls to the content platform REST API.
// Every call goes through api.Client and returns *api.BackendError for
// non-2xx responses, *api.TransportError when the backend was not reached and
// *api.ShapeMismatchError when a response matched no known envelope.
package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/italolelis/content_companion/internal/api"
)

// Doer is the subset of api.Client used here.
type Doer interface {
	Do(ctx context.Context, req api.Request) (*api.Envelope, error)
}

type Client struct {
	api Doer
}

func NewClient(doer Doer) *Client {
	return &Client{api: doer}
}

// Page is one page of a paginated list.
type Page[T any] struct {
	Items []T
	Page  int
	Limit int
	Total int
}

// RouteSegment maps a client content label to the route segment the backend
// recognizes. Only artists and merch have their own routes; everything else
// (video, audio, music, sermon, ebook, live...) is "media".
func RouteSegment(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "artist", "artists":
		return "artist"
	case "merch", "merchandise":
		return "merch"
	default:
		return "media"
	}
}

func (c *Client) call(ctx context.Context, op string, req api.Request) (*api.Envelope, error) {
	env, err := c.api.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := env.Err(op); err != nil {
		return env, err
	}

	return env, nil
}

func get(route, p string, q url.Values, auth api.AuthMode) api.Request {
	return api.Request{Method: http.MethodGet, Route: "GET " + route, Path: p, Query: q, Auth: auth}
}

func post(route, p string, body any) api.Request {
	return api.Request{Method: http.MethodPost, Route: "POST " + route, Path: p, Body: body}
}

func esc(s string) string {
	return url.PathEscape(s)
}
