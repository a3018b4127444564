// Package rest exposes the companion to the UI shell over a local HTTP API.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/italolelis/content_companion/internal/api"
	"github.com/italolelis/content_companion/internal/downloader"
	"github.com/italolelis/content_companion/internal/interaction"
	"github.com/italolelis/content_companion/internal/localstore"
	"github.com/italolelis/content_companion/internal/logctx"
)

const maxBodySize = 1 << 20

// Syncer refreshes the backend-synced collections.
type Syncer interface {
	Sync(ctx context.Context) (localstore.SyncReport, error)
}

type Handler struct {
	username string
	password string

	downloads    *downloader.Downloader
	interactions *interaction.Client
	library      *localstore.Library
	playlists    *localstore.Playlists
	syncer       Syncer
	purgeMinAge  time.Duration

	validate *validator.Validate
}

type Deps struct {
	Downloads    *downloader.Downloader
	Interactions *interaction.Client
	Library      *localstore.Library
	Playlists    *localstore.Playlists
	Syncer       Syncer
	// PurgeMinAge protects recently written files from /maintenance/purge.
	PurgeMinAge time.Duration
}

// NewHandler creates the API handler. Basic auth is enforced when username is set.
func NewHandler(username, password string, deps Deps) *Handler {
	return &Handler{
		username:     username,
		password:     password,
		downloads:    deps.Downloads,
		interactions: deps.Interactions,
		library:      deps.Library,
		playlists:    deps.Playlists,
		syncer:       deps.Syncer,
		purgeMinAge:  deps.PurgeMinAge,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(h.basicAuthMiddleware)

		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", h.handleListDownloads)
			r.Post("/", h.handleStartDownload)
			r.Get("/remote", h.handleRemoteDownloads)
			r.Get("/{id}", h.handleGetDownload)
			r.Delete("/{id}", h.handleRemoveDownload)
			r.Post("/{id}/cancel", h.handleCancelDownload)
		})

		r.Route("/content/{type}/{id}", func(r chi.Router) {
			r.Get("/state", h.handleState)
			r.Post("/like", h.handleLike)
			r.Get("/save", h.handleSaveStatus)
			r.Post("/save", h.handleSave)
			r.Post("/view", h.handleView)
			r.Post("/share", h.handleShare)
			r.Get("/comments", h.handleComments)
			r.Post("/comments", h.handlePostComment)
		})

		r.Post("/comments/{id}/like", h.handleLikeComment)

		r.Get("/library", h.handleLibrary)

		r.Route("/playlists", func(r chi.Router) {
			r.Get("/", h.handleListPlaylists)
			r.Post("/", h.handleCreatePlaylist)
			r.Get("/{id}", h.handleGetPlaylist)
			r.Patch("/{id}", h.handleRenamePlaylist)
			r.Delete("/{id}", h.handleDeletePlaylist)
			r.Post("/{id}/items", h.handleAddPlaylistItem)
			r.Delete("/{id}/items/{contentID}", h.handleRemovePlaylistItem)
		})

		r.Post("/sync", h.handleSync)
		r.Post("/maintenance/purge", h.handlePurge)
	})

	return r
}

func (h *Handler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.username == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "", "invalid authorization format")

			return
		}

		if username != h.username || password != h.password {
			writeError(w, http.StatusUnauthorized, "unauthorized", "", "invalid username or password")

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Reason  string `json:"reason,omitempty"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if v == nil {
		return
	}

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, reason, message string) {
	var body errorBody

	body.Error.Code = code
	body.Error.Reason = reason
	body.Error.Message = message

	writeJSON(w, status, body)
}

// respondError maps domain errors to HTTP statuses and user-safe messages.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	var (
		derr *downloader.Error
		be   *api.BackendError
		verr validator.ValidationErrors
	)

	switch {
	case errors.As(err, &derr):
		writeError(w, downloadStatus(derr), string(derr.Code), string(derr.Reason), derr.Message)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid_request", "", verr.Error())
	case errors.Is(err, errBadBody):
		writeError(w, http.StatusBadRequest, "invalid_request", "", err.Error())
	case errors.Is(err, localstore.ErrPlaylistNotFound):
		writeError(w, http.StatusNotFound, "not_found", "", err.Error())
	case errors.Is(err, localstore.ErrInvalidName), errors.Is(err, interaction.ErrEmptyComment):
		writeError(w, http.StatusBadRequest, "invalid_request", "", err.Error())
	case api.IsTransport(err):
		writeError(w, http.StatusServiceUnavailable, "offline", "", "The service cannot be reached. Check your connection and try again.")
	case errors.As(err, &be):
		writeError(w, backendStatus(be), string(be.Kind), "", be.Message)
	default:
		logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "", "Something went wrong. Please try again.")
	}
}

func downloadStatus(err *downloader.Error) int {
	switch err.Code {
	case downloader.CodeAlreadyDownloaded:
		return http.StatusOK
	case downloader.CodeInProgress:
		return http.StatusConflict
	case downloader.CodeTransferFailed:
		return http.StatusBadGateway
	}

	switch err.Reason {
	case downloader.ReasonUnauthorized:
		return http.StatusUnauthorized
	case downloader.ReasonNotFound:
		return http.StatusNotFound
	case downloader.ReasonNotAllowed:
		return http.StatusForbidden
	case downloader.ReasonInvalidID:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func backendStatus(be *api.BackendError) int {
	switch be.Kind {
	case api.KindUnauthorized:
		return http.StatusUnauthorized
	case api.KindNotFound:
		return http.StatusNotFound
	case api.KindBadRequest:
		return http.StatusBadRequest
	case api.KindRateLimited:
		return http.StatusTooManyRequests
	case api.KindRejected:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

var errBadBody = errors.New("invalid request body")

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when optional is true.
func (h *Handler) decode(r *http.Request, dst any, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dst)

	switch {
	case errors.Is(err, io.EOF) && optional:
	case err != nil:
		return errors.Join(errBadBody, err)
	}

	return h.validate.Struct(dst)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}

	return v
}
