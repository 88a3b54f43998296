package rest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/seedbox_resolver/internal/logctx"
	"github.com/italolelis/seedbox_resolver/internal/resolver"
)

const (
	maxTorrentSize = 10 * 1024 * 1024 // 10MB, same limit as the store clients
	// base64 grows the payload by a third, plus room for the other fields.
	maxRequestSize = maxTorrentSize*4/3 + 64*1024

	retryAfterSeconds = 10
)

// Resolver is the resolution core the handler serves.
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) (*resolver.Result, error)
}

type ResolveRequest struct {
	Fingerprint string   `json:"fingerprint"`
	Name        string   `json:"name"`
	Trackers    []string `json:"trackers"`
	// MetaInfo is a base64 encoded .torrent file.
	MetaInfo string `json:"metainfo"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ResolveHandler struct {
	username string
	password string
	resolver Resolver
	device   DeviceAuthorizer
}

// NewResolveHandler creates the resolve API. Basic auth is enforced when a
// username is set. device may be nil when the store has no device flow.
func NewResolveHandler(username, password string, res Resolver, device DeviceAuthorizer) *ResolveHandler {
	return &ResolveHandler{
		username: username,
		password: password,
		resolver: res,
		device:   device,
	}
}

func (h *ResolveHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.HandleHealth)

	r.Group(func(r chi.Router) {
		if h.username != "" {
			r.Use(h.basicAuthMiddleware)
		}

		r.Get("/resolve/{fingerprint}", h.HandleResolveGet)
		r.Post("/resolve", h.HandleResolvePost)
		r.Get("/api/device-code", h.HandleDeviceCode)
		r.Get("/api/poll-token", h.HandlePollToken)
	})

	return r
}

// HandleResolveGet resolves a fingerprint through a magnet built from the
// optional name and trackers query parameters.
func (h *ResolveHandler) HandleResolveGet(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var trackers []string

	for _, v := range query["trackers"] {
		trackers = append(trackers, strings.Split(v, ",")...)
	}

	trackers = append(trackers, query["tr"]...)

	h.resolve(w, r, resolver.Request{
		Fingerprint: chi.URLParam(r, "fingerprint"),
		DisplayName: query.Get("name"),
		Trackers:    trackers,
	})
}

// HandleResolvePost resolves a fingerprint described by a JSON body, with
// either trackers or a .torrent file.
func (h *ResolveHandler) HandleResolvePost(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)

	var body ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.Debug("invalid resolve request body", "err", err)

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")

			return
		}

		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")

		return
	}

	req := resolver.Request{
		Fingerprint: body.Fingerprint,
		DisplayName: body.Name,
		Trackers:    body.Trackers,
	}

	if body.MetaInfo != "" {
		blob, err := base64.StdEncoding.DecodeString(body.MetaInfo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "metainfo is not valid base64")

			return
		}

		if len(blob) > maxTorrentSize {
			writeError(w, http.StatusBadRequest, "invalid_request", "metainfo exceeds "+strconv.Itoa(maxTorrentSize)+" bytes")

			return
		}

		req.MetaInfo = blob
	}

	h.resolve(w, r, req)
}

func (h *ResolveHandler) resolve(w http.ResponseWriter, r *http.Request, req resolver.Request) {
	ctx, logger := logctx.With(r.Context(), "fingerprint", req.Fingerprint)

	res, err := h.resolver.Resolve(ctx, req)
	if err != nil {
		kind := resolver.KindOf(err)

		switch kind {
		case resolver.KindTransient:
			logger.WarnContext(ctx, "resolution deferred", "err", err)

			writeStatusPage(w, r, statusView{
				Fingerprint: req.Fingerprint,
				Name:        req.DisplayName,
				State:       "retry",
				Message:     "The store is busy, try again in a moment.",
			})
		case resolver.KindInternal:
			logger.ErrorContext(ctx, "resolution failed", "err", err)
			writeError(w, kind.HTTPStatus(), kind.String(), "internal error")
		default:
			logger.InfoContext(ctx, "resolution rejected", "kind", kind.String(), "err", err)
			writeError(w, kind.HTTPStatus(), kind.String(), messageOf(err))
		}

		return
	}

	if res.Status == resolver.StatusReady {
		logger.DebugContext(ctx, "redirecting to resolved url", "cached", res.Cached)
		http.Redirect(w, r, res.URL, http.StatusTemporaryRedirect)

		return
	}

	writeStatusPage(w, r, statusView{
		Fingerprint: res.Fingerprint,
		Name:        res.Name,
		State:       string(res.Status),
		Progress:    res.Progress,
		Message:     "The content is still being fetched, try again in a moment.",
	})
}

// HandleHealth reports liveness.
func (h *ResolveHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ResolveHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="seedbox_resolver"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func messageOf(err error) string {
	var rerr *resolver.Error
	if errors.As(err, &rerr) && rerr.Message != "" {
		return rerr.Message
	}

	return err.Error()
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
