package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/italolelis/seedbox_resolver/internal/logctx"
	"github.com/italolelis/seedbox_resolver/internal/store/seedr"
)

// DeviceAuthorizer runs the Seedr device authorization flow.
type DeviceAuthorizer interface {
	RequestDeviceCode(ctx context.Context) (*seedr.DeviceCode, error)
	PollToken(ctx context.Context, deviceCode string) (*seedr.Token, error)
}

// HandleDeviceCode starts a device authorization and returns the code the
// user has to enter.
func (h *ResolveHandler) HandleDeviceCode(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	if h.device == nil {
		writeError(w, http.StatusNotFound, "not_supported", "the configured store has no device authorization")

		return
	}

	code, err := h.device.RequestDeviceCode(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to request device code", "err", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to request device code")

		return
	}

	writeJSON(w, http.StatusOK, code)
}

// HandlePollToken checks whether the user authorized the device yet.
func (h *ResolveHandler) HandlePollToken(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	if h.device == nil {
		writeError(w, http.StatusNotFound, "not_supported", "the configured store has no device authorization")

		return
	}

	deviceCode := r.URL.Query().Get("device_code")
	if deviceCode == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "device_code is required")

		return
	}

	token, err := h.device.PollToken(r.Context(), deviceCode)
	if errors.Is(err, seedr.ErrAuthorizationPending) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})

		return
	}

	if err != nil {
		logger.ErrorContext(r.Context(), "failed to poll device token", "err", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to poll token")

		return
	}

	writeJSON(w, http.StatusOK, token)
}
