package seedr

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceFlow(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/device/code", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultClientID, r.URL.Query().Get("client_id"))

		writeJSON(w, map[string]any{
			"device_code": "dev-1",
			"user_code":   "ABCD-1234",
			"expires_in":  60,
			"interval":    1,
		})
	})
	mux.HandleFunc("/api/device/authorize", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dev-1", r.URL.Query().Get("device_code"))

		if polls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		writeJSON(w, map[string]any{"access_token": "tok-1", "token_type": "bearer"})
	})

	c := newTestClient(t, mux)

	code, err := c.RequestDeviceCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", code.UserCode)
	assert.NotEmpty(t, code.VerificationURL)

	_, err = c.PollToken(context.Background(), code.DeviceCode)
	require.ErrorIs(t, err, ErrAuthorizationPending)

	token, err := c.WaitForToken(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.AccessToken)
}
