package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewDiscordNotifier(server.URL, server.Client())

	require.NoError(t, n.Notify(context.Background(), "Storage full"))
	assert.Equal(t, "Storage full", got["content"])
	assert.Equal(t, "seedbox_resolver", got["username"])
}

func TestDiscordNotifier_TruncatesLongContent(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	n := NewDiscordNotifier(server.URL, server.Client())

	require.NoError(t, n.Notify(context.Background(), strings.Repeat("x", 3000)))
	assert.Len(t, got["content"], maxContentLength)
	assert.True(t, strings.HasSuffix(got["content"], "..."))
}

func TestDiscordNotifier_Errors(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		err := (&DiscordNotifier{}).Notify(context.Background(), "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "webhook URL is not set")
	})

	t.Run("non 2xx", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		err := NewDiscordNotifier(server.URL, nil).Notify(context.Background(), "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background(), "hi"))
}
