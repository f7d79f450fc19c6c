package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sequence-engine/internal/config"
)

func TestClientSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/send", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "api", user)
		assert.Equal(t, "key-1", pass)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "alice@example.com", payload["to"])
		assert.Equal(t, "msg-1", payload["reference"])

		json.NewEncoder(w).Encode(map[string]string{"id": "provider-123"})
	}))
	defer srv.Close()

	c := NewClient(config.DeliveryConfig{BaseURL: srv.URL, APIKey: "key-1", FromDomain: "mail.example.com"})
	id, err := c.Send(context.Background(), SendRequest{
		To: "alice@example.com", TemplateID: "tmpl-1", MessageID: "msg-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "provider-123", id)
}

func TestClientSendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad template", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(config.DeliveryConfig{BaseURL: srv.URL, APIKey: "key-1"})
	_, err := c.Send(context.Background(), SendRequest{To: "a@b.com", MessageID: "msg-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
