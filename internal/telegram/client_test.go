package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New("TOKEN", zerolog.Nop()).SetBaseURL(server.URL)
	return client
}

func TestCallOK(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/getMe", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"id": 42, "first_name": "bot"}})
	})

	user, err := Call[User](context.Background(), client, GetMe{})
	require.NoError(t, err)
	require.EqualValues(t, 42, user.ID)
}

func TestCallErrorSurfacesDescriptionVerbatim(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 409, "description": "Conflict: terminated by other getUpdates request"})
	})

	_, err := Call[[]Update](context.Background(), client, GetUpdates{})
	require.Error(t, err)
	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 409, apiErr.Code)
	require.Contains(t, apiErr.Description, "terminated by other getUpdates")
}

func TestChatIDMarshalsUntagged(t *testing.T) {
	numeric, err := json.Marshal(FromNumericID(123))
	require.NoError(t, err)
	require.Equal(t, "123", string(numeric))

	username, err := json.Marshal(FromUsername("@channel"))
	require.NoError(t, err)
	require.Equal(t, `"@channel"`, string(username))
}

func TestUpdateDecodeIgnoresNonMessageKinds(t *testing.T) {
	var update Update
	require.NoError(t, json.Unmarshal([]byte(`{"update_id":5,"my_chat_member":{}}`), &update))
	require.Nil(t, update.Message)
	require.EqualValues(t, 5, update.ID)
}
