package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"beacon/internal/models"

	"github.com/stretchr/testify/require"
)

var tinyPNG = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func (e *testEnv) upload(t *testing.T, user, name string, body []byte) (int, AttachmentResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/api/upload/attachment?name="+name, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("token", e.tokens[user])
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out AttachmentResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestAPI_Attachments(t *testing.T) {
	env := newTestEnv(t)

	code, up := env.upload(t, "alice", "pic.png", tinyPNG)
	require.Equal(t, http.StatusOK, code)
	require.True(t, up.Success)
	require.Equal(t, "pic.png", up.Attachment.Name)
	require.Equal(t, "image/png", up.Attachment.MimeType)
	require.Equal(t, int64(len(tinyPNG)), up.Attachment.Size)
	require.True(t, strings.HasPrefix(up.Attachment.URL, "/api/attachments/"))

	// The descriptor is accepted on an image message as is.
	_, err := env.chat.CreateConversation("c1", []string{"alice", "bob"})
	require.NoError(t, err)
	_, err = env.chat.Append(models.Message{
		ConversationID: "c1",
		SenderID:       "alice",
		Type:           models.MessageTypeImage,
		Attachments:    []models.Attachment{up.Attachment},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+up.Attachment.URL, nil)
	require.NoError(t, err)
	req.Header.Set("token", env.tokens["bob"])
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, tinyPNG, data)

	code, _ = env.upload(t, "alice", "", tinyPNG)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = env.upload(t, "alice", "empty.txt", nil)
	require.Equal(t, http.StatusBadRequest, code)

	var missing models.APIResponse
	code = env.do(t, http.MethodGet, "/api/attachments/"+strings.Repeat("0", 64), "bob", nil, &missing)
	require.Equal(t, http.StatusNotFound, code)
	code = env.do(t, http.MethodGet, "/api/attachments/nope", "bob", nil, &missing)
	require.Equal(t, http.StatusNotFound, code)
}
