package advisory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"adpilot/internal/config"
)

type stubProvider struct {
	out string
	err error
}

func (s *stubProvider) Complete(context.Context, string, string) (string, error) {
	return s.out, s.err
}

func TestRunDisabled(t *testing.T) {
	res := Run(context.Background(), nil, "", "digest")
	assert.False(t, res.Authoritative)
	assert.Equal(t, "advisory disabled", res.Note)
	assert.Empty(t, res.Commentary)
}

func TestRunReducesFailureToNote(t *testing.T) {
	res := Run(context.Background(), &stubProvider{err: assert.AnError}, "m", "digest")
	assert.False(t, res.Authoritative)
	assert.Contains(t, res.Note, "advisory unavailable")
	assert.Empty(t, res.Commentary)
}

func TestRunSuccess(t *testing.T) {
	res := Run(context.Background(), &stubProvider{out: "  watch the exclusions  "}, "m", "digest")
	assert.Equal(t, "watch the exclusions", res.Commentary)
	assert.False(t, res.Authoritative)
	assert.Empty(t, res.Note)
}

func TestOpenAIChatClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req struct {
			Model    string              `json:"model"`
			Messages []map[string]string `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Messages, 2)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "looks risky"}}},
		})
	}))
	defer srv.Close()

	// The /chat/completions suffix in config must not double up.
	c := &OpenAIChatClient{BaseURL: srv.URL + "/v1/chat/completions", APIKey: "key", Model: "test-model"}
	out, err := c.Complete(context.Background(), "sys", "user")
	assert.NoError(t, err)
	assert.Equal(t, "looks risky", out)
}

func TestNewProvider(t *testing.T) {
	assert.Nil(t, NewProvider(nil))
	assert.Nil(t, NewProvider(&config.AdvisoryConfig{Enabled: false}))
	assert.NotNil(t, NewProvider(&config.AdvisoryConfig{Enabled: true, APIURL: "https://x", APIKey: "k"}))
}
