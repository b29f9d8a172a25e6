package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method  string
	chatID  string
	text    string
	caption string
	media   int
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseMultipartForm(32 << 20)
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	c := call{method: method, chatID: r.FormValue("chat_id"), text: r.FormValue("text"), caption: r.FormValue("caption")}
	if raw := r.FormValue("media"); raw != "" {
		var items []map[string]any
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			c.media = len(items)
			if len(items) > 0 {
				c.caption, _ = items[0]["caption"].(string)
			}
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	message := `{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}`
	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"ecom","username":"ecom_bot"}}`)
	case "sendMediaGroup":
		fmt.Fprintf(w, `{"ok":true,"result":[%s]}`, message)
	default:
		fmt.Fprintf(w, `{"ok":true,"result":%s}`, message)
	}
}

func (f *fakeAPI) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

func newPublisher(t *testing.T, api *fakeAPI) *Publisher {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	p, err := New(Options{
		Token:      "123:abc",
		ChatID:     42,
		Endpoint:   srv.URL + "/bot%s/%s",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return p
}

func writeImages(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	out := make([]string, n)
	for i := range out {
		out[i] = filepath.Join(dir, fmt.Sprintf("%02d_shot.png", i+1))
		require.NoError(t, os.WriteFile(out[i], []byte("\x89PNG\r\n\x1a\nimg"), 0o644))
	}
	return out
}

func TestPublishSplitsAlbums(t *testing.T) {
	api := &fakeAPI{}
	p := newPublisher(t, api)
	assert.Equal(t, "ecom_bot", p.Username())

	err := p.Publish(context.Background(), "P1 · cover · 11/11 images", writeImages(t, 11))
	require.NoError(t, err)
	assert.Equal(t, []string{"getMe", "sendMessage", "sendMediaGroup", "sendPhoto"}, api.methods())

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "42", api.calls[1].chatID)
	assert.Equal(t, "P1 · cover · 11/11 images", api.calls[1].text)
	assert.Equal(t, 10, api.calls[2].media)
	assert.Equal(t, "1/2", api.calls[2].caption)
	assert.Equal(t, "2/2", api.calls[3].caption)
}

func TestPublishSingleAlbumHasNoLabel(t *testing.T) {
	api := &fakeAPI{}
	p := newPublisher(t, api)

	require.NoError(t, p.Publish(context.Background(), "done", writeImages(t, 3)))
	assert.Equal(t, []string{"getMe", "sendMessage", "sendMediaGroup"}, api.methods())

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 3, api.calls[2].media)
	assert.Empty(t, api.calls[2].caption)
}

func TestPublishMissingImage(t *testing.T) {
	api := &fakeAPI{}
	p := newPublisher(t, api)

	err := p.Publish(context.Background(), "done", []string{filepath.Join(t.TempDir(), "gone.png")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send album 1")
}

func TestPublishStopsOnCanceledContext(t *testing.T) {
	api := &fakeAPI{}
	p := newPublisher(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Publish(ctx, "done", writeImages(t, 2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"getMe", "sendMessage"}, api.methods())
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{ChatID: 1, HTTPClient: http.DefaultClient})
	assert.Error(t, err)
	_, err = New(Options{Token: "x", HTTPClient: http.DefaultClient})
	assert.Error(t, err)
	_, err = New(Options{Token: "x", ChatID: 1})
	assert.Error(t, err)
}

func TestSplitByBytes(t *testing.T) {
	assert.Equal(t, []string{"hello"}, splitByBytes("hello", 10))
	assert.Equal(t, []string{"abc", "def", "g"}, splitByBytes("abcdefg", 3))

	parts := splitByBytes("ééé", 3)
	assert.Equal(t, []string{"é", "é", "é"}, parts)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 3)
	}
}

func TestTruncateByBytes(t *testing.T) {
	assert.Equal(t, "short", truncateByBytes("short", 1024))
	assert.Equal(t, "ab", truncateByBytes("abcdef", 2))
	assert.Equal(t, "é", truncateByBytes("éé", 3))
}
