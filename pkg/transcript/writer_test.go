package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "chat_logs")
	w := NewWriter(NewFileStorage(dir), "1.2.3")
	w.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	return w, dir
}

func TestAppendCreatesTranscript(t *testing.T) {
	w, dir := newTestWriter(t)
	user := &User{Email: "ada@example.org"}

	err := w.Append(context.Background(), "s1", user, Exchange{Question: "hi", Answer: "hello"})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "chatlogs-s1.json"))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "2024-03-01 09:30:00", got["timestamp"])
	assert.Equal(t, "1.2.3", got["version"])
	assert.Equal(t, "ada@example.org", got["user"].(map[string]any)["email"])
	assert.Len(t, got["conversations"], 2)
}

func TestAppendSameExchangeTwiceGrows(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()
	ex := Exchange{Question: "same", Answer: "same"}

	require.NoError(t, w.Append(ctx, "s1", nil, ex))
	first, err := w.Load(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, w.Append(ctx, "s1", nil, ex))
	second, err := w.Load(ctx, "s1")
	require.NoError(t, err)

	assert.Greater(t, len(second.Conversations), len(first.Conversations))
	assert.Equal(t, []Message{
		{Role: "user", Content: "same"},
		{Role: "assistant", Content: "same"},
		{Role: "user", Content: "same"},
		{Role: "assistant", Content: "same"},
	}, second.Conversations)
}

func TestAppendStripsEmbeddedMedia(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()
	answer := "Here it is:\n![plot](data:image/png;base64,iVBORw0KGgo=)\nand ![logo](https://bioimage.io/logo.png)"

	require.NoError(t, w.Append(ctx, "s1", nil, Exchange{Question: "show", Answer: answer}))

	tr, err := w.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Here it is:\n![image](<embedded media>)\nand ![logo](https://bioimage.io/logo.png)", tr.Conversations[1].Content)
}

func TestAppendRequiresSession(t *testing.T) {
	w, _ := newTestWriter(t)
	assert.Error(t, w.Append(context.Background(), "", nil, Exchange{}))
}

func TestConcurrentAppendsAreSerialised(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, w.Append(ctx, "s1", nil, Exchange{Question: fmt.Sprint(i), Answer: "ok"}))
		}(i)
	}
	wg.Wait()

	tr, err := w.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, tr.Conversations, 40)
	assert.Empty(t, w.locks)
}

func TestLoadMissing(t *testing.T) {
	w, _ := newTestWriter(t)
	_, err := w.Load(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

var reportKey = regexp.MustCompile(`^report-s1[0-9a-f]{8}\.json$`)

func TestReport(t *testing.T) {
	w, dir := newTestWriter(t)

	key, err := w.Report(context.Background(), Report{
		Type:          "thumbs-down",
		Feedback:      "wrong link",
		SessionID:     "s1",
		Conversations: []Message{{Role: "user", Content: "q"}, {Role: "assistant", Content: "a"}},
	}, &User{ID: "u1"})
	require.NoError(t, err)
	assert.Regexp(t, reportKey, key)

	raw, err := os.ReadFile(filepath.Join(dir, key))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "thumbs-down", got["type"])
	assert.Equal(t, "wrong link", got["feedback"])
	assert.Equal(t, "s1", got["session_id"])
	assert.Equal(t, "1.2.3", got["version"])
	assert.Len(t, got["conversations"], 2)
}

func TestReportKeysAreDistinct(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	a, err := w.Report(ctx, Report{SessionID: "s1"}, nil)
	require.NoError(t, err)
	b, err := w.Report(ctx, Report{SessionID: "s1"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRedisStorage(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping redis transcript test")
	}

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	prefix := fmt.Sprintf("test:%d:", time.Now().UnixNano())
	w := NewWriter(NewRedisStorage(client, prefix), "test")

	require.NoError(t, w.Append(ctx, "s1", nil, Exchange{Question: "q", Answer: "a"}))
	tr, err := w.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, tr.Conversations, 2)

	client.Del(ctx, prefix+ChatLogKey("s1"))
}
