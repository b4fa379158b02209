package transcript

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

const mediaPlaceholder = "![image](<embedded media>)"

var inlineMedia = regexp.MustCompile(`!\[[^\]]*\]\(data:[^)]*\)`)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type User struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
}

// Exchange is one completed question and answer.
type Exchange struct {
	Question string
	Answer   string
}

type Transcript struct {
	Conversations []Message `json:"conversations"`
	Timestamp     string    `json:"timestamp"`
	User          *User     `json:"user"`
	Version       string    `json:"version"`
}

type Report struct {
	Type          string    `json:"type"`
	Feedback      string    `json:"feedback"`
	Conversations []Message `json:"conversations"`
	SessionID     string    `json:"session_id"`
	Timestamp     string    `json:"timestamp"`
	User          *User     `json:"user"`
	Version       string    `json:"version"`
}

func ChatLogKey(sessionID string) string {
	return "chatlogs-" + sessionID + ".json"
}

// StripMedia swaps inline data-URL images for a short placeholder.
func StripMedia(text string) string {
	return inlineMedia.ReplaceAllString(text, mediaPlaceholder)
}

// Writer persists transcripts. Writes for one session are serialised
// within the process; separate processes sharing storage may still race.
type Writer struct {
	storage Storage
	version string
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewWriter(storage Storage, version string) *Writer {
	return &Writer{
		storage: storage,
		version: version,
		now:     time.Now,
		locks:   make(map[string]*sessionLock),
	}
}

func (w *Writer) lock(sessionID string) func() {
	w.mu.Lock()
	l, ok := w.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		w.locks[sessionID] = l
	}
	l.refs++
	w.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		w.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(w.locks, sessionID)
		}
		w.mu.Unlock()
	}
}

// Load returns the stored transcript or ErrNotFound.
func (w *Writer) Load(ctx context.Context, sessionID string) (*Transcript, error) {
	raw, err := w.storage.Load(ctx, ChatLogKey(sessionID))
	if err != nil {
		return nil, err
	}
	var t Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", sessionID, err)
	}
	return &t, nil
}

// Append reads or creates the session transcript, adds the exchange and
// writes the whole record back.
func (w *Writer) Append(ctx context.Context, sessionID string, user *User, ex Exchange) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	unlock := w.lock(sessionID)
	defer unlock()

	t, err := w.Load(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		t = &Transcript{Conversations: []Message{}}
	} else if err != nil {
		return err
	}

	t.Conversations = append(t.Conversations,
		Message{Role: "user", Content: ex.Question},
		Message{Role: "assistant", Content: StripMedia(ex.Answer)},
	)
	t.Timestamp = w.now().Format(timestampLayout)
	t.User = user
	t.Version = w.version

	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return w.storage.Save(ctx, ChatLogKey(sessionID), raw)
}

// Report stores a feedback record under a fresh key and returns the key.
func (w *Writer) Report(ctx context.Context, r Report, user *User) (string, error) {
	if r.SessionID == "" {
		return "", errors.New("session id is required")
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	key := "report-" + r.SessionID + hex.EncodeToString(suffix) + ".json"

	if r.Conversations == nil {
		r.Conversations = []Message{}
	}
	for i := range r.Conversations {
		r.Conversations[i].Content = StripMedia(r.Conversations[i].Content)
	}
	r.Timestamp = w.now().Format(timestampLayout)
	r.User = user
	r.Version = w.version

	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	if err := w.storage.Save(ctx, key, raw); err != nil {
		return "", err
	}
	return key, nil
}
