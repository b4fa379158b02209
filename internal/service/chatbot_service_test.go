package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"bioimage-chatbot-be/internal/dto"
	"bioimage-chatbot-be/internal/pkg/logger"
	"bioimage-chatbot-be/internal/pkg/serverutils"
	"bioimage-chatbot-be/pkg/ai/capability"
	"bioimage-chatbot-be/pkg/ai/router"
	"bioimage-chatbot-be/pkg/collection"
	"bioimage-chatbot-be/pkg/eventbus"
	"bioimage-chatbot-be/pkg/events"
	"bioimage-chatbot-be/pkg/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRouter publishes one step for its own session and one for a
// foreign session before answering.
type fakeRouter struct {
	bus  *eventbus.Bus
	err  error
	text string

	mu   sync.Mutex
	seen []router.RequestContext
}

func (f *fakeRouter) Route(ctx context.Context, req router.RequestContext) (router.Response, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()

	_ = f.bus.Publish(eventbus.Event{Type: eventbus.EventStep, SessionID: req.SessionID, Name: router.StepDirect})
	_ = f.bus.Publish(eventbus.Event{Type: eventbus.EventStep, SessionID: "someone-else", Name: router.StepLearn})

	if f.err != nil {
		return router.Response{}, f.err
	}
	return router.Response{
		Text:  f.text,
		Steps: []router.Step{{Name: router.StepDirect}},
	}, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type fixture struct {
	svc    IChatbotService
	bus    *eventbus.Bus
	router *fakeRouter
	events *recordingEvents
	dir    string
}

func newFixture(t *testing.T, opts ...func(*ChatbotServiceDeps)) *fixture {
	t.Helper()

	reg, err := collection.NewRegistry([]collection.Collection{
		{ID: "bioimage.io", Name: "bioimage.io", Description: "Model zoo"},
		{ID: "imagej", Name: "ImageJ", Description: "ImageJ manual"},
	}, nil, "bioimage.io")
	require.NoError(t, err)

	bus := eventbus.New(nil)
	t.Cleanup(func() { _ = bus.Close() })

	dir := t.TempDir()
	rt := &fakeRouter{bus: bus, text: "Hello there"}
	rec := &recordingEvents{}

	deps := ChatbotServiceDeps{
		Registry:     reg,
		Router:       rt,
		Bus:          bus,
		Transcripts:  transcript.NewWriter(transcript.NewFileStorage(dir), "test"),
		Capabilities: capability.NewFactory(nil, 0),
		Events:       rec,
		Logger:       logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &fixture{svc: NewChatbotService(deps), bus: bus, router: rt, events: rec, dir: dir}
}

type streamRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (s *streamRecorder) record(ev eventbus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *streamRecorder) snapshot() []eventbus.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]eventbus.Event(nil), s.events...)
}

func TestChatStreamsOwnSessionAndWritesTranscript(t *testing.T) {
	f := newFixture(t)
	rec := &streamRecorder{}

	res, err := f.svc.Chat(context.Background(), Caller{Email: "ada@example.org"}, &dto.ChatRequest{
		Text:      "hi",
		SessionId: "s1",
	}, rec.record)
	require.NoError(t, err)

	assert.Equal(t, "s1", res.SessionId)
	assert.Equal(t, "Hello there", res.Text)

	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].SessionID)
	assert.Equal(t, router.StepDirect, got[0].Name)

	raw, err := os.ReadFile(filepath.Join(f.dir, "chatlogs-s1.json"))
	require.NoError(t, err)
	var tr transcript.Transcript
	require.NoError(t, json.Unmarshal(raw, &tr))
	require.Len(t, tr.Conversations, 2)
	assert.Equal(t, "hi", tr.Conversations[0].Content)
	assert.Equal(t, "ada@example.org", tr.User.Email)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, events.ChatCompleted, f.events.events[0].EventType())
}

func TestChatUnsubscribesOnFailure(t *testing.T) {
	f := newFixture(t)
	f.router.err = &router.ClassificationError{Attempts: 2, Err: errors.New("bad output")}
	rec := &streamRecorder{}

	_, err := f.svc.Chat(context.Background(), Caller{}, &dto.ChatRequest{Text: "hi", SessionId: "s1"}, rec.record)
	require.ErrorIs(t, err, router.ErrClassification)
	require.Len(t, rec.snapshot(), 1)

	// the listener is gone, later events for the session are not delivered
	require.NoError(t, f.bus.Publish(eventbus.Event{Type: eventbus.EventStep, SessionID: "s1", Name: "late"}))
	assert.Len(t, rec.snapshot(), 1)

	_, statErr := os.Stat(filepath.Join(f.dir, "chatlogs-s1.json"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, f.events.events)
}

func TestChatUnsubscribesOnSuccess(t *testing.T) {
	f := newFixture(t)
	rec := &streamRecorder{}

	_, err := f.svc.Chat(context.Background(), Caller{}, &dto.ChatRequest{Text: "hi", SessionId: "s1"}, rec.record)
	require.NoError(t, err)

	require.NoError(t, f.bus.Publish(eventbus.Event{Type: eventbus.EventStep, SessionID: "s1", Name: "late"}))
	assert.Len(t, rec.snapshot(), 1)
}

func TestChatResolvesChannel(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Chat(context.Background(), Caller{}, &dto.ChatRequest{Text: "hi", Channel: "ImageJ"}, nil)
	require.NoError(t, err)

	_, err = f.svc.Chat(context.Background(), Caller{}, &dto.ChatRequest{Text: "hi", Channel: "auto"}, nil)
	require.NoError(t, err)

	require.Len(t, f.router.seen, 2)
	assert.Equal(t, collection.SelectionNamed, f.router.seen[0].Channel.Kind)
	assert.Equal(t, "imagej", f.router.seen[0].Channel.Collection.ID)
	assert.Equal(t, collection.SelectionDefault, f.router.seen[1].Channel.Kind)
	assert.NotEmpty(t, f.router.seen[0].SessionID)
	assert.NotEqual(t, f.router.seen[0].SessionID, f.router.seen[1].SessionID)
}

func TestChatUnknownChannel(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Chat(context.Background(), Caller{}, &dto.ChatRequest{Text: "hi", Channel: "nope"}, nil)
	assert.ErrorIs(t, err, collection.ErrUnknownChannel)
	assert.Empty(t, f.router.seen)
}

func TestChatBuildsCapabilities(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Chat(context.Background(), Caller{}, &dto.ChatRequest{
		Text:    "count cells",
		Channel: "function-call",
		CustomFunctions: []dto.CustomFunctionDTO{{
			Name:        "count_cells",
			Description: "Counts cells in the open image",
			Endpoint:    "http://microscope.local:9000/count",
		}},
	}, nil)
	require.NoError(t, err)

	require.Len(t, f.router.seen, 1)
	require.Contains(t, f.router.seen[0].Capabilities, "count_cells")
	assert.Equal(t, "Counts cells in the open image", f.router.seen[0].Capabilities["count_cells"].Spec().Description)
}

func TestChatRejectsBadCapabilityEndpoint(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Chat(context.Background(), Caller{}, &dto.ChatRequest{
		Text:            "hi",
		CustomFunctions: []dto.CustomFunctionDTO{{Name: "x", Endpoint: "ftp://example.org"}},
	}, nil)

	var verr *serverutils.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, f.router.seen)
}

func TestChatBadImageData(t *testing.T) {
	f := newFixture(t)
	rec := &streamRecorder{}

	res, err := f.svc.Chat(context.Background(), Caller{}, &dto.ChatRequest{
		Text:      "what is this?",
		SessionId: "s1",
		ImageData: "data:image/png;base64,@@@",
	}, rec.record)
	require.NoError(t, err)

	assert.Contains(t, res.Text, "Failed to decode the image")
	assert.Empty(t, f.router.seen)

	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, eventbus.EventText, got[0].Type)
	assert.Contains(t, got[0].Content, "![Uploaded Image]")
}

func TestPermissionChecks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"users":[{"email":"ada@example.org"}]}`), 0o644))
	users, err := serverutils.LoadAuthorizedUsers(path)
	require.NoError(t, err)

	f := newFixture(t, func(d *ChatbotServiceDeps) {
		d.Authorized = users
		d.AuthRequired = true
	})

	pong, err := f.svc.Ping(context.Background(), Caller{Email: "ada@example.org"})
	require.NoError(t, err)
	assert.Equal(t, "pong", pong)

	_, err = f.svc.Ping(context.Background(), Caller{Email: "eve@example.org"})
	assert.ErrorIs(t, err, serverutils.ErrPermissionDenied)

	_, err = f.svc.Chat(context.Background(), Caller{Email: "eve@example.org"}, &dto.ChatRequest{Text: "hi"}, nil)
	assert.ErrorIs(t, err, serverutils.ErrPermissionDenied)

	_, err = f.svc.Report(context.Background(), Caller{Email: "eve@example.org"}, &dto.ReportRequest{SessionId: "s1", Type: "bug"})
	assert.ErrorIs(t, err, serverutils.ErrPermissionDenied)
}

func TestReport(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Report(context.Background(), Caller{Email: "ada@example.org"}, &dto.ReportRequest{
		SessionId: "s1",
		Type:      "thumbs-down",
		Feedback:  "wrong model",
		Messages:  []dto.ChatMessageDTO{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^report-s1[0-9a-f]{8}\.json$`, res.Key)

	raw, err := os.ReadFile(filepath.Join(f.dir, res.Key))
	require.NoError(t, err)
	var rep transcript.Report
	require.NoError(t, json.Unmarshal(raw, &rep))
	assert.Equal(t, "wrong model", rep.Feedback)
	assert.Equal(t, "s1", rep.SessionID)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, events.ChatReported, f.events.events[0].EventType())
}

func TestChannels(t *testing.T) {
	f := newFixture(t)
	res := f.svc.Channels(context.Background())
	assert.Equal(t, []string{"bioimage.io", "ImageJ", "learn", "function-call"}, res.Channels)
}
