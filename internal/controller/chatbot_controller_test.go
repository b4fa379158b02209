package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bioimage-chatbot-be/internal/dto"
	"bioimage-chatbot-be/internal/pkg/logger"
	"bioimage-chatbot-be/internal/pkg/serverutils"
	"bioimage-chatbot-be/internal/service"
	ws "bioimage-chatbot-be/internal/websocket"
	"bioimage-chatbot-be/pkg/ai/router"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatbotService struct {
	chatErr  error
	lastChat *dto.ChatRequest
	caller   service.Caller
}

func (f *fakeChatbotService) Chat(ctx context.Context, caller service.Caller, req *dto.ChatRequest, stream service.StreamFunc) (*dto.ChatResponse, error) {
	f.lastChat = req
	f.caller = caller
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &dto.ChatResponse{SessionId: "s1", Text: "answer", Steps: []router.Step{{Name: router.StepDirect}}}, nil
}

func (f *fakeChatbotService) Report(ctx context.Context, caller service.Caller, req *dto.ReportRequest) (*dto.ReportResponse, error) {
	return &dto.ReportResponse{Key: "report-" + req.SessionId + "00000000.json"}, nil
}

func (f *fakeChatbotService) Ping(ctx context.Context, caller service.Caller) (string, error) {
	return "pong", nil
}

func (f *fakeChatbotService) Channels(ctx context.Context) *dto.ChannelsResponse {
	return &dto.ChannelsResponse{Channels: []string{"bioimage.io", "learn", "function-call"}, Default: "auto"}
}

func newTestApp(svc service.IChatbotService) *fiber.App {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	hub := ws.NewHub(logger.NewNopLogger())
	NewChatbotController(svc, hub).RegisterRoutes(app.Group("/api"), serverutils.JwtMiddleware("secret", false))
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return resp, decoded
}

func TestChatEndpoint(t *testing.T) {
	svc := &fakeChatbotService{}
	app := newTestApp(svc)

	resp, body := post(t, app, "/api/chatbot/v1/chat", `{"text":"hi","channel":"auto","user_profile":{"name":"Ada"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "answer", body["data"].(map[string]any)["text"])
	assert.Equal(t, "Ada", svc.lastChat.UserProfile.Name)
}

func TestChatEndpointValidation(t *testing.T) {
	app := newTestApp(&fakeChatbotService{})

	resp, _ := post(t, app, "/api/chatbot/v1/chat", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	long := strings.Repeat("x", 33)
	resp, _ = post(t, app, "/api/chatbot/v1/chat", `{"text":"hi","user_profile":{"name":"`+long+`"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatEndpointMapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&router.ClassificationError{Attempts: 2, Err: errors.New("garbled")}, http.StatusBadGateway},
		{serverutils.ErrPermissionDenied, http.StatusForbidden},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		app := newTestApp(&fakeChatbotService{chatErr: tc.err})
		resp, body := post(t, app, "/api/chatbot/v1/chat", `{"text":"hi"}`)
		assert.Equal(t, tc.want, resp.StatusCode)
		assert.Equal(t, false, body["success"])
	}
}

func TestReportEndpoint(t *testing.T) {
	app := newTestApp(&fakeChatbotService{})

	resp, body := post(t, app, "/api/chatbot/v1/report", `{"session_id":"s1","type":"bug","feedback":"slow"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "report-s100000000.json", body["data"].(map[string]any)["key"])

	resp, _ = post(t, app, "/api/chatbot/v1/report", `{"type":"bug"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPingAndChannels(t *testing.T) {
	app := newTestApp(&fakeChatbotService{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/chatbot/v1/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/chatbot/v1/channels", nil))
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "function-call")
}

func TestStreamRequiresUpgrade(t *testing.T) {
	app := newTestApp(&fakeChatbotService{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/chatbot/v1/stream", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestSessionIdRejectsPathSeparators(t *testing.T) {
	svc := &fakeChatbotService{}
	app := newTestApp(svc)

	for _, id := range []string{`../etc`, `a/b`, `a\\b`} {
		resp, body := post(t, app, "/api/chatbot/v1/chat", `{"text":"hi","session_id":"`+id+`"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, id)
		assert.Contains(t, body["message"], "SessionId", id)

		resp, _ = post(t, app, "/api/chatbot/v1/report", `{"session_id":"`+id+`","type":"bug"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, id)
	}
	assert.Nil(t, svc.lastChat)

	resp, _ := post(t, app, "/api/chatbot/v1/chat", `{"text":"hi","session_id":"s1.retry-2"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
