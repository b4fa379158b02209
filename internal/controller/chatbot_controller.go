package controller

import (
	"context"
	"encoding/json"

	"bioimage-chatbot-be/internal/constant"
	"bioimage-chatbot-be/internal/dto"
	"bioimage-chatbot-be/internal/pkg/serverutils"
	"bioimage-chatbot-be/internal/service"
	ws "bioimage-chatbot-be/internal/websocket"
	"bioimage-chatbot-be/pkg/eventbus"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type IChatbotController interface {
	RegisterRoutes(r fiber.Router, jwtMiddleware fiber.Handler)
	Chat(ctx *fiber.Ctx) error
	Report(ctx *fiber.Ctx) error
	Ping(ctx *fiber.Ctx) error
	Channels(ctx *fiber.Ctx) error
}

type chatbotController struct {
	chatbotService service.IChatbotService
	hub            *ws.Hub
}

func NewChatbotController(chatbotService service.IChatbotService, hub *ws.Hub) IChatbotController {
	return &chatbotController{
		chatbotService: chatbotService,
		hub:            hub,
	}
}

func (c *chatbotController) RegisterRoutes(r fiber.Router, jwtMiddleware fiber.Handler) {
	h := r.Group("/chatbot/v1", jwtMiddleware)
	h.Post("chat", c.Chat)
	h.Post("report", c.Report)
	h.Get("ping", c.Ping)
	h.Get("channels", c.Channels)
	h.Use("stream", func(ctx *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(ctx) {
			return ctx.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	h.Get("stream", websocket.New(c.stream))
}

// callerFrom reads the identity JwtMiddleware stored in the request locals.
func callerFrom(userIDLocal, emailLocal any) service.Caller {
	userID, _ := userIDLocal.(string)
	email, _ := emailLocal.(string)
	return service.Caller{UserID: userID, Email: email}
}

func (c *chatbotController) Chat(ctx *fiber.Ctx) error {
	var req dto.ChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.chatbotService.Chat(ctx.UserContext(), callerFrom(ctx.Locals("user_id"), ctx.Locals("email")), &req, nil)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success chat", res))
}

func (c *chatbotController) Report(ctx *fiber.Ctx) error {
	var req dto.ReportRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.chatbotService.Report(ctx.UserContext(), callerFrom(ctx.Locals("user_id"), ctx.Locals("email")), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success report", res))
}

func (c *chatbotController) Ping(ctx *fiber.Ctx) error {
	res, err := c.chatbotService.Ping(ctx.UserContext(), callerFrom(ctx.Locals("user_id"), ctx.Locals("email")))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success ping", res))
}

func (c *chatbotController) Channels(ctx *fiber.Ctx) error {
	return ctx.JSON(serverutils.SuccessResponse("Success get channels", c.chatbotService.Channels(ctx.UserContext())))
}

type streamFrame struct {
	Type    string `json:"type"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// stream serves chat requests over a websocket: every bus event of the
// session is forwarded as it happens, followed by one response or error frame.
func (c *chatbotController) stream(conn *websocket.Conn) {
	caller := callerFrom(conn.Locals("user_id"), conn.Locals("email"))

	ws.ServeWs(c.hub, conn, func(ctx context.Context, raw []byte, send func(v any) bool) {
		var req dto.ChatRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			send(streamFrame{Type: constant.StreamFrameError, Code: fiber.StatusBadRequest, Message: err.Error()})
			return
		}
		if err := serverutils.ValidateRequest(req); err != nil {
			send(streamFrame{Type: constant.StreamFrameError, Code: serverutils.StatusFor(err), Message: err.Error()})
			return
		}

		res, err := c.chatbotService.Chat(ctx, caller, &req, func(ev eventbus.Event) {
			send(ev)
		})
		if err != nil {
			send(streamFrame{Type: constant.StreamFrameError, Code: serverutils.StatusFor(err), Message: err.Error()})
			return
		}
		send(streamFrame{Type: constant.StreamFrameResponse, Data: res})
	})
}
