package dto

import (
	"bioimage-chatbot-be/pkg/ai/router"
)

type ChatMessageDTO struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content"`
}

type UserProfileDTO struct {
	Name       string `json:"name" validate:"max=32"`
	Occupation string `json:"occupation" validate:"max=128"`
	Background string `json:"background" validate:"max=256"`
}

// CustomFunctionDTO declares a capability the caller serves at Endpoint.
type CustomFunctionDTO struct {
	Name        string         `json:"name" validate:"required,max=64"`
	Description string         `json:"description" validate:"max=1024"`
	Schema      map[string]any `json:"schema"`
	Endpoint    string         `json:"endpoint" validate:"required,url"`
}

type ChatRequest struct {
	Text            string              `json:"text" validate:"required"`
	ChatHistory     []ChatMessageDTO    `json:"chat_history" validate:"dive"`
	UserProfile     UserProfileDTO      `json:"user_profile"`
	Channel         string              `json:"channel"`
	SessionId       string              `json:"session_id" validate:"max=128,excludesall=/\\"`
	ImageData       string              `json:"image_data,omitempty"`
	CustomFunctions []CustomFunctionDTO `json:"custom_functions,omitempty" validate:"max=16,dive"`
}

type ChatResponse struct {
	SessionId string        `json:"session_id"`
	Text      string        `json:"text"`
	Steps     []router.Step `json:"steps"`
}

type ReportRequest struct {
	SessionId string           `json:"session_id" validate:"required,max=128,excludesall=/\\"`
	Type      string           `json:"type" validate:"required,max=64"`
	Feedback  string           `json:"feedback" validate:"max=4096"`
	Messages  []ChatMessageDTO `json:"messages" validate:"dive"`
}

type ReportResponse struct {
	Key string `json:"key"`
}

type ChannelsResponse struct {
	Channels []string `json:"channels"`
	Default  string   `json:"default"`
}
