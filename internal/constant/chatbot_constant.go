package constant

const (
	ChatMessageRoleUser      = "user"
	ChatMessageRoleAssistant = "assistant"
	ChatMessageRoleSystem    = "system"
)

// Websocket frame types sent on /stream besides the bus events.
const (
	StreamFrameResponse = "response"
	StreamFrameError    = "error"
)

const (
	ChatLogModule      = "CHATBOT"
	ChatStepLogModule  = "CHAT_STEP"
	ReportConsumerName = "chatbot-report-audit"
)

const ImageDecodeFailedMessage = "Failed to decode the image, error: %v"
