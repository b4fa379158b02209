package bootstrap

import (
	"context"
	"log"
	"net/http"
	"time"

	"bioimage-chatbot-be/internal/config"
	"bioimage-chatbot-be/internal/controller"
	"bioimage-chatbot-be/internal/pkg/logger"
	"bioimage-chatbot-be/internal/pkg/mailer"
	"bioimage-chatbot-be/internal/pkg/serverutils"
	"bioimage-chatbot-be/internal/repository/implementation"
	"bioimage-chatbot-be/internal/service"
	"bioimage-chatbot-be/internal/websocket"
	"bioimage-chatbot-be/pkg/ai/capability"
	"bioimage-chatbot-be/pkg/ai/responder"
	"bioimage-chatbot-be/pkg/ai/router"
	"bioimage-chatbot-be/pkg/collection"
	"bioimage-chatbot-be/pkg/embedding"
	"bioimage-chatbot-be/pkg/eventbus"
	"bioimage-chatbot-be/pkg/llm/factory"
	"bioimage-chatbot-be/pkg/rag/ranking"
	"bioimage-chatbot-be/pkg/rag/retrieval"
	"bioimage-chatbot-be/pkg/sandbox"
	"bioimage-chatbot-be/pkg/transcript"

	pktNats "bioimage-chatbot-be/pkg/nats"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ChatbotController controller.IChatbotController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService

	WebSocketHub *websocket.Hub

	closers []func()
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	ctx := context.Background()
	c := &Container{}

	// 1. Logging
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	stepLogger := logger.NewIsolatedLogger(cfg.App.ChatLogFilePath)
	c.closers = append(c.closers, func() { _ = sysLogger.Sync(); _ = stepLogger.Sync() })

	// 2. Knowledge base
	collections, err := collection.LoadManifest(cfg.Knowledge.ManifestPath)
	if err != nil {
		log.Fatalf("[FATAL] Failed to load knowledge manifest: %v", err)
	}

	resources, err := collection.LoadResources(ctx, &http.Client{Timeout: 30 * time.Second}, cfg.Knowledge.ResourceURL)
	if err != nil {
		sysLogger.Warn("Bootstrap", "Resource dataset unavailable, scripts run against an empty dataset", map[string]interface{}{
			"source": cfg.Knowledge.ResourceURL,
			"error":  err.Error(),
		})
		resources = nil
	}

	registry, err := collection.NewRegistry(collections, resources, cfg.Knowledge.DefaultChannelID)
	if err != nil {
		log.Fatalf("[FATAL] Invalid knowledge manifest: %v", err)
	}
	log.Printf("[INFO] Loaded %d collections, %d resource records", len(collections), len(resources))

	// 3. Retrieval
	embeddingProvider, err := embedding.NewProvider(ctx,
		cfg.Ai.EmbeddingProvider,
		cfg.Ai.OllamaBaseURL,
		cfg.Ai.EmbeddingModel,
		cfg.Ai.GoogleAPIKey,
	)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize Embedding Provider: %v", err)
	}
	log.Printf("[INFO] Using Embedding Provider: %s", cfg.Ai.EmbeddingProvider)

	chunkRepo := implementation.NewKnowledgeChunkRepository(db)
	stores := make(map[string]retrieval.Store, len(collections))
	for _, col := range registry.Collections() {
		stores[col.ID] = retrieval.NewCachedStore(
			retrieval.NewPgvectorStore(col.ID, chunkRepo, embeddingProvider),
			cfg.Knowledge.RetrievalCacheTTL,
		)
	}
	merger := ranking.NewMerger(registry, stores)

	// 4. Reasoning
	llmBaseURL := cfg.Ai.LLMBaseURL
	if llmBaseURL == "" && cfg.Ai.LLMProvider == "ollama" {
		llmBaseURL = cfg.Ai.OllamaBaseURL
	}
	llmProvider, err := factory.NewLLMProvider(
		cfg.Ai.LLMProvider,
		cfg.Ai.LLMModel,
		llmBaseURL,
		cfg.Ai.OpenAIAPIKey,
	)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	scriptSandbox := sandbox.New(cfg.Chat.SandboxWorkers)
	llmResponder := responder.NewLLMResponder(llmProvider, sysLogger)

	// 5. Event Bus
	bus := eventbus.New(logger.NewWatermillAdapter(sysLogger, "EventBus"))
	c.closers = append(c.closers, func() { _ = bus.Close() })

	chatRouter := router.NewRouter(
		llmResponder,
		merger,
		scriptSandbox,
		registry,
		sysLogger,
		router.WithFallbackPolicy(router.FallbackPolicy(cfg.Chat.CapabilityFallback)),
		router.WithPublisher(bus),
	)

	// 6. Transcripts
	var storage transcript.Storage
	if cfg.Chat.TranscriptBackend == "redis" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		rdb := redis.NewClient(opt)
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		storage = transcript.NewRedisStorage(rdb, "chatbot:")
	} else {
		storage = transcript.NewFileStorage(cfg.Chat.LogsPath)
	}
	transcripts := transcript.NewWriter(storage, cfg.App.Version)

	// 7. NATS domain events
	var natsPub *pktNats.Publisher
	if cfg.App.NatsURL != "" {
		natsPub, err = pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
			natsPub = nil
		}
		natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
		} else {
			var notifier mailer.IReportNotifier
			if cfg.SMTP.Host != "" && len(cfg.SMTP.ReportRecipients) > 0 {
				notifier = mailer.NewReportNotifier(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Email, cfg.SMTP.Password, cfg.SMTP.Email, cfg.SMTP.ReportRecipients)
			}
			auditLogger := logger.NewIsolatedLogger("logs/chat_audit.log")
			c.ConsumerService = service.NewConsumerService(natsSub, auditLogger, notifier)
			c.closers = append(c.closers, natsSub.Close)
		}
		c.closers = append(c.closers, natsPub.Close)
	}

	// 8. Auth
	var authorized *serverutils.AuthorizedUsers
	if cfg.Auth.Required {
		authorized, err = serverutils.LoadAuthorizedUsers(cfg.Auth.AuthorizedUsersPath)
		if err != nil {
			log.Fatalf("[FATAL] Failed to load authorized users: %v", err)
		}
	}

	chatbotService := service.NewChatbotService(service.ChatbotServiceDeps{
		Registry:     registry,
		Router:       chatRouter,
		Bus:          bus,
		Transcripts:  transcripts,
		Capabilities: capability.NewFactory(cfg.Chat.CapabilityHosts, cfg.Chat.CapabilityTimeout),
		Events:       natsPub,
		Authorized:   authorized,
		AuthRequired: cfg.Auth.Required,
		Logger:       sysLogger,
		StepLogger:   stepLogger,
	})

	// WebSocket Hub
	wsHub := websocket.NewHub(logger.NewIsolatedLogger("logs/websocket.log"))
	go wsHub.Run()
	c.WebSocketHub = wsHub

	c.ChatbotController = controller.NewChatbotController(chatbotService, wsHub)

	return c
}

// Close releases background connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
