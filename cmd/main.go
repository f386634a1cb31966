package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"guildrag/chunker"
	"guildrag/clients"
	"guildrag/clients/cohere"
	discordclient "guildrag/clients/discord"
	"guildrag/clients/gemini"
	"guildrag/config"
	"guildrag/db"
	"guildrag/handlers"
	"guildrag/middleware"
	"guildrag/services/cursors"
	"guildrag/services/embeddings"
	"guildrag/services/embedqueue"
	"guildrag/services/messages"
	"guildrag/services/registry"
	"guildrag/services/syncops"
	"guildrag/services/txmanager"
	"guildrag/services/windows"
	"guildrag/tokenizer"
	"guildrag/usecases/chat"
	"guildrag/usecases/embed"
	syncrunner "guildrag/usecases/sync"
)

func main() {
	if err := run(); err != nil {
		log.Printf("❌ Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	// Initialize error alert middleware
	alertMiddleware := middleware.NewErrorAlertMiddleware(middleware.AlertConfig{
		WebhookURL:  cfg.AlertWebhookURL,
		Environment: cfg.Environment,
		AppName:     "guildrag",
	})

	// Initialize database connection
	dbConn, err := db.NewConnection(cfg.DatabaseURL, cfg.DatabaseSchema)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	// Initialize repositories with shared connection
	messagesRepo := db.NewPostgresMessagesRepository(dbConn, cfg.DatabaseSchema)
	windowsRepo := db.NewPostgresWindowsRepository(dbConn, cfg.DatabaseSchema)
	embeddingsRepo := db.NewPostgresEmbeddingsRepository(dbConn, cfg.DatabaseSchema)
	embedQueueRepo := db.NewPostgresEmbedQueueRepository(dbConn, cfg.DatabaseSchema)
	syncOpsRepo := db.NewPostgresSyncOperationsRepository(dbConn, cfg.DatabaseSchema)
	syncCursorsRepo := db.NewPostgresSyncCursorsRepository(dbConn, cfg.DatabaseSchema)
	syncChunksRepo := db.NewPostgresSyncChunksRepository(dbConn, cfg.DatabaseSchema)
	channelsRepo := db.NewPostgresChannelsRepository(dbConn, cfg.DatabaseSchema)

	// Initialize transaction manager
	txManager := txmanager.NewTransactionManager(dbConn)

	// Initialize services
	messagesService := messages.NewMessagesService(messagesRepo)
	windowsService := windows.NewWindowsService(windowsRepo, messagesRepo)
	embeddingsService := embeddings.NewEmbeddingsService(embeddingsRepo, cfg.GeminiConfig.EmbeddingDim)
	embedQueueService := embedqueue.NewEmbedQueueService(embedQueueRepo)
	cursorsService := cursors.NewSyncCursorsService(syncCursorsRepo)
	syncOpsService := syncops.NewSyncOperationsService(syncOpsRepo, syncChunksRepo, cursorsService)
	registryService := registry.NewChannelRegistryService(channelsRepo)

	// Initialize model provider clients
	httpClient := &http.Client{Timeout: 60 * time.Second}
	geminiClient, err := gemini.NewClient(httpClient, gemini.Config{
		APIKeys:        cfg.GeminiConfig.APIKeys,
		ChatModel:      cfg.GeminiConfig.ChatModel,
		EmbeddingModel: cfg.GeminiConfig.EmbeddingModel,
		EmbeddingDim:   cfg.GeminiConfig.EmbeddingDim,
	})
	if err != nil {
		return err
	}

	var rerankClient clients.RerankClient
	if cfg.RerankConfig.IsConfigured() {
		rerankClient = cohere.NewRerankClient(httpClient, cfg.RerankConfig.CohereAPIKey, cfg.RerankConfig.Model)
		log.Printf("✅ Cohere reranking enabled (model %s)", cfg.RerankConfig.Model)
	}

	// Token counter and chunking engine
	counter := tokenizer.NewCounter(geminiClient,
		tokenizer.WithMaxTokens(cfg.TokenizerConfig.MaxInputTokens),
		tokenizer.WithSafetyMargin(cfg.TokenizerConfig.TokenSafetyMargin),
	)
	engine := chunker.NewEngine(counter, chunker.Config{
		MaxTokensPerWindow: cfg.ChunkingConfig.MaxTokensPerWindow,
		SoftGapMinutes:     cfg.ChunkingConfig.SoftGapMinutes,
		OverlapMessages:    cfg.ChunkingConfig.OverlapMessages,
	})

	chatUseCase := chat.NewChatUsecase(
		geminiClient, geminiClient, rerankClient,
		embeddingsService, windowsService,
		cfg.TopCandidatesLimit, cfg.RerankConfig.TopK)

	// Discord bot and slash commands
	discordHandler, err := handlers.NewDiscordCommandsHandler(
		cfg.DiscordConfig.BotToken, cfg.DiscordConfig.AppID, syncOpsService, chatUseCase)
	if err != nil {
		return err
	}
	if err := discordHandler.StartBot(); err != nil {
		return err
	}
	defer discordHandler.StopBot()

	fetcher := discordclient.NewGuildFetcher(discordHandler.Session(), cfg.DiscordConfig.FetchConcurrency)

	// Background pipelines
	runner := syncrunner.NewRunner(
		fetcher,
		messagesService,
		windowsService,
		embedQueueService,
		syncOpsService,
		cursorsService,
		registryService,
		txManager,
		engine,
	)
	worker := embed.NewWorker(
		embedQueueService,
		windowsService,
		embeddingsService,
		geminiClient,
		counter,
		cfg.DiscordConfig.FetchConcurrency,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go alertMiddleware.RunBackgroundLoop("sync-runner", func() { runner.Start(ctx) })
	go alertMiddleware.RunBackgroundLoop("embed-worker", func() { worker.Start(ctx) })

	// HTTP surface
	router := mux.NewRouter()
	apiHandler := handlers.NewAPIHandler(syncOpsService, embedQueueService, chatUseCase)
	apiHandler.SetupEndpoints(router)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Printf("❌ Failed to write health check response: %v", err)
		}
	}).Methods("GET")

	// Anything else gets a generic banner rather than a 404, keeping probes
	// and uptime checks quiet.
	router.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("guildrag backend")); err != nil {
			log.Printf("❌ Failed to write banner response: %v", err)
		}
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})

	// Setup and handle graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           alertMiddleware.HTTPMiddleware(c.Handler(router)),
		ReadHeaderTimeout: 30 * time.Second,
	}

	return handleGracefulShutdown(server, cancel)
}

func handleGracefulShutdown(server *http.Server, cancelBackground context.CancelFunc) error {
	// Channel to listen for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		log.Printf("✅ Listening on http://localhost%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	<-stop
	log.Printf("🛑 Shutdown signal received, cleaning up...")

	// Stop background loops first so no new work starts mid-shutdown
	cancelBackground()

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown server gracefully
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("❌ Server shutdown error: %v", err)
		return err
	}

	log.Printf("✅ Server stopped gracefully")
	return nil
}
