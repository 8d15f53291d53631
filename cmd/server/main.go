// Command server boots the AI orchestration core: config, storage, the
// upstream gateway, the ingestion pipeline, the chat core, auth, and the
// HTTP surface, wired together with go.uber.org/dig rather than a hand-rolled
// chain of constructors.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/color2333/vibingu/internal/auth"
	"github.com/color2333/vibingu/internal/chat"
	"github.com/color2333/vibingu/internal/config"
	"github.com/color2333/vibingu/internal/gamify"
	"github.com/color2333/vibingu/internal/gateway"
	"github.com/color2333/vibingu/internal/httpserver"
	"github.com/color2333/vibingu/internal/imagestore"
	"github.com/color2333/vibingu/internal/logger"
	"github.com/color2333/vibingu/internal/pipeline"
	"github.com/color2333/vibingu/internal/regenerate"
	"github.com/color2333/vibingu/internal/store"
	"github.com/color2333/vibingu/internal/tasks"
	"github.com/color2333/vibingu/internal/vectorstore"
	"go.uber.org/dig"
	"gorm.io/gorm"
)

func main() {
	container := dig.New()

	providers := []interface{}{
		config.Load,
		provideDB,
		provideImageSaver,
		provideGateway,
		store.NewLifeRecordRepository,
		store.NewChatRepository,
		store.NewSettingsRepository,
		store.NewUsageLedgerRepository,
		provideVectorStore,
		provideOrchestrator,
		provideRegenerator,
		provideGamify,
		provideAssembler,
		provideStreamer,
		provideAuthManager,
		provideHTTPServer,
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			fmt.Fprintf(os.Stderr, "server: wiring %T: %v\n", p, err)
			os.Exit(1)
		}
	}

	if err := container.Invoke(run); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func provideDB(cfg *config.Config) (*gorm.DB, error) {
	return store.Open(cfg.DatabaseURL)
}

// provideImageSaver picks the Local or Minio backend per spec.md §9's
// deployment-time choice, returning the pipeline.ImageSaver interface so
// downstream providers don't need to know which concrete type won.
func provideImageSaver(cfg *config.Config) (pipeline.ImageSaver, error) {
	if cfg.MinioEnabled() {
		return imagestore.NewMinio(context.Background(), cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	return imagestore.NewLocal(cfg.UploadDir)
}

func provideGateway(cfg *config.Config, ledger *store.UsageLedgerRepository) *gateway.Gateway {
	return gateway.NewGateway(cfg, ledger)
}

func provideVectorStore(db *gorm.DB, gw *gateway.Gateway) (*vectorstore.Store, error) {
	return vectorstore.New(db, gw)
}

type orchestratorDeps struct {
	dig.In

	Gateway  *gateway.Gateway
	Records  *store.LifeRecordRepository
	Images   pipeline.ImageSaver
	Vector   *vectorstore.Store
	Gamify   *gamify.Store
	Settings *store.SettingsRepository
}

func provideOrchestrator(deps orchestratorDeps) *pipeline.Orchestrator {
	return &pipeline.Orchestrator{
		Gateway:  deps.Gateway,
		Records:  deps.Records,
		Images:   deps.Images,
		Vector:   deps.Vector,
		Gamify:   deps.Gamify,
		Settings: deps.Settings,
		Trending: deps.Records,
	}
}

func provideRegenerator(gw *gateway.Gateway, records *store.LifeRecordRepository) *regenerate.Regenerator {
	return &regenerate.Regenerator{Records: records, Gateway: gw}
}

func provideGamify(db *gorm.DB) (*gamify.Store, error) {
	return gamify.New(db)
}

func provideAssembler(records *store.LifeRecordRepository, vector *vectorstore.Store) *chat.Assembler {
	return &chat.Assembler{Store: records, Search: vector}
}

func provideStreamer(gw *gateway.Gateway, convs *store.ChatRepository, assembler *chat.Assembler) *chat.Streamer {
	return &chat.Streamer{Gateway: gw, Conversations: convs, Context: assembler}
}

func provideAuthManager(cfg *config.Config) *auth.Manager {
	secret := cfg.AdminPassword
	if secret == "" {
		secret = "vibingu-dev-secret"
	}
	return auth.NewManager(cfg.AdminPassword, secret, time.Duration(cfg.TokenExpireSeconds)*time.Second)
}

type serverDeps struct {
	dig.In

	Cfg          *config.Config
	Orchestrator *pipeline.Orchestrator
	Regenerator  *regenerate.Regenerator
	Records      *store.LifeRecordRepository
	Vector       *vectorstore.Store
	Streamer     *chat.Streamer
	Conversations *store.ChatRepository
	AuthManager  *auth.Manager
}

func provideHTTPServer(deps serverDeps) *httpserver.Server {
	now := func() time.Time { return time.Now() }
	return &httpserver.Server{
		Feed: &httpserver.FeedHandler{
			Orchestrator: deps.Orchestrator,
			Regenerator:  deps.Regenerator,
			Store:        deps.Records,
			Vector:       deps.Vector,
			Now:          now,
			UploadRoot:   deps.Cfg.UploadDir,
		},
		Chat: &httpserver.ChatHandler{
			Streamer:      deps.Streamer,
			Conversations: deps.Conversations,
			Now:           now,
		},
		Auth:        &httpserver.AuthHandler{Manager: deps.AuthManager},
		Now:         now,
		CORSOrigins: deps.Cfg.CORSOrigins,
	}
}

func run(cfg *config.Config, srv *httpserver.Server, records *store.LifeRecordRepository, vector *vectorstore.Store) error {
	ctx := context.Background()

	startBackgroundTasks(ctx, cfg, vector, records)

	router := srv.Router()
	addr := ":8080"
	logger.Info(ctx, "server: listening", "addr", addr)
	return http.ListenAndServe(addr, router)
}

// startBackgroundTasks wires the asynq worker that runs the vector-store
// reconciliation scan off the request path (spec.md §4.9), and enqueues one
// pass immediately so a fresh deployment's index catches up without waiting
// for the periodic schedule.
func startBackgroundTasks(ctx context.Context, cfg *config.Config, vector *vectorstore.Store, records *store.LifeRecordRepository) {
	client := tasks.NewClient(cfg.RedisAddr)
	if err := client.EnqueueReconcile(ctx); err != nil {
		logger.Warn(ctx, "server: enqueueing startup reconciliation failed", "err", err.Error())
	}

	handler := &tasks.ReconcileHandler{Vector: vector, Records: records}
	workerSrv, mux := tasks.NewServer(cfg.RedisAddr, handler)
	go func() {
		if err := workerSrv.Run(mux); err != nil {
			logger.Error(ctx, "server: task worker stopped", "err", err.Error())
		}
	}()

	scheduler, err := tasks.NewScheduler(cfg.RedisAddr, "@every 1h")
	if err != nil {
		logger.Warn(ctx, "server: scheduling periodic reconciliation failed", "err", err.Error())
		return
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error(ctx, "server: reconciliation scheduler stopped", "err", err.Error())
		}
	}()
}
