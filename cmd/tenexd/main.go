// Command tenexd runs the TENEX kernel: it subscribes to the configured Bus,
// routes inbound events through EventIngress, drives conversations across
// phases via the Kernel scheduler, and serves the administrative control
// socket tenexctl talks to.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"goa.design/clue/log"

	"github.com/tenex-chat/tenex-kernel/internal/agentrt"
	"github.com/tenex-chat/tenex-kernel/internal/agents"
	"github.com/tenex-chat/tenex-kernel/internal/bus"
	"github.com/tenex-chat/tenex-kernel/internal/bus/nostr"
	"github.com/tenex-chat/tenex-kernel/internal/config"
	"github.com/tenex-chat/tenex-kernel/internal/control"
	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/execqueue"
	"github.com/tenex-chat/tenex-kernel/internal/hooks"
	"github.com/tenex-chat/tenex-kernel/internal/ingress"
	"github.com/tenex-chat/tenex-kernel/internal/kernel"
	"github.com/tenex-chat/tenex-kernel/internal/model"
	"github.com/tenex-chat/tenex-kernel/internal/model/anthropic"
	"github.com/tenex-chat/tenex-kernel/internal/model/bedrock"
	"github.com/tenex-chat/tenex-kernel/internal/model/openai"
	"github.com/tenex-chat/tenex-kernel/internal/orchestrator"
	"github.com/tenex-chat/tenex-kernel/internal/phase"
	"github.com/tenex-chat/tenex-kernel/internal/recovery"
	"github.com/tenex-chat/tenex-kernel/internal/reminder"
	"github.com/tenex-chat/tenex-kernel/internal/streampub"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
	"github.com/tenex-chat/tenex-kernel/internal/termination"
)

func main() {
	var (
		configF = flag.String("config", "", "path to kernel config file")
		dbgF    = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger telemetry.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	persister, err := buildPersister(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build persister: %w", err)
	}
	store := conversation.New(persister, conversation.WithLogger(logger))

	queueStore, err := buildQueueStore(cfg)
	if err != nil {
		return fmt.Errorf("build queue store: %w", err)
	}
	queue := execqueue.New(queueStore, logger)
	phases := phase.New(store, queue, logger)

	llmClient, err := buildModelClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build model client: %w", err)
	}

	agentRegistry := agents.NewRegistry()
	eventBus := hooks.NewBus()
	termEnforcer := termination.New(store, reminder.NewEngine(), eventBus, logger)
	orch := orchestrator.New(llmClient, agentRegistry, eventBus, logger)

	transport, err := nostr.New(nostr.Config{PrivateKey: cfg.Bus.PrivateKey, Relays: cfg.Bus.Relays}, logger)
	if err != nil {
		return fmt.Errorf("build bus transport: %w", err)
	}
	sink := streampub.NewBusSink(transport)
	sink.SetLimiter(rate.NewLimiter(rate.Limit(cfg.Stream.MaxPublishPerSec), cfg.Stream.MaxPublishBurst))

	runtime := agentrt.New(store, llmClient, agentRegistry, sink, eventBus, reminder.NewEngine(), termEnforcer, logger)

	project := func(conv *conversation.Conversation) string { return cfg.Project.ID }
	k := kernel.New(store, orch, phases, queue, runtime, project, logger)

	localKeys := []string{cfg.Project.ID}
	in := ingress.New(store, localKeys, k.Wake, logger)

	filter := bus.Filter{Tags: map[string][]string{"p": {cfg.Project.ID}}}
	resolveForRecovery := func(conv *conversation.Conversation) (string, bool) { return cfg.Project.ID, true }
	subs := func(context.Context) ([]recovery.Subscription, error) {
		return []recovery.Subscription{{Project: cfg.Project.ID, Filter: filter}}, nil
	}
	coordinator := recovery.New(store, queue, resolveForRecovery, subs, transport, logger)

	report, err := coordinator.Recover(ctx, func(sub recovery.Subscription, events <-chan conversation.Event) {
		go in.Run(ctx, events)
	})
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	logger.Info(ctx, "tenexd: recovery complete",
		"conversations_loaded", report.ConversationsLoaded,
		"locks_released", report.LocksReleased,
		"queue_entries_dropped", report.QueueEntriesDropped,
		"resubscriptions", report.Resubscriptions,
	)

	grpcServer := grpc.NewServer()
	control.RegisterServer(grpcServer, control.NewQueueServer(queue))
	listener, err := net.Listen("tcp", cfg.Control.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			logger.Error(ctx, "tenexd: control server stopped", "error", err.Error())
		}
	}()
	logger.Info(ctx, "tenexd: control socket listening", "addr", cfg.Control.ListenAddr)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := queue.SweepTimeouts(ctx); err != nil {
					logger.Warn(ctx, "tenexd: timeout sweep failed", "error", err.Error())
				}
			}
		}
	}()

	<-ctx.Done()
	grpcServer.GracefulStop()
	return nil
}

func buildPersister(ctx context.Context, cfg *config.Config, logger telemetry.Logger) (conversation.Persister, error) {
	switch cfg.Persistence.Backend {
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.Persistence.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		return conversation.NewMongoPersister(ctx, conversation.MongoOptions{Client: client, Database: cfg.Persistence.MongoDB})
	case "sqlite":
		return conversation.NewSQLitePersister(ctx, cfg.Persistence.Path, logger)
	default:
		return conversation.NewFilePersister(cfg.Persistence.Path, logger), nil
	}
}

func buildQueueStore(cfg *config.Config) (execqueue.Store, error) {
	switch cfg.Queue.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
		return execqueue.NewRedisStore(rdb, ""), nil
	default:
		return execqueue.NewMemStore(), nil
	}
}

func buildModelClient(ctx context.Context, cfg *config.Config) (model.Client, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return openai.NewFromAPIKey(cfg.LLM.APIKey, cfg.LLM.Model)
	case "bedrock":
		return buildBedrockClient(ctx, cfg)
	default:
		return anthropic.NewFromAPIKey(cfg.LLM.APIKey, cfg.LLM.Model)
	}
}

func buildBedrockClient(ctx context.Context, cfg *config.Config) (model.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	runtime := bedrockruntime.NewFromConfig(awsCfg)
	return bedrock.New(bedrock.Options{Runtime: runtime, DefaultModel: cfg.LLM.Model, MaxTokens: 4096, Temperature: 1.0})
}
