package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beacon/internal/api"
	"beacon/internal/auth"
	"beacon/internal/booking"
	"beacon/internal/chat"
	"beacon/internal/commands"
	"beacon/internal/config"
	"beacon/internal/filestore"
	"beacon/internal/http"
	"beacon/internal/notify"
	"beacon/internal/presence"
	"beacon/internal/push"
	"beacon/internal/ratelimit"
	"beacon/internal/registry"
	"beacon/internal/storage"
	"beacon/internal/typing"
	"beacon/internal/ws"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func(), error) {
	rule := ratelimit.Rule{Limit: cfg.MessageRateLimit, Window: cfg.MessageRateWindow}
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(ctx, rule), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	log.Printf("Using redis rate limiter at %s", cfg.RedisAddr)
	return ratelimit.NewRedisLimiter(client, "beacon:ratelimit:", rule), func() { _ = client.Close() }, nil
}

func newPushSender(cfg *config.Config) (push.Sender, error) {
	if !cfg.PushEnabled() {
		log.Println("VAPID keys not configured, web push disabled")
		return nil, nil
	}
	sender, err := push.NewWebPushSender(push.VAPIDConfig{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subscriber: cfg.VAPIDSubscriber,
		TTL:        cfg.PushTTL,
	}, &oshttp.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func run(ctx context.Context, issueToken string) error {
	cfg, err := config.Load(issueToken != "")
	if err != nil {
		return err
	}

	if issueToken != "" {
		return commands.IssueToken(issueToken, cfg)
	}

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, authConfig)
	if err != nil {
		return err
	}

	files, err := filestore.NewLocalFileStore(cfg.AttachmentsDir)
	if err != nil {
		return err
	}

	reg := registry.New()
	tracker := presence.NewTracker(ctx)
	reg.Subscribe(tracker.HandleEvent)

	chatStore := chat.NewStore(bbStorage, chat.Config{MaxRecords: cfg.RecentMessages})
	typingCoordinator := typing.NewCoordinator(reg, typing.NewView(ctx, cfg.TypingTTL))
	feed := notify.NewFeed(bbStorage)

	sender, err := newPushSender(cfg)
	if err != nil {
		return err
	}
	bridge := push.NewBridge(feed, reg, bbStorage, sender, push.Config{PublicKey: cfg.VAPIDPublicKey})
	bookings := booking.NewService(bbStorage, bridge)

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	hub := ws.NewHub(ctx, ws.HubConfig{
		Tokens:   authService,
		Registry: reg,
		Store:    chatStore,
		Typing:   typingCoordinator,
		Notifier: bridge,
		Limiter:  limiter,
	})
	defer hub.Wait()

	apiHandlers := api.New(api.Deps{
		Auth:     authService,
		Chat:     chatStore,
		Feed:     feed,
		Bridge:   bridge,
		Bookings: bookings,
		Presence: tracker,
		Files:    files,
	})

	opsServer := http.NewOpsServer(api.NewOpsHandler(authService, hub, reg), cfg.OpsAddr)
	apiServer := http.NewAPIServer(apiHandlers, ws.NewServer(ctx, hub, cfg.ReadTimeout, cfg.HeartbeatInterval), cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Ops Server
	g.Go(func() error {
		err := opsServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Ops server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	issueToken := flag.String("issue-token", "", "User id to issue an access token for (asks the running server and prints the token)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *issueToken); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
