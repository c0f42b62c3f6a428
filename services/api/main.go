package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chatrelay/internal/blob"
	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/delivery"
	"github.com/chatrelay/internal/events"
	"github.com/chatrelay/internal/handler"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/push"
	"github.com/chatrelay/internal/repository"
	"github.com/chatrelay/internal/startup"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/storage/memory"
	redisstorage "github.com/chatrelay/internal/storage/redis"
	"github.com/chatrelay/internal/ws"
)

func main() {
	logger.SetPrefix("api")
	dev := flag.Bool("dev", false, "in-memory session store, no Redis required")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	client := startup.ConnectMongoWithRetry(cfg.Mongo.URI, 60*time.Second, "")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			logger.Errorf("mongo disconnect: %v", err)
		}
	}()
	db := client.Database(cfg.Mongo.Database)
	ensureIndexes(db)
	logger.Info("database connected, indexes ensured")

	msgRepo := repository.NewMessageRepo(db)
	chatRepo := repository.NewChatRepo(db)
	blobs, err := blob.New(db)
	if err != nil {
		logger.Errorf("blob store: %v", err)
		os.Exit(1)
	}

	var sessions storage.SessionStore
	var redisCli *redisstorage.Client
	if *dev {
		logger.Info("dev mode: in-memory session store")
		sessions = memory.New()
	} else {
		redisCli = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		sessions = redisCli
	}
	defer sessions.Close()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(chatRoster{chats: chatRepo}, cfg.MaxWSConnections)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	// Single instance (-dev) emits straight to the hub; otherwise events go
	// through Redis so every instance delivers to its own connections.
	var emitter events.Emitter = hub
	if redisCli != nil {
		bridge := events.NewBridge(redisCli.Raw(), hub)
		hubWg.Add(1)
		go func() {
			defer hubWg.Done()
			bridge.Run(hubCtx)
		}()
		emitter = bridge
	}

	var pusher delivery.Pusher
	notifier := push.NewNotifier(sessions, nil, "")
	if cfg.PushSubscriber != "" {
		keys, err := push.EnsureVAPIDKeys("")
		if err != nil {
			logger.Errorf("vapid keys: %v (push disabled)", err)
		} else {
			notifier = push.NewNotifier(sessions, keys, cfg.PushSubscriber)
			pusher = notifier
			logger.Info("web push enabled")
		}
	}

	svc := delivery.New(msgRepo, chatRepo, blobs, emitter, pusher, hub, delivery.Config{
		PublicBaseURL:  cfg.PublicBaseURL,
		DedupWindow:    cfg.DedupWindow,
		MaxAttachments: cfg.MaxAttachments,
	})

	msgH := handler.NewMessageHandler(svc, cfg.MaxUploadSize)
	fileH := handler.NewFileHandler(blobs)
	pushH := handler.NewPushHandler(notifier)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket traffic: a wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/push/public-key", pushH.PublicKey)
	// Blob URLs are unguessable ObjectIDs embedded in messages; serving them
	// without a session keeps <img> tags and media caches working.
	r.Get("/api/files/{fileId}", fileH.ServeFile)

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessions))
		r.Get("/api/chats/{chatId}/messages", msgH.GetAllMessages)
		r.With(middleware.SendRateLimit(sessions)).Post("/api/chats/{chatId}/messages", msgH.SendMessage)
		r.Post("/api/chats/{chatId}/messages/read", msgH.MarkMessagesAsRead)
		r.Delete("/api/chats/{chatId}/messages", msgH.DeleteAllMessages)
		r.Delete("/api/messages/{messageId}", msgH.DeleteMessage)
		r.Post("/api/messages/{messageId}/status", msgH.UpdateMessageStatus)
		r.Get("/api/files/metadata/{fileId}", fileH.FileMetadata)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// chatRoster adapts the chat repository to the hub's membership lookup.
type chatRoster struct {
	chats *repository.ChatRepo
}

func (r chatRoster) Participants(ctx context.Context, chatID string) ([]string, error) {
	id, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return nil, err
	}
	ids, err := r.chats.Participants(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, oid := range ids {
		out = append(out, oid.Hex())
	}
	return out, nil
}

func ensureIndexes(db *mongo.Database) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	messages := db.Collection(repository.CollMessages)
	_, err := messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chat", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "chat", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		logger.Errorf("ensure message indexes: %v", err)
		os.Exit(1)
	}

	chats := db.Collection(repository.CollChats)
	if _, err := chats.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}},
	}); err != nil {
		logger.Errorf("ensure chat indexes: %v", err)
		os.Exit(1)
	}

	// Dedup lookups hit fs.files by content digest.
	files := db.Collection("files.files")
	if _, err := files.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "metadata.contentHash", Value: 1}},
		Options: options.Index().SetSparse(true),
	}); err != nil {
		logger.Errorf("ensure blob indexes: %v", err)
		os.Exit(1)
	}
}
