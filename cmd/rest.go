package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zapfunnel/zapfunnel/automation"
	"github.com/zapfunnel/zapfunnel/core/config"
	coreDB "github.com/zapfunnel/zapfunnel/core/database"
	"github.com/zapfunnel/zapfunnel/infrastructure/meta"
	"github.com/zapfunnel/zapfunnel/infrastructure/objstore"
	infraValkey "github.com/zapfunnel/zapfunnel/infrastructure/valkey"
	"github.com/zapfunnel/zapfunnel/infrastructure/whatsapp"
	"github.com/zapfunnel/zapfunnel/pkg/breaker"
	"github.com/zapfunnel/zapfunnel/pkg/distlock"
	"github.com/zapfunnel/zapfunnel/pkg/msgworker"
	"github.com/zapfunnel/zapfunnel/pkg/vault"
	"github.com/zapfunnel/zapfunnel/repository"
	"github.com/zapfunnel/zapfunnel/ui/rest"
	"github.com/zapfunnel/zapfunnel/ui/rest/middleware"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Run the HTTP API and the messaging engine",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	cfg := config.Global
	ctx := context.Background()

	db, err := coreDB.New(cfg)
	if err != nil {
		logrus.Fatalf("[APP] database init failed: %v", err)
	}
	repo := repository.NewCrmGorm(db)
	if err := repo.Migrate(); err != nil {
		logrus.Fatalf("[APP] migration failed: %v", err)
	}

	// Valkey is optional: without it restore sweeps run uncoordinated.
	var restoreLock *distlock.Lock
	var vkClient *infraValkey.Client
	if cfg.Database.ValkeyEnabled {
		vkClient, err = infraValkey.NewClient(infraValkey.Config{
			Address:   cfg.Database.ValkeyAddress,
			Password:  cfg.Database.ValkeyPassword,
			DB:        cfg.Database.ValkeyDB,
			KeyPrefix: cfg.Database.ValkeyKeyPrefix,
		})
		if err != nil {
			logrus.WithError(err).Warn("[APP] valkey unavailable, continuing without distributed locking")
		} else {
			kv := infraValkey.NewLockKV(vkClient)
			restoreLock = distlock.New(kv, vkClient.Key("restore", "lock"), cfg.Whatsapp.RestoreLockTTL)
		}
	}

	store, err := objstore.New(cfg.Storage)
	if err != nil {
		logrus.Fatalf("[APP] object storage init failed: %v", err)
	}

	poolCtx, poolCancel := context.WithCancel(ctx)
	pool := msgworker.NewPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize)
	pool.Start(poolCtx)

	pipeline := whatsapp.NewPipeline(cfg, repo, pool, store)
	manager := whatsapp.NewManager(cfg, repo, pipeline)

	metaCli := meta.NewClient(cfg.Meta)
	responder := automation.NewResponder(cfg, repo, breaker.Default())
	engine := automation.NewEngine(cfg, repo, manager, metaCli, vault.Default(), responder)
	pipeline.SetRouter(engine)

	go manager.RestoreAll(ctx, restoreLock)

	fiberConfig := fiber.Config{
		AppName:               "ZapFunnel Engine",
		DisableStartupMessage: false,
		Network:               "tcp",
		ServerHeader:          "Hidden",
	}
	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.EnableTrustedProxyCheck = true
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedFor
	}
	app := fiber.New(fiberConfig)

	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.Recovery())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
	if cfg.App.Debug {
		app.Use(logger.New())
	}

	apiGroup := app.Group(cfg.App.BasePath + "/api")

	if len(cfg.App.BasicAuth) > 0 {
		account := make(map[string]string)
		for _, pair := range cfg.App.BasicAuth {
			ba := strings.Split(pair, ":")
			if len(ba) != 2 {
				logrus.Fatalln("Basic auth is not valid, please use the format <user>:<secret>")
			}
			account[ba[0]] = ba[1]
		}
		apiGroup.Use(basicauth.New(basicauth.Config{
			Users: account,
			Next: func(c *fiber.Ctx) bool {
				// Allow CORS preflight without credentials.
				return c.Method() == fiber.MethodOptions
			},
		}))
	}
	rest.InitRestConnection(apiGroup, repo, manager, vault.Default())
	rest.InitRestConversation(apiGroup, repo, manager)
	rest.InitRestPersona(apiGroup, repo)
	rest.InitRestMonitoring(apiGroup, repo, manager, pool, breaker.Default())

	apiGroup.All("/*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "API Endpoint not found",
			"path":  c.Path(),
		})
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Reception of termination signal, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}

		poolCancel()
		pool.Stop()
		manager.Shutdown()

		if restoreLock != nil {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := restoreLock.Release(releaseCtx); err != nil {
				logrus.WithError(err).Warn("[REST] failed to release restore lock")
			}
			cancel()
		}
		if vkClient != nil {
			vkClient.Close()
		}
		logrus.Info("[REST] Application stopped cleanly.")
	}()

	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logrus.Fatalln("Failed to start server:", err)
	}
}
