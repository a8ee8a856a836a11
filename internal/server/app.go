// Package server initializes and runs the upload server.
// It wires chunk and artifact storage, the orphan ledger and its session store,
// starts the HTTP and gRPC servers and the stale chunk janitor, and handles
// graceful shutdown.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/asyncupload/internal/logging"
	"github.com/dmitrijs2005/asyncupload/internal/server/blobs"
	"github.com/dmitrijs2005/asyncupload/internal/server/chunks"
	"github.com/dmitrijs2005/asyncupload/internal/server/config"
	"github.com/dmitrijs2005/asyncupload/internal/server/httpapi"
	"github.com/dmitrijs2005/asyncupload/internal/server/ledger"
	"github.com/dmitrijs2005/asyncupload/internal/server/navigation"
	"github.com/dmitrijs2005/asyncupload/internal/server/sessions"
	"github.com/dmitrijs2005/asyncupload/internal/server/upload"

	gs "github.com/dmitrijs2005/asyncupload/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	chunks   *chunks.FileStore
	blobs    blobs.Store
	sessions sessions.Store
	ledger   *ledger.Ledger
	uploads  *upload.Service
	policy   *navigation.Policy
	upstream http.Handler
}

func NewApp(c *config.Config) (*App, error) {

	ctx := context.Background()
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	policy, err := navigation.NewPolicy(navigationRules(c))
	if err != nil {
		return nil, fmt.Errorf("navigation rules: %w", err)
	}

	upstream, err := httpapi.NewUpstreamProxy(c.UpstreamURL, logger)
	if err != nil {
		return nil, err
	}

	cs, err := chunks.NewFileStore(c.ChunkDir, logger)
	if err != nil {
		return nil, fmt.Errorf("chunk store init error: %w", err)
	}

	bs, err := blobs.New(ctx, c, logger)
	if err != nil {
		return nil, fmt.Errorf("artifact store init error: %w", err)
	}

	ss, err := sessions.New(ctx, c, logger)
	if err != nil {
		closeIfCloser(bs)
		return nil, fmt.Errorf("session store init error: %w", err)
	}

	l := ledger.New(ss, logger)
	us := upload.NewService(cs, bs, l, upload.Options{
		ArtifactPrefix: c.ArtifactPrefix,
		MaxChunkSize:   c.MaxChunkSize,
	}, logger)

	return &App{
		config:   c,
		logger:   logger,
		chunks:   cs,
		blobs:    bs,
		sessions: ss,
		ledger:   l,
		uploads:  us,
		policy:   policy,
		upstream: upstream,
	}, nil
}

func navigationRules(c *config.Config) navigation.Rules {
	return navigation.Rules{
		UploadPathPrefix:    c.UploadPathPrefix,
		FormPathPatterns:    c.Navigation.FormPathPatterns,
		UtilityPathPatterns: c.Navigation.UtilityPathPatterns,
		PopupParams:         c.Navigation.PopupParams,
		AsyncHeaders:        c.Navigation.AsyncHeaders,
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) router() http.Handler {
	h := httpapi.NewHandler(app.uploads, app.ledger, app.blobs, app.policy, app.config.MaxChunkSize, app.logger)
	return httpapi.NewRouter(h, httpapi.RouterOptions{
		UploadPathPrefix:  app.config.UploadPathPrefix,
		SessionCookieName: app.config.SessionCookieName,
		SessionTTL:        app.config.SessionTTL,
		Upstream:          app.upstream,
	})
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := httpapi.NewHTTPServer(app.config.HTTPAddr, app.router(), app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.ledger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// expiringStore is a session store that drops idle ledgers only when asked.
type expiringStore interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// runJanitor removes chunk sets of uploads abandoned for longer than
// ChunkExpiry and, for stores that need it, ledgers idle for longer than
// SessionTTL, once per JanitorInterval.
func (app *App) runJanitor(ctx context.Context) {
	if app.config.JanitorInterval <= 0 {
		return
	}
	log := app.logger.With("module", "janitor")

	ticker := time.NewTicker(app.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.purgeStaleChunks(ctx, log)
			app.purgeExpiredLedgers(ctx, log)
		}
	}
}

func (app *App) purgeStaleChunks(ctx context.Context, log logging.Logger) {
	if app.config.ChunkExpiry <= 0 {
		return
	}
	n, err := app.chunks.PurgeStale(ctx, app.config.ChunkExpiry)
	if err != nil {
		log.Warn(ctx, "stale chunk purge failed", "error", err)
		return
	}
	if n > 0 {
		log.Info(ctx, "stale uploads purged", "count", n)
	}
}

func (app *App) purgeExpiredLedgers(ctx context.Context, log logging.Logger) {
	es, ok := app.sessions.(expiringStore)
	if !ok {
		return
	}
	n, err := es.PurgeExpired(ctx)
	if err != nil {
		log.Warn(ctx, "ledger expiry failed", "error", err)
		return
	}
	if n > 0 {
		log.Info(ctx, "idle ledgers expired", "count", n)
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runJanitor(ctx)
	}()

	wg.Wait()

	if err := app.sessions.Close(); err != nil {
		app.logger.Error(ctx, "session store close failed", "error", err)
	}
	closeIfCloser(app.blobs)

	app.logger.Info(ctx, "App stopped")
}

func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
