package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kilupskalvis/listings/internal/listing"
	"github.com/kilupskalvis/listings/internal/notify"
	"github.com/kilupskalvis/listings/internal/server"
	"github.com/spf13/cobra"
)

var (
	serveListen  string
	serveTLSCert string
	serveTLSKey  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the listings HTTP API",
	Long: `Run the listings HTTP API.

Every /api/v1 route needs a bearer token; write routes need an rw token. The
token's principal is the caller identity used for ownership checks. Tokens
are managed with 'listings tokens' or, when server.admin_token is set, via
the /admin/tokens endpoints.

Examples:
  listings serve
  listings serve --listen 0.0.0.0:8730
  listings serve --tls-cert server.crt --tls-key server.key`,
	Run: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveListen, "listen", "", "Listen address, overrides server.listen")
	f.StringVar(&serveTLSCert, "tls-cert", os.Getenv("LISTINGS_TLS_CERT"), "TLS certificate file")
	f.StringVar(&serveTLSKey, "tls-key", os.Getenv("LISTINGS_TLS_KEY"), "TLS key file")
}

func runServe(_ *cobra.Command, _ []string) {
	cfg := loadConfig()
	logger := newLogger(cfg.Log, os.Stdout)
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}

	metrics := server.NewMetrics()
	notifiers := listing.Notifiers{metrics}

	webhooks := notify.NewWebhookNotifier(notify.WebhookConfig{URLs: cfg.Notify.WebhookURLs}, logger)
	if webhooks != nil {
		notifiers = append(notifiers, webhooks)
		logger.Info("webhooks configured", "count", len(cfg.Notify.WebhookURLs))
	}
	broker, err := notify.DialAMQP(notify.AMQPConfig{
		URL:        cfg.Notify.AMQPURL,
		Exchange:   cfg.Notify.AMQPExchange,
		RoutingKey: cfg.Notify.AMQPRoutingKey,
	}, logger)
	if err != nil {
		logger.Error("failed to connect amqp notifier", "error", err)
		os.Exit(1)
	}
	if broker != nil {
		notifiers = append(notifiers, broker)
	}

	c := initContext(notifiers)
	defer c.Close()

	tokens := server.NewFileTokenStore(cfg.Server.TokensFile, logger)
	if err := tokens.Load(); err != nil {
		logger.Error("failed to load token store", "error", err, "path", cfg.Server.TokensFile)
		os.Exit(1)
	}

	h, handlerCleanup := server.Handler(c.Service, tokens, &server.Config{
		MaxRequestBody:    cfg.Server.MaxRequestBody,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		AdminToken:        cfg.Server.AdminToken,
	}, metrics, logger)
	defer handlerCleanup()

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting listings server",
			"listen", cfg.Server.Listen,
			"driver", cfg.Store.Driver,
			"ownership", cfg.Policy.Ownership,
			"buy_policy", cfg.Policy.BuyPolicy,
		)
		var err error
		if serveTLSCert != "" && serveTLSKey != "" {
			err = srv.ListenAndServeTLS(serveTLSCert, serveTLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	webhooks.Close()
	if err := broker.Close(); err != nil {
		logger.Warn("close amqp connection", "error", err)
	}
	logger.Info("server stopped")
}
