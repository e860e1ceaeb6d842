package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/songzhibin97/tradeflux/internal/configs"
	"github.com/songzhibin97/tradeflux/internal/discovery"
	"github.com/songzhibin97/tradeflux/internal/httpapi"
	"github.com/songzhibin97/tradeflux/internal/journal"
	"github.com/songzhibin97/tradeflux/internal/logger"
	"github.com/songzhibin97/tradeflux/internal/rest"
	binanceRest "github.com/songzhibin97/tradeflux/internal/rest/binance"
	bitfinexRest "github.com/songzhibin97/tradeflux/internal/rest/bitfinex"
	"github.com/songzhibin97/tradeflux/internal/risk"
	"github.com/songzhibin97/tradeflux/internal/trader"
	"github.com/songzhibin97/tradeflux/internal/trading/bitfinex"
)

const shutdownTimeout = 10 * time.Second

var flagconf string

func init() {
	flag.StringVar(&flagconf, "conf", "config.json", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// 加载配置
	config, err := configs.Load(flagconf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	log, err := logger.New(config.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error creating logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(config, log); err != nil {
		log.Error("System error", "err", err)
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(config *configs.Config, log *logger.ZapLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.Proxy != "" {
		_ = os.Setenv("HTTP_PROXY", config.Proxy)
		_ = os.Setenv("HTTPS_PROXY", config.Proxy)
		log.Debug("set proxy ok", "proxy", config.Proxy)
	}

	// 初始化各个组件
	transport := bitfinex.NewTransport(bitfinex.Config{
		URL:       config.ExchangeConfig.WSURL,
		APIKey:    config.ExchangeConfig.APIKey,
		APISecret: config.ExchangeConfig.SecretKey,
		Logger:    log.With("component", "transport"),
	})

	riskManager := risk.NewBasicRiskManager(config.RiskParams)
	if err := riskManager.SetRiskParameters(ctx, &config.RiskParams); err != nil {
		return err
	}

	opts := []trader.Option{
		trader.WithLogger(log.With("component", "trader")),
		trader.WithRiskManager(riskManager),
		trader.WithHistorySize(config.TradingConfig.HistorySize),
		trader.WithCorrelationTimeout(configs.Duration(config.TradingConfig.CorrelationTimeout)),
		trader.WithReconnect(config.Reconnect.Attempts,
			configs.Duration(config.Reconnect.MinWait), configs.Duration(config.Reconnect.MaxWait)),
	}

	var routerOpts []httpapi.RouterOption

	restClient := newRESTClient(config)
	if restClient != nil {
		opts = append(opts, trader.WithRESTClient(restClient))
		routerOpts = append(routerOpts, httpapi.WithExchangeBalances(restClient))
		log.Debug("init rest client", "provider", config.ExchangeConfig.RESTProvider)
	}

	var recorderDone chan struct{}
	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	if config.Database.ConnStr != "" {
		j, err := journal.NewPostgresJournal(config.Database.ConnStr)
		if err != nil {
			return fmt.Errorf("failed to create journal: %w", err)
		}
		defer j.Close()

		recorder := journal.NewRecorder(j, journal.DefaultBuffer, log.With("component", "journal"))
		opts = append(opts, trader.WithAuditHook(recorder.Hook))
		routerOpts = append(routerOpts, httpapi.WithAudit(j))
		recorderDone = make(chan struct{})
		go func() {
			defer close(recorderDone)
			_ = recorder.Run(recorderCtx)
		}()
		log.Debug("init journal")
	}

	t := trader.New(transport, opts...)
	for _, s := range config.Symbols {
		if err := t.Subscribe(ctx, s); err != nil {
			return err
		}
	}

	if err := t.Connect(ctx); err != nil {
		return err
	}
	log.Info("trader started", "symbols", t.Symbols())

	var server *http.Server
	if config.HTTP.Addr != "" {
		server = &http.Server{
			Addr:              config.HTTP.Addr,
			Handler:           httpapi.NewRouter(t, log.With("component", "http"), routerOpts...),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server stopped", "err", err)
			}
		}()
		log.Info("http server listening", "addr", config.HTTP.Addr)
	}

	if config.Discovery.Enabled && restClient != nil {
		w := discovery.NewWatcher(restClient, configs.Duration(config.Discovery.Interval), log.With("component", "discovery"))
		go func() {
			for batch := range w.Watch(ctx) {
				for _, s := range batch {
					if err := t.Subscribe(ctx, s); err != nil {
						log.Warn("failed to subscribe discovered symbol", "symbol", s, "err", err)
					}
				}
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = server.Shutdown(shutdownCtx)
		cancel()
	}

	err := t.Close()
	stopRecorder()
	if recorderDone != nil {
		<-recorderDone
	}
	return err
}

func newRESTClient(config *configs.Config) rest.Client {
	ex := config.ExchangeConfig
	switch strings.ToLower(ex.RESTProvider) {
	case "bitfinex":
		return bitfinexRest.NewClient(ex.RESTURL, ex.APIKey, ex.SecretKey, nil)
	case "binance":
		c := binanceRest.NewClient(ex.APIKey, ex.SecretKey, ex.QuoteAsset, ex.Debug)
		if ex.RESTURL != "" {
			c.SetBaseURL(ex.RESTURL)
		}
		return c
	}
	return nil
}
