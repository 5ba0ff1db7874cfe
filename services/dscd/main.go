package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	genesis "dscengine/config"
	"dscengine/core/events"
	"dscengine/integrations/chainlink"
	"dscengine/native/dsc"
	"dscengine/native/token"
	"dscengine/observability"
	"dscengine/observability/logging"
	telemetry "dscengine/observability/otel"
	"dscengine/services/dsc/server"
	"dscengine/services/dscd/config"
	"dscengine/storage"
)

func main() {
	var cfgPath, genesisPath string
	flag.StringVar(&cfgPath, "config", "services/dscd/config.yaml", "path to dscd config")
	flag.StringVar(&genesisPath, "genesis", "", "path to the engine deployment file (overrides the config)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DSC_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.SetupWithOptions(logging.Options{Service: "dscd", Env: env, Level: cfg.LogLevel})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("dscd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if genesisPath == "" {
		genesisPath = cfg.Genesis
	}
	deployment, err := genesis.Load(genesisPath)
	if err != nil {
		log.Fatalf("load deployment %s: %v", genesisPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewLevelDB(deployment.DataDir)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer db.Close()

	eventLog := events.NewLog(cfg.Events.Limit)
	engine, symbols, tokens, err := buildEngine(ctx, deployment, db, logger)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}
	engine.SetEmitter(events.Multi{eventLog, observability.DSC()})

	service := server.New(server.Config{
		Engine:    engine,
		Symbols:   symbols,
		Tokens:    tokens,
		Events:    eventLog,
		APITokens: cfg.Auth.APITokens,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/", service.Handler())

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure && !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext dscd mode is restricted to loopback listeners or dev environment")
		}
	}
	tlsCfg, err := loadServerTLS(cfg.TLS)
	if err != nil {
		log.Fatalf("configure tls: %v", err)
	}

	httpServer := &http.Server{
		Handler:           otelhttp.NewHandler(router, "dscd"),
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsCfg,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("dscd listening", slog.String("listen", cfg.ListenAddress), slog.Bool("tls", tlsCfg != nil))
		if tlsCfg != nil {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// buildEngine assembles the collateral registry. Collateral tokens and the
// stable token are in-process reference contracts stored in db beside the
// ledger; prices come from on-chain aggregators or static feeds. Genesis
// allocations are applied only to tokens db holds no state for.
func buildEngine(ctx context.Context, deployment *genesis.Config, db storage.Database, logger *slog.Logger) (*dsc.Engine, map[string]common.Address, map[string]*token.Contract, error) {
	params, err := deployment.Params.EngineParams()
	if err != nil {
		return nil, nil, nil, err
	}
	custody := deployment.CustodyAddress()

	var rpc *ethclient.Client
	if strings.TrimSpace(deployment.EthRPC) != "" {
		if rpc, err = chainlink.Dial(deployment.EthRPC); err != nil {
			return nil, nil, nil, err
		}
	}

	symbols := make(map[string]common.Address, len(deployment.Collateral))
	tokens := make(map[string]*token.Contract, len(deployment.Collateral)+1)
	assets := make([]common.Address, 0, len(deployment.Collateral))
	feeds := make([]dsc.PriceFeed, 0, len(deployment.Collateral))
	sessions := make(map[common.Address]dsc.ERC20, len(deployment.Collateral))
	fresh := make(map[string]bool, len(deployment.Collateral))
	for _, col := range deployment.Collateral {
		addr := col.TokenAddress()
		var feed dsc.PriceFeed
		if col.Feed != "" {
			onchain := chainlink.NewFeed(rpc, col.FeedAddress())
			decimals, err := onchain.Decimals(ctx)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("%s feed: %w", col.Symbol, err)
			}
			if decimals != params.FeedDecimals {
				return nil, nil, nil, fmt.Errorf("%s feed reports %d decimals, expected %d", col.Symbol, decimals, params.FeedDecimals)
			}
			feed = onchain
		} else {
			answer, err := col.StaticAnswer(params.FeedDecimals)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("%s: %w", col.Symbol, err)
			}
			feed = chainlink.NewStaticFeed(answer)
		}
		contract := token.New(col.Symbol, 18, custody)
		restored, err := contract.Bind(db)
		if err != nil {
			return nil, nil, nil, err
		}
		if restored {
			logger.Info("restored token state", slog.String("symbol", col.Symbol), slog.String("supply", contract.TotalSupply().String()))
		} else {
			fresh[col.Symbol] = true
		}
		symbols[col.Symbol] = addr
		tokens[col.Symbol] = contract
		assets = append(assets, addr)
		feeds = append(feeds, feed)
		sessions[addr] = contract.Session(custody)
	}
	for _, alloc := range deployment.Allocation {
		if !fresh[alloc.Symbol] {
			continue
		}
		amount, err := alloc.BaseUnits(tokens[alloc.Symbol].Decimals())
		if err != nil {
			return nil, nil, nil, err
		}
		tokens[alloc.Symbol].Allocate(alloc.AccountAddress(), amount)
	}
	for symbol := range fresh {
		if err := tokens[symbol].Flush(); err != nil {
			return nil, nil, nil, err
		}
	}

	stable := token.New("DSC", 18, custody)
	if _, err := stable.Bind(db); err != nil {
		return nil, nil, nil, err
	}
	tokens["DSC"] = stable

	engine, err := dsc.NewEngine(db, dsc.Config{
		Assets:  assets,
		Feeds:   feeds,
		Tokens:  sessions,
		Stable:  stable.Session(custody),
		Custody: custody,
		Params:  params,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	engine.SetPauses(deployment.Pauses)
	engine.SetLogger(logger)
	return engine, symbols, tokens, nil
}

func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}
