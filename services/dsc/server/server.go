// Package server exposes the DSC engine over a JSON HTTP API.
package server

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dscengine/core/events"
	"dscengine/native/dsc"
	"dscengine/native/token"
	"dscengine/observability"
	"dscengine/observability/logging"
)

const requestLimit = 1 << 16

// Engine is the subset of dsc.Engine served over HTTP.
type Engine interface {
	DepositCollateral(ctx context.Context, caller, asset common.Address, amount *big.Int) error
	DepositCollateralAndMintDSC(ctx context.Context, caller, asset common.Address, amount, mintAmount *big.Int) error
	RedeemCollateral(ctx context.Context, caller, asset common.Address, amount *big.Int) error
	RedeemCollateralForDSC(ctx context.Context, caller, asset common.Address, redeemAmount, burnAmount *big.Int) error
	MintDSC(ctx context.Context, caller common.Address, amount *big.Int) error
	BurnDSC(ctx context.Context, caller common.Address, amount *big.Int) error
	Liquidate(ctx context.Context, liquidator, collateral, user common.Address, debtToCover *big.Int) (*dsc.LiquidationResult, error)

	AccountInformation(ctx context.Context, account common.Address) (dsc.AccountInformation, error)
	HealthFactor(ctx context.Context, account common.Address) (*big.Int, error)
	CollateralBalance(account, asset common.Address) (*big.Int, error)
	LatestPrice(ctx context.Context, asset common.Address) (dsc.RoundData, error)
	USDValue(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error)
	TotalDebt() (*big.Int, error)
	TotalCollateral(asset common.Address) (*big.Int, error)
	Debtors() ([]common.Address, error)
	CollateralTokens() []common.Address

	Custody() common.Address
	Precision() *big.Int
	AdditionalFeedPrecision() *big.Int
	FeedDecimals() uint8
	LiquidationThreshold() uint64
	LiquidationBonus() uint64
	LiquidationPrecision() uint64
	MinHealthFactor() *big.Int
	StalenessTimeout() time.Duration
}

// Config wires a Service.
type Config struct {
	Engine Engine
	// Symbols maps collateral symbols to their token addresses.
	Symbols map[string]common.Address
	// Tokens lists in-process reference tokens by symbol. When set, the API
	// exposes balance and approval endpoints for them.
	Tokens    map[string]*token.Contract
	Events    *events.Log
	APITokens []string
	RateLimit RateLimit
	Logger    *slog.Logger
}

// Service serves the engine API. Mutating requests are serialised so
// concurrent clients never observe the engine's reentrancy guard.
type Service struct {
	mu      sync.Mutex
	engine  Engine
	symbols map[string]common.Address
	names   map[common.Address]string
	tokens  map[string]*token.Contract
	events  *events.Log
	auth    *authenticator
	limiter *rateLimiter
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New constructs a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	symbols := make(map[string]common.Address, len(cfg.Symbols))
	names := make(map[common.Address]string, len(cfg.Symbols))
	for symbol, addr := range cfg.Symbols {
		normalized := strings.ToUpper(strings.TrimSpace(symbol))
		symbols[normalized] = addr
		names[addr] = normalized
	}
	tokens := make(map[string]*token.Contract, len(cfg.Tokens))
	for symbol, contract := range cfg.Tokens {
		tokens[strings.ToUpper(strings.TrimSpace(symbol))] = contract
	}
	for _, raw := range cfg.APITokens {
		if strings.TrimSpace(raw) != "" {
			logger.Debug("api token configured", logging.MaskField("api_token", logging.MaskToken(raw)))
		}
	}
	return &Service{
		engine:  cfg.Engine,
		symbols: symbols,
		names:   names,
		tokens:  tokens,
		events:  cfg.Events,
		auth:    newAuthenticator(cfg.APITokens),
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  logger,
		tracer:  otel.Tracer("dscengine/services/dsc"),
	}
}

// Handler returns the HTTP routes of the service.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.limiter.middleware("v1"))
		v1.Use(s.observe)

		v1.Get("/params", s.getParams)
		v1.Get("/totals", s.getTotals)
		v1.Get("/accounts/{account}", s.getAccount)
		v1.Get("/prices/{collateral}", s.getPrice)
		v1.Get("/events", s.listEvents)
		v1.Get("/tokens/{symbol}/balances/{account}", s.getTokenBalance)

		v1.Group(func(msg chi.Router) {
			msg.Use(s.auth.middleware)
			msg.Post("/collateral/deposit", s.depositCollateral)
			msg.Post("/collateral/deposit-and-mint", s.depositCollateralAndMint)
			msg.Post("/collateral/redeem", s.redeemCollateral)
			msg.Post("/collateral/redeem-for-dsc", s.redeemCollateralForDSC)
			msg.Post("/dsc/mint", s.mintDSC)
			msg.Post("/dsc/burn", s.burnDSC)
			msg.Post("/liquidate", s.liquidate)
			msg.Post("/tokens/{symbol}/approve", s.approveToken)
		})
	})
	return r
}

func (s *Service) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// observe records a span and API metrics labelled with the matched route
// pattern.
func (s *Service) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
		))
		defer span.End()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", recorder.status))
		observability.API().Observe(route, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// writeEngineError renders err, logging anything unexpected.
func (s *Service) writeEngineError(w http.ResponseWriter, action string, err error) {
	status, message := toStatus(err)
	resp := errorResponse{Error: message, Reason: reasonOf(err)}
	if hf, ok := dsc.HealthFactorOf(err); ok {
		view := newHealthView(hf)
		resp.HealthFactor = &view
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("dsc engine error", slog.String("operation", action), slog.Any("error", err))
	}
	writeJSON(w, status, resp)
}
