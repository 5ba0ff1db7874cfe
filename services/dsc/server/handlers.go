package server

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"dscengine/core/events"
	"dscengine/native/token"
)

type positionRequest struct {
	Account    string `json:"account"`
	Collateral string `json:"collateral"`
	Amount     string `json:"amount"`
	DSCAmount  string `json:"dscAmount,omitempty"`
}

type dscRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type liquidateRequest struct {
	Liquidator  string `json:"liquidator"`
	Collateral  string `json:"collateral"`
	User        string `json:"user"`
	DebtToCover string `json:"debtToCover"`
}

type approveRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func parseAccount(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", errBadRequest, field)
	}
	return common.HexToAddress(trimmed), nil
}

// parseAmount accepts base units ("1500000000000000000") or, when the value
// contains a decimal point, whole units scaled by 18 decimals ("1.5").
func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s required", errBadRequest, field)
	}
	if strings.Contains(trimmed, ".") {
		d, err := decimal.NewFromString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not a number", errBadRequest, field)
		}
		scaled := d.Shift(fixedPointDecimals)
		if !scaled.IsInteger() {
			return nil, fmt.Errorf("%w: %s has more than %d decimals", errBadRequest, field, fixedPointDecimals)
		}
		trimmed = scaled.BigInt().String()
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an integer", errBadRequest, field)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative", errBadRequest, field)
	}
	return amount, nil
}

// resolveCollateral accepts a registered symbol or a token address. Unknown
// addresses are passed through so the engine reports them.
func (s *Service) resolveCollateral(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if addr, ok := s.symbols[strings.ToUpper(trimmed)]; ok {
		return addr, nil
	}
	return parseAccount("collateral", trimmed)
}

func (s *Service) symbolOf(asset common.Address) string {
	if name, ok := s.names[asset]; ok {
		return name
	}
	return asset.Hex()
}

func (s *Service) decodePosition(r *http.Request, needDSC bool) (common.Address, common.Address, *big.Int, *big.Int, error) {
	var req positionRequest
	if err := decodeJSON(r, &req); err != nil {
		return common.Address{}, common.Address{}, nil, nil, err
	}
	account, err := parseAccount("account", req.Account)
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, err
	}
	asset, err := s.resolveCollateral(req.Collateral)
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, err
	}
	var dscAmount *big.Int
	if needDSC {
		if dscAmount, err = parseAmount("dscAmount", req.DSCAmount); err != nil {
			return common.Address{}, common.Address{}, nil, nil, err
		}
	}
	return account, asset, amount, dscAmount, nil
}

func (s *Service) depositCollateral(w http.ResponseWriter, r *http.Request) {
	account, asset, amount, _, err := s.decodePosition(r, false)
	if err != nil {
		s.writeEngineError(w, "deposit_collateral", err)
		return
	}
	s.mutate(w, "deposit_collateral", func() error {
		return s.engine.DepositCollateral(r.Context(), account, asset, amount)
	})
}

func (s *Service) depositCollateralAndMint(w http.ResponseWriter, r *http.Request) {
	account, asset, amount, mint, err := s.decodePosition(r, true)
	if err != nil {
		s.writeEngineError(w, "deposit_collateral_and_mint", err)
		return
	}
	s.mutate(w, "deposit_collateral_and_mint", func() error {
		return s.engine.DepositCollateralAndMintDSC(r.Context(), account, asset, amount, mint)
	})
}

func (s *Service) redeemCollateral(w http.ResponseWriter, r *http.Request) {
	account, asset, amount, _, err := s.decodePosition(r, false)
	if err != nil {
		s.writeEngineError(w, "redeem_collateral", err)
		return
	}
	s.mutate(w, "redeem_collateral", func() error {
		return s.engine.RedeemCollateral(r.Context(), account, asset, amount)
	})
}

func (s *Service) redeemCollateralForDSC(w http.ResponseWriter, r *http.Request) {
	account, asset, amount, burn, err := s.decodePosition(r, true)
	if err != nil {
		s.writeEngineError(w, "redeem_collateral_for_dsc", err)
		return
	}
	s.mutate(w, "redeem_collateral_for_dsc", func() error {
		return s.engine.RedeemCollateralForDSC(r.Context(), account, asset, amount, burn)
	})
}

func (s *Service) decodeDSC(r *http.Request) (common.Address, *big.Int, error) {
	var req dscRequest
	if err := decodeJSON(r, &req); err != nil {
		return common.Address{}, nil, err
	}
	account, err := parseAccount("account", req.Account)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return account, amount, nil
}

func (s *Service) mintDSC(w http.ResponseWriter, r *http.Request) {
	account, amount, err := s.decodeDSC(r)
	if err != nil {
		s.writeEngineError(w, "mint_dsc", err)
		return
	}
	s.mutate(w, "mint_dsc", func() error { return s.engine.MintDSC(r.Context(), account, amount) })
}

func (s *Service) burnDSC(w http.ResponseWriter, r *http.Request) {
	account, amount, err := s.decodeDSC(r)
	if err != nil {
		s.writeEngineError(w, "burn_dsc", err)
		return
	}
	s.mutate(w, "burn_dsc", func() error { return s.engine.BurnDSC(r.Context(), account, amount) })
}

// mutate runs fn under the service lock and renders the outcome.
func (s *Service) mutate(w http.ResponseWriter, action string, fn func() error) {
	s.mu.Lock()
	err := fn()
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, action, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Service) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeEngineError(w, "liquidate", err)
		return
	}
	liquidator, err := parseAccount("liquidator", req.Liquidator)
	if err != nil {
		s.writeEngineError(w, "liquidate", err)
		return
	}
	user, err := parseAccount("user", req.User)
	if err != nil {
		s.writeEngineError(w, "liquidate", err)
		return
	}
	asset, err := s.resolveCollateral(req.Collateral)
	if err != nil {
		s.writeEngineError(w, "liquidate", err)
		return
	}
	debt, err := parseAmount("debtToCover", req.DebtToCover)
	if err != nil {
		s.writeEngineError(w, "liquidate", err)
		return
	}

	s.mu.Lock()
	result, err := s.engine.Liquidate(r.Context(), liquidator, asset, user, debt)
	s.mu.Unlock()
	if err != nil {
		s.writeEngineError(w, "liquidate", err)
		return
	}
	writeJSON(w, http.StatusOK, newLiquidationView(result))
}

func (s *Service) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount("account", chi.URLParam(r, "account"))
	if err != nil {
		s.writeEngineError(w, "get_account", err)
		return
	}
	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.engine.AccountInformation(ctx, account)
	if err != nil {
		s.writeEngineError(w, "get_account", err)
		return
	}
	hf, err := s.engine.HealthFactor(ctx, account)
	if err != nil {
		s.writeEngineError(w, "get_account", err)
		return
	}
	view := accountView{
		Account:        account.Hex(),
		TotalDSCMinted: fixedPoint(info.TotalDSCMinted),
		CollateralUSD:  fixedPoint(info.CollateralValueUSD),
		HealthFactor:   newHealthView(hf),
	}
	for _, asset := range s.engine.CollateralTokens() {
		balance, err := s.engine.CollateralBalance(account, asset)
		if err != nil {
			s.writeEngineError(w, "get_account", err)
			return
		}
		value, err := s.engine.USDValue(ctx, asset, balance)
		if err != nil {
			s.writeEngineError(w, "get_account", err)
			return
		}
		view.Collateral = append(view.Collateral, collateralView{
			Symbol:   s.symbolOf(asset),
			Token:    asset.Hex(),
			Balance:  fixedPoint(balance),
			ValueUSD: fixedPoint(value),
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Service) getPrice(w http.ResponseWriter, r *http.Request) {
	asset, err := s.resolveCollateral(chi.URLParam(r, "collateral"))
	if err != nil {
		s.writeEngineError(w, "get_price", err)
		return
	}
	round, err := s.engine.LatestPrice(r.Context(), asset)
	if err != nil {
		s.writeEngineError(w, "get_price", err)
		return
	}
	perUnit, err := s.engine.USDValue(r.Context(), asset, s.engine.Precision())
	if err != nil {
		s.writeEngineError(w, "get_price", err)
		return
	}
	view := priceView{
		Symbol:     s.symbolOf(asset),
		Token:      asset.Hex(),
		Answer:     newAmountView(round.Answer, int32(s.engine.FeedDecimals())),
		USDPerUnit: fixedPoint(perUnit),
	}
	if round.RoundID != nil {
		view.RoundID = round.RoundID.String()
	}
	if round.UpdatedAt != nil {
		view.UpdatedAt = round.UpdatedAt.Int64()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Service) getParams(w http.ResponseWriter, _ *http.Request) {
	view := paramsView{
		LiquidationThreshold:    s.engine.LiquidationThreshold(),
		LiquidationBonus:        s.engine.LiquidationBonus(),
		LiquidationPrecision:    s.engine.LiquidationPrecision(),
		MinHealthFactor:         fixedPoint(s.engine.MinHealthFactor()),
		StalenessTimeoutSeconds: int64(s.engine.StalenessTimeout().Seconds()),
		Precision:               s.engine.Precision().String(),
		AdditionalFeedPrecision: s.engine.AdditionalFeedPrecision().String(),
		Custody:                 s.engine.Custody().Hex(),
	}
	for _, asset := range s.engine.CollateralTokens() {
		view.Collateral = append(view.Collateral, s.symbolOf(asset))
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Service) getTotals(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	debt, err := s.engine.TotalDebt()
	if err != nil {
		s.writeEngineError(w, "get_totals", err)
		return
	}
	debtors, err := s.engine.Debtors()
	if err != nil {
		s.writeEngineError(w, "get_totals", err)
		return
	}
	view := totalsView{TotalDebt: fixedPoint(debt), Collateral: make(map[string]amountView), Debtors: len(debtors)}
	for _, asset := range s.engine.CollateralTokens() {
		total, err := s.engine.TotalCollateral(asset)
		if err != nil {
			s.writeEngineError(w, "get_totals", err)
			return
		}
		view.Collateral[s.symbolOf(asset)] = fixedPoint(total)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Service) listEvents(w http.ResponseWriter, r *http.Request) {
	records := []events.Record{}
	if s.events != nil {
		filter := strings.TrimSpace(r.URL.Query().Get("type"))
		for _, record := range s.events.Records() {
			if filter == "" || record.Type == filter {
				records = append(records, record)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

func (s *Service) referenceToken(w http.ResponseWriter, r *http.Request) (*token.Contract, bool) {
	contract, ok := s.tokens[strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown token", "not_found")
		return nil, false
	}
	return contract, true
}

func (s *Service) getTokenBalance(w http.ResponseWriter, r *http.Request) {
	contract, ok := s.referenceToken(w, r)
	if !ok {
		return
	}
	account, err := parseAccount("account", chi.URLParam(r, "account"))
	if err != nil {
		s.writeEngineError(w, "get_token_balance", err)
		return
	}
	custody := s.engine.Custody()
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":           contract.Symbol(),
		"account":          account.Hex(),
		"balance":          newAmountView(contract.BalanceOf(account), int32(contract.Decimals())),
		"custodyAllowance": newAmountView(contract.Allowance(account, custody), int32(contract.Decimals())),
	})
}

// approveToken lets owner's reference token balance be pulled by the engine
// custody account.
func (s *Service) approveToken(w http.ResponseWriter, r *http.Request) {
	contract, ok := s.referenceToken(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeEngineError(w, "approve_token", err)
		return
	}
	owner, err := parseAccount("owner", req.Owner)
	if err != nil {
		s.writeEngineError(w, "approve_token", err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeEngineError(w, "approve_token", err)
		return
	}
	s.mutate(w, "approve_token", func() error {
		if err := contract.Session(owner).Approve(s.engine.Custody(), amount); err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return contract.Flush()
	})
}
