package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"basketd/gateway/middleware"
	"basketd/native/cdp"
	nativecommon "basketd/native/common"
	"basketd/observability"
)

const requestLimit = 1 << 20 // 1 MiB

// Server exposes the engine's operations and queries over HTTP.
type Server struct {
	engine *cdp.Engine
	logger *slog.Logger
	limits map[string]middleware.RateLimit

	quota    nativecommon.Quota
	quotaMu  sync.Mutex
	quotaNow map[string]nativecommon.QuotaNow
	clock    func() time.Time

	auth   *middleware.Authenticator
	cors   *middleware.CORSConfig
	pauses *nativecommon.PauseStore
}

// NewServer builds an HTTP server around the engine. The quota bounds
// per-address mint volume; a zero quota disables the check.
func NewServer(engine *cdp.Engine, logger *slog.Logger, limits map[string]middleware.RateLimit, quota nativecommon.Quota) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		logger:   logger,
		limits:   limits,
		quota:    quota,
		quotaNow: make(map[string]nativecommon.QuotaNow),
		clock:    time.Now,
	}
}

// SetClock overrides the quota epoch clock, for tests.
func (s *Server) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.clock = clock
}

// SetGovernanceAuth guards basket governance and admin routes with the
// authenticator. Nil leaves those routes open, which suits local development.
func (s *Server) SetGovernanceAuth(auth *middleware.Authenticator) {
	if s == nil {
		return
	}
	s.auth = auth
}

// SetCORS enables cross-origin handling on the router.
func (s *Server) SetCORS(cfg middleware.CORSConfig) {
	if s == nil {
		return
	}
	s.cors = &cfg
}

// SetPauses exposes the module pause toggles on the admin routes.
func (s *Server) SetPauses(store *nativecommon.PauseStore) {
	if s == nil {
		return
	}
	s.pauses = store
}

// Router assembles the chi routes with per-group rate limits.
func (s *Server) Router() chi.Router {
	limiter := middleware.NewRateLimiter(s.limits, s.logger)
	r := chi.NewRouter()
	r.Use(middleware.NewObservability(s.logger, true).Middleware())
	if s.cors != nil {
		r.Use(middleware.CORS(*s.cors))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware("positions"))
			r.Post("/positions/deposit", s.handleDeposit)
			r.Post("/positions/withdraw", s.handleWithdraw)
			r.Post("/positions/repay", s.handleRepay)
			r.Post("/positions/increase-debt", s.handleIncreaseDebt)
			r.Post("/positions/close", s.handleClosePosition)
			r.Get("/positions/{owner}", s.handleListPositions)
			r.Get("/positions/{owner}/{id}", s.handleGetPosition)
		})
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware("liquidations"))
			r.Post("/liquidations/begin", s.handleBeginLiquidation)
			r.Post("/liquidations/repay", s.handleLiqRepay)
		})
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware("replies"))
			r.Post("/replies/withdraw", s.handleWithdrawReply)
			r.Post("/replies/close", s.handleCloseReply)
		})
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware("basket"))
			if s.auth != nil {
				r.Use(s.auth.Middleware("governance"))
			}
			r.Post("/basket/create", s.handleCreateBasket)
			r.Post("/basket/edit", s.handleEditBasket)
		})
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware("basket"))
			r.Get("/basket", s.handleGetBasket)
			r.Get("/prices/{denom}", s.handleGetPrice)
		})
		r.Group(func(r chi.Router) {
			if s.auth != nil {
				r.Use(s.auth.Middleware("governance"))
			}
			r.Get("/admin/pauses", s.handleListPauses)
			r.Post("/admin/pauses", s.handleSetPause)
		})
	})
	return r
}

func (s *Server) handleListPauses(w http.ResponseWriter, r *http.Request) {
	if s.pauses == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("pause controls not configured"))
		return
	}
	modules, err := s.pauses.Paused()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"paused": modules})
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	if s.pauses == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("pause controls not configured"))
		return
	}
	var req struct {
		Module string `json:"module"`
		Paused bool   `json:"paused"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.pauses.SetPaused(req.Module, req.Paused); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Info("module pause updated", "module", req.Module, "paused", req.Paused)
	s.writeJSON(w, http.StatusOK, map[string]any{"module": req.Module, "paused": req.Paused})
}

type assetPayload struct {
	Kind   string `json:"kind,omitempty"`
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

func (p assetPayload) toAsset() (cdp.Asset, error) {
	kind := cdp.AssetKind(strings.TrimSpace(p.Kind))
	if kind == "" {
		kind = cdp.AssetKindNative
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(p.Amount), 10)
	if !ok {
		return cdp.Asset{}, fmt.Errorf("invalid amount %q", p.Amount)
	}
	return cdp.Asset{Kind: kind, Denom: strings.TrimSpace(p.Denom), Amount: amount}, nil
}

func assetView(a cdp.Asset) assetPayload {
	amount := "0"
	if a.Amount != nil {
		amount = a.Amount.String()
	}
	return assetPayload{Kind: string(a.Kind), Denom: a.Denom, Amount: amount}
}

func parseAssets(payloads []assetPayload) ([]cdp.Asset, error) {
	assets := make([]cdp.Asset, 0, len(payloads))
	for _, p := range payloads {
		asset, err := p.toAsset()
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func parseRat(raw string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid rational %q", raw)
	}
	return r, nil
}

func ratView(r *big.Rat) string {
	if r == nil {
		return ""
	}
	return r.RatString()
}

func instructionViews(instructions []cdp.Instruction) []map[string]any {
	views := make([]map[string]any, 0, len(instructions))
	for _, instr := range instructions {
		view := instructionView(instr)
		if kind, ok := view["type"].(string); ok {
			observability.Instructions().RecordIssued(kind)
		}
		views = append(views, view)
	}
	return views
}

func instructionView(instr cdp.Instruction) map[string]any {
	switch v := instr.(type) {
	case cdp.BankSend:
		assets := make([]assetPayload, 0, len(v.Assets))
		for _, a := range v.Assets {
			assets = append(assets, assetView(a))
		}
		return map[string]any{"type": "bank_send", "to": v.To, "assets": assets}
	case cdp.Mint:
		return map[string]any{"type": "mint", "to": v.To, "asset": assetView(v.Asset)}
	case cdp.Burn:
		return map[string]any{"type": "burn", "asset": assetView(v.Asset)}
	case cdp.RevenueDeposit:
		return map[string]any{"type": "revenue_deposit", "asset": assetView(v.Asset)}
	case cdp.RouterSwap:
		return map[string]any{
			"type":       "router_swap",
			"sell":       assetView(v.Sell),
			"buy_denom":  v.BuyDenom,
			"max_spread": ratView(v.MaxSpread),
			"hook": map[string]any{
				"owner":          v.Hook.Owner,
				"position_id":    v.Hook.PositionID,
				"send_excess_to": v.Hook.SendExcessTo,
			},
		}
	case cdp.PoolExit:
		return map[string]any{"type": "pool_exit", "pool_id": v.PoolID, "share_asset": assetView(v.ShareAsset)}
	case cdp.Distribution:
		assets := make([]assetPayload, 0, len(v.Assets))
		for _, a := range v.Assets {
			assets = append(assets, assetView(a))
		}
		repaid := "0"
		if v.CreditRepaid != nil {
			repaid = v.CreditRepaid.String()
		}
		return map[string]any{
			"type":          "distribution",
			"to":            v.To,
			"assets":        assets,
			"owner":         v.Owner,
			"position_id":   v.PositionID,
			"credit_repaid": repaid,
		}
	case cdp.QueueRegistration:
		return map[string]any{
			"type":            "queue_registration",
			"queue":           v.Queue,
			"asset":           assetView(v.Asset),
			"max_premium_bps": v.MaxPremiumBps,
		}
	default:
		return map[string]any{"type": "unknown"}
	}
}

func collateralView(c *cdp.CollateralAsset) map[string]any {
	view := map[string]any{
		"asset":              assetView(c.Asset),
		"max_borrow_ltv_bps": c.MaxBorrowLTVBps,
		"max_ltv_bps":        c.MaxLTVBps,
	}
	if c.RateIndex != nil {
		view["rate_index"] = c.RateIndex.String()
	}
	if c.Pool != nil {
		view["pool_id"] = c.Pool.PoolID
	}
	return view
}

func positionView(p *cdp.Position) map[string]any {
	collateral := make([]map[string]any, 0, len(p.Collateral))
	for _, entry := range p.Collateral {
		collateral = append(collateral, collateralView(entry))
	}
	credit := "0"
	if p.CreditAmount != nil {
		credit = p.CreditAmount.String()
	}
	return map[string]any{
		"id":            p.ID,
		"owner":         p.Owner,
		"collateral":    collateral,
		"credit_amount": credit,
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req struct {
		Owner      string         `json:"owner"`
		PositionID uint64         `json:"position_id"`
		Assets     []assetPayload `json:"assets"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	assets, err := parseAssets(req.Assets)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.engine.Deposit(req.Owner, req.PositionID, assets)
	observability.EngineMetrics().Observe("deposit", err, time.Since(started))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"position_id": result.PositionID})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req struct {
		Owner      string         `json:"owner"`
		PositionID uint64         `json:"position_id"`
		Assets     []assetPayload `json:"assets"`
		SendTo     string         `json:"send_to,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	assets, err := parseAssets(req.Assets)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.engine.Withdraw(req.Owner, req.PositionID, assets, req.SendTo)
	observability.EngineMetrics().Observe("withdraw", err, time.Since(started))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"reply_id":     result.ReplyID,
		"instructions": instructionViews(result.Instructions),
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req struct {
		Caller       string       `json:"caller"`
		Owner        string       `json:"owner"`
		PositionID   uint64       `json:"position_id"`
		Payment      assetPayload `json:"payment"`
		SendExcessTo string       `json:"send_excess_to,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	payment, err := req.Payment.toAsset()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	instructions, err := s.engine.Repay(req.Caller, req.Owner, req.PositionID, payment, req.SendExcessTo)
	observability.EngineMetrics().Observe("repay", err, time.Since(started))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	observability.EngineMetrics().RecordRepay(payment.Denom, "repay", floatUnits(payment.Amount))
	s.writeJSON(w, http.StatusOK, map[string]any{"instructions": instructionViews(instructions)})
}

func (s *Server) handleIncreaseDebt(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req struct {
		Owner      string `json:"owner"`
		PositionID uint64 `json:"position_id"`
		Amount     string `json:"amount,omitempty"`
		TargetLTV  string `json:"target_ltv,omitempty"`
		MintTo     string `json:"mint_to,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	var amount *big.Int
	if strings.TrimSpace(req.Amount) != "" {
		parsed, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid amount %q", req.Amount))
			return
		}
		amount = parsed
	}
	targetLTV, err := parseRat(req.TargetLTV)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.chargeQuota(req.Owner, amount); err != nil {
		s.writeError(w, http.StatusTooManyRequests, err)
		return
	}
	instructions, err := s.engine.IncreaseDebt(req.Owner, req.PositionID, amount, targetLTV, req.MintTo)
	observability.EngineMetrics().Observe("increase_debt", err, time.Since(started))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	for _, instr := range instructions {
		if mint, ok := instr.(cdp.Mint); ok {
			observability.EngineMetrics().RecordMint(mint.Asset.Denom, floatUnits(mint.Asset.Amount))
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"instructions": instructionViews(instructions)})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req struct {
		Owner      string `json:"owner"`
		PositionID uint64 `json:"position_id"`
		MaxSpread  string `json:"max_spread"`
		SendTo     string `json:"send_to,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	maxSpread, err := parseRat(req.MaxSpread)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if maxSpread == nil {
		maxSpread = new(big.Rat)
	}
	result, err := s.engine.ClosePosition(req.Owner, req.PositionID, maxSpread, req.SendTo)
	observability.EngineMetrics().Observe("close_position", err, time.Since(started))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"reply_id":     result.ReplyID,
		"instructions": instructionViews(result.Instructions),
	})
}

func (s *Server) handleBeginLiquidation(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req struct {
		Owner      string `json:"owner"`
		PositionID uint64 `json:"position_id"`
		LiqFee     string `json:"liq_fee,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	liqFee, err := parseRat(req.LiqFee)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	record, res, err := s.engine.BeginLiquidation(req.Owner, req.PositionID, liqFee)
	observability.EngineMetrics().Observe("begin_liquidation", err, time.Since(started))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	fee := "0"
	if res.AvailableFee != nil {
		fee = res.AvailableFee.String()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"reply_id":      record.ReplyID,
		"current_ltv":   ratView(res.CurrentLTV),
		"available_fee": fee,
	})
}

func (s *Server) handleLiqRepay(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req struct {
		Caller  string       `json:"caller"`
		Payment assetPayload `json:"payment"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	payment, err := req.Payment.toAsset()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	instructions, err := s.engine.LiqRepay(req.Caller, payment)
	observability.EngineMetrics().Observe("liq_repay", err, time.Since(started))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	observability.EngineMetrics().RecordRepay(payment.Denom, "liquidation", floatUnits(payment.Amount))
	s.writeJSON(w, http.StatusOK, map[string]any{"instructions": instructionViews(instructions)})
}

func (s *Server) handleWithdrawReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReplyID string `json:"reply_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.HandleWithdrawReply(req.ReplyID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"settled": true})
}

func (s *Server) handleCloseReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReplyID string `json:"reply_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	instructions, err := s.engine.HandleClosePositionReply(req.ReplyID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"instructions": instructionViews(instructions)})
}

type collateralPayload struct {
	Kind            string `json:"kind,omitempty"`
	Denom           string `json:"denom"`
	MaxBorrowLTVBps uint64 `json:"max_borrow_ltv_bps"`
	MaxLTVBps       uint64 `json:"max_ltv_bps"`
	PoolID          uint64 `json:"pool_id,omitempty"`
}

func (p collateralPayload) toCollateral() *cdp.CollateralAsset {
	kind := cdp.AssetKind(strings.TrimSpace(p.Kind))
	if kind == "" {
		kind = cdp.AssetKindNative
	}
	entry := &cdp.CollateralAsset{
		Asset:           cdp.Asset{Kind: kind, Denom: strings.TrimSpace(p.Denom), Amount: new(big.Int)},
		MaxBorrowLTVBps: p.MaxBorrowLTVBps,
		MaxLTVBps:       p.MaxLTVBps,
	}
	if p.PoolID != 0 {
		entry.Pool = &cdp.PoolInfo{PoolID: p.PoolID}
	}
	return entry
}

func (s *Server) handleCreateBasket(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req struct {
		Caller              string              `json:"caller"`
		BasketID            uint64              `json:"basket_id"`
		Collateral          []collateralPayload `json:"collateral"`
		CreditAsset         assetPayload        `json:"credit_asset"`
		CreditPrice         string              `json:"credit_price"`
		BaseInterestRateBps uint64              `json:"base_interest_rate_bps"`
		LiquidityMultiplier string              `json:"liquidity_multiplier,omitempty"`
		LiqQueue            string              `json:"liq_queue,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	creditPrice, err := parseRat(req.CreditPrice)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	liquidityMultiplier, err := parseRat(req.LiquidityMultiplier)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	params := cdp.CreateBasketParams{
		BasketID:            req.BasketID,
		CreditAsset:         cdp.Asset{Kind: cdp.AssetKind(req.CreditAsset.Kind), Denom: req.CreditAsset.Denom, Amount: new(big.Int)},
		CreditPrice:         creditPrice,
		BaseInterestRateBps: req.BaseInterestRateBps,
		LiquidityMultiplier: liquidityMultiplier,
		LiqQueue:            req.LiqQueue,
	}
	if params.CreditAsset.Kind == "" {
		params.CreditAsset.Kind = cdp.AssetKindNative
	}
	for _, c := range req.Collateral {
		params.Collateral = append(params.Collateral, c.toCollateral())
	}
	instructions, err := s.engine.CreateBasket(req.Caller, params)
	observability.EngineMetrics().Observe("create_basket", err, time.Since(started))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"instructions": instructionViews(instructions)})
}

func (s *Server) handleEditBasket(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req struct {
		Caller              string             `json:"caller"`
		AddedCollateral     *collateralPayload `json:"added_collateral,omitempty"`
		SupplyCaps          []struct {
			Denom              string `json:"denom"`
			CapRatio           string `json:"cap_ratio,omitempty"`
			StabilityPoolRatio string `json:"stability_pool_ratio,omitempty"`
		} `json:"supply_caps,omitempty"`
		LiqQueue            *string `json:"liq_queue,omitempty"`
		BaseInterestRateBps *uint64 `json:"base_interest_rate_bps,omitempty"`
		LiquidityMultiplier string  `json:"liquidity_multiplier,omitempty"`
		NegativeRates       *bool   `json:"negative_rates,omitempty"`
		Frozen              *bool   `json:"frozen,omitempty"`
		RevToStakers        *bool   `json:"rev_to_stakers,omitempty"`
		RecheckOracle       bool    `json:"recheck_oracle,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	update := cdp.BasketUpdate{
		LiqQueue:            req.LiqQueue,
		BaseInterestRateBps: req.BaseInterestRateBps,
		NegativeRates:       req.NegativeRates,
		Frozen:              req.Frozen,
		RevToStakers:        req.RevToStakers,
		RecheckOracle:       req.RecheckOracle,
	}
	if req.AddedCollateral != nil {
		update.AddedCollateral = req.AddedCollateral.toCollateral()
	}
	var err error
	if update.LiquidityMultiplier, err = parseRat(req.LiquidityMultiplier); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	for _, cap := range req.SupplyCaps {
		capRatio, err := parseRat(cap.CapRatio)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		poolRatio, err := parseRat(cap.StabilityPoolRatio)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		update.SupplyCaps = append(update.SupplyCaps, cdp.SupplyCap{
			Denom:              cap.Denom,
			CapRatio:           capRatio,
			StabilityPoolRatio: poolRatio,
		})
	}
	instructions, err := s.engine.EditBasket(req.Caller, update)
	observability.EngineMetrics().Observe("edit_basket", err, time.Since(started))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"instructions": instructionViews(instructions)})
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	positions, err := s.engine.Positions(owner)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(positions))
	for _, position := range positions {
		views = append(views, positionView(position))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid position id"))
		return
	}
	position, err := s.engine.Position(owner, id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positionView(position))
}

func (s *Server) handleGetBasket(w http.ResponseWriter, r *http.Request) {
	basket, err := s.engine.Basket()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	collateral := make([]map[string]any, 0, len(basket.CollateralTypes))
	for _, entry := range basket.CollateralTypes {
		collateral = append(collateral, collateralView(entry))
	}
	caps := make([]map[string]any, 0, len(basket.SupplyCaps))
	for _, cap := range basket.SupplyCaps {
		supply := "0"
		if cap.CurrentSupply != nil {
			supply = cap.CurrentSupply.String()
		}
		debt := "0"
		if cap.DebtTotal != nil {
			debt = cap.DebtTotal.String()
		}
		caps = append(caps, map[string]any{
			"denom":          cap.Denom,
			"current_supply": supply,
			"cap_ratio":      ratView(cap.CapRatio),
			"debt_total":     debt,
			"is_lp":          cap.IsLP,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"basket_id":           basket.BasketID,
		"current_position_id": basket.CurrentPositionID,
		"collateral_types":    collateral,
		"supply_caps":         caps,
		"credit_asset":        assetView(basket.CreditAsset),
		"credit_price":        ratView(basket.CreditPrice),
		"frozen":              basket.Frozen,
		"oracle_set":          basket.OracleSet,
	})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	denom := chi.URLParam(r, "denom")
	stored, err := s.engine.CachedPrice(denom)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if stored == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no cached price for %s", denom))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"denom":           denom,
		"price":           ratView(stored.Price),
		"last_updated":    stored.LastUpdated,
		"limiter_price":   ratView(stored.VolLimiter.Price),
		"limiter_updated": stored.VolLimiter.LastUpdated,
	})
}

// chargeQuota applies the per-address request and mint-volume quota. The
// amount may be nil for target-LTV mints; those only consume a request.
func (s *Server) chargeQuota(owner string, amount *big.Int) error {
	if s.quota.MaxRequestsPerMin == 0 && s.quota.MaxCreditPerEpoch == 0 {
		return nil
	}
	epochSeconds := s.quota.EpochSeconds
	if epochSeconds == 0 {
		epochSeconds = 60
	}
	epoch := uint64(s.clock().Unix()) / uint64(epochSeconds)
	var units *big.Int
	if amount != nil && amount.Sign() > 0 {
		units = amount
	}
	key := strings.ToLower(strings.TrimSpace(owner))

	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	next, err := nativecommon.CheckQuota(s.quota, epoch, s.quotaNow[key], 1, units)
	if err != nil {
		return err
	}
	s.quotaNow[key] = next
	return nil
}

func floatUnits(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	return f
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	body := http.MaxBytesReader(w, r.Body, requestLimit)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("empty request body"))
			return false
		}
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch cdp.Classify(err) {
	case cdp.KindValidation, cdp.KindSolvency:
		status = http.StatusUnprocessableEntity
	case cdp.KindAuthorization:
		status = http.StatusForbidden
	case cdp.KindOracle:
		status = http.StatusBadGateway
	case cdp.KindNotFound:
		status = http.StatusNotFound
	case cdp.KindConflict:
		status = http.StatusConflict
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
