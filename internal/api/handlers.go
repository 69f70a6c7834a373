package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/shizukutanaka/curvedex/internal/dex"
	"github.com/shizukutanaka/curvedex/internal/units"
)

var errBadRequest = errors.New("bad request")

// Amounts travel as decimal strings of base units so that clients never
// round them through floating point.

type marketView struct {
	Name                  string `json:"name"`
	Symbol                string `json:"symbol"`
	DividendFee           string `json:"dividend_fee"`
	TokenPriceInitial     string `json:"token_price_initial"`
	TokenPriceIncremental string `json:"token_price_incremental"`
	StakingRequirement    string `json:"staking_requirement"`
	RestrictedPhase       bool   `json:"restricted_phase"`
	TotalSupply           string `json:"total_supply"`
	ProfitPerShare        string `json:"profit_per_share"`
	TotalTaxed            string `json:"total_taxed"`
	Unallocated           string `json:"unallocated"`
	BuyPrice              string `json:"buy_price"`
	SellPrice             string `json:"sell_price"`
}

type accountView struct {
	ID            string `json:"id"`
	Balance       string `json:"balance"`
	Dividends     string `json:"dividends"`
	Referral      string `json:"referral"`
	Claimable     string `json:"claimable"`
	PayoutOffset  string `json:"payout_offset"`
	Administrator bool   `json:"administrator"`
	Ambassador    bool   `json:"ambassador"`
}

type holdingView struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type buyRequest struct {
	Value    string `json:"value"`
	Referrer string `json:"referrer,omitempty"`
}

type sellRequest struct {
	Tokens string `json:"tokens"`
}

type transferRequest struct {
	To     string `json:"to"`
	Tokens string `json:"tokens"`
}

type administratorRequest struct {
	Status bool `json:"status"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type textRequest struct {
	Value string `json:"value"`
}

func newMarketView(info *dex.Info) marketView {
	return marketView{
		Name:                  info.Name,
		Symbol:                info.Symbol,
		DividendFee:           info.DividendFee.String(),
		TokenPriceInitial:     info.TokenPriceInitial.String(),
		TokenPriceIncremental: info.TokenPriceIncremental.String(),
		StakingRequirement:    info.StakingRequirement.String(),
		RestrictedPhase:       info.RestrictedPhase,
		TotalSupply:           info.TotalSupply.String(),
		ProfitPerShare:        info.ProfitPerShare.String(),
		TotalTaxed:            info.TotalTaxed.String(),
		Unallocated:           info.Unallocated.String(),
		BuyPrice:              info.BuyPrice.String(),
		SellPrice:             info.SellPrice.String(),
	}
}

func newAccountView(acct *dex.Account) accountView {
	return accountView{
		ID:            acct.ID,
		Balance:       acct.Balance.String(),
		Dividends:     acct.Dividends.String(),
		Referral:      acct.Referral.String(),
		Claimable:     new(big.Int).Add(acct.Dividends, acct.Referral).String(),
		PayoutOffset:  acct.PayoutOffset.String(),
		Administrator: acct.Administrator,
		Ambassador:    acct.Ambassador,
	}
}

// decode reads a JSON body of at most MaxBodyBytes into v.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return errBodyTooLarge
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errBadRequest)
		default:
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	return nil
}

func parseAmount(field, value string) (*big.Int, error) {
	n, err := units.ParseBaseUnits(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dex.ErrInvalidAmount, field, err)
	}
	return n, nil
}

// Queries

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.market.Info(r.Context()); err != nil {
		s.sendError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	s.sendData(w, map[string]interface{}{"status": "healthy"})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	info, err := s.market.Info(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, newMarketView(info))
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	info, err := s.market.Info(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]string{
		"buy_price":    info.BuyPrice.String(),
		"sell_price":   info.SellPrice.String(),
		"total_supply": info.TotalSupply.String(),
	})
}

func (s *Server) handleQuoteBuy(w http.ResponseWriter, r *http.Request) {
	value, err := parseAmount("value", r.URL.Query().Get("value"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tokens, err := s.market.CalculateTokensFor(r.Context(), value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]string{"value": value.String(), "tokens": tokens.String()})
}

func (s *Server) handleQuoteSell(w http.ResponseWriter, r *http.Request) {
	tokens, err := parseAmount("tokens", r.URL.Query().Get("tokens"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	value, err := s.market.CalculateCurrencyFor(r.Context(), tokens)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]string{"tokens": tokens.String(), "value": value.String()})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	s.sendAccount(w, r, mux.Vars(r)["id"])
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.sendAccount(w, r, callerFrom(r.Context()))
}

func (s *Server) sendAccount(w http.ResponseWriter, r *http.Request, id string) {
	acct, err := s.market.Account(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, newAccountView(acct))
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.market.Holdings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]holdingView, 0, len(holdings))
	for _, h := range holdings {
		out = append(out, holdingView{Account: h.Account, Balance: h.Balance.String()})
	}
	s.sendData(w, out)
}

// Operations

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tokens, err := s.market.Buy(r.Context(), callerFrom(r.Context()), value, req.Referrer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]string{"tokens": tokens.String()})
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	tokens, err := parseAmount("tokens", req.Tokens)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	proceeds, err := s.market.Sell(r.Context(), callerFrom(r.Context()), tokens)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]string{"proceeds": proceeds.String()})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	tokens, err := parseAmount("tokens", req.Tokens)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.market.Transfer(r.Context(), callerFrom(r.Context()), req.To, tokens); err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]bool{"ok": true})
}

func (s *Server) handleReinvest(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.market.Reinvest(r.Context(), callerFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]string{"tokens": tokens.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, err := s.market.Withdraw(r.Context(), callerFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]string{"withdrawn": amount.String()})
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	res, err := s.market.Exit(r.Context(), callerFrom(r.Context()))
	if err != nil {
		if res == nil {
			s.fail(w, r, err)
			return
		}
		// The sale committed even though the withdrawal did not.
		s.sendJSON(w, statusFor(err), Response{
			Success: false,
			Data:    exitView(res),
			Error:   err.Error(),
			Time:    time.Now(),
		})
		return
	}
	s.sendData(w, exitView(res))
}

func exitView(res *dex.ExitResult) map[string]string {
	return map[string]string{
		"tokens_sold":   res.TokensSold.String(),
		"sale_proceeds": res.SaleProceeds.String(),
		"withdrawn":     res.Withdrawn.String(),
		"timestamp":     res.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Administration

func (s *Server) handleDisableInitialStage(w http.ResponseWriter, r *http.Request) {
	if err := s.market.DisableInitialStage(r.Context(), callerFrom(r.Context())); err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]bool{"restricted_phase": false})
}

func (s *Server) handleSetAdministrator(w http.ResponseWriter, r *http.Request) {
	var req administratorRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	account := mux.Vars(r)["account"]
	if err := s.market.SetAdministrator(r.Context(), callerFrom(r.Context()), account, req.Status); err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]interface{}{"account": account, "administrator": req.Status})
}

func (s *Server) handleSetStakingRequirement(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.market.SetStakingRequirement(r.Context(), callerFrom(r.Context()), amount); err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]string{"staking_requirement": amount.String()})
}

func (s *Server) handleSetName(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.market.SetName(r.Context(), callerFrom(r.Context()), req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]string{"name": req.Value})
}

func (s *Server) handleSetSymbol(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.market.SetSymbol(r.Context(), callerFrom(r.Context()), req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendData(w, map[string]string{"symbol": req.Value})
}
