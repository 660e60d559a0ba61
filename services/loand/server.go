package loand

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"nftlend/crypto"
	nativecommon "nftlend/native/common"
	"nftlend/native/loan"
	"nftlend/native/note"
	"nftlend/native/origination"
	"nftlend/native/rollover"
	"nftlend/native/vault"
	svcconfig "nftlend/services/loand/config"
)

// Server exposes the protocol over an authenticated JSON HTTP API.
type Server struct {
	protocol *Protocol
	tokens   []string
	limiter  *rate.Limiter
	router   http.Handler
}

// NewServer constructs the HTTP surface over the supplied protocol.
func NewServer(protocol *Protocol, cfg svcconfig.Config) *Server {
	srv := &Server{
		protocol: protocol,
		tokens:   cfg.Auth.APITokens,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.throttle)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.authenticate)

		api.Post("/vaults", s.handleCreateVault)
		api.Get("/vaults/{id}", s.handleGetVault)
		api.Post("/vaults/{id}/deposits", s.handleDeposit)
		api.Post("/vaults/{id}/withdrawals/enable", s.handleEnableWithdraw)
		api.Post("/vaults/{id}/withdrawals", s.handleWithdraw)

		api.Post("/loans", s.handleInitializeLoan)
		api.Get("/loans/{id}", s.handleGetLoan)
		api.Get("/loans/{id}/due", s.handleAmountDue)
		api.Post("/loans/{id}/repay", s.handleRepay)

		api.Get("/notes/borrower/{id}/due", s.handleInstallmentDue)
		api.Post("/notes/borrower/{id}/payments", s.handleRepayPart)
		api.Post("/notes/borrower/{id}/close", s.handleCloseLoan)
		api.Post("/notes/lender/{id}/claim", s.handleClaim)
		api.Post("/notes/{space}/{id}/transfer", s.handleTransferNote)
		api.Post("/notes/{space}/{id}/burn", s.handleBurnNote)

		api.Post("/rollovers", s.handleRollover)

		api.Get("/accounts/{address}/balances/{currency}", s.handleBalance)
		api.Post("/admin/credit", s.handleCredit)
		api.Post("/admin/sweep", s.handleSweep)
	})

	return otelhttp.NewHandler(r, "loand")
}

// --- middleware ---

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token = strings.TrimSpace(token)
		for _, candidate := range s.tokens {
			if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "invalid bearer token")
	})
}

// --- request / response shapes ---

type assetPayload struct {
	Kind    string `json:"kind"`
	Token   string `json:"token"`
	TokenID string `json:"tokenId,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

type termsPayload struct {
	DurationSecs    uint64 `json:"durationSecs"`
	Principal       string `json:"principal"`
	InterestRate    string `json:"interestRate"`
	CollateralID    uint64 `json:"collateralId"`
	PayableCurrency string `json:"payableCurrency"`
	StartDate       int64  `json:"startDate"`
	NumInstallments uint64 `json:"numInstallments"`
}

type itemPayload struct {
	Kind    string `json:"kind"`
	Token   string `json:"token"`
	TokenID string `json:"tokenId,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

func parseAddress(raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseKind(raw string) (vault.AssetKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "erc20":
		return vault.AssetERC20, nil
	case "erc721":
		return vault.AssetERC721, nil
	case "erc1155":
		return vault.AssetERC1155, nil
	case "ether":
		return vault.AssetEther, nil
	default:
		return 0, fmt.Errorf("unknown asset kind %q", raw)
	}
}

func (p assetPayload) asset() (vault.Asset, error) {
	kind, err := parseKind(p.Kind)
	if err != nil {
		return vault.Asset{}, err
	}
	tokenID, err := parseAmount(p.TokenID)
	if err != nil {
		return vault.Asset{}, err
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return vault.Asset{}, err
	}
	return vault.Asset{Kind: kind, Token: strings.TrimSpace(p.Token), TokenID: tokenID, Amount: amount}, nil
}

func (p termsPayload) terms() (loan.LoanTerms, error) {
	principal, err := parseAmount(p.Principal)
	if err != nil {
		return loan.LoanTerms{}, err
	}
	interestRate, err := parseAmount(p.InterestRate)
	if err != nil {
		return loan.LoanTerms{}, err
	}
	return loan.LoanTerms{
		DurationSecs:    p.DurationSecs,
		Principal:       principal,
		InterestRate:    interestRate,
		CollateralID:    p.CollateralID,
		PayableCurrency: strings.TrimSpace(p.PayableCurrency),
		StartDate:       p.StartDate,
		NumInstallments: p.NumInstallments,
	}, nil
}

func parseSignature(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding")
	}
	return sig, nil
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeProtocolError maps engine sentinel errors onto HTTP statuses.
func writeProtocolError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, loan.ErrLoanNotFound),
		errors.Is(err, loan.ErrNoteNotFound),
		errors.Is(err, note.ErrNoteNotFound),
		errors.Is(err, vault.ErrVaultNotFound),
		errors.Is(err, vault.ErrAssetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, nativecommon.ErrUnauthorizedRole),
		errors.Is(err, note.ErrUnauthorizedMinter):
		status = http.StatusForbidden
	case errors.Is(err, loan.ErrNotNoteHolder),
		errors.Is(err, note.ErrNotOwner),
		errors.Is(err, vault.ErrNotOwner),
		errors.Is(err, rollover.ErrNotNoteHolder),
		errors.Is(err, origination.ErrUnauthorizedCaller),
		errors.Is(err, origination.ErrSignerMismatch):
		status = http.StatusForbidden
	case errors.Is(err, loan.ErrCollateralInUse),
		errors.Is(err, loan.ErrInvalidLoanState),
		errors.Is(err, loan.ErrLoanNotExpired),
		errors.Is(err, vault.ErrVaultLocked),
		errors.Is(err, vault.ErrWithdrawEnabled),
		errors.Is(err, vault.ErrWithdrawDisabled),
		errors.Is(err, nativecommon.ErrModulePaused):
		status = http.StatusConflict
	case errors.Is(err, loan.ErrInsufficientFunds),
		errors.Is(err, vault.ErrInsufficientBalance),
		errors.Is(err, rollover.ErrPoolInsufficient):
		status = http.StatusPaymentRequired
	}
	writeError(w, status, err.Error())
}

// --- vault handlers ---

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.protocol.CreateVault(owner)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.protocol.GetVault(id)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller string       `json:"caller"`
		Asset  assetPayload `json:"asset"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := req.Asset.asset()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.protocol.DepositAsset(caller, id, asset); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

func (s *Server) handleEnableWithdraw(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.protocol.EnableWithdrawals(caller, id); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawals enabled"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller string       `json:"caller"`
		Asset  assetPayload `json:"asset"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := req.Asset.asset()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.protocol.WithdrawAsset(caller, id, asset); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// --- loan handlers ---

func (s *Server) handleInitializeLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    string        `json:"caller"`
		Borrower  string        `json:"borrower"`
		Lender    string        `json:"lender"`
		Terms     termsPayload  `json:"terms"`
		Signature string        `json:"signature"`
		Deadline  *int64        `json:"deadline,omitempty"`
		Items     []itemPayload `json:"items,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lender, err := parseAddress(req.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	terms, err := req.Terms.terms()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := parseSignature(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var loanID uint64
	switch {
	case len(req.Items) > 0:
		items := make([]origination.CollateralItem, 0, len(req.Items))
		for _, raw := range req.Items {
			kind, err := parseKind(raw.Kind)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			tokenID, err := parseAmount(raw.TokenID)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			amount, err := parseAmount(raw.Amount)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			items = append(items, origination.CollateralItem{Kind: kind, Token: strings.TrimSpace(raw.Token), TokenID: tokenID, Amount: amount})
		}
		loanID, err = s.protocol.InitializeLoanWithItems(caller, borrower, lender, terms, items, sig)
	case req.Deadline != nil:
		loanID, err = s.protocol.InitializeLoanWithPermit(caller, borrower, lender, terms, *req.Deadline, sig)
	default:
		loanID, err = s.protocol.InitializeLoan(caller, borrower, lender, terms, sig)
	}
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"loanId": loanID})
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.protocol.GetLoan(id)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleAmountDue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := s.protocol.AmountDue(id)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amountDue": amount.String()})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.protocol.RepayLoan(caller, id); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "repaid"})
}

// --- note handlers ---

func (s *Server) handleInstallmentDue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	due, err := s.protocol.InstallmentDue(id)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"minBalanceDue":  due.MinBalanceDue.String(),
		"lateFees":       due.LateFees.String(),
		"missedPayments": strconv.FormatUint(due.MissedPayments, 10),
		"total":          due.Total().String(),
	})
}

func (s *Server) handleRepayPart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
		Amount string `json:"amount,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.protocol.RepayPart(caller, id, amount); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "payment applied"})
}

func (s *Server) handleCloseLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.protocol.CloseLoan(caller, id); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.protocol.ClaimCollateral(caller, id); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

func noteSpaceParam(r *http.Request) (string, error) {
	space := chi.URLParam(r, "space")
	if space != "borrower" && space != "lender" {
		return "", fmt.Errorf("unknown note space %q", space)
	}
	return space, nil
}

func (s *Server) handleTransferNote(w http.ResponseWriter, r *http.Request) {
	space, err := noteSpaceParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
		To     string `json:"to"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.protocol.TransferNote(space, caller, id, to); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Server) handleBurnNote(w http.ResponseWriter, r *http.Request) {
	space, err := noteSpaceParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.protocol.BurnNote(space, caller, id); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "burned"})
}

// --- rollover handler ---

func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    string       `json:"caller"`
		Lender    string       `json:"lender"`
		OldNoteID uint64       `json:"oldNoteId"`
		Terms     termsPayload `json:"terms"`
		Signature string       `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lender, err := parseAddress(req.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	terms, err := req.Terms.terms()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := parseSignature(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loanID, err := s.protocol.RolloverLoan(caller, lender, req.OldNoteID, terms, sig)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"loanId": loanID})
}

// --- ledger handlers ---

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	currency := chi.URLParam(r, "currency")
	balance, err := s.protocol.Balance(addr, currency)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"currency": currency, "balance": balance.String()})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address  string `json:"address"`
		Currency string `json:"currency"`
		Amount   string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || amount == nil || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	if err := s.protocol.Credit(addr, strings.TrimSpace(req.Currency), amount); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "credited"})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To       string `json:"to"`
		Currency string `json:"currency"`
		Amount   string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || amount == nil || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	if err := s.protocol.SweepToken(to, strings.TrimSpace(req.Currency), amount); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "swept"})
}
