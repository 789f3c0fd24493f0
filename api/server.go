// Package api serves read queries over the ledgers and, in dev mode, accepts
// raw messages.
package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/axiomesh/clubhouse/app"
	"github.com/axiomesh/clubhouse/core"
	"github.com/axiomesh/clubhouse/core/governance"
	"github.com/axiomesh/clubhouse/core/staking"
	"github.com/axiomesh/clubhouse/core/treasury"
	"github.com/axiomesh/clubhouse/repo"
)

// maxLogRange bounds the sequence span of one log query.
const maxLogRange = 10000

type Server struct {
	app     *app.App
	cfg     repo.API
	logger  logrus.FieldLogger
	limiter *RateLimiter
	srv     *http.Server
}

func NewServer(a *app.App, cfg repo.API, logger logrus.FieldLogger) *Server {
	s := &Server{app: a, cfg: cfg, logger: logger}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = NewRateLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.srv = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Get("/head", s.handleHead)
		r.Get("/accounts/{address}/balance", s.handleBalance)
		r.Get("/logs", s.handleLogs)

		r.Get("/treasury", s.handleTreasury)
		r.Get("/treasury/members", s.handleMembers)
		r.Get("/treasury/airdrops/{id}", s.handleAirdrop)

		r.Get("/staking", s.handleStaking)
		r.Get("/staking/accounts/{address}", s.handleStaker)
		r.Get("/staking/deposits/{id}", s.handleDeposit)

		r.Get("/governance", s.handleGovernance)
		r.Get("/governance/proposals", s.handleProposals)
		r.Get("/governance/proposals/{id}", s.handleProposal)

		r.Get("/sponsors", s.handleSponsors)
		r.Get("/sponsors/{id}", s.handleSponsor)
		r.Get("/assets/{unit}/owner", s.handleOwnerOf)

		if s.cfg.DevMode {
			r.Post("/tx", s.handleSend)
		}
	})
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithFields(logrus.Fields{
		"listen":   s.cfg.Listen,
		"dev_mode": s.cfg.DevMode,
	}).Info("api server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.srv.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps ledger errors onto status codes. Rejected messages are
// reported as 422 with the error code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := core.ErrorCode(err)
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrInvalidID):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
		code = "bad_request"
	case code == "internal":
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		s.logger.WithField("request_id", middleware.GetReqID(r.Context())).Errorf("%s %s: %s", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

var errBadRequest = errors.New("bad request")

func addressParam(r *http.Request, name string) (common.Address, error) {
	v := chi.URLParam(r, name)
	if !common.IsHexAddress(v) {
		return common.Address{}, errors.Wrapf(errBadRequest, "invalid address %q", v)
	}
	return common.HexToAddress(v), nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(errBadRequest, "invalid %s", name)
	}
	return v, nil
}

type headResponse struct {
	Seq  uint64      `json:"seq"`
	Root common.Hash `json:"root"`
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	head := s.app.Chain.Head()
	writeJSON(w, http.StatusOK, headResponse{Seq: head.Seq, Root: head.Root})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*big.Int{"balance": s.app.Chain.BalanceOf(addr)})
}

// handleLogs filters journaled logs by ?from, ?to, repeated ?address and
// ?topic (first topic only).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := ethereum.FilterQuery{}
	values := r.URL.Query()

	head := s.app.Chain.Head().Seq
	from, to := uint64(1), head
	var err error
	if v := values.Get("from"); v != "" {
		if from, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.writeError(w, r, errors.Wrap(errBadRequest, "invalid from"))
			return
		}
	}
	if v := values.Get("to"); v != "" {
		if to, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.writeError(w, r, errors.Wrap(errBadRequest, "invalid to"))
			return
		}
	}
	if to > head {
		to = head
	}
	if to >= from && to-from >= maxLogRange {
		s.writeError(w, r, errors.Wrapf(errBadRequest, "range exceeds %d messages", maxLogRange))
		return
	}
	q.FromBlock, q.ToBlock = new(big.Int).SetUint64(from), new(big.Int).SetUint64(to)

	for _, v := range values["address"] {
		if !common.IsHexAddress(v) {
			s.writeError(w, r, errors.Wrapf(errBadRequest, "invalid address %q", v))
			return
		}
		q.Addresses = append(q.Addresses, common.HexToAddress(v))
	}
	if topics := values["topic"]; len(topics) > 0 {
		var first []common.Hash
		for _, v := range topics {
			first = append(first, common.HexToHash(v))
		}
		q.Topics = [][]common.Hash{first}
	}

	logs, err := s.app.Chain.FilterLogs(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []types.Log{}
	}
	writeJSON(w, http.StatusOK, logs)
}

type treasuryResponse struct {
	TotalInflow                *big.Int       `json:"total_inflow"`
	TotalAmountOfTeam          *big.Int       `json:"total_amount_of_team"`
	LeftAmountOfTeam           *big.Int       `json:"left_amount_of_team"`
	LeftAmountOfStakingRewards *big.Int       `json:"left_amount_of_staking_rewards"`
	StakingForwarded           *big.Int       `json:"staking_forwarded"`
	TotalMembersCount          uint64         `json:"total_members_count"`
	TotalEquities              uint64         `json:"total_equities"`
	AirdropCount               uint64         `json:"airdrop_count"`
	Governance                 common.Address `json:"governance"`
	Staking                    common.Address `json:"staking"`
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	t := s.app.Treasury
	writeJSON(w, http.StatusOK, treasuryResponse{
		TotalInflow:                t.TotalInflow(),
		TotalAmountOfTeam:          t.TotalAmountOfTeam(),
		LeftAmountOfTeam:           t.LeftAmountOfTeam(),
		LeftAmountOfStakingRewards: t.LeftAmountOfStakingRewards(),
		StakingForwarded:           t.StakingForwarded(),
		TotalMembersCount:          t.TotalMembersCount(),
		TotalEquities:              t.TotalEquities(),
		AirdropCount:               t.AirdropCount(),
		Governance:                 t.Governance(),
		Staking:                    t.Staking(),
	})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	members := s.app.Treasury.Members()
	if members == nil {
		members = []*treasury.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	grant, err := s.app.Treasury.Airdrop(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

type stakingResponse struct {
	Asset              common.Address `json:"asset"`
	TotalWeight        *big.Int       `json:"total_weight"`
	AccRewardPerWeight *big.Int       `json:"acc_reward_per_weight"`
	TotalDistributed   *big.Int       `json:"total_distributed"`
	Balance            *big.Int       `json:"balance"`
}

func (s *Server) handleStaking(w http.ResponseWriter, r *http.Request) {
	l := s.app.Staking
	writeJSON(w, http.StatusOK, stakingResponse{
		Asset:              l.Asset(),
		TotalWeight:        l.TotalWeight(),
		AccRewardPerWeight: l.AccRewardPerWeight(),
		TotalDistributed:   l.TotalDistributed(),
		Balance:            s.app.Chain.BalanceOf(l.Address()),
	})
}

type stakerResponse struct {
	Pending  *big.Int           `json:"pending"`
	Claimed  *big.Int           `json:"claimed"`
	Deposits []*staking.Deposit `json:"deposits"`
}

func (s *Server) handleStaker(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	l := s.app.Staking
	resp := stakerResponse{
		Pending:  l.PendingRewards(addr),
		Claimed:  l.Claimed(addr),
		Deposits: []*staking.Deposit{},
	}
	for _, id := range l.DepositsOf(addr) {
		d, err := l.Deposit(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Deposits = append(resp.Deposits, d)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.app.Staking.Deposit(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type governanceResponse struct {
	Senators      []common.Address `json:"senators"`
	Quorum        uint64           `json:"quorum"`
	ThresholdExec uint64           `json:"threshold_exec"`
	ProposalCount uint64           `json:"proposal_count"`
}

func (s *Server) handleGovernance(w http.ResponseWriter, r *http.Request) {
	e := s.app.Governance
	writeJSON(w, http.StatusOK, governanceResponse{
		Senators:      e.Senators(),
		Quorum:        e.Quorum(),
		ThresholdExec: e.ThresholdExec(),
		ProposalCount: e.ProposalCount(),
	})
}

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	proposals := s.app.Governance.Proposals()
	if proposals == nil {
		proposals = []*governance.Proposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.app.Governance.Proposal(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type sponsorsResponse struct {
	Count                uint64 `json:"count"`
	TotalSponsors        uint64 `json:"total_sponsors"`
	TotalFixedSponsors   uint64 `json:"total_fixed_sponsors"`
	TotalRequiredJerseys uint64 `json:"total_required_jerseys"`
}

func (s *Server) handleSponsors(w http.ResponseWriter, r *http.Request) {
	e := s.app.Sponsor
	writeJSON(w, http.StatusOK, sponsorsResponse{
		Count:                e.Count(),
		TotalSponsors:        e.TotalSponsors(),
		TotalFixedSponsors:   e.TotalFixedSponsors(),
		TotalRequiredJerseys: e.TotalRequiredJerseys(),
	})
}

func (s *Server) handleSponsor(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sp, err := s.app.Sponsor.Sponsor(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) handleOwnerOf(w http.ResponseWriter, r *http.Request) {
	unit, ok := new(big.Int).SetString(chi.URLParam(r, "unit"), 10)
	if !ok || unit.Sign() <= 0 {
		s.writeError(w, r, errors.Wrap(errBadRequest, "invalid unit"))
		return
	}
	owner, err := s.app.Asset.OwnerOf(unit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]common.Address{"owner": owner})
}

// SendRequest is an unsigned message, accepted in dev mode only. Calls to
// view methods are answered without committing anything.
type SendRequest struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value,omitempty"`
	Data  hexutil.Bytes  `json:"data,omitempty"`
}

type SendResponse struct {
	Seq    uint64        `json:"seq"`
	TxHash common.Hash   `json:"tx_hash"`
	Output hexutil.Bytes `json:"output"`
	Logs   []*types.Log  `json:"logs"`
	View   bool          `json:"view,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, errors.Wrapf(errBadRequest, "decode body: %s", err))
		return
	}
	receipt, out, err := s.app.Send(req.From, req.To, req.Value.ToInt(), req.Data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logs := receipt.Logs
	if logs == nil {
		logs = []*types.Log{}
	}
	writeJSON(w, http.StatusOK, SendResponse{
		Seq:    receipt.Seq,
		TxHash: receipt.TxHash,
		Output: out,
		Logs:   logs,
		View:   receipt.View,
	})
}
