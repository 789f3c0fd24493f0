package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomesh/clubhouse/app"
	"github.com/axiomesh/clubhouse/core"
	"github.com/axiomesh/clubhouse/core/governance"
	"github.com/axiomesh/clubhouse/core/sponsor"
	"github.com/axiomesh/clubhouse/repo"
)

var fan = common.HexToAddress("0xc1")

func newServer(t *testing.T, modify func(cfg *repo.Config)) (*Server, *app.App) {
	cfg := repo.DefaultConfig(t.TempDir())
	cfg.Storage.InMemory = true
	cfg.API.RateLimit = 0
	cfg.Genesis.Alloc = append(cfg.Genesis.Alloc, repo.Alloc{Address: fan.Hex(), Amount: "5000 ether"})
	if modify != nil {
		modify(cfg)
	}
	logger := log.New().WithField("module", "api")
	a, err := app.New(context.Background(), cfg, logger)
	require.Nil(t, err)
	t.Cleanup(func() { _ = a.Stop() })
	return NewServer(a, cfg.API, logger), a
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.Nil(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.RemoteAddr = "192.0.2.1:4321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	require.Nil(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clubhouse_api_http_requests_total")
}

func TestTreasuryQueries(t *testing.T) {
	s, a := newServer(t, nil)
	h := s.Handler()

	_, err := a.Sponsor.Engage(fan, "https://example.com/logo.png", 0, true, core.Ether(2000))
	require.Nil(t, err)
	_, err = a.Sponsor.Withdraw(fan)
	require.Nil(t, err)

	rec := do(t, h, http.MethodGet, "/api/v1/treasury", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary treasuryResponse
	decode(t, rec, &summary)
	assert.Equal(t, core.Ether(2000), summary.TotalInflow)
	assert.Equal(t, core.Ether(1000), summary.TotalAmountOfTeam)
	assert.Equal(t, core.Ether(400), summary.LeftAmountOfStakingRewards)
	assert.Equal(t, uint64(3), summary.TotalMembersCount)
	assert.Equal(t, common.HexToAddress(repo.GovernanceContractAddr), summary.Governance)

	rec = do(t, h, http.MethodGet, "/api/v1/treasury/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var members []map[string]any
	decode(t, rec, &members)
	assert.Len(t, members, 3)

	rec = do(t, h, http.MethodGet, "/api/v1/treasury/airdrops/0", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var e errorResponse
	decode(t, rec, &e)
	assert.Equal(t, "not_found", e.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/sponsors/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sp sponsor.Sponsor
	decode(t, rec, &sp)
	assert.Equal(t, fan, sp.Sponsor)
	assert.True(t, sp.IsFixed)

	rec = do(t, h, http.MethodGet, "/api/v1/accounts/"+fan.Hex()+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance map[string]*big.Int
	decode(t, rec, &balance)
	assert.Equal(t, core.Ether(3000), balance["balance"])
}

func TestBadRequests(t *testing.T) {
	s, _ := newServer(t, nil)
	h := s.Handler()

	for _, target := range []string{
		"/api/v1/governance/proposals/abc",
		"/api/v1/staking/accounts/0x12",
		"/api/v1/assets/0/owner",
		"/api/v1/logs?from=x",
	} {
		rec := do(t, h, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/governance/proposals/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/assets/1/owner", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// raw messages are refused outside dev mode
	rec = do(t, h, http.MethodPost, "/api/v1/tx", SendRequest{From: fan})
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestSendInDevMode(t *testing.T) {
	s, a := newServer(t, func(cfg *repo.Config) { cfg.API.DevMode = true })
	h := s.Handler()
	sponsorAddr := common.HexToAddress(repo.SponsorContractAddr)

	payload, err := sponsor.ABI.Pack("engage", "https://example.com/logo.png", big.NewInt(2), false)
	require.Nil(t, err)

	rec := do(t, h, http.MethodPost, "/api/v1/tx", SendRequest{
		From:  fan,
		To:    sponsorAddr,
		Value: (*hexutil.Big)(core.Ether(19)),
		Data:  payload,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var e errorResponse
	decode(t, rec, &e)
	assert.Equal(t, "insufficient_value", e.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/tx", SendRequest{
		From:  fan,
		To:    sponsorAddr,
		Value: (*hexutil.Big)(core.Ether(20)),
		Data:  payload,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SendResponse
	decode(t, rec, &resp)
	assert.Equal(t, a.Chain.Head().Seq, resp.Seq)
	assert.Len(t, resp.Logs, 1)
	assert.Equal(t, uint64(2), a.Sponsor.TotalRequiredJerseys())

	rec = do(t, h, http.MethodGet, "/api/v1/logs?address="+sponsorAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []map[string]any
	decode(t, rec, &logs)
	assert.Len(t, logs, 1)

	rec = do(t, h, http.MethodGet, "/api/v1/logs?address="+repo.TreasuryContractAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &logs)
	assert.Empty(t, logs)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tx", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendViewMethodKeepsHead(t *testing.T) {
	s, a := newServer(t, func(cfg *repo.Config) { cfg.API.DevMode = true })
	h := s.Handler()
	head := a.Chain.Head()

	payload, err := governance.ABI.Pack("isSenators", fan)
	require.Nil(t, err)
	rec := do(t, h, http.MethodPost, "/api/v1/tx", SendRequest{
		From: fan,
		To:   common.HexToAddress(repo.GovernanceContractAddr),
		Data: payload,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SendResponse
	decode(t, rec, &resp)
	assert.True(t, resp.View)
	assert.Equal(t, head.Seq, resp.Seq)
	assert.Empty(t, resp.Logs)
	res, err := governance.ABI.Unpack("isSenators", resp.Output)
	require.Nil(t, err)
	assert.False(t, res[0].(bool))
	assert.Equal(t, head, a.Chain.Head())

	rec = do(t, h, http.MethodPost, "/api/v1/tx", SendRequest{
		From:  fan,
		To:    common.HexToAddress(repo.GovernanceContractAddr),
		Value: (*hexutil.Big)(core.Ether(1)),
		Data:  payload,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, head, a.Chain.Head())
}

func TestRateLimit(t *testing.T) {
	s, _ := newServer(t, func(cfg *repo.Config) {
		cfg.API.RateLimit = 0.001
		cfg.API.RateBurst = 1
	})
	defer s.Shutdown(context.Background())
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/head", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/head", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// health checks are not limited
	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	defer rl.Stop()

	ok, _ := rl.Allow("192.0.2.1")
	assert.True(t, ok)
	ok, wait := rl.Allow("192.0.2.1")
	assert.False(t, ok)
	assert.Greater(t, wait.Seconds(), 0.0)

	ok, _ = rl.Allow("192.0.2.2")
	assert.True(t, ok)
}
