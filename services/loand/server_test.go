package loand

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	nodecfg "nftlend/config"
	"nftlend/crypto"
	"nftlend/native/loan"
	"nftlend/native/origination"
	svcconfig "nftlend/services/loand/config"
	"nftlend/storage/loanstore"
)

const testToken = "test-token"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &nodecfg.Config{
		Protocol: nodecfg.Protocol{OriginationFeeBps: 100, FlashPremiumBps: 30},
	}
	protocol, err := NewProtocol(cfg, loanstore.NewStore())
	require.NoError(t, err)

	srv := NewServer(protocol, svcconfig.Config{
		Auth:      svcconfig.AuthConfig{APITokens: []string{testToken}},
		RateLimit: svcconfig.RateLimit{RequestsPerSecond: 1_000, Burst: 1_000},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	decoded := make(map[string]json.RawMessage)
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func jsonString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

type apiParty struct {
	key  *crypto.PrivateKey
	addr crypto.Address
}

func newAPIParty(t *testing.T) apiParty {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return apiParty{key: key, addr: key.PubKey().Address()}
}

func TestHealthzRequiresNoAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestAPIAuthentication(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/v1/loans/1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/loans/1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimitReturns429(t *testing.T) {
	cfg := &nodecfg.Config{Protocol: nodecfg.Protocol{OriginationFeeBps: 100}}
	protocol, err := NewProtocol(cfg, loanstore.NewStore())
	require.NoError(t, err)
	srv := NewServer(protocol, svcconfig.Config{
		Auth:      svcconfig.AuthConfig{AllowInsecure: true},
		RateLimit: svcconfig.RateLimit{RequestsPerSecond: 0.001, Burst: 1},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestVaultLifecycleOverAPI(t *testing.T) {
	ts := newTestServer(t)
	owner := newAPIParty(t)

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/vaults", map[string]string{"owner": owner.addr.String()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var vaultID uint64
	require.NoError(t, json.Unmarshal(body["id"], &vaultID))
	require.NotZero(t, vaultID)

	resp, _ = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/v1/vaults/%d/deposits", vaultID), map[string]interface{}{
		"caller": owner.addr.String(),
		"asset":  map[string]string{"kind": "erc721", "token": "punk", "tokenId": "9"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Withdrawals are disabled until the owner switches the vault mode.
	resp, _ = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/v1/vaults/%d/withdrawals", vaultID), map[string]interface{}{
		"caller": owner.addr.String(),
		"asset":  map[string]string{"kind": "erc721", "token": "punk", "tokenId": "9"},
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/v1/vaults/%d/withdrawals/enable", vaultID), map[string]string{
		"caller": owner.addr.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/v1/vaults/%d/withdrawals", vaultID), map[string]interface{}{
		"caller": owner.addr.String(),
		"asset":  map[string]string{"kind": "erc721", "token": "punk", "tokenId": "9"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodGet, "/v1/vaults/999", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoanLifecycleOverAPI(t *testing.T) {
	ts := newTestServer(t)
	borrower := newAPIParty(t)
	lender := newAPIParty(t)

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/vaults", map[string]string{"owner": borrower.addr.String()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var vaultID uint64
	require.NoError(t, json.Unmarshal(body["id"], &vaultID))

	resp, _ = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/v1/vaults/%d/deposits", vaultID), map[string]interface{}{
		"caller": borrower.addr.String(),
		"asset":  map[string]string{"kind": "erc721", "token": "punk", "tokenId": "1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/admin/credit", map[string]string{
		"address":  lender.addr.String(),
		"currency": "USDC",
		"amount":   "1000000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	start := time.Now().Unix()
	terms := loan.LoanTerms{
		DurationSecs:    3_600,
		Principal:       mustBig(t, "1000000"),
		InterestRate:    mustBig(t, "1000000000000000000000"),
		CollateralID:    vaultID,
		PayableCurrency: "USDC",
		StartDate:       start,
	}
	digest := origination.TermsDigest(crypto.ModuleAddress("loan"), terms)
	sig, err := ethcrypto.Sign(digest, lender.key.PrivateKey)
	require.NoError(t, err)

	resp, body = doRequest(t, ts, http.MethodPost, "/v1/loans", map[string]interface{}{
		"caller":   borrower.addr.String(),
		"borrower": borrower.addr.String(),
		"lender":   lender.addr.String(),
		"terms": map[string]interface{}{
			"durationSecs":    3_600,
			"principal":       "1000000",
			"interestRate":    "1000000000000000000000",
			"collateralId":    vaultID,
			"payableCurrency": "USDC",
			"startDate":       start,
		},
		"signature": hex.EncodeToString(sig),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var loanID uint64
	require.NoError(t, json.Unmarshal(body["loanId"], &loanID))
	require.NotZero(t, loanID)

	// Principal net of the 1% origination fee landed with the borrower.
	resp, body = doRequest(t, ts, http.MethodGet,
		fmt.Sprintf("/v1/accounts/%s/balances/USDC", borrower.addr.String()), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "990000", jsonString(t, body["balance"]))

	resp, body = doRequest(t, ts, http.MethodGet, fmt.Sprintf("/v1/loans/%d/due", loanID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1100000", jsonString(t, body["amountDue"]))

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/admin/credit", map[string]string{
		"address":  borrower.addr.String(),
		"currency": "USDC",
		"amount":   "110000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/v1/loans/%d/repay", loanID), map[string]string{
		"caller": borrower.addr.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doRequest(t, ts, http.MethodGet, fmt.Sprintf("/v1/loans/%d", loanID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var record loan.LoanData
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &record))
	require.Equal(t, loan.LoanStateRepaid, record.State)

	// Lender received principal plus full interest.
	resp, body = doRequest(t, ts, http.MethodGet,
		fmt.Sprintf("/v1/accounts/%s/balances/USDC", lender.addr.String()), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1100000", jsonString(t, body["balance"]))
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	caller := newAPIParty(t)

	resp, _ := doRequest(t, ts, http.MethodGet, "/v1/loans/42", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/vaults", map[string]string{"owner": "not-an-address"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/vaults", map[string]string{"bogus": "field"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/vaults/1/deposits", map[string]interface{}{
		"caller": caller.addr.String(),
		"asset":  map[string]string{"kind": "erc9999", "token": "punk"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/notes/bogus/1/transfer", map[string]string{
		"caller": caller.addr.String(),
		"to":     caller.addr.String(),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/notes/borrower/7/burn", map[string]string{
		"caller": caller.addr.String(),
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func mustBig(t *testing.T, raw string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(raw, 10)
	require.True(t, ok)
	return v
}
