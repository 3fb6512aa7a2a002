package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Nzyazin/walletd/internal/core/handler"
	"github.com/Nzyazin/walletd/internal/core/logger"
	"github.com/Nzyazin/walletd/internal/core/repository/memory"
	"github.com/Nzyazin/walletd/internal/core/usecase"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := memory.NewMemoryLedgerRepo()
	uc := usecase.NewLedgerUsecase(repo, nil, logger.NewNop())
	h := handler.NewWalletHandler(uc, "USD", logger.NewNop())

	router := mux.NewRouter()
	h.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postRaw(t *testing.T, srv *httptest.Server, path string, body interface{}) (*http.Response, json.RawMessage) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	return resp, raw
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, raw := postRaw(t, srv, path, body)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return resp, decoded
}

// postJSONList is for endpoints that answer with an array, like the
// batch finalize.
func postJSONList(t *testing.T, srv *httptest.Server, path string, body interface{}) (*http.Response, []map[string]interface{}) {
	t.Helper()
	resp, raw := postRaw(t, srv, path, body)
	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return resp, decoded
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func TestDepositEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv, "/api/v1/wallet/deposit", map[string]string{
		"ownerId": "alice",
		"amount":  "100.50",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "100.50", body["amount"])
	assert.Equal(t, "USD", body["currency"])
	assert.Equal(t, "INCOMING", body["direction"])
	assert.Equal(t, "PENDING", body["status"])

	// Pending incoming funds are not spendable yet.
	var balance map[string]interface{}
	resp = getJSON(t, srv, "/api/v1/wallet/balance?owner_id=alice", &balance)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0.00", balance["balance"])

	trxID := body["id"].(string)
	resp, body = postJSON(t, srv, fmt.Sprintf("/api/v1/wallet/transactions/%s/finalize", trxID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FINALIZED", body["status"])

	resp = getJSON(t, srv, "/api/v1/wallet/balance?owner_id=alice", &balance)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "100.50", balance["balance"])
}

func TestDepositCommaAmount(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv, "/api/v1/wallet/deposit", map[string]string{
		"ownerId": "bob",
		"amount":  "42,75",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "42.75", body["amount"])
}

func TestDepositRejectsInvalidAmounts(t *testing.T) {
	srv := newTestServer(t)

	for _, amount := range []string{"", "abc", "10.555", "-5", "0", "1e3"} {
		resp, _ := postJSON(t, srv, "/api/v1/wallet/deposit", map[string]string{
			"ownerId": "bob",
			"amount":  amount,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "amount %q", amount)
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv, "/api/v1/wallet/withdraw", map[string]string{
		"ownerId": "carol",
		"amount":  "10",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "insufficient funds", body["error"])
}

func TestTransferEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv, "/api/v1/wallet/deposit", map[string]string{
		"ownerId": "dave",
		"amount":  "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	trxID := body["id"].(string)
	resp, _ = postJSON(t, srv, fmt.Sprintf("/api/v1/wallet/transactions/%s/finalize", trxID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = postJSON(t, srv, "/api/v1/wallet/transfer", map[string]string{
		"debtorId":   "dave",
		"creditorId": "erin",
		"amount":     "75",
		"reference":  "invoice-9",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	withdrawal := body["withdrawal"].(map[string]interface{})
	deposit := body["deposit"].(map[string]interface{})
	assert.Equal(t, "OUTGOING", withdrawal["direction"])
	assert.Equal(t, "INCOMING", deposit["direction"])
	assert.Equal(t, "invoice-9", withdrawal["reference"])

	// Both legs finalize in one batch; the endpoint answers with a list.
	resp, finalized := postJSONList(t, srv, "/api/v1/wallet/transactions/finalize", map[string]interface{}{
		"ids": []string{withdrawal["id"].(string), deposit["id"].(string)},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, finalized, 2)
	assert.Equal(t, "FINALIZED", finalized[0]["status"])
	assert.Equal(t, "FINALIZED", finalized[1]["status"])

	var balance map[string]interface{}
	getJSON(t, srv, "/api/v1/wallet/balance?owner_id=dave", &balance)
	assert.Equal(t, "25.00", balance["balance"])
	getJSON(t, srv, "/api/v1/wallet/balance?owner_id=erin", &balance)
	assert.Equal(t, "75.00", balance["balance"])
}

func TestCancelFinalizedTransaction(t *testing.T) {
	srv := newTestServer(t)

	_, body := postJSON(t, srv, "/api/v1/wallet/deposit", map[string]string{
		"ownerId": "frank",
		"amount":  "30",
	})
	trxID := body["id"].(string)
	resp, _ := postJSON(t, srv, fmt.Sprintf("/api/v1/wallet/transactions/%s/finalize", trxID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = postJSON(t, srv, fmt.Sprintf("/api/v1/wallet/transactions/%s/cancel", trxID), map[string]string{
		"reference": "chargeback-4",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CANCELLATION", body["status"])

	// Cancelled means terminal.
	resp, _ = postJSON(t, srv, fmt.Sprintf("/api/v1/wallet/transactions/%s/finalize", trxID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSetBalanceEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, body := postJSON(t, srv, "/api/v1/wallet/deposit", map[string]string{
		"ownerId": "grace",
		"amount":  "1000",
	})
	trxID := body["id"].(string)
	postJSON(t, srv, fmt.Sprintf("/api/v1/wallet/transactions/%s/finalize", trxID), nil)

	resp, body := postJSON(t, srv, "/api/v1/wallet/balance", map[string]string{
		"ownerId": "grace",
		"amount":  "800",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "-200.00", body["delta"])
	trx := body["transaction"].(map[string]interface{})
	assert.Equal(t, "OUTGOING", trx["direction"])
	// an outgoing adjustment counts while PENDING, so the balance
	// lands on the target right away
	assert.Equal(t, "PENDING", trx["status"])

	var balance map[string]interface{}
	getJSON(t, srv, "/api/v1/wallet/balance?owner_id=grace", &balance)
	assert.Equal(t, "800.00", balance["balance"])
}

func TestTransactionsByReferenceEndpoint(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/api/v1/wallet/deposit", map[string]string{
		"ownerId": "henry", "amount": "10", "reference": "1337",
	})
	postJSON(t, srv, "/api/v1/wallet/deposit", map[string]string{
		"ownerId": "henry", "amount": "20", "reference": "7331",
	})

	var trxs []map[string]interface{}
	resp := getJSON(t, srv, "/api/v1/wallet/transactions/by-reference?reference=1337", &trxs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, trxs, 1)
	assert.Equal(t, "10.00", trxs[0]["amount"])
}

func TestTotalBalanceEndpoint(t *testing.T) {
	srv := newTestServer(t)

	for owner, amount := range map[string]string{"ivy": "300", "jack": "200"} {
		_, body := postJSON(t, srv, "/api/v1/wallet/deposit", map[string]string{
			"ownerId": owner, "amount": amount,
		})
		trxID := body["id"].(string)
		postJSON(t, srv, fmt.Sprintf("/api/v1/wallet/transactions/%s/finalize", trxID), nil)
	}

	var total map[string]string
	resp := getJSON(t, srv, "/api/v1/wallet/total", &total)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "500.00", total["total"])

	resp = getJSON(t, srv, "/api/v1/wallet/total?exclude=jack", &total)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "300.00", total["total"])
}

func TestListTransactionsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, body := postJSON(t, srv, "/api/v1/wallet/deposit", map[string]string{
		"ownerId": "kate", "amount": "100",
	})
	trxID := body["id"].(string)
	postJSON(t, srv, fmt.Sprintf("/api/v1/wallet/transactions/%s/finalize", trxID), nil)
	postJSON(t, srv, "/api/v1/wallet/withdraw", map[string]string{
		"ownerId": "kate", "amount": "40",
	})

	var trxs []map[string]interface{}
	resp := getJSON(t, srv, "/api/v1/wallet/transactions?owner_id=kate", &trxs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, trxs, 2)

	resp = getJSON(t, srv, "/api/v1/wallet/transactions?owner_id=kate&direction=outgoing", &trxs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, trxs, 1)
	assert.Equal(t, "-40.00", trxs[0]["amount"])

	badResp, err := http.Get(srv.URL + "/api/v1/wallet/transactions?owner_id=kate&status=bogus")
	require.NoError(t, err)
	defer badResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)
}
