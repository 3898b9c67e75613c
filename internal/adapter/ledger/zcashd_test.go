package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"z402-facilitator/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, handler func(method string, params []any) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"result": result, "error": rpcErr, "id": req.ID}
		if rpcErr != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestZcashdClient_GetTransaction(t *testing.T) {
	height := int64(2500000)
	srv := rpcServer(t, func(method string, params []any) (any, *rpcError) {
		assert.Equal(t, "gettransaction", method)
		require.Len(t, params, 1)
		assert.Equal(t, "abc123", params[0])

		return map[string]any{
			"txid":          "abc123",
			"amount":        -0.5,
			"confirmations": 4,
			"blockheight":   height,
			"details": []map[string]any{
				{"address": "t1sender", "category": "send", "amount": -0.5},
				{"address": "t1dest", "category": "receive", "amount": 0.5},
			},
		}, nil
	})
	defer srv.Close()

	client := NewZcashdClient(srv.URL, "user", "pass", 5*time.Second, zerolog.Nop())
	tx, err := client.GetTransaction(context.Background(), "abc123")
	require.NoError(t, err)

	assert.Equal(t, "abc123", tx.TxID)
	assert.Equal(t, "0.5", tx.Amount.String())
	assert.Equal(t, 4, tx.Confirmations)
	require.NotNil(t, tx.BlockHeight)
	assert.Equal(t, height, *tx.BlockHeight)
	assert.Equal(t, "t1dest", tx.ToAddress)
}

func TestZcashdClient_GetTransaction_NotFound(t *testing.T) {
	srv := rpcServer(t, func(method string, params []any) (any, *rpcError) {
		return nil, &rpcError{Code: -5, Message: "Invalid or non-wallet transaction id"}
	})
	defer srv.Close()

	client := NewZcashdClient(srv.URL, "", "", 5*time.Second, zerolog.Nop())
	_, err := client.GetTransaction(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, "LGR_003", apperror.Code(err))
}

func TestZcashdClient_GetTransaction_RPCError(t *testing.T) {
	srv := rpcServer(t, func(method string, params []any) (any, *rpcError) {
		return nil, &rpcError{Code: -32601, Message: "Method not found"}
	})
	defer srv.Close()

	client := NewZcashdClient(srv.URL, "", "", 5*time.Second, zerolog.Nop())
	_, err := client.GetTransaction(context.Background(), "abc")
	require.Error(t, err)
	assert.NotEqual(t, "LGR_003", apperror.Code(err))
	assert.Contains(t, err.Error(), "Method not found")
}

func TestZcashdClient_Ping(t *testing.T) {
	srv := rpcServer(t, func(method string, params []any) (any, *rpcError) {
		assert.Equal(t, "getblockcount", method)
		return 2500001, nil
	})
	defer srv.Close()

	client := NewZcashdClient(srv.URL, "", "", 5*time.Second, zerolog.Nop())
	assert.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, "zcashd", client.Name())
}
