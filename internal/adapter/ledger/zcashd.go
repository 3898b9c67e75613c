package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// rpcTxNotFound is the node's error code for a transaction id it does not
// know about.
const rpcTxNotFound = -5

// ZcashdClient implements ports.LedgerClient against a zcashd node's
// JSON-RPC interface.
type ZcashdClient struct {
	url      string
	user     string
	password string
	client   *http.Client
	log      zerolog.Logger
}

// NewZcashdClient creates a client for the node at url, with optional basic
// auth credentials.
func NewZcashdClient(url, user, password string, timeout time.Duration, log zerolog.Logger) *ZcashdClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ZcashdClient{
		url:      strings.TrimRight(url, "/"),
		user:     user,
		password: password,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type getTransactionResult struct {
	TxID          string          `json:"txid"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int             `json:"confirmations"`
	BlockIndex    *int64          `json:"blockindex"`
	BlockHeight   *int64          `json:"blockheight"`
	Details       []struct {
		Address  string          `json:"address"`
		Category string          `json:"category"`
		Amount   decimal.Decimal `json:"amount"`
	} `json:"details"`
}

// GetTransaction fetches an on-chain transaction by id. Unknown ids map to
// the ledger-not-found error so the tracker can tell "not yet broadcast"
// from a node outage.
func (c *ZcashdClient) GetTransaction(ctx context.Context, txid string) (*ports.LedgerTx, error) {
	var result getTransactionResult
	if err := c.call(ctx, "gettransaction", []any{txid}, &result); err != nil {
		return nil, err
	}

	tx := &ports.LedgerTx{
		TxID:          result.TxID,
		Confirmations: result.Confirmations,
		BlockHeight:   result.BlockHeight,
	}

	// The top-level amount is the wallet's net change, negative for sends.
	// The receive detail carries the credited amount and address.
	tx.Amount = result.Amount.Abs()
	for _, d := range result.Details {
		if d.Category == "receive" {
			tx.Amount = d.Amount.Abs()
			tx.ToAddress = d.Address
			break
		}
	}

	return tx, nil
}

func (c *ZcashdClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "z402",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	// The node returns rpc errors with non-200 statuses too, so decode the
	// body before judging the status code.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read rpc response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("rpc http status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == rpcTxNotFound {
			return apperror.ErrLedgerTxNotFound()
		}
		return fmt.Errorf("rpc %s: code %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("unmarshal rpc result: %w", err)
	}
	return nil
}

// Ping checks node connectivity for health reporting.
func (c *ZcashdClient) Ping(ctx context.Context) error {
	var count int64
	return c.call(ctx, "getblockcount", []any{}, &count)
}

// Name returns the dependency name.
func (c *ZcashdClient) Name() string {
	return "zcashd"
}
