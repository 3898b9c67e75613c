package integration

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"z402-facilitator/config"
	z402http "z402-facilitator/internal/adapter/http"
	"z402-facilitator/internal/adapter/http/dto"
	redisStorage "z402-facilitator/internal/adapter/storage/redis"
	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/internal/service"
	"z402-facilitator/pkg/logger"
	"z402-facilitator/pkg/x402"

	"github.com/alicebob/miniredis/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp wires the real HTTP surface, middleware, handlers and services over
// in-memory repos, miniredis and a scripted ledger. Only postgres and the
// chain node are faked.
type testApp struct {
	server *httptest.Server

	ledger     *fakeLedger
	webhookSvc ports.WebhookService
	trackerSvc ports.TrackerService
	encSvc     ports.EncryptionService
	whSigner   ports.WebhookSigner
	pricing    *paywallPricing

	merchantRepo *inMemoryMerchantRepo
	intentRepo   *inMemoryIntentRepo
	txRepo       *inMemoryTransactionRepo
}

// paywallPricing is a settable pricing table for the paywalled routes. A zero
// price leaves the paywall open.
type paywallPricing struct {
	mu         sync.Mutex
	merchantID uuid.UUID
	price      decimal.Decimal
}

func (p *paywallPricing) set(merchantID uuid.UUID, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.merchantID = merchantID
	p.price = price
}

func (p *paywallPricing) resolve(c *gin.Context) (uuid.UUID, decimal.Decimal, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.merchantID, p.price, c.Param("resource")
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logger.New("error", false)

	rateLimiter := redisStorage.NewRateLimitStore(rdb)
	deliveryLock := redisStorage.NewDeliveryLock(rdb)

	encSvc, err := service.NewAESEncryptionService(
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService("test-jwt-secret-key-32bytes!!", time.Hour, "z402-test")
	sigSvc := service.NewHMACSignatureService()

	merchantRepo := newInMemoryMerchantRepo()
	intentRepo := newInMemoryIntentRepo()
	txRepo := newInMemoryTransactionRepo()
	deliveryRepo := newInMemoryDeliveryRepo()
	refundRepo := newInMemoryRefundRepo()
	auditRepo := newInMemoryAuditRepo()
	transactor := newInMemoryTransactor()
	ledger := newFakeLedger()

	auditSvc := service.NewAuditService(auditRepo, log)
	merchantSvc := service.NewMerchantService(merchantRepo, hashSvc, encSvc, tokenSvc)
	challengeSvc := service.NewChallengeService(
		intentRepo, merchantRepo, transactor, sigSvc,
		"test-server-key", "ZEC", 15*time.Minute, auditSvc, log)
	authorizeSvc := service.NewAuthorizeService(
		intentRepo, txRepo, transactor, sigSvc, auditSvc, 5*time.Minute, log)
	whSigner := service.NewWebhookSigner(5 * time.Minute)
	webhookSvc := service.NewWebhookService(
		deliveryRepo, merchantRepo, encSvc, whSigner, deliveryLock, auditSvc,
		&http.Client{Timeout: 5 * time.Second},
		service.WebhookConfig{MaxAttempts: 3, BaseBackoff: 10 * time.Millisecond, ClaimTTL: time.Second},
		log)
	trackerSvc := service.NewTrackerService(
		txRepo, intentRepo, transactor, ledger, webhookSvc, auditSvc,
		service.TrackerConfig{
			VerifyConfirmations: 1,
			SettleConfirmations: 6,
			AmountTolerance:     decimal.RequireFromString("0.0001"),
		},
		log)
	refundSvc := service.NewRefundService(
		txRepo, intentRepo, refundRepo, transactor, webhookSvc, auditSvc, log)

	cfg := &config.Config{}
	cfg.Server.Mode = "test"
	cfg.RateLimit.Challenge = 1000
	cfg.RateLimit.Authorize = 1000
	cfg.RateLimit.Window = time.Minute

	pricing := &paywallPricing{price: decimal.Zero}
	router := z402http.SetupRouter(z402http.RouterDeps{
		Config:        cfg,
		MerchantSvc:   merchantSvc,
		TokenSvc:      tokenSvc,
		ChallengeSvc:  challengeSvc,
		AuthorizeSvc:  authorizeSvc,
		TrackerSvc:    trackerSvc,
		RefundSvc:     refundSvc,
		TxRepo:        txRepo,
		RateLimiter:   rateLimiter,
		WebhookSigner: whSigner,
		Pricing:       pricing.resolve,
		Log:           log,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testApp{
		server:       srv,
		ledger:       ledger,
		webhookSvc:   webhookSvc,
		trackerSvc:   trackerSvc,
		encSvc:       encSvc,
		whSigner:     whSigner,
		pricing:      pricing,
		merchantRepo: merchantRepo,
		intentRepo:   intentRepo,
		txRepo:       txRepo,
	}
}

// doJSON sends a JSON request and returns status plus decoded body.
func (a *testApp) doJSON(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]json.RawMessage) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var envelope map[string]json.RawMessage
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &envelope), "body: %s", raw)
	}
	return resp.StatusCode, envelope
}

func decodeData[T any](t *testing.T, envelope map[string]json.RawMessage) T {
	t.Helper()
	var out T
	require.Contains(t, envelope, "data")
	require.NoError(t, json.Unmarshal(envelope["data"], &out))
	return out
}

func errorCode(t *testing.T, envelope map[string]json.RawMessage) string {
	t.Helper()
	require.Contains(t, envelope, "error_code")
	var code string
	require.NoError(t, json.Unmarshal(envelope["error_code"], &code))
	return code
}

// transparentAddr builds a valid t1 address from a seed byte.
func transparentAddr(seed byte) string {
	payload := append([]byte{0x1c, 0xb8}, bytes.Repeat([]byte{seed}, 20)...)
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return base58.Encode(append(payload, second[:4]...))
}

// signChallenge computes the client payment signature over the canonical
// challenge message, keyed by the client's own address (HMAC scheme).
func signChallenge(clientAddr string, paymentID uuid.UUID, amount decimal.Decimal, address string, createdAt time.Time) string {
	msg := domain.ChallengeMessage(paymentID, amount, address, createdAt)
	mac := hmac.New(sha256.New, []byte(clientAddr))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func registerMerchant(t *testing.T, app *testApp, webhookURL string) (merchant *domain.Merchant, apiKey string) {
	t.Helper()
	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/merchants", dto.RegisterMerchantRequest{
		Name:               "Acme Content",
		WebhookURL:         webhookURL,
		TransparentAddress: transparentAddr(0x01),
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	reg := decodeData[dto.RegisterMerchantResponse](t, envelope)
	require.NotEmpty(t, reg.APIKey)
	return reg.Merchant, reg.APIKey
}

func createIntent(t *testing.T, app *testApp, apiKey, amount, resource string) dto.IntentResponse {
	t.Helper()
	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/payment-intents", dto.CreateIntentRequest{
		Amount:   amount,
		Resource: resource,
	}, map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusCreated, status)

	intent := decodeData[dto.IntentResponse](t, envelope)
	require.NotEmpty(t, intent.ChallengeHeader)
	return intent
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMerchantRegistrationAndLogin(t *testing.T) {
	app := newTestApp(t)

	merchant, apiKey := registerMerchant(t, app, "")
	assert.NotEqual(t, uuid.Nil, merchant.ID)
	assert.Equal(t, domain.MerchantStatusActive, merchant.Status)
	// Only the lookup prefix is echoed on the record.
	assert.Equal(t, apiKey[:12], merchant.APIKey)

	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{
		MerchantID: merchant.ID.String(),
		APIKey:     apiKey,
	}, nil)
	require.Equal(t, http.StatusOK, status)
	login := decodeData[dto.LoginResponse](t, envelope)
	require.NotEmpty(t, login.Token)

	// The JWT works on the read API.
	status, _ = app.doJSON(t, http.MethodGet, "/api/v1/transactions", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	assert.Equal(t, http.StatusOK, status)
}

func TestMerchantRegistration_RejectsInvalidAddress(t *testing.T) {
	app := newTestApp(t)

	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/merchants", dto.RegisterMerchantRequest{
		Name:               "Bad Addr Inc",
		TransparentAddress: "queens-gambit",
	}, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "SEC_006", errorCode(t, envelope))
}

func TestAPIKeyRequired(t *testing.T) {
	app := newTestApp(t)

	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/payment-intents", dto.CreateIntentRequest{
		Amount:   "0.5",
		Resource: "/premium/report",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "SEC_004", errorCode(t, envelope))
}

// TestEndToEndPaymentFlow walks the whole protocol: challenge issuance,
// client authorization, confirmation tracking to settlement, and the signed
// webhooks announcing each transition.
func TestEndToEndPaymentFlow(t *testing.T) {
	app := newTestApp(t)

	// Webhook receiver capturing signed notifications.
	var whMu sync.Mutex
	type received struct {
		signature string
		body      []byte
	}
	var hooks []received
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		whMu.Lock()
		hooks = append(hooks, received{signature: r.Header.Get("Z402-Signature"), body: body})
		whMu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	merchant, apiKey := registerMerchant(t, app, receiver.URL)
	intent := createIntent(t, app, apiKey, "0.5", "/premium/report")

	// The challenge header round-trips through the x402 codec.
	challenge, err := x402.ParseChallenge(intent.ChallengeHeader)
	require.NoError(t, err)
	assert.Equal(t, intent.ID.String(), challenge.PaymentID)
	assert.Equal(t, "0.5", challenge.Amount)

	// Client pays on-chain and submits the signed authorization.
	clientAddr := transparentAddr(0x42)
	txid := "f00dfeed01"
	app.ledger.setTx(ports.LedgerTx{
		TxID:          txid,
		Amount:        decimal.RequireFromString("0.5"),
		Confirmations: 1,
	})

	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     intent.ID.String(),
		ClientAddress: clientAddr,
		TxID:          txid,
		Signature:     signChallenge(clientAddr, intent.ID, intent.Amount, intent.Address, intent.CreatedAt),
		Timestamp:     time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusCreated, status)
	txn := decodeData[dto.TransactionResponse](t, envelope)
	// One confirmation already visible: the immediate check verifies it.
	assert.Equal(t, domain.TransactionStatusVerified, txn.Status)
	assert.Equal(t, 1, txn.Confirmations)

	// Merchant polls verification standing.
	status, envelope = app.doJSON(t, http.MethodGet,
		fmt.Sprintf("/api/v1/payment-intents/%s/verify", intent.ID), nil,
		map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusOK, status)
	verify := decodeData[dto.VerifyResponse](t, envelope)
	assert.True(t, verify.Verified)
	assert.False(t, verify.Settled)

	// Chain reaches settle depth; a tracked refresh settles the payment.
	app.ledger.setTx(ports.LedgerTx{
		TxID:          txid,
		Amount:        decimal.RequireFromString("0.5"),
		Confirmations: 6,
	})
	status, envelope = app.doJSON(t, http.MethodPost,
		fmt.Sprintf("/api/v1/transactions/%s/track", txn.ID), nil,
		map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusOK, status)
	tracked := decodeData[dto.VerifyResponse](t, envelope)
	assert.True(t, tracked.Settled)
	require.NotNil(t, tracked.Transaction)
	assert.Equal(t, domain.TransactionStatusSettled, tracked.Transaction.Status)
	assert.NotNil(t, tracked.Transaction.SettledAt)

	// Dispatch pending webhooks and check the receiver saw verified+settled,
	// each signed with the merchant's secret.
	require.NoError(t, app.webhookSvc.DispatchDue(context.Background()))

	whMu.Lock()
	defer whMu.Unlock()
	require.Len(t, hooks, 2)

	stored, err := app.merchantRepo.GetByID(context.Background(), merchant.ID)
	require.NoError(t, err)
	secret, err := app.encSvc.Decrypt(stored.WebhookSecretEnc)
	require.NoError(t, err)

	var types []string
	for _, h := range hooks {
		require.NoError(t, app.whSigner.Verify(secret, h.body, h.signature, time.Now().UTC()))
		var event domain.WebhookEvent
		require.NoError(t, json.Unmarshal(h.body, &event))
		types = append(types, event.Type)
	}
	assert.ElementsMatch(t, []string{domain.EventPaymentVerified, domain.EventPaymentSettled}, types)
}

func TestPay_RejectsForgedSignature(t *testing.T) {
	app := newTestApp(t)

	_, apiKey := registerMerchant(t, app, "")
	intent := createIntent(t, app, apiKey, "0.5", "/premium/report")

	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     intent.ID.String(),
		ClientAddress: transparentAddr(0x42),
		Signature:     "deadbeef",
		Timestamp:     time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "SEC_001", errorCode(t, envelope))
}

func TestPay_RejectsStaleTimestamp(t *testing.T) {
	app := newTestApp(t)

	_, apiKey := registerMerchant(t, app, "")
	intent := createIntent(t, app, apiKey, "0.5", "/premium/report")
	clientAddr := transparentAddr(0x42)

	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     intent.ID.String(),
		ClientAddress: clientAddr,
		Signature:     signChallenge(clientAddr, intent.ID, intent.Amount, intent.Address, intent.CreatedAt),
		Timestamp:     time.Now().Add(-10 * time.Minute).Unix(),
	}, nil)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "SEC_002", errorCode(t, envelope))
}

func TestPay_DoubleSpendAcrossIntents(t *testing.T) {
	app := newTestApp(t)

	_, apiKey := registerMerchant(t, app, "")
	first := createIntent(t, app, apiKey, "0.5", "/premium/report")
	second := createIntent(t, app, apiKey, "0.5", "/premium/other")

	clientAddr := transparentAddr(0x42)
	txid := "f00dfeed02"

	status, _ := app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     first.ID.String(),
		ClientAddress: clientAddr,
		TxID:          txid,
		Signature:     signChallenge(clientAddr, first.ID, first.Amount, first.Address, first.CreatedAt),
		Timestamp:     time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	// The same on-chain transaction cannot pay for a second intent.
	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     second.ID.String(),
		ClientAddress: clientAddr,
		TxID:          txid,
		Signature:     signChallenge(clientAddr, second.ID, second.Amount, second.Address, second.CreatedAt),
		Timestamp:     time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "SEC_003", errorCode(t, envelope))
}

func TestIntentCancelBlocksPayment(t *testing.T) {
	app := newTestApp(t)

	_, apiKey := registerMerchant(t, app, "")
	intent := createIntent(t, app, apiKey, "0.5", "/premium/report")

	status, envelope := app.doJSON(t, http.MethodPost,
		fmt.Sprintf("/api/v1/payment-intents/%s/cancel", intent.ID), nil,
		map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusOK, status)
	cancelled := decodeData[dto.IntentResponse](t, envelope)
	assert.Equal(t, domain.IntentStatusExpired, cancelled.Status)

	clientAddr := transparentAddr(0x42)
	status, envelope = app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     intent.ID.String(),
		ClientAddress: clientAddr,
		Signature:     signChallenge(clientAddr, intent.ID, intent.Amount, intent.Address, intent.CreatedAt),
		Timestamp:     time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "PAY_004", errorCode(t, envelope))
}

func TestAmountMismatchNeverSettles(t *testing.T) {
	app := newTestApp(t)

	_, apiKey := registerMerchant(t, app, "")
	intent := createIntent(t, app, apiKey, "0.5", "/premium/report")

	clientAddr := transparentAddr(0x42)
	txid := "f00dfeed03"
	// Underpaid on chain.
	app.ledger.setTx(ports.LedgerTx{
		TxID:          txid,
		Amount:        decimal.RequireFromString("0.3"),
		Confirmations: 1,
	})

	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     intent.ID.String(),
		ClientAddress: clientAddr,
		TxID:          txid,
		Signature:     signChallenge(clientAddr, intent.ID, intent.Amount, intent.Address, intent.CreatedAt),
		Timestamp:     time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusCreated, status)
	txn := decodeData[dto.TransactionResponse](t, envelope)
	// First observation only flags the mismatch.
	assert.Equal(t, domain.TransactionStatusPending, txn.Status)
	require.NotNil(t, txn.FailureReason)

	// At settle depth the mismatch is final and the payment fails.
	app.ledger.setTx(ports.LedgerTx{
		TxID:          txid,
		Amount:        decimal.RequireFromString("0.3"),
		Confirmations: 6,
	})
	status, envelope = app.doJSON(t, http.MethodPost,
		fmt.Sprintf("/api/v1/transactions/%s/track", txn.ID), nil,
		map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusOK, status)
	tracked := decodeData[dto.VerifyResponse](t, envelope)
	require.NotNil(t, tracked.Transaction)
	assert.Equal(t, domain.TransactionStatusFailed, tracked.Transaction.Status)
	assert.False(t, tracked.Settled)
}

func TestRefundFlow(t *testing.T) {
	app := newTestApp(t)

	_, apiKey := registerMerchant(t, app, "")
	intent := createIntent(t, app, apiKey, "0.5", "/premium/report")

	clientAddr := transparentAddr(0x42)
	txid := "f00dfeed04"
	app.ledger.setTx(ports.LedgerTx{
		TxID:          txid,
		Amount:        decimal.RequireFromString("0.5"),
		Confirmations: 6,
	})

	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     intent.ID.String(),
		ClientAddress: clientAddr,
		TxID:          txid,
		Signature:     signChallenge(clientAddr, intent.ID, intent.Amount, intent.Address, intent.CreatedAt),
		Timestamp:     time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusCreated, status)
	txn := decodeData[dto.TransactionResponse](t, envelope)
	require.Equal(t, domain.TransactionStatusSettled, txn.Status)

	// Refunding more than the original is rejected.
	status, envelope = app.doJSON(t, http.MethodPost,
		fmt.Sprintf("/api/v1/transactions/%s/refund", txn.ID),
		dto.RefundRequest{Amount: "1.0"},
		map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "PAY_008", errorCode(t, envelope))

	// Full refund.
	status, envelope = app.doJSON(t, http.MethodPost,
		fmt.Sprintf("/api/v1/transactions/%s/refund", txn.ID),
		dto.RefundRequest{}, map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusCreated, status)
	refund := decodeData[domain.Refund](t, envelope)
	assert.True(t, decimal.RequireFromString("0.5").Equal(refund.Amount))

	// A second refund is rejected.
	status, envelope = app.doJSON(t, http.MethodPost,
		fmt.Sprintf("/api/v1/transactions/%s/refund", txn.ID),
		dto.RefundRequest{}, map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "PAY_007", errorCode(t, envelope))
}

func TestInteropVerifyAndSettle(t *testing.T) {
	app := newTestApp(t)

	_, apiKey := registerMerchant(t, app, "")
	intent := createIntent(t, app, apiKey, "0.5", "/premium/report")

	clientAddr := transparentAddr(0x42)
	txid := "f00dfeed05"
	app.ledger.setTx(ports.LedgerTx{
		TxID:          txid,
		Amount:        decimal.RequireFromString("0.5"),
		Confirmations: 6,
	})

	header, err := x402.EncodePaymentHeader(dto.PaymentHeaderPayload{
		PaymentID:     intent.ID.String(),
		ClientAddress: clientAddr,
		TxID:          txid,
		Signature:     signChallenge(clientAddr, intent.ID, intent.Amount, intent.Address, intent.CreatedAt),
		Timestamp:     time.Now().Unix(),
	})
	require.NoError(t, err)

	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/verify",
		dto.InteropRequest{PaymentHeader: header},
		map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusOK, status)
	verify := decodeData[dto.InteropVerifyResponse](t, envelope)
	assert.True(t, verify.IsValid)
	assert.Equal(t, intent.ID.String(), verify.PaymentID)

	// Settle re-submits the same authorization; the already-recorded
	// transaction is tracked to settle depth.
	status, envelope = app.doJSON(t, http.MethodPost, "/api/v1/settle",
		dto.InteropRequest{PaymentHeader: header},
		map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusOK, status)
	settle := decodeData[dto.InteropSettleResponse](t, envelope)
	assert.True(t, settle.Success)
	assert.True(t, settle.Settled)
	assert.Equal(t, txid, settle.TxID)
	assert.GreaterOrEqual(t, settle.Confirmations, 6)
}

// TestPaywall exercises the embedded 402 middleware: an anonymous request is
// challenged, a signed authorization grants access, and a replayed
// authorization is rejected.
func TestPaywall(t *testing.T) {
	app := newTestApp(t)

	merchant, _ := registerMerchant(t, app, "")
	app.pricing.set(merchant.ID, decimal.RequireFromString("0.25"))

	// Anonymous request gets the challenge.
	resp, err := http.Get(app.server.URL + "/paid/articles/42")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	wwwAuth := resp.Header.Get("WWW-Authenticate")
	require.NotEmpty(t, wwwAuth)

	challenge, err := x402.ParseChallenge(wwwAuth)
	require.NoError(t, err)
	assert.Equal(t, "0.25", challenge.Amount)
	assert.Equal(t, "/articles/42", challenge.Resource)

	// A non-X402 Authorization scheme is challenged too.
	req, err := http.NewRequest(http.MethodGet, app.server.URL+"/paid/articles/42", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer some-jwt")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	// The client signs the challenge and retries with the X402 header.
	paymentID, err := uuid.Parse(challenge.PaymentID)
	require.NoError(t, err)
	intent, err := app.intentRepo.GetByID(context.Background(), paymentID)
	require.NoError(t, err)
	require.NotNil(t, intent)

	clientAddr := transparentAddr(0x42)
	authHeader := x402.EncodeAuthorization(x402.Authorization{
		PaymentID:     challenge.PaymentID,
		ClientAddress: clientAddr,
		Signature:     signChallenge(clientAddr, intent.ID, intent.Amount, intent.Address, intent.CreatedAt),
		Timestamp:     time.Now().Unix(),
	})

	req, err = http.NewRequest(http.MethodGet, app.server.URL+"/paid/articles/42", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", authHeader)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &envelope))
	grant := decodeData[map[string]json.RawMessage](t, envelope)
	assert.JSONEq(t, "true", string(grant["granted"]))

	// Replaying the same authorization is refused.
	req, err = http.NewRequest(http.MethodGet, app.server.URL+"/paid/articles/42", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", authHeader)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListTransactions(t *testing.T) {
	app := newTestApp(t)

	_, apiKey := registerMerchant(t, app, "")
	clientAddr := transparentAddr(0x42)

	for i := 0; i < 3; i++ {
		intent := createIntent(t, app, apiKey, "0.1", fmt.Sprintf("/articles/%d", i))
		status, _ := app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
			PaymentID:     intent.ID.String(),
			ClientAddress: clientAddr,
			Signature:     signChallenge(clientAddr, intent.ID, intent.Amount, intent.Address, intent.CreatedAt),
			Timestamp:     time.Now().Unix(),
		}, nil)
		require.Equal(t, http.StatusCreated, status)
	}

	status, envelope := app.doJSON(t, http.MethodGet, "/api/v1/transactions?limit=2", nil,
		map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusOK, status)
	list := decodeData[dto.ListTransactionsResponse](t, envelope)
	assert.Equal(t, int64(3), list.Total)
	assert.Len(t, list.Transactions, 2)
	assert.True(t, list.HasMore)

	status, envelope = app.doJSON(t, http.MethodGet, "/api/v1/transactions?status=PENDING", nil,
		map[string]string{"X-Api-Key": apiKey})
	require.Equal(t, http.StatusOK, status)
	pending := decodeData[dto.ListTransactionsResponse](t, envelope)
	assert.Equal(t, int64(3), pending.Total)
}

// TestPay_AttachTxIDLater covers the two-step submission: the client
// authorizes before broadcasting, then re-submits the same signed
// authorization once the on-chain id is known.
func TestPay_AttachTxIDLater(t *testing.T) {
	app := newTestApp(t)

	_, apiKey := registerMerchant(t, app, "")
	intent := createIntent(t, app, apiKey, "0.5", "/premium/report")
	clientAddr := transparentAddr(0x42)
	sig := signChallenge(clientAddr, intent.ID, intent.Amount, intent.Address, intent.CreatedAt)

	// First submission carries no txid; the authorization is recorded but
	// nothing can be tracked yet.
	status, envelope := app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     intent.ID.String(),
		ClientAddress: clientAddr,
		Signature:     sig,
		Timestamp:     time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusCreated, status)
	first := decodeData[dto.TransactionResponse](t, envelope)
	assert.Equal(t, domain.TransactionStatusPending, first.Status)
	assert.Nil(t, first.TxID)

	// The broadcast lands and reaches settle depth.
	txid := "f00dfeed77"
	app.ledger.setTx(ports.LedgerTx{
		TxID:          txid,
		Amount:        decimal.RequireFromString("0.5"),
		Confirmations: 6,
	})

	// Re-submitting with the txid binds it to the existing transaction and
	// the immediate check settles it.
	status, envelope = app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     intent.ID.String(),
		ClientAddress: clientAddr,
		TxID:          txid,
		Signature:     sig,
		Timestamp:     time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusCreated, status)
	second := decodeData[dto.TransactionResponse](t, envelope)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.TxID)
	assert.Equal(t, txid, *second.TxID)
	assert.Equal(t, domain.TransactionStatusSettled, second.Status)

	// A third submission has nothing left to attach.
	status, envelope = app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     intent.ID.String(),
		ClientAddress: clientAddr,
		TxID:          txid,
		Signature:     sig,
		Timestamp:     time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "PAY_004", errorCode(t, envelope))
}

// TestWebhookVerifyEndpoint round-trips a delivered webhook through the
// server-side signature check.
func TestWebhookVerifyEndpoint(t *testing.T) {
	app := newTestApp(t)

	var whMu sync.Mutex
	type received struct {
		signature string
		body      []byte
	}
	var hooks []received
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		whMu.Lock()
		hooks = append(hooks, received{signature: r.Header.Get("Z402-Signature"), body: body})
		whMu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	_, apiKey := registerMerchant(t, app, receiver.URL)
	intent := createIntent(t, app, apiKey, "0.5", "/premium/report")

	clientAddr := transparentAddr(0x42)
	txid := "f00dfeed88"
	app.ledger.setTx(ports.LedgerTx{
		TxID:          txid,
		Amount:        decimal.RequireFromString("0.5"),
		Confirmations: 1,
	})
	status, _ := app.doJSON(t, http.MethodPost, "/api/v1/pay", dto.PayRequest{
		PaymentID:     intent.ID.String(),
		ClientAddress: clientAddr,
		TxID:          txid,
		Signature:     signChallenge(clientAddr, intent.ID, intent.Amount, intent.Address, intent.CreatedAt),
		Timestamp:     time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	require.NoError(t, app.webhookSvc.DispatchDue(context.Background()))
	whMu.Lock()
	require.Len(t, hooks, 1)
	hook := hooks[0]
	whMu.Unlock()

	verify := func(body []byte, signature, key string) (int, map[string]json.RawMessage) {
		req, err := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/webhooks/verify", bytes.NewReader(body))
		require.NoError(t, err)
		if signature != "" {
			req.Header.Set("Z402-Signature", signature)
		}
		if key != "" {
			req.Header.Set("X-Api-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var envelope map[string]json.RawMessage
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &envelope), "body: %s", raw)
		}
		return resp.StatusCode, envelope
	}

	// The exact delivered bytes verify.
	status, envelope := verify(hook.body, hook.signature, apiKey)
	require.Equal(t, http.StatusOK, status)
	valid := decodeData[map[string]bool](t, envelope)
	assert.True(t, valid["valid"])

	// A single flipped byte fails the check.
	tampered := append([]byte(nil), hook.body...)
	tampered[len(tampered)-2] ^= 0x01
	status, envelope = verify(tampered, hook.signature, apiKey)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "WHK_006", errorCode(t, envelope))

	// Missing signature header and missing credentials are both rejected.
	status, envelope = verify(hook.body, "", apiKey)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "WHK_002", errorCode(t, envelope))

	status, _ = verify(hook.body, hook.signature, "")
	require.Equal(t, http.StatusUnauthorized, status)
}
