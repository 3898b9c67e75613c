package service

import (
	"context"
	"testing"
	"time"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports/mocks"
	"z402-facilitator/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type challengeTestDeps struct {
	svc          *challengeService
	intentRepo   *mocks.MockPaymentIntentRepository
	merchantRepo *mocks.MockMerchantRepository
	transactor   *mocks.MockDBTransactor
	signer       *mocks.MockSigner
	auditSvc     *mocks.MockAuditService
	ctrl         *gomock.Controller
}

func setupChallengeService(t *testing.T) *challengeTestDeps {
	ctrl := gomock.NewController(t)
	d := &challengeTestDeps{
		intentRepo:   mocks.NewMockPaymentIntentRepository(ctrl),
		merchantRepo: mocks.NewMockMerchantRepository(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
		signer:       mocks.NewMockSigner(ctrl),
		auditSvc:     mocks.NewMockAuditService(ctrl),
		ctrl:         ctrl,
	}
	d.svc = NewChallengeService(
		d.intentRepo, d.merchantRepo, d.transactor,
		d.signer, "server-secret", "ZEC", 15*time.Minute,
		d.auditSvc, zerolog.Nop(),
	).(*challengeService)
	return d
}

func activeMerchant(addr string) *domain.Merchant {
	return &domain.Merchant{
		ID:                 uuid.New(),
		Name:               "acme",
		Status:             domain.MerchantStatusActive,
		TransparentAddress: &addr,
	}
}

func TestChallengeService_Issue(t *testing.T) {
	d := setupChallengeService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	addr := testTransparentAddr(t)
	merchant := activeMerchant(addr)
	amount := decimal.RequireFromString("0.25")

	d.merchantRepo.EXPECT().GetByID(ctx, merchant.ID).Return(merchant, nil)
	d.intentRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.signer.EXPECT().Sign("server-secret", gomock.Any()).Return("challenge-sig", nil)
	d.auditSvc.EXPECT().Log(ctx, gomock.Any())

	intent, challenge, err := d.svc.Issue(ctx, merchant.ID, amount, "/premium/report", map[string]string{"tier": "gold"})
	require.NoError(t, err)

	assert.Equal(t, domain.IntentStatusCreated, intent.Status)
	assert.Equal(t, merchant.ID, intent.MerchantID)
	assert.Equal(t, addr, intent.Address)
	assert.True(t, amount.Equal(intent.Amount))
	assert.Equal(t, "ZEC", intent.Currency)
	assert.Len(t, intent.Nonce, 32)
	assert.WithinDuration(t, time.Now().UTC().Add(15*time.Minute), intent.ExpiresAt, 5*time.Second)

	assert.Equal(t, intent.ID.String(), challenge.PaymentID)
	assert.Equal(t, "0.25", challenge.Amount)
	assert.Equal(t, addr, challenge.Address)
	assert.Equal(t, "challenge-sig", challenge.Signature)
	assert.Equal(t, intent.ExpiresAt.Unix(), challenge.Expires)
}

func TestChallengeService_Issue_PrefersShieldedAddress(t *testing.T) {
	d := setupChallengeService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	transparent := testTransparentAddr(t)
	shielded := "zs1exampleexampleexampleexampleexample"
	merchant := activeMerchant(transparent)
	merchant.ShieldedAddress = &shielded

	d.merchantRepo.EXPECT().GetByID(ctx, merchant.ID).Return(merchant, nil)
	d.intentRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.signer.EXPECT().Sign("server-secret", gomock.Any()).Return("sig", nil)
	d.auditSvc.EXPECT().Log(ctx, gomock.Any())

	intent, _, err := d.svc.Issue(ctx, merchant.ID, decimal.RequireFromString("1"), "/r", nil)
	require.NoError(t, err)
	assert.Equal(t, shielded, intent.Address)
}

func TestChallengeService_Issue_UnknownMerchant(t *testing.T) {
	d := setupChallengeService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	d.merchantRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

	_, _, err := d.svc.Issue(ctx, id, decimal.RequireFromString("1"), "/r", nil)
	assert.Equal(t, "PAY_001", apperror.Code(err))
}

func TestChallengeService_Issue_NonPositiveAmount(t *testing.T) {
	d := setupChallengeService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchant := activeMerchant(testTransparentAddr(t))
	d.merchantRepo.EXPECT().GetByID(ctx, merchant.ID).Return(merchant, nil).Times(2)

	_, _, err := d.svc.Issue(ctx, merchant.ID, decimal.Zero, "/r", nil)
	assert.Equal(t, "PAY_005", apperror.Code(err))

	_, _, err = d.svc.Issue(ctx, merchant.ID, decimal.RequireFromString("-0.1"), "/r", nil)
	assert.Equal(t, "PAY_005", apperror.Code(err))
}

func TestChallengeService_Issue_NoReceivingAddress(t *testing.T) {
	d := setupChallengeService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchant := &domain.Merchant{ID: uuid.New(), Status: domain.MerchantStatusActive}
	d.merchantRepo.EXPECT().GetByID(ctx, merchant.ID).Return(merchant, nil)

	_, _, err := d.svc.Issue(ctx, merchant.ID, decimal.RequireFromString("1"), "/r", nil)
	assert.Equal(t, "PAY_006", apperror.Code(err))
}

func TestChallengeService_Get_OwnershipEnforced(t *testing.T) {
	d := setupChallengeService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	owner := uuid.New()
	intent := createdIntent(owner, testTransparentAddr(t))

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil).Times(2)

	got, err := d.svc.Get(ctx, owner, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)

	_, err = d.svc.Get(ctx, uuid.New(), intent.ID)
	assert.Equal(t, "PAY_002", apperror.Code(err))
}

func TestChallengeService_Cancel(t *testing.T) {
	d := setupChallengeService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	owner := uuid.New()
	intent := createdIntent(owner, testTransparentAddr(t))
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.intentRepo.EXPECT().GetByIDForUpdate(ctx, tx, intent.ID).Return(intent, nil)
	d.intentRepo.EXPECT().UpdateStatus(ctx, tx, intent.ID, domain.IntentStatusExpired).Return(nil)

	got, err := d.svc.Cancel(ctx, owner, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusExpired, got.Status)
}

func TestChallengeService_Cancel_AlreadyProcessing(t *testing.T) {
	d := setupChallengeService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	owner := uuid.New()
	intent := createdIntent(owner, testTransparentAddr(t))
	intent.Status = domain.IntentStatusProcessing
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.intentRepo.EXPECT().GetByIDForUpdate(ctx, tx, intent.ID).Return(intent, nil)

	_, err := d.svc.Cancel(ctx, owner, intent.ID)
	assert.Equal(t, "PAY_004", apperror.Code(err))
}
