package postgres

import (
	"context"
	"testing"
	"time"

	"z402-facilitator/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMerchant() *domain.Merchant {
	url := "https://merchant.example/hooks"
	addr := "t1ReceiverExample"
	now := time.Now().UTC()
	return &domain.Merchant{
		ID:                 uuid.New(),
		Name:               "acme",
		APIKey:             "zk_0011aabb",
		APIKeyHash:         "argon2-hash",
		WebhookURL:         &url,
		WebhookSecretEnc:   "enc-secret",
		TransparentAddress: &addr,
		Status:             domain.MerchantStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func merchantRows(m *domain.Merchant) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "name", "api_key", "api_key_hash", "webhook_url", "webhook_secret_enc",
		"transparent_address", "shielded_address", "status", "created_at", "updated_at",
	}).AddRow(
		m.ID, m.Name, m.APIKey, m.APIKeyHash, m.WebhookURL, m.WebhookSecretEnc,
		m.TransparentAddress, m.ShieldedAddress, m.Status, m.CreatedAt, m.UpdatedAt,
	)
}

func TestMerchantRepo_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewMerchantRepo(mock)
	m := sampleMerchant()

	mock.ExpectExec("INSERT INTO merchants").
		WithArgs(
			m.ID, m.Name, m.APIKey, m.APIKeyHash, m.WebhookURL, m.WebhookSecretEnc,
			m.TransparentAddress, m.ShieldedAddress, m.Status, m.CreatedAt, m.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMerchantRepo_GetByID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewMerchantRepo(mock)
	m := sampleMerchant()

	mock.ExpectQuery("SELECT (.+) FROM merchants WHERE id =").
		WithArgs(m.ID).
		WillReturnRows(merchantRows(m))

	got, err := repo.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.APIKeyHash, got.APIKeyHash)
}

func TestMerchantRepo_GetByAPIKey(t *testing.T) {
	mock := newMockPool(t)
	repo := NewMerchantRepo(mock)
	m := sampleMerchant()

	mock.ExpectQuery("SELECT (.+) FROM merchants WHERE api_key =").
		WithArgs(m.APIKey).
		WillReturnRows(merchantRows(m))

	got, err := repo.GetByAPIKey(context.Background(), m.APIKey)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}

func TestMerchantRepo_GetByAPIKey_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewMerchantRepo(mock)

	mock.ExpectQuery("SELECT (.+) FROM merchants WHERE api_key =").
		WithArgs("zk_unknown00").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByAPIKey(context.Background(), "zk_unknown00")
	require.NoError(t, err)
	assert.Nil(t, got)
}
