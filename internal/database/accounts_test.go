package database

import (
	"context"
	"testing"

	apperrors "wabagate/internal/errors"
	"wabagate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func statusPtr(s models.AccountStatus) *models.AccountStatus { return &s }

func TestUpsertAccount_CreateAndPatch(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	acc, err := db.UpsertAccount(ctx, "tenant-a", models.AccountFields{
		TempToken: strPtr("temp-123"),
		Status:    statusPtr(models.AccountStatusTempTokenStored),
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", acc.TenantID)
	assert.Equal(t, models.AccountStatusTempTokenStored, acc.Status)
	assert.True(t, acc.HasTempToken)
	assert.Empty(t, acc.TempToken, "tokens are not returned without decryption")

	acc, err = db.UpsertAccount(ctx, "tenant-a", models.AccountFields{
		WABAID:        strPtr("waba-1"),
		PhoneNumberID: strPtr("pn-1"),
		AccessToken:   strPtr("live-token"),
		TempToken:     strPtr(""),
		Status:        statusPtr(models.AccountStatusActive),
	})
	require.NoError(t, err)
	assert.Equal(t, "waba-1", acc.WABAID)
	assert.Equal(t, "pn-1", acc.PhoneNumberID)
	assert.True(t, acc.HasAccessToken)
	assert.False(t, acc.HasTempToken)

	decrypted, err := db.FindAccountByTenant(ctx, "tenant-a", true)
	require.NoError(t, err)
	assert.Equal(t, "live-token", decrypted.AccessToken)
	assert.True(t, decrypted.CanSend())
}

func TestUpsertAccount_TokensEncryptedAtRest(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertAccount(ctx, "tenant-a", models.AccountFields{AccessToken: strPtr("plain-secret")})
	require.NoError(t, err)

	var stored string
	require.NoError(t, db.db.QueryRow("SELECT access_token FROM whatsapp_accounts WHERE tenant_id = ?", "tenant-a").Scan(&stored))
	assert.NotEmpty(t, stored)
	assert.NotContains(t, stored, "plain-secret")
}

func TestUpsertAccount_RoutingKeyUniqueAcrossTenants(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertAccount(ctx, "tenant-a", models.AccountFields{PhoneNumberID: strPtr("pn-shared")})
	require.NoError(t, err)

	_, err = db.UpsertAccount(ctx, "tenant-b", models.AccountFields{PhoneNumberID: strPtr("pn-shared")})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetCode(err))

	acc, err := db.FindAccountByRoutingKey(ctx, "pn-shared", false)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", acc.TenantID)
}

func TestUpsertAccount_EmptyRoutingKeysDoNotCollide(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertAccount(ctx, "tenant-a", models.AccountFields{PhoneNumberID: strPtr("")})
	require.NoError(t, err)
	_, err = db.UpsertAccount(ctx, "tenant-b", models.AccountFields{PhoneNumberID: strPtr("")})
	require.NoError(t, err)
}

func TestFindAccount_NotFoundReturnsNil(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	acc, err := db.FindAccountByTenant(ctx, "missing", false)
	require.NoError(t, err)
	assert.Nil(t, acc)

	acc, err = db.FindAccountByRoutingKey(ctx, "", true)
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestFindAccountByWABA(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertAccount(ctx, "tenant-a", models.AccountFields{WABAID: strPtr("waba-9")})
	require.NoError(t, err)

	acc, err := db.FindAccountByWABA(ctx, "waba-9", false)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "tenant-a", acc.TenantID)
}

func TestTouchAccountWebhook(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertAccount(ctx, "tenant-a", models.AccountFields{PhoneNumberID: strPtr("pn-1")})
	require.NoError(t, err)
	require.NoError(t, db.TouchAccountWebhook(ctx, "pn-1", clock.now))

	acc, err := db.FindAccountByTenant(ctx, "tenant-a", false)
	require.NoError(t, err)
	require.NotNil(t, acc.LastWebhookAt)
	assert.True(t, acc.LastWebhookAt.Equal(clock.now))
}

func TestUpdateStatusListAndDeleteAccount(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertAccount(ctx, "tenant-b", models.AccountFields{})
	require.NoError(t, err)
	_, err = db.UpsertAccount(ctx, "tenant-a", models.AccountFields{})
	require.NoError(t, err)
	require.NoError(t, db.UpdateAccountStatus(ctx, "tenant-a", models.AccountStatusNoPhone))

	all, err := db.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "tenant-a", all[0].TenantID)
	assert.Equal(t, models.AccountStatusNoPhone, all[0].Status)
	assert.Equal(t, models.AccountStatusDisconnected, all[1].Status)

	require.NoError(t, db.DeleteAccount(ctx, "tenant-a"))
	acc, err := db.FindAccountByTenant(ctx, "tenant-a", false)
	require.NoError(t, err)
	assert.Nil(t, acc)
}
