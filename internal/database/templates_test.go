package database

import (
	"context"
	"testing"

	"wabagate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertTemplate_KeyedByNameAndLanguage(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()

	tpl, err := db.UpsertTemplate(ctx, &models.Template{
		TenantID: "tenant-a", Name: "refill_reminder", Language: "en_US",
		Category: "UTILITY", BodyText: "Hi {{1}}, your refill is ready",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TemplateStatusPending, tpl.Status)

	require.NoError(t, db.IncrementTemplateUsage(ctx, tpl.ID, clock.now))

	again, err := db.UpsertTemplate(ctx, &models.Template{
		TenantID: "tenant-a", Name: "refill_reminder", Language: "en_US",
		Status: models.TemplateStatusApproved, ProviderTemplateID: "123",
	})
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, again.ID)
	assert.Equal(t, models.TemplateStatusApproved, again.Status)
	assert.Equal(t, "Hi {{1}}, your refill is ready", again.BodyText, "empty body keeps stored text")
	assert.Equal(t, 1, again.UsageCount)
	assert.Equal(t, "123", again.ProviderTemplateID)

	other, err := db.UpsertTemplate(ctx, &models.Template{TenantID: "tenant-a", Name: "refill_reminder", Language: "hi"})
	require.NoError(t, err)
	assert.NotEqual(t, tpl.ID, other.ID)

	list, err := db.ListTemplates(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestUpdateTemplateStatus(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	tpl, err := db.UpsertTemplate(ctx, &models.Template{TenantID: "tenant-a", Name: "promo", Language: "en"})
	require.NoError(t, err)

	require.NoError(t, db.UpdateTemplateStatus(ctx, tpl.ID, models.TemplateStatusRejected, "555", "INVALID_FORMAT"))
	got, err := db.FindTemplate(ctx, "tenant-a", "promo", "en")
	require.NoError(t, err)
	assert.Equal(t, models.TemplateStatusRejected, got.Status)
	assert.Equal(t, "INVALID_FORMAT", got.RejectedReason)
	assert.Equal(t, "555", got.ProviderTemplateID)

	assert.Error(t, db.UpdateTemplateStatus(ctx, "missing", models.TemplateStatusApproved, "", ""))

	missing, err := db.FindTemplate(ctx, "tenant-b", "promo", "en")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
