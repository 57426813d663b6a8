package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zapfunnel/zapfunnel/domains/crm"
)

func newTestRepo(t *testing.T) *CrmGorm {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repo := NewCrmGorm(db)
	require.NoError(t, repo.Migrate())
	return repo
}

func inboundFor(providerID, text string) *crm.InboundUpsert {
	return &crm.InboundUpsert{
		CompanyID:    "company-1",
		ConnectionID: "conn-1",
		Phone:        "5511988887777",
		PushName:     "Ana",
		Message: &crm.Message{
			ProviderMessageID: providerID,
			SenderType:        crm.SenderUser,
			Content:           text,
			ContentType:       crm.ContentText,
			Status:            "received",
		},
	}
}

func TestSaveOutbound_EmptyProviderIDNeverCollides(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// Failed deliveries and rule replies are persisted without a provider id;
	// two of them must coexist.
	require.NoError(t, repo.SaveOutbound(ctx, &crm.Message{
		ConversationID: "conv-1",
		SenderType:     crm.SenderAI,
		Content:        "primeira tentativa",
		ContentType:    crm.ContentText,
		Status:         "sent",
	}))
	require.NoError(t, repo.SaveOutbound(ctx, &crm.Message{
		ConversationID: "conv-1",
		SenderType:     crm.SenderSystem,
		Content:        "segunda tentativa",
		ContentType:    crm.ContentText,
		Status:         "sent",
	}))

	var count int64
	require.NoError(t, repo.db.Model(&crm.Message{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestSaveInbound_DuplicateProviderIDInsertsOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.SaveInbound(ctx, inboundFor("MSG1", "oi"))
	require.NoError(t, err)
	assert.True(t, first.Inserted)

	second, err := repo.SaveInbound(ctx, inboundFor("MSG1", "oi"))
	require.NoError(t, err)
	assert.False(t, second.Inserted, "the redelivered message must not create a row")

	var count int64
	require.NoError(t, repo.db.Model(&crm.Message{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSaveInbound_ReportsConversationCreatedOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.SaveInbound(ctx, inboundFor("MSG1", "oi"))
	require.NoError(t, err)
	assert.True(t, first.ConversationCreated)

	second, err := repo.SaveInbound(ctx, inboundFor("MSG2", "tudo bem?"))
	require.NoError(t, err)
	assert.True(t, second.Inserted)
	assert.False(t, second.ConversationCreated, "the follow-up lands in the existing conversation")
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
}
