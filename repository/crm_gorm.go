package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/pkg/apperr"
)

// CrmGorm implements crm.Repository on top of gorm.
type CrmGorm struct {
	db *gorm.DB
}

func NewCrmGorm(db *gorm.DB) *CrmGorm {
	return &CrmGorm{db: db}
}

// Migrate creates or updates the schema for every domain model.
func (r *CrmGorm) Migrate() error {
	return r.db.AutoMigrate(
		&crm.Connection{},
		&crm.Contact{},
		&crm.Conversation{},
		&crm.Message{},
		&crm.Reaction{},
		&crm.Persona{},
		&crm.PromptSection{},
		&crm.KanbanBoard{},
		&crm.KanbanStage{},
		&crm.KanbanLead{},
		&crm.PersonaBinding{},
		&crm.AutomationRule{},
		&crm.AutomationLog{},
	)
}

func (r *CrmGorm) GetConnection(ctx context.Context, id string) (*crm.Connection, error) {
	var conn crm.Connection
	if err := r.db.WithContext(ctx).First(&conn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundError("connection not found")
		}
		return nil, err
	}
	return &conn, nil
}

func (r *CrmGorm) ListActiveProtocolConnections(ctx context.Context) ([]crm.Connection, error) {
	var conns []crm.Connection
	err := r.db.WithContext(ctx).
		Where("type = ? AND active = ?", crm.ConnectionProtocolSession, true).
		Find(&conns).Error
	return conns, err
}

func (r *CrmGorm) CreateConnection(ctx context.Context, conn *crm.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(conn).Error
}

func (r *CrmGorm) UpdateConnectionStatus(ctx context.Context, id string, status crm.ConnectionStatus) error {
	return r.db.WithContext(ctx).Model(&crm.Connection{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *CrmGorm) UpdateConnectionQR(ctx context.Context, id, qr string) error {
	return r.db.WithContext(ctx).Model(&crm.Connection{}).
		Where("id = ?", id).
		Updates(map[string]any{"qr_code": qr, "status": crm.StatusQR}).Error
}

func (r *CrmGorm) UpdateConnectionPhone(ctx context.Context, id, phone string) error {
	return r.db.WithContext(ctx).Model(&crm.Connection{}).
		Where("id = ?", id).
		Update("phone_number", phone).Error
}

func (r *CrmGorm) DeleteConnection(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&crm.Connection{}, "id = ?", id).Error
}

// SaveInbound runs the whole contact+conversation+message write in a single
// transaction so a crash cannot leave a message without its conversation.
func (r *CrmGorm) SaveInbound(ctx context.Context, in *crm.InboundUpsert) (*crm.InboundResult, error) {
	res := &crm.InboundResult{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contact := &crm.Contact{
			ID:        uuid.NewString(),
			CompanyID: in.CompanyID,
			Phone:     in.Phone,
			Name:      in.PushName,
			IsGroup:   in.IsGroup,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "company_id"}, {Name: "phone"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "is_group", "updated_at"}),
		}).Create(contact).Error; err != nil {
			return err
		}
		// Re-read: on conflict the generated id above was discarded.
		if err := tx.First(contact, "company_id = ? AND phone = ?", in.CompanyID, in.Phone).Error; err != nil {
			return err
		}

		now := in.Message.Timestamp
		if now.IsZero() {
			now = time.Now().UTC()
		}
		conv := &crm.Conversation{
			ID:            uuid.NewString(),
			CompanyID:     in.CompanyID,
			ContactID:     contact.ID,
			ConnectionID:  in.ConnectionID,
			LastMessageAt: now,
		}
		newConvID := conv.ID
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "contact_id"}, {Name: "connection_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"last_message_at": now,
				"archived":        false, // inbound traffic always un-archives
				"updated_at":      time.Now().UTC(),
			}),
		}).Create(conv).Error; err != nil {
			return err
		}
		if err := tx.First(conv, "contact_id = ? AND connection_id = ?", contact.ID, in.ConnectionID).Error; err != nil {
			return err
		}
		// The generated id survives the re-read only when the insert won.
		res.ConversationCreated = conv.ID == newConvID

		msg := in.Message
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msg.ConversationID = conv.ID
		insert := tx.Clauses(clause.OnConflict{
			Columns:     []clause.Column{{Name: "provider_message_id"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "provider_message_id <> ''"}}},
			DoNothing:   true,
		}).Create(msg)
		if insert.Error != nil {
			return insert.Error
		}

		res.Contact = contact
		res.Conversation = conv
		res.Message = msg
		res.Inserted = insert.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *CrmGorm) SaveOutbound(ctx context.Context, msg *crm.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&crm.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("last_message_at", msg.Timestamp).Error
	})
}

func (r *CrmGorm) UpsertReaction(ctx context.Context, reaction *crm.Reaction) error {
	if reaction.ID == "" {
		reaction.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "target_message_id"}, {Name: "reactor_phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"emoji", "updated_at"}),
	}).Create(reaction).Error
}

func (r *CrmGorm) DeleteReaction(ctx context.Context, targetMessageID, reactorPhone string) error {
	return r.db.WithContext(ctx).
		Where("target_message_id = ? AND reactor_phone = ?", targetMessageID, reactorPhone).
		Delete(&crm.Reaction{}).Error
}

func (r *CrmGorm) FindMessageByProviderID(ctx context.Context, providerID string) (*crm.Message, error) {
	var msg crm.Message
	err := r.db.WithContext(ctx).First(&msg, "provider_message_id = ?", providerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundError("message not found")
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListHistory returns the last N messages in chronological order.
func (r *CrmGorm) ListHistory(ctx context.Context, conversationID string, limit int) ([]crm.Message, error) {
	var msgs []crm.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *CrmGorm) GetConversation(ctx context.Context, id string) (*crm.Conversation, error) {
	var conv crm.Conversation
	err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundError("conversation not found")
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *CrmGorm) ListConversations(ctx context.Context, companyID string, limit, offset int) ([]crm.Conversation, error) {
	var convs []crm.Conversation
	err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("last_message_at DESC").
		Limit(limit).Offset(offset).
		Find(&convs).Error
	return convs, err
}

func (r *CrmGorm) SetConversationAI(ctx context.Context, id string, active bool) error {
	return r.db.WithContext(ctx).Model(&crm.Conversation{}).
		Where("id = ?", id).
		Update("ai_active", active).Error
}

func (r *CrmGorm) SetConversationPersona(ctx context.Context, id, personaID string) error {
	return r.db.WithContext(ctx).Model(&crm.Conversation{}).
		Where("id = ?", id).
		Update("persona_id", personaID).Error
}

func (r *CrmGorm) ArchiveConversation(ctx context.Context, id string, archived bool) error {
	return r.db.WithContext(ctx).Model(&crm.Conversation{}).
		Where("id = ?", id).
		Update("archived", archived).Error
}

func (r *CrmGorm) GetPersona(ctx context.Context, id string) (*crm.Persona, error) {
	var p crm.Persona
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundError("persona not found")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *CrmGorm) ListPersonas(ctx context.Context, companyID string) ([]crm.Persona, error) {
	var ps []crm.Persona
	err := r.db.WithContext(ctx).Where("company_id = ?", companyID).Find(&ps).Error
	return ps, err
}

func (r *CrmGorm) CreatePersona(ctx context.Context, p *crm.Persona) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *CrmGorm) UpdatePersona(ctx context.Context, p *crm.Persona) error {
	return r.db.WithContext(ctx).Save(p).Error
}

func (r *CrmGorm) DeletePersona(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&crm.Persona{}, "id = ?", id).Error
}

// ListPromptSections returns active sections ordered by priority. Sections
// bound to a different language are filtered out; unbound sections always
// apply.
func (r *CrmGorm) ListPromptSections(ctx context.Context, personaID, language string) ([]crm.PromptSection, error) {
	var sections []crm.PromptSection
	q := r.db.WithContext(ctx).
		Where("persona_id = ? AND active = ?", personaID, true)
	if language != "" {
		q = q.Where("language = ? OR language = ''", language)
	}
	err := q.Order("priority ASC").Find(&sections).Error
	return sections, err
}

func (r *CrmGorm) FindActiveLead(ctx context.Context, contactID string) (*crm.KanbanLead, error) {
	var lead crm.KanbanLead
	err := r.db.WithContext(ctx).
		Where("contact_id = ? AND active = ?", contactID, true).
		Order("updated_at DESC").
		First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundError("no active lead")
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (r *CrmGorm) FindPersonaBinding(ctx context.Context, boardID, stageID string, ct crm.ContactType) (*crm.PersonaBinding, error) {
	var binding crm.PersonaBinding
	err := r.db.WithContext(ctx).
		Where("board_id = ? AND stage_id = ? AND contact_type = ?", boardID, stageID, ct).
		First(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundError("no persona binding")
	}
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

func (r *CrmGorm) ListActiveRules(ctx context.Context, companyID, trigger string) ([]crm.AutomationRule, error) {
	var rules []crm.AutomationRule
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND trigger = ? AND active = ?", companyID, trigger, true).
		Find(&rules).Error
	return rules, err
}

func (r *CrmGorm) AppendLog(ctx context.Context, entry *crm.AutomationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *CrmGorm) HasProcessed(ctx context.Context, messageID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&crm.AutomationLog{}).
		Where("message_id = ? AND event = ?", messageID, crm.EventProcessed).
		Count(&count).Error
	return count > 0, err
}

func (r *CrmGorm) ListLogs(ctx context.Context, companyID string, since time.Time, limit int) ([]crm.AutomationLog, error) {
	var logs []crm.AutomationLog
	q := r.db.WithContext(ctx).Where("company_id = ?", companyID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	err := q.Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
