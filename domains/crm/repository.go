package crm

import (
	"context"
	"time"
)

// InboundUpsert is the atomic unit the message pipeline persists: the contact
// and conversation are upserted and the message inserted in one transaction.
type InboundUpsert struct {
	CompanyID    string
	ConnectionID string
	Phone        string
	PushName     string
	IsGroup      bool
	Message      *Message
}

// InboundResult reports what the upsert actually did.
type InboundResult struct {
	Contact      *Contact
	Conversation *Conversation
	Message      *Message
	// Inserted is false when the provider message id already existed and the
	// message row was left untouched.
	Inserted bool
	// ConversationCreated reports that this message opened a brand new
	// conversation instead of landing in an existing one.
	ConversationCreated bool
}

// Repository is the persistence boundary for the messaging domain.
type Repository interface {
	// Connections
	GetConnection(ctx context.Context, id string) (*Connection, error)
	ListActiveProtocolConnections(ctx context.Context) ([]Connection, error)
	CreateConnection(ctx context.Context, conn *Connection) error
	UpdateConnectionStatus(ctx context.Context, id string, status ConnectionStatus) error
	UpdateConnectionQR(ctx context.Context, id, qr string) error
	UpdateConnectionPhone(ctx context.Context, id, phone string) error
	DeleteConnection(ctx context.Context, id string) error

	// Inbound persistence
	SaveInbound(ctx context.Context, in *InboundUpsert) (*InboundResult, error)
	SaveOutbound(ctx context.Context, msg *Message) error
	UpsertReaction(ctx context.Context, r *Reaction) error
	DeleteReaction(ctx context.Context, targetMessageID, reactorPhone string) error
	FindMessageByProviderID(ctx context.Context, providerID string) (*Message, error)
	ListHistory(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Conversations
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, companyID string, limit, offset int) ([]Conversation, error)
	SetConversationAI(ctx context.Context, id string, active bool) error
	SetConversationPersona(ctx context.Context, id, personaID string) error
	ArchiveConversation(ctx context.Context, id string, archived bool) error

	// Personas and prompt sections
	GetPersona(ctx context.Context, id string) (*Persona, error)
	ListPersonas(ctx context.Context, companyID string) ([]Persona, error)
	CreatePersona(ctx context.Context, p *Persona) error
	UpdatePersona(ctx context.Context, p *Persona) error
	DeletePersona(ctx context.Context, id string) error
	ListPromptSections(ctx context.Context, personaID, language string) ([]PromptSection, error)

	// Kanban routing lookups
	FindActiveLead(ctx context.Context, contactID string) (*KanbanLead, error)
	FindPersonaBinding(ctx context.Context, boardID, stageID string, ct ContactType) (*PersonaBinding, error)

	// Automation rules and audit log
	ListActiveRules(ctx context.Context, companyID, trigger string) ([]AutomationRule, error)
	AppendLog(ctx context.Context, entry *AutomationLog) error
	HasProcessed(ctx context.Context, messageID string) (bool, error)
	ListLogs(ctx context.Context, companyID string, since time.Time, limit int) ([]AutomationLog, error)
}
