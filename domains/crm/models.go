package crm

import "time"

// ConnectionType discriminates the two delivery channels.
type ConnectionType string

const (
	ConnectionOfficialAPI     ConnectionType = "official-api"
	ConnectionProtocolSession ConnectionType = "protocol-session"
)

// ConnectionStatus is the session lifecycle state persisted for UI polling.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusQR           ConnectionStatus = "qr"
	StatusFailed       ConnectionStatus = "failed"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderUser   SenderType = "USER"
	SenderAI     SenderType = "AI"
	SenderAgent  SenderType = "AGENT"
	SenderSystem SenderType = "SYSTEM"
)

// ContactType records who initiated the conversation: the contact reached out
// (active) or we did (passive). Persona bindings are keyed per contact type.
type ContactType string

const (
	ContactActive  ContactType = "active"
	ContactPassive ContactType = "passive"
)

// Connection is a configured channel to WhatsApp.
type Connection struct {
	ID               string           `gorm:"primaryKey" json:"id"`
	CompanyID        string           `gorm:"index;not null" json:"company_id"`
	Name             string           `json:"name"`
	Type             ConnectionType   `gorm:"not null" json:"type"`
	PhoneNumber      string           `gorm:"index" json:"phone_number"`
	AuthPath         string           `gorm:"column:auth_path" json:"auth_path"`
	Status           ConnectionStatus `gorm:"not null;default:disconnected" json:"status"`
	QRCode           string           `gorm:"column:qr_code" json:"qr_code,omitempty"`
	DefaultPersonaID string           `gorm:"column:default_persona_id" json:"default_persona_id,omitempty"`
	AccessToken      string           `gorm:"column:access_token" json:"-"` // vault-encrypted
	Active           bool             `gorm:"not null;default:true" json:"active"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Connection) TableName() string { return "connections" }

// Contact is a unique (phone, company) identity.
type Contact struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CompanyID string    `gorm:"uniqueIndex:idx_contact_phone_company;not null" json:"company_id"`
	Phone     string    `gorm:"uniqueIndex:idx_contact_phone_company;not null" json:"phone"`
	Name      string    `json:"name"`
	IsGroup   bool      `gorm:"not null;default:false" json:"is_group"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string { return "contacts" }

// Conversation is unique per (contact, connection) pair.
type Conversation struct {
	ID            string      `gorm:"primaryKey" json:"id"`
	CompanyID     string      `gorm:"index;not null" json:"company_id"`
	ContactID     string      `gorm:"uniqueIndex:idx_conv_contact_connection;not null" json:"contact_id"`
	ConnectionID  string      `gorm:"uniqueIndex:idx_conv_contact_connection;not null" json:"connection_id"`
	Status        string      `gorm:"not null;default:open" json:"status"`
	Archived      bool        `gorm:"not null;default:false" json:"archived"`
	AIActive      bool        `gorm:"column:ai_active;not null;default:true" json:"ai_active"`
	PersonaID     string      `gorm:"column:persona_id" json:"persona_id,omitempty"` // manual override
	ContactType   ContactType `gorm:"not null;default:active" json:"contact_type"`
	LastMessageAt time.Time   `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// ContentType is the closed set of message payload variants.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentAudio    ContentType = "audio"
	ContentDocument ContentType = "document"
	ContentSticker  ContentType = "sticker"
)

// Message belongs to exactly one conversation. ProviderMessageID is the
// idempotence key: redelivery of the same protocol event must not create a
// duplicate row. Outbound messages whose delivery failed carry an empty
// provider id, so uniqueness only applies to non-empty values.
type Message struct {
	ID                string      `gorm:"primaryKey" json:"id"`
	ConversationID    string      `gorm:"index;not null" json:"conversation_id"`
	ProviderMessageID string      `gorm:"uniqueIndex:idx_messages_provider_id,where:provider_message_id <> '';column:provider_message_id" json:"provider_message_id,omitempty"`
	SenderType        SenderType  `gorm:"not null" json:"sender_type"`
	Content           string      `json:"content"`
	ContentType       ContentType `gorm:"not null;default:text" json:"content_type"`
	MediaURL          string      `gorm:"column:media_url" json:"media_url,omitempty"`
	Status            string      `gorm:"not null;default:received" json:"status"`
	Timestamp         time.Time   `gorm:"index" json:"timestamp"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// Reaction is keyed by (target message id, reactor phone); an empty emoji
// upstream means removal and deletes the row.
type Reaction struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	TargetMessageID string    `gorm:"uniqueIndex:idx_reaction_target_reactor;not null" json:"target_message_id"`
	ReactorPhone    string    `gorm:"uniqueIndex:idx_reaction_target_reactor;not null" json:"reactor_phone"`
	Emoji           string    `gorm:"not null" json:"emoji"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Reaction) TableName() string { return "reactions" }

// Persona is a named AI responder configuration.
type Persona struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	CompanyID     string    `gorm:"index;not null" json:"company_id"`
	Name          string    `gorm:"not null" json:"name"`
	Provider      string    `gorm:"not null;default:openai" json:"provider"`
	Model         string    `json:"model"`
	SystemPrompt  string    `gorm:"column:system_prompt" json:"system_prompt"`
	UseRAG        bool      `gorm:"column:use_rag;not null;default:false" json:"use_rag"`
	Temperature   float64   `gorm:"not null;default:0.7" json:"temperature"`
	MinReplyDelay int       `gorm:"column:min_reply_delay_ms;not null;default:0" json:"min_reply_delay_ms"`
	MaxReplyDelay int       `gorm:"column:max_reply_delay_ms;not null;default:0" json:"max_reply_delay_ms"`
	Active        bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Persona) TableName() string { return "personas" }

// PromptSection is a prioritized fragment of a RAG-assembled system prompt,
// optionally restricted to one language.
type PromptSection struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	PersonaID string    `gorm:"index;not null" json:"persona_id"`
	Title     string    `json:"title"`
	Content   string    `gorm:"not null" json:"content"`
	Language  string    `json:"language,omitempty"` // empty = any language
	Priority  int       `gorm:"not null;default:0" json:"priority"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PromptSection) TableName() string { return "prompt_sections" }

// KanbanBoard / KanbanStage / KanbanLead are consumed read-only by routing.
type KanbanBoard struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CompanyID string    `gorm:"index;not null" json:"company_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (KanbanBoard) TableName() string { return "kanban_boards" }

type KanbanStage struct {
	ID       string `gorm:"primaryKey" json:"id"`
	BoardID  string `gorm:"index;not null" json:"board_id"`
	Name     string `json:"name"`
	Position int    `gorm:"not null;default:0" json:"position"`
}

func (KanbanStage) TableName() string { return "kanban_stages" }

type KanbanLead struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	BoardID   string    `gorm:"index;not null" json:"board_id"`
	StageID   string    `gorm:"index;not null" json:"stage_id"`
	ContactID string    `gorm:"index;not null" json:"contact_id"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (KanbanLead) TableName() string { return "kanban_leads" }

// PersonaBinding attaches a persona to a board (StageID empty = board-wide
// default) for one contact type.
type PersonaBinding struct {
	ID          string      `gorm:"primaryKey" json:"id"`
	BoardID     string      `gorm:"index;not null" json:"board_id"`
	StageID     string      `gorm:"index" json:"stage_id,omitempty"`
	ContactType ContactType `gorm:"not null" json:"contact_type"`
	PersonaID   string      `gorm:"not null" json:"persona_id"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (PersonaBinding) TableName() string { return "persona_bindings" }

// AutomationRule is a condition/action pair evaluated only when AI did not
// respond. Conditions and Actions are JSON-encoded arrays.
type AutomationRule struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	CompanyID  string    `gorm:"index;not null" json:"company_id"`
	Name       string    `json:"name"`
	Trigger    string    `gorm:"not null" json:"trigger"`
	Conditions string    `gorm:"type:text" json:"conditions"`
	Actions    string    `gorm:"type:text" json:"actions"`
	Active     bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AutomationRule) TableName() string { return "automation_rules" }

// AutomationLog is the append-only audit trail of routing decisions. Rows are
// PII-masked before insert; writes are best-effort.
type AutomationLog struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	CompanyID      string    `gorm:"index;not null" json:"company_id"`
	MessageID      string    `gorm:"index" json:"message_id,omitempty"`
	ConversationID string    `gorm:"index" json:"conversation_id,omitempty"`
	Event          string    `gorm:"not null" json:"event"`
	Detail         string    `gorm:"type:text" json:"detail"`
	Success        bool      `gorm:"not null;default:true" json:"success"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AutomationLog) TableName() string { return "automation_logs" }

// EventProcessed marks a provider message id as already routed.
const EventProcessed = "message_processed"
