package automation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapfunnel/zapfunnel/core/config"
	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/infrastructure/whatsapp"
	"github.com/zapfunnel/zapfunnel/pkg/apperr"
	"github.com/zapfunnel/zapfunnel/pkg/breaker"
	"github.com/zapfunnel/zapfunnel/pkg/chatclass"
	"github.com/zapfunnel/zapfunnel/pkg/vault"
)

// fakeRepo is an in-memory crm.Repository for routing tests.
type fakeRepo struct {
	connections map[string]*crm.Connection
	personas    map[string]*crm.Persona
	lead        *crm.KanbanLead
	bindings    map[string]*crm.PersonaBinding // boardID|stageID|contactType
	rules       []crm.AutomationRule
	sections    []crm.PromptSection
	history     []crm.Message

	processed map[string]bool
	logs      []crm.AutomationLog
	outbound  []crm.Message
	archived  map[string]bool
	aiFlags   map[string]bool

	hasProcessedErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		connections: map[string]*crm.Connection{},
		personas:    map[string]*crm.Persona{},
		bindings:    map[string]*crm.PersonaBinding{},
		processed:   map[string]bool{},
		archived:    map[string]bool{},
		aiFlags:     map[string]bool{},
	}
}

func bindingKey(boardID, stageID string, ct crm.ContactType) string {
	return fmt.Sprintf("%s|%s|%s", boardID, stageID, ct)
}

func (f *fakeRepo) GetConnection(_ context.Context, id string) (*crm.Connection, error) {
	if c, ok := f.connections[id]; ok {
		return c, nil
	}
	return nil, apperr.NotFoundError("connection not found")
}

func (f *fakeRepo) ListActiveProtocolConnections(context.Context) ([]crm.Connection, error) {
	return nil, nil
}
func (f *fakeRepo) CreateConnection(context.Context, *crm.Connection) error { return nil }
func (f *fakeRepo) UpdateConnectionStatus(context.Context, string, crm.ConnectionStatus) error {
	return nil
}
func (f *fakeRepo) UpdateConnectionQR(context.Context, string, string) error { return nil }
func (f *fakeRepo) UpdateConnectionPhone(context.Context, string, string) error {
	return nil
}
func (f *fakeRepo) DeleteConnection(context.Context, string) error { return nil }

func (f *fakeRepo) SaveInbound(context.Context, *crm.InboundUpsert) (*crm.InboundResult, error) {
	return nil, nil
}

func (f *fakeRepo) SaveOutbound(_ context.Context, msg *crm.Message) error {
	f.outbound = append(f.outbound, *msg)
	return nil
}

func (f *fakeRepo) UpsertReaction(context.Context, *crm.Reaction) error  { return nil }
func (f *fakeRepo) DeleteReaction(context.Context, string, string) error { return nil }
func (f *fakeRepo) FindMessageByProviderID(context.Context, string) (*crm.Message, error) {
	return nil, apperr.NotFoundError("message not found")
}

func (f *fakeRepo) ListHistory(context.Context, string, int) ([]crm.Message, error) {
	return f.history, nil
}

func (f *fakeRepo) GetConversation(context.Context, string) (*crm.Conversation, error) {
	return nil, apperr.NotFoundError("conversation not found")
}
func (f *fakeRepo) ListConversations(context.Context, string, int, int) ([]crm.Conversation, error) {
	return nil, nil
}

func (f *fakeRepo) SetConversationAI(_ context.Context, id string, active bool) error {
	f.aiFlags[id] = active
	return nil
}

func (f *fakeRepo) SetConversationPersona(context.Context, string, string) error { return nil }

func (f *fakeRepo) ArchiveConversation(_ context.Context, id string, archived bool) error {
	f.archived[id] = archived
	return nil
}

func (f *fakeRepo) GetPersona(_ context.Context, id string) (*crm.Persona, error) {
	if p, ok := f.personas[id]; ok {
		return p, nil
	}
	return nil, apperr.NotFoundError("persona not found")
}

func (f *fakeRepo) ListPersonas(context.Context, string) ([]crm.Persona, error) { return nil, nil }
func (f *fakeRepo) CreatePersona(context.Context, *crm.Persona) error           { return nil }
func (f *fakeRepo) UpdatePersona(context.Context, *crm.Persona) error           { return nil }
func (f *fakeRepo) DeletePersona(context.Context, string) error                 { return nil }

func (f *fakeRepo) ListPromptSections(context.Context, string, string) ([]crm.PromptSection, error) {
	return f.sections, nil
}

func (f *fakeRepo) FindActiveLead(_ context.Context, contactID string) (*crm.KanbanLead, error) {
	if f.lead != nil && f.lead.ContactID == contactID {
		return f.lead, nil
	}
	return nil, apperr.NotFoundError("lead not found")
}

func (f *fakeRepo) FindPersonaBinding(_ context.Context, boardID, stageID string, ct crm.ContactType) (*crm.PersonaBinding, error) {
	if b, ok := f.bindings[bindingKey(boardID, stageID, ct)]; ok {
		return b, nil
	}
	return nil, apperr.NotFoundError("binding not found")
}

func (f *fakeRepo) ListActiveRules(context.Context, string, string) ([]crm.AutomationRule, error) {
	return f.rules, nil
}

func (f *fakeRepo) AppendLog(_ context.Context, entry *crm.AutomationLog) error {
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeRepo) HasProcessed(_ context.Context, messageID string) (bool, error) {
	if f.hasProcessedErr != nil {
		return false, f.hasProcessedErr
	}
	return f.processed[messageID], nil
}

func (f *fakeRepo) ListLogs(context.Context, string, time.Time, int) ([]crm.AutomationLog, error) {
	return f.logs, nil
}

func (f *fakeRepo) hasEvent(event string) bool {
	for _, l := range f.logs {
		if l.Event == event {
			return true
		}
	}
	return false
}

// fakeSender records protocol-session deliveries.
type fakeSender struct {
	sent []string
	id   string
}

func (s *fakeSender) SendText(_ context.Context, _, _, text string) string {
	s.sent = append(s.sent, text)
	return s.id
}

func testConfig() *config.Config {
	return &config.Config{
		AI: config.AIConfig{
			DefaultModel:  "gpt-4o-mini",
			MaxRetries:    1,
			HistoryLimit:  20,
			FallbackReply: "fallback",
		},
	}
}

func newTestEngine(repo *fakeRepo, sender Sender) *Engine {
	cfg := testConfig()
	responder := NewResponder(cfg, repo, breaker.NewRegistry())
	return NewEngine(cfg, repo, sender, nil, vault.New("test-secret"), responder)
}

func inboundEvent(msgID string) *whatsapp.InboundEvent {
	return &whatsapp.InboundEvent{
		ConnectionID: "conn-1",
		CompanyID:    "company-1",
		ChatID:       "5511999990000@s.whatsapp.net",
		SenderPhone:  "5511999990000",
		Classification: chatclass.Result{
			Type: chatclass.TypeIndividual,
		},
		Contact: &crm.Contact{ID: "contact-1", CompanyID: "company-1", Phone: "5511999990000"},
		Conversation: &crm.Conversation{
			ID:           "conv-1",
			CompanyID:    "company-1",
			ContactID:    "contact-1",
			ConnectionID: "conn-1",
			ContactType:  crm.ContactActive,
		},
		Message: &crm.Message{
			ID:                msgID,
			ConversationID:    "conv-1",
			ProviderMessageID: "prov-" + msgID,
			SenderType:        crm.SenderUser,
			Content:           "Quero saber sobre encontro de negócios",
			ContentType:       crm.ContentText,
		},
	}
}

func TestResolvePersona_StageBindingWins(t *testing.T) {
	repo := newFakeRepo()
	repo.personas["p-stage"] = &crm.Persona{ID: "p-stage", Active: true}
	repo.personas["p-board"] = &crm.Persona{ID: "p-board", Active: true}
	repo.personas["p-conn"] = &crm.Persona{ID: "p-conn", Active: true}
	repo.lead = &crm.KanbanLead{ID: "lead-1", BoardID: "board-1", StageID: "stage-1", ContactID: "contact-1", Active: true}
	repo.bindings[bindingKey("board-1", "stage-1", crm.ContactActive)] = &crm.PersonaBinding{PersonaID: "p-stage"}
	repo.bindings[bindingKey("board-1", "", crm.ContactActive)] = &crm.PersonaBinding{PersonaID: "p-board"}
	repo.connections["conn-1"] = &crm.Connection{ID: "conn-1", DefaultPersonaID: "p-conn"}

	e := newTestEngine(repo, &fakeSender{})
	persona, detail := e.resolvePersona(context.Background(), inboundEvent("m1"))

	require.NotNil(t, persona)
	assert.Equal(t, "p-stage", persona.ID)
	assert.Contains(t, detail, "Prioridade 1")
}

func TestResolvePersona_BoardBindingWhenStageHasNone(t *testing.T) {
	repo := newFakeRepo()
	repo.personas["p-board"] = &crm.Persona{ID: "p-board", Active: true}
	repo.lead = &crm.KanbanLead{ID: "lead-1", BoardID: "board-1", StageID: "stage-1", ContactID: "contact-1", Active: true}
	repo.bindings[bindingKey("board-1", "", crm.ContactActive)] = &crm.PersonaBinding{PersonaID: "p-board"}

	e := newTestEngine(repo, &fakeSender{})
	persona, detail := e.resolvePersona(context.Background(), inboundEvent("m1"))

	require.NotNil(t, persona)
	assert.Equal(t, "p-board", persona.ID)
	assert.Contains(t, detail, "Prioridade 2")
}

func TestResolvePersona_ConnectionDefaultWithoutLead(t *testing.T) {
	repo := newFakeRepo()
	repo.personas["p-conn"] = &crm.Persona{ID: "p-conn", Active: true}
	repo.connections["conn-1"] = &crm.Connection{ID: "conn-1", DefaultPersonaID: "p-conn"}

	e := newTestEngine(repo, &fakeSender{})
	persona, detail := e.resolvePersona(context.Background(), inboundEvent("m1"))

	require.NotNil(t, persona)
	assert.Equal(t, "p-conn", persona.ID)
	assert.Contains(t, detail, "Prioridade 3")
}

func TestResolvePersona_ManualOverrideIsLast(t *testing.T) {
	repo := newFakeRepo()
	repo.personas["p-manual"] = &crm.Persona{ID: "p-manual", Active: true}
	repo.connections["conn-1"] = &crm.Connection{ID: "conn-1"}

	e := newTestEngine(repo, &fakeSender{})
	ev := inboundEvent("m1")
	ev.Conversation.PersonaID = "p-manual"
	persona, detail := e.resolvePersona(context.Background(), ev)

	require.NotNil(t, persona)
	assert.Equal(t, "p-manual", persona.ID)
	assert.Contains(t, detail, "Prioridade 4")
}

func TestResolvePersona_InactivePersonaFallsThrough(t *testing.T) {
	repo := newFakeRepo()
	repo.personas["p-stage"] = &crm.Persona{ID: "p-stage", Active: false}
	repo.personas["p-conn"] = &crm.Persona{ID: "p-conn", Active: true}
	repo.lead = &crm.KanbanLead{ID: "lead-1", BoardID: "board-1", StageID: "stage-1", ContactID: "contact-1", Active: true}
	repo.bindings[bindingKey("board-1", "stage-1", crm.ContactActive)] = &crm.PersonaBinding{PersonaID: "p-stage"}
	repo.connections["conn-1"] = &crm.Connection{ID: "conn-1", DefaultPersonaID: "p-conn"}

	e := newTestEngine(repo, &fakeSender{})
	persona, _ := e.resolvePersona(context.Background(), inboundEvent("m1"))

	require.NotNil(t, persona)
	assert.Equal(t, "p-conn", persona.ID)
}

func TestResolvePersona_NoneAvailable(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &fakeSender{})
	persona, detail := e.resolvePersona(context.Background(), inboundEvent("m1"))

	assert.Nil(t, persona)
	assert.Empty(t, detail)
}

func TestHandleInbound_SkipsAlreadyProcessedMessage(t *testing.T) {
	repo := newFakeRepo()
	repo.processed["m1"] = true

	e := newTestEngine(repo, &fakeSender{})
	ev := inboundEvent("m1")
	ev.Conversation.AIActive = true
	e.HandleInbound(context.Background(), ev)

	assert.Empty(t, repo.logs, "a routed message must not be routed again")
}

func TestHandleInbound_SeenCacheBlocksSecondDelivery(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &fakeSender{})
	ev := inboundEvent("m1")

	e.HandleInbound(context.Background(), ev)
	firstCount := len(repo.logs)
	require.True(t, repo.hasEvent(crm.EventProcessed))

	e.HandleInbound(context.Background(), ev)
	assert.Equal(t, firstCount, len(repo.logs), "second delivery of the same message must be a no-op")
}

func TestHandleInbound_IdempotenceCheckFailureProceeds(t *testing.T) {
	repo := newFakeRepo()
	repo.hasProcessedErr = fmt.Errorf("db unreachable")

	e := newTestEngine(repo, &fakeSender{})
	e.HandleInbound(context.Background(), inboundEvent("m1"))

	assert.True(t, repo.hasEvent(crm.EventProcessed), "an audit read failure must not drop the message")
}

func TestHandleInbound_AIInactiveStillRunsRulesAndAudits(t *testing.T) {
	repo := newFakeRepo()
	repo.connections["conn-1"] = &crm.Connection{ID: "conn-1", Type: crm.ConnectionProtocolSession}
	repo.rules = []crm.AutomationRule{{
		ID:        "r1",
		CompanyID: "company-1",
		Name:      "saudacao",
		Trigger:   TriggerMessageReceived,
		Actions:   `[{"type":"reply","value":"Olá! Em que posso ajudar?"}]`,
		Active:    true,
	}}

	sender := &fakeSender{id: "wamid.1"}
	e := newTestEngine(repo, sender)
	ev := inboundEvent("m1")
	ev.Conversation.AIActive = false
	e.HandleInbound(context.Background(), ev)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Olá! Em que posso ajudar?", sender.sent[0])
	assert.True(t, repo.hasEvent("rule_matched"))
	assert.True(t, repo.hasEvent(crm.EventProcessed))
}

func TestDeliverFunc_ProtocolSessionUsesSender(t *testing.T) {
	repo := newFakeRepo()
	repo.connections["conn-1"] = &crm.Connection{ID: "conn-1", Type: crm.ConnectionProtocolSession}

	sender := &fakeSender{id: "3EB0ABC"}
	e := newTestEngine(repo, sender)
	deliver := e.deliverFunc(context.Background(), inboundEvent("m1"))

	assert.Equal(t, "3EB0ABC", deliver("oi"))
	assert.Equal(t, []string{"oi"}, sender.sent)
}

func TestDeliverFunc_UnknownConnectionReturnsEmpty(t *testing.T) {
	repo := newFakeRepo()
	sender := &fakeSender{id: "3EB0ABC"}
	e := newTestEngine(repo, sender)
	deliver := e.deliverFunc(context.Background(), inboundEvent("m1"))

	assert.Empty(t, deliver("oi"))
	assert.Empty(t, sender.sent)
}

func TestDeliverFunc_OfficialAPIWithoutTokenReturnsEmpty(t *testing.T) {
	repo := newFakeRepo()
	repo.connections["conn-1"] = &crm.Connection{ID: "conn-1", Type: crm.ConnectionOfficialAPI}

	sender := &fakeSender{id: "3EB0ABC"}
	e := newTestEngine(repo, sender)
	deliver := e.deliverFunc(context.Background(), inboundEvent("m1"))

	assert.Empty(t, deliver("oi"), "official connections never fall back to the protocol session")
	assert.Empty(t, sender.sent)
}

func TestAudit_MasksLongDetail(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &fakeSender{})

	long := make([]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		long = append(long, 'a')
	}
	e.audit(context.Background(), inboundEvent("m1"), "persona_selected", string(long), true)

	require.Len(t, repo.logs, 1)
	assert.LessOrEqual(t, len(repo.logs[0].Detail), 504, "detail must be truncated before insert")
}
