package automation

import (
	"context"
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/zapfunnel/zapfunnel/core/config"
	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/infrastructure/meta"
	"github.com/zapfunnel/zapfunnel/infrastructure/whatsapp"
	"github.com/zapfunnel/zapfunnel/pkg/masking"
	"github.com/zapfunnel/zapfunnel/pkg/vault"
)

// Sender delivers protocol-session messages. Satisfied by the session
// manager.
type Sender interface {
	SendText(ctx context.Context, connectionID, to, text string) string
}

// Engine routes every new inbound message: pick a persona, let the AI
// responder answer, and fall back to static rules when it does not.
type Engine struct {
	cfg       *config.Config
	repo      crm.Repository
	sender    Sender
	metaCli   *meta.Client
	vault     *vault.Vault
	responder *Responder

	// seen is a short in-process window against double routing; the audit
	// log is the durable idempotence record.
	seen *cache.Cache
}

func NewEngine(cfg *config.Config, repo crm.Repository, sender Sender, metaCli *meta.Client, v *vault.Vault, responder *Responder) *Engine {
	return &Engine{
		cfg:       cfg,
		repo:      repo,
		sender:    sender,
		metaCli:   metaCli,
		vault:     v,
		responder: responder,
		seen:      cache.New(5*time.Minute, 10*time.Minute),
	}
}

// HandleInbound implements whatsapp.Router.
func (e *Engine) HandleInbound(ctx context.Context, ev *whatsapp.InboundEvent) {
	if _, dup := e.seen.Get(ev.Message.ID); dup {
		return
	}
	e.seen.SetDefault(ev.Message.ID, true)

	processed, err := e.repo.HasProcessed(ctx, ev.Message.ID)
	if err != nil {
		logrus.WithError(err).Warn("[ENGINE] idempotence check failed, proceeding")
	}
	if processed {
		logrus.Debugf("[ENGINE] message %s already routed, skipping", ev.Message.ID)
		return
	}

	replied := false
	if ev.Conversation.AIActive {
		persona, detail := e.resolvePersona(ctx, ev)
		if persona != nil {
			e.audit(ctx, ev, "persona_selected", detail, true)
			replied = e.responder.Reply(ctx, ev, persona, e.deliverFunc(ctx, ev))
		} else {
			e.audit(ctx, ev, "persona_selected", "none available", false)
		}
	}

	if !replied {
		e.runRules(ctx, ev)
	}

	e.audit(ctx, ev, crm.EventProcessed, fmt.Sprintf("replied=%v", replied), true)
}

// resolvePersona walks the selection ladder: lead stage binding, board-wide
// binding, connection default, conversation manual override.
func (e *Engine) resolvePersona(ctx context.Context, ev *whatsapp.InboundEvent) (*crm.Persona, string) {
	ct := ev.Conversation.ContactType

	if lead, err := e.repo.FindActiveLead(ctx, ev.Contact.ID); err == nil {
		if b, err := e.repo.FindPersonaBinding(ctx, lead.BoardID, lead.StageID, ct); err == nil {
			if p := e.activePersona(ctx, b.PersonaID); p != nil {
				return p, "Prioridade 1: persona da etapa do lead"
			}
		}
		if b, err := e.repo.FindPersonaBinding(ctx, lead.BoardID, "", ct); err == nil {
			if p := e.activePersona(ctx, b.PersonaID); p != nil {
				return p, "Prioridade 2: persona padrão do quadro"
			}
		}
	}

	if conn, err := e.repo.GetConnection(ctx, ev.ConnectionID); err == nil && conn.DefaultPersonaID != "" {
		if p := e.activePersona(ctx, conn.DefaultPersonaID); p != nil {
			logrus.Infof("[ENGINE] Prioridade 3: usando persona padrão da conexão %s", ev.ConnectionID)
			return p, "Prioridade 3: persona padrão da conexão"
		}
	}

	if ev.Conversation.PersonaID != "" {
		if p := e.activePersona(ctx, ev.Conversation.PersonaID); p != nil {
			return p, "Prioridade 4: persona definida manualmente na conversa"
		}
	}

	return nil, ""
}

func (e *Engine) activePersona(ctx context.Context, id string) *crm.Persona {
	p, err := e.repo.GetPersona(ctx, id)
	if err != nil || !p.Active {
		return nil
	}
	return p
}

// deliverFunc routes outbound text through the connection's channel: the
// Cloud API for official connections, the protocol session otherwise.
func (e *Engine) deliverFunc(ctx context.Context, ev *whatsapp.InboundEvent) DeliverFunc {
	return func(text string) string {
		conn, err := e.repo.GetConnection(ctx, ev.ConnectionID)
		if err != nil {
			logrus.WithError(err).Error("[ENGINE] connection lookup failed on delivery")
			return ""
		}

		if conn.Type == crm.ConnectionOfficialAPI {
			token := e.vault.Decrypt(conn.AccessToken)
			if token == "" {
				logrus.Errorf("[ENGINE] connection %s has no usable access token", conn.ID)
				return ""
			}
			id, err := e.metaCli.SendText(ctx, conn.PhoneNumber, token, ev.SenderPhone, text)
			if err != nil {
				logrus.WithError(err).Errorf("[ENGINE] official API send failed for %s", conn.ID)
				return ""
			}
			return id
		}

		return e.sender.SendText(ctx, conn.ID, ev.ChatID, text)
	}
}

// audit appends a masked entry to the automation log. Logging must never
// abort routing, failures are reported and swallowed.
func (e *Engine) audit(ctx context.Context, ev *whatsapp.InboundEvent, event, detail string, success bool) {
	entry := &crm.AutomationLog{
		CompanyID:      ev.CompanyID,
		MessageID:      ev.Message.ID,
		ConversationID: ev.Conversation.ID,
		Event:          event,
		Detail:         masking.Text(detail, 500),
		Success:        success,
	}
	if err := e.repo.AppendLog(ctx, entry); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"event": event,
			"phone": masking.Phone(ev.SenderPhone),
		}).Error("[ENGINE] audit log write failed")
	}
}
