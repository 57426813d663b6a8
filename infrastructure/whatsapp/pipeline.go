package whatsapp

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/zapfunnel/zapfunnel/core/config"
	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/infrastructure/notify"
	"github.com/zapfunnel/zapfunnel/infrastructure/objstore"
	"github.com/zapfunnel/zapfunnel/pkg/chatclass"
	"github.com/zapfunnel/zapfunnel/pkg/masking"
	"github.com/zapfunnel/zapfunnel/pkg/msgworker"
)

// InboundEvent is the normalized result of one protocol message, handed to
// the routing engine after persistence.
type InboundEvent struct {
	ConnectionID   string
	CompanyID      string
	ChatID         string
	SenderPhone    string
	PushName       string
	Classification chatclass.Result
	Contact        *crm.Contact
	Conversation   *crm.Conversation
	Message        *crm.Message
}

// Router receives persisted inbound events. Implemented by the automation
// engine; an interface here keeps the dependency one-directional.
type Router interface {
	HandleInbound(ctx context.Context, ev *InboundEvent)
}

// Pipeline normalizes raw protocol events, persists them exactly once and
// hands genuinely new messages to the router. Work runs on the sharded pool
// so one chat stays ordered while chats process in parallel.
type Pipeline struct {
	cfg    *config.Config
	repo   crm.Repository
	pool   *msgworker.Pool
	store  *objstore.Store
	router Router
}

func NewPipeline(cfg *config.Config, repo crm.Repository, pool *msgworker.Pool, store *objstore.Store) *Pipeline {
	return &Pipeline{cfg: cfg, repo: repo, pool: pool, store: store}
}

// SetRouter wires the automation engine after construction.
func (p *Pipeline) SetRouter(r Router) {
	p.router = r
}

// Dispatch enqueues the event on its chat shard. Called from the whatsmeow
// event goroutine, so it must not block. Events arriving while the handshake
// is still settling are buffered and replayed on Connected.
func (p *Pipeline) Dispatch(ctx context.Context, sess *Session, evt *events.Message) {
	if sess.Status() != crm.StatusConnected {
		sess.enqueueInbound(evt)
		return
	}
	chatID := evt.Info.Chat.String()
	p.pool.Dispatch(msgworker.Job{
		ConnectionID: sess.ConnectionID,
		ChatID:       chatID,
		Handler: func(workerCtx context.Context) error {
			p.process(contextWithConnectionID(workerCtx, sess.ConnectionID), sess, evt)
			return nil
		},
	})
}

// Replay pushes events buffered during the handshake through the normal
// dispatch path, preserving arrival order.
func (p *Pipeline) Replay(ctx context.Context, sess *Session) {
	queued := sess.drainPending()
	if len(queued) == 0 {
		return
	}
	logrus.Infof("[PIPELINE] %s replaying %d buffered events", sess.ConnectionID, len(queued))
	for _, evt := range queued {
		p.Dispatch(ctx, sess, evt)
	}
}

func (p *Pipeline) process(ctx context.Context, sess *Session, evt *events.Message) {
	chatID := evt.Info.Chat.String()

	class := chatclass.Classify(chatID, &chatclass.MessageMeta{
		Participant: participantOf(evt),
	})
	switch class.Type {
	case chatclass.TypeStatus, chatclass.TypeNewsletter, chatclass.TypeBroadcast:
		// Not conversations, nothing to persist.
		logrus.Debugf("[PIPELINE] %s skipping %s chat %s", sess.ConnectionID, class.Type, chatID)
		return
	}

	// Reactions mutate existing rows instead of creating messages.
	if reaction := evt.Message.GetReactionMessage(); reaction != nil {
		p.processReaction(ctx, evt, reaction.GetKey().GetID(), reaction.GetText())
		return
	}

	content, contentType := extractContent(evt)
	mediaURL := p.resolveMedia(ctx, sess, evt, &content, &contentType)
	if content == "" && mediaURL == "" {
		// Protocol chatter (receipts inside messages, polls we don't model).
		logrus.Debugf("[PIPELINE] %s ignoring empty message %s", sess.ConnectionID, evt.Info.ID)
		return
	}

	senderType := crm.SenderUser
	if evt.Info.IsFromMe {
		senderType = crm.SenderAgent
	}

	in := &crm.InboundUpsert{
		CompanyID:    sess.CompanyID,
		ConnectionID: sess.ConnectionID,
		Phone:        evt.Info.Sender.User,
		PushName:     evt.Info.PushName,
		IsGroup:      class.Type == chatclass.TypeGroup || class.Type == chatclass.TypeCommunity,
		Message: &crm.Message{
			ProviderMessageID: string(evt.Info.ID),
			SenderType:        senderType,
			Content:           content,
			ContentType:       contentType,
			MediaURL:          mediaURL,
			Status:            "received",
			Timestamp:         evt.Info.Timestamp.UTC(),
		},
	}

	res, err := p.repo.SaveInbound(ctx, in)
	if err != nil {
		logrus.WithError(err).Errorf("[PIPELINE] %s failed to persist message %s", sess.ConnectionID, evt.Info.ID)
		return
	}
	if res.ConversationCreated {
		notify.Emit("conversation.created", map[string]any{
			"conversation_id": res.Conversation.ID,
			"contact_id":      res.Contact.ID,
			"connection_id":   sess.ConnectionID,
		})
	}
	if !res.Inserted {
		// Redelivery: the row already exists, routing already happened or is
		// in flight for the first delivery.
		logrus.Debugf("[PIPELINE] %s duplicate message %s ignored", sess.ConnectionID, evt.Info.ID)
		return
	}

	if evt.Info.IsFromMe {
		return
	}
	if class.ShouldBlockAutomation {
		logrus.Infof("[PIPELINE] %s automation blocked for chat %s: %s", sess.ConnectionID, chatID, class.Reason)
		p.auditBlocked(ctx, sess, res, class)
		return
	}
	if p.router == nil {
		return
	}

	p.router.HandleInbound(ctx, &InboundEvent{
		ConnectionID:   sess.ConnectionID,
		CompanyID:      sess.CompanyID,
		ChatID:         chatID,
		SenderPhone:    evt.Info.Sender.User,
		PushName:       evt.Info.PushName,
		Classification: class,
		Contact:        res.Contact,
		Conversation:   res.Conversation,
		Message:        res.Message,
	})
}

// auditBlocked records why automation stayed silent for a persisted message.
// Best effort, the message itself is already safe.
func (p *Pipeline) auditBlocked(ctx context.Context, sess *Session, res *crm.InboundResult, class chatclass.Result) {
	entry := &crm.AutomationLog{
		CompanyID:      sess.CompanyID,
		MessageID:      res.Message.ID,
		ConversationID: res.Conversation.ID,
		Event:          "automation_blocked",
		Detail:         masking.Text(string(class.Type)+": "+class.Reason, 500),
		Success:        true,
	}
	if err := p.repo.AppendLog(ctx, entry); err != nil {
		logrus.WithError(err).Error("[PIPELINE] failed to record automation block")
	}
}

// processReaction applies an upsert keyed by (target message, reactor); an
// empty emoji is a removal.
func (p *Pipeline) processReaction(ctx context.Context, evt *events.Message, targetID, emoji string) {
	target, err := p.repo.FindMessageByProviderID(ctx, targetID)
	if err != nil {
		logrus.Debugf("[PIPELINE] reaction target %s not stored, ignoring", targetID)
		return
	}

	reactor := evt.Info.Sender.User
	if strings.TrimSpace(emoji) == "" {
		if err := p.repo.DeleteReaction(ctx, target.ID, reactor); err != nil {
			logrus.WithError(err).Error("[PIPELINE] failed to remove reaction")
		}
		return
	}
	err = p.repo.UpsertReaction(ctx, &crm.Reaction{
		TargetMessageID: target.ID,
		ReactorPhone:    reactor,
		Emoji:           emoji,
	})
	if err != nil {
		logrus.WithError(err).Error("[PIPELINE] failed to store reaction")
	}
}

func participantOf(evt *events.Message) string {
	if evt.Info.Sender.User != evt.Info.Chat.User {
		return evt.Info.Sender.String()
	}
	return ""
}

// extractContent pulls text and a content type out of the proto variants.
func extractContent(evt *events.Message) (string, crm.ContentType) {
	msg := evt.Message
	if msg == nil {
		return "", crm.ContentText
	}

	if text := msg.GetConversation(); text != "" {
		return text, crm.ContentText
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil && ext.GetText() != "" {
		return ext.GetText(), crm.ContentText
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption(), crm.ContentImage
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption(), crm.ContentVideo
	}
	if msg.GetAudioMessage() != nil {
		return "", crm.ContentAudio
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetFileName(), crm.ContentDocument
	}
	if msg.GetStickerMessage() != nil {
		return "", crm.ContentSticker
	}
	return "", crm.ContentText
}
