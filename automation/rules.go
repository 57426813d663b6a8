package automation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/infrastructure/whatsapp"
)

// TriggerMessageReceived is the only trigger fired by the inbound path.
const TriggerMessageReceived = "message_received"

// RuleCondition matches one message attribute.
type RuleCondition struct {
	Field string `json:"field"` // content, chat_type, contact_type
	Op    string `json:"op"`    // contains, equals, starts_with
	Value string `json:"value"`
}

// RuleAction is one effect of a matched rule.
type RuleAction struct {
	Type  string `json:"type"` // reply, archive, disable_ai
	Value string `json:"value,omitempty"`
}

// runRules evaluates static rules for a message the AI did not answer.
// Each matched rule's actions run independently: one failed action never
// blocks the rest.
func (e *Engine) runRules(ctx context.Context, ev *whatsapp.InboundEvent) {
	rules, err := e.repo.ListActiveRules(ctx, ev.CompanyID, TriggerMessageReceived)
	if err != nil {
		logrus.WithError(err).Error("[RULES] failed to load rules")
		return
	}

	for _, rule := range rules {
		if !e.ruleMatches(rule, ev) {
			continue
		}
		e.audit(ctx, ev, "rule_matched", rule.Name, true)
		e.applyActions(ctx, rule, ev)
	}
}

func (e *Engine) ruleMatches(rule crm.AutomationRule, ev *whatsapp.InboundEvent) bool {
	if strings.TrimSpace(rule.Conditions) == "" {
		return true
	}
	var conditions []RuleCondition
	if err := json.Unmarshal([]byte(rule.Conditions), &conditions); err != nil {
		logrus.WithError(err).Warnf("[RULES] rule %s has malformed conditions, skipping", rule.ID)
		return false
	}

	for _, c := range conditions {
		if !conditionHolds(c, ev) {
			return false
		}
	}
	return true
}

func conditionHolds(c RuleCondition, ev *whatsapp.InboundEvent) bool {
	var subject string
	switch c.Field {
	case "content":
		subject = ev.Message.Content
	case "chat_type":
		subject = string(ev.Classification.Type)
	case "contact_type":
		subject = string(ev.Conversation.ContactType)
	default:
		return false
	}

	subject = strings.ToLower(subject)
	value := strings.ToLower(c.Value)
	switch c.Op {
	case "contains":
		return strings.Contains(subject, value)
	case "equals":
		return subject == value
	case "starts_with":
		return strings.HasPrefix(subject, value)
	default:
		return false
	}
}

func (e *Engine) applyActions(ctx context.Context, rule crm.AutomationRule, ev *whatsapp.InboundEvent) {
	var actions []RuleAction
	if err := json.Unmarshal([]byte(rule.Actions), &actions); err != nil {
		logrus.WithError(err).Warnf("[RULES] rule %s has malformed actions", rule.ID)
		return
	}

	deliver := e.deliverFunc(ctx, ev)
	for _, a := range actions {
		switch a.Type {
		case "reply":
			if a.Value == "" {
				continue
			}
			if id := deliver(a.Value); id == "" {
				e.audit(ctx, ev, "rule_action_failed", rule.Name+": reply", false)
				continue
			}
			if err := e.repo.SaveOutbound(ctx, &crm.Message{
				ConversationID: ev.Conversation.ID,
				SenderType:     crm.SenderSystem,
				Content:        a.Value,
				ContentType:    crm.ContentText,
				Status:         "sent",
			}); err != nil {
				logrus.WithError(err).Error("[RULES] failed to persist rule reply")
			}

		case "archive":
			if err := e.repo.ArchiveConversation(ctx, ev.Conversation.ID, true); err != nil {
				logrus.WithError(err).Error("[RULES] archive action failed")
				e.audit(ctx, ev, "rule_action_failed", rule.Name+": archive", false)
			}

		case "disable_ai":
			if err := e.repo.SetConversationAI(ctx, ev.Conversation.ID, false); err != nil {
				logrus.WithError(err).Error("[RULES] disable_ai action failed")
				e.audit(ctx, ev, "rule_action_failed", rule.Name+": disable_ai", false)
			}

		default:
			logrus.Warnf("[RULES] rule %s has unknown action type %q", rule.ID, a.Type)
		}
	}
}
