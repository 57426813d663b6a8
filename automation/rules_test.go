package automation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapfunnel/zapfunnel/domains/crm"
)

func TestConditionHolds(t *testing.T) {
	ev := inboundEvent("m1")
	ev.Message.Content = "Quero saber o PREÇO do plano"

	cases := []struct {
		name string
		cond RuleCondition
		want bool
	}{
		{"content contains, case insensitive", RuleCondition{Field: "content", Op: "contains", Value: "preço"}, true},
		{"content contains miss", RuleCondition{Field: "content", Op: "contains", Value: "cancelar"}, false},
		{"content starts_with", RuleCondition{Field: "content", Op: "starts_with", Value: "quero"}, true},
		{"chat_type equals", RuleCondition{Field: "chat_type", Op: "equals", Value: "individual"}, true},
		{"contact_type equals", RuleCondition{Field: "contact_type", Op: "equals", Value: "active"}, true},
		{"unknown field", RuleCondition{Field: "weather", Op: "equals", Value: "sunny"}, false},
		{"unknown op", RuleCondition{Field: "content", Op: "regex", Value: ".*"}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, conditionHolds(c.cond, ev))
		})
	}
}

func TestRuleMatches(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &fakeSender{})
	ev := inboundEvent("m1")
	ev.Message.Content = "quero o preço"

	assert.True(t, e.ruleMatches(crm.AutomationRule{Conditions: ""}, ev),
		"a rule without conditions matches everything")

	assert.True(t, e.ruleMatches(crm.AutomationRule{
		Conditions: `[{"field":"content","op":"contains","value":"preço"},{"field":"chat_type","op":"equals","value":"individual"}]`,
	}, ev), "all conditions must hold")

	assert.False(t, e.ruleMatches(crm.AutomationRule{
		Conditions: `[{"field":"content","op":"contains","value":"preço"},{"field":"chat_type","op":"equals","value":"group"}]`,
	}, ev), "one failed condition rejects the rule")

	assert.False(t, e.ruleMatches(crm.AutomationRule{ID: "bad", Conditions: `{not json`}, ev),
		"malformed conditions never match")
}

func TestApplyActions_AllActionTypes(t *testing.T) {
	repo := newFakeRepo()
	repo.connections["conn-1"] = &crm.Connection{ID: "conn-1", Type: crm.ConnectionProtocolSession}
	sender := &fakeSender{id: "wamid.9"}
	e := newTestEngine(repo, sender)
	ev := inboundEvent("m1")

	rule := crm.AutomationRule{
		ID:      "r1",
		Name:    "pós-venda",
		Actions: `[{"type":"reply","value":"Obrigado pelo contato!"},{"type":"archive"},{"type":"disable_ai"},{"type":"launch_rocket"}]`,
	}
	e.applyActions(context.Background(), rule, ev)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Obrigado pelo contato!", sender.sent[0])
	require.Len(t, repo.outbound, 1)
	assert.Equal(t, crm.SenderSystem, repo.outbound[0].SenderType)
	assert.True(t, repo.archived["conv-1"])
	aiActive, ok := repo.aiFlags["conv-1"]
	assert.True(t, ok)
	assert.False(t, aiActive)
}

func TestApplyActions_FailedReplyDoesNotBlockRest(t *testing.T) {
	repo := newFakeRepo()
	repo.connections["conn-1"] = &crm.Connection{ID: "conn-1", Type: crm.ConnectionProtocolSession}
	sender := &fakeSender{id: ""} // delivery returns no provider id
	e := newTestEngine(repo, sender)
	ev := inboundEvent("m1")

	rule := crm.AutomationRule{
		ID:      "r2",
		Name:    "despedida",
		Actions: `[{"type":"reply","value":"tchau"},{"type":"archive"}]`,
	}
	e.applyActions(context.Background(), rule, ev)

	assert.Empty(t, repo.outbound, "an undelivered reply is not persisted")
	assert.True(t, repo.hasEvent("rule_action_failed"))
	assert.True(t, repo.archived["conv-1"], "later actions still run after a failed one")
}

func TestRunRules_InactiveListAndMalformedActions(t *testing.T) {
	repo := newFakeRepo()
	repo.connections["conn-1"] = &crm.Connection{ID: "conn-1", Type: crm.ConnectionProtocolSession}
	repo.rules = []crm.AutomationRule{
		{ID: "r1", Name: "quebrada", Trigger: TriggerMessageReceived, Actions: `{not json`},
		{ID: "r2", Name: "ok", Trigger: TriggerMessageReceived, Actions: `[{"type":"archive"}]`},
	}

	e := newTestEngine(repo, &fakeSender{})
	e.runRules(context.Background(), inboundEvent("m1"))

	assert.True(t, repo.archived["conv-1"], "a malformed rule must not block the next one")
}
