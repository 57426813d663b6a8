package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/pkg/apperr"
)

func TestSplitReply(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		want   []string
	}{
		{
			name:   "single paragraph",
			answer: "Olá! Como posso ajudar?",
			want:   []string{"Olá! Como posso ajudar?"},
		},
		{
			name:   "blank line split",
			answer: "Primeira parte.\n\nSegunda parte.",
			want:   []string{"Primeira parte.", "Segunda parte."},
		},
		{
			name:   "windows line endings",
			answer: "Um.\r\n\r\nDois.",
			want:   []string{"Um.", "Dois."},
		},
		{
			name:   "extra blank lines dropped",
			answer: "Um.\n\n\n\nDois.\n\n   \n\n",
			want:   []string{"Um.", "Dois."},
		},
		{
			name:   "empty answer",
			answer: "   \n\n  ",
			want:   []string{},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, SplitReply(c.answer))
		})
	}
}

func TestContainsMessage(t *testing.T) {
	history := []crm.Message{{ID: "a"}, {ID: "b"}}
	assert.True(t, containsMessage(history, "b"))
	assert.False(t, containsMessage(history, "c"))
	assert.False(t, containsMessage(nil, "a"))
}

func TestTranslateAIError_TransportFailureIsRetryable(t *testing.T) {
	err := translateAIError(errors.New("dial tcp: connection refused"))

	var pe *apperr.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, aiProvider, pe.Provider)
	assert.Equal(t, 0, pe.Code)
	assert.True(t, apperr.IsRetryable(err))
	assert.False(t, apperr.IsQuotaExhausted(err))
}

func TestRetryBackoff_DoublesPerAttempt(t *testing.T) {
	assert.Equal(t, time.Second, retryBackoff(1))
	assert.Equal(t, 2*time.Second, retryBackoff(2))
	assert.Equal(t, 4*time.Second, retryBackoff(3))
}

func TestChunkDelay(t *testing.T) {
	r := &Responder{cfg: testConfig()}
	r.cfg.AI.ChunkDelay = 1500 * time.Millisecond

	t.Run("persona without range uses the global delay", func(t *testing.T) {
		assert.Equal(t, 1500*time.Millisecond, r.chunkDelay(&crm.Persona{}))
		assert.Equal(t, 1500*time.Millisecond, r.chunkDelay(nil))
	})

	t.Run("fixed persona delay", func(t *testing.T) {
		p := &crm.Persona{MinReplyDelay: 100, MaxReplyDelay: 100}
		assert.Equal(t, 100*time.Millisecond, r.chunkDelay(p))
	})

	t.Run("ranged persona delay stays inside the bounds", func(t *testing.T) {
		p := &crm.Persona{MinReplyDelay: 50, MaxReplyDelay: 150}
		for i := 0; i < 20; i++ {
			d := r.chunkDelay(p)
			assert.GreaterOrEqual(t, d, 50*time.Millisecond)
			assert.LessOrEqual(t, d, 150*time.Millisecond)
		}
	})

	t.Run("inverted range clamps to the minimum", func(t *testing.T) {
		p := &crm.Persona{MinReplyDelay: 200, MaxReplyDelay: 100}
		assert.Equal(t, 200*time.Millisecond, r.chunkDelay(p))
	})
}

func TestReply_OpenCircuitYieldsToRules(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &fakeSender{})
	e.responder.breaker.Trip(aiProvider, time.Minute)

	replied := e.responder.Reply(context.Background(), inboundEvent("m1"), &crm.Persona{ID: "p1", Active: true}, func(string) string { return "" })
	assert.False(t, replied, "an open circuit must hand the message to rule evaluation")
}
