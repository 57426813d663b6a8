package automation

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"

	"github.com/zapfunnel/zapfunnel/core/config"
	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/infrastructure/notify"
	"github.com/zapfunnel/zapfunnel/infrastructure/whatsapp"
	"github.com/zapfunnel/zapfunnel/pkg/apperr"
	"github.com/zapfunnel/zapfunnel/pkg/breaker"
)

const aiProvider = "openai"

// DeliverFunc sends one chunk of text and returns the provider message id,
// or "" on failure.
type DeliverFunc func(text string) string

// Responder produces AI replies: builds the prompt, calls the model with a
// bounded retry policy behind a circuit breaker, splits the answer into
// chunks and paces the sends.
type Responder struct {
	cfg     *config.Config
	repo    crm.Repository
	breaker *breaker.Registry
}

func NewResponder(cfg *config.Config, repo crm.Repository, br *breaker.Registry) *Responder {
	return &Responder{cfg: cfg, repo: repo, breaker: br}
}

// Reply answers the triggering message. Returns true when the AI produced and
// delivered a reply (including the canned quota fallback), false when rule
// evaluation should take over.
func (r *Responder) Reply(ctx context.Context, ev *whatsapp.InboundEvent, persona *crm.Persona, deliver DeliverFunc) bool {
	if r.breaker.IsOpen(aiProvider) {
		logrus.Warnf("[RESPONDER] circuit open for %s, skipping AI reply", aiProvider)
		return false
	}

	history, err := r.repo.ListHistory(ctx, ev.Conversation.ID, r.cfg.AI.HistoryLimit)
	if err != nil {
		logrus.WithError(err).Error("[RESPONDER] failed to load history")
		history = nil
	}
	// The triggering message must be in the prompt even when the history
	// read raced its own insert.
	if !containsMessage(history, ev.Message.ID) {
		history = append(history, *ev.Message)
	}

	sections, err := r.repo.ListPromptSections(ctx, persona.ID, DetectLanguage(ev.Message.Content))
	if err != nil {
		logrus.WithError(err).Warn("[RESPONDER] failed to load prompt sections")
	}
	systemPrompt := BuildPrompt(persona, sections)

	answer, err := r.complete(ctx, persona, systemPrompt, history)
	if err != nil {
		if apperr.IsQuotaExhausted(err) {
			// Dead credits: trip immediately and keep the contact informed.
			r.breaker.Trip(aiProvider, 5*time.Minute)
			logrus.WithError(err).Error("[RESPONDER] AI quota exhausted, sending fallback reply")
			notify.Emit("ai.quota_exhausted", map[string]any{
				"provider":   aiProvider,
				"company_id": ev.CompanyID,
			})
			r.sendChunks(ctx, ev, persona, []string{r.cfg.AI.FallbackReply}, deliver)
			return true
		}
		r.breaker.RecordFailure(aiProvider, 5, 2*time.Minute)
		logrus.WithError(err).Error("[RESPONDER] AI completion failed")
		return false
	}
	r.breaker.RecordSuccess(aiProvider)

	chunks := SplitReply(answer)
	if len(chunks) == 0 {
		return false
	}
	r.sendChunks(ctx, ev, persona, chunks, deliver)
	return true
}

// complete calls the model, retrying only transient failures.
func (r *Responder) complete(ctx context.Context, persona *crm.Persona, systemPrompt string, history []crm.Message) (string, error) {
	client := openai.NewClient(option.WithAPIKey(r.cfg.AI.OpenAIKey))

	model := persona.Model
	if model == "" {
		model = r.cfg.AI.DefaultModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		if m.SenderType == crm.SenderAI {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(persona.Temperature),
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.AI.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.AI.RequestTimeout)
		completion, err := client.Chat.Completions.New(callCtx, params)
		cancel()
		if err == nil {
			if len(completion.Choices) == 0 {
				return "", apperr.InternalServerError("AI returned no choices")
			}
			return completion.Choices[0].Message.Content, nil
		}

		lastErr = translateAIError(err)
		if !apperr.IsRetryable(lastErr) {
			return "", lastErr
		}
		if attempt < r.cfg.AI.MaxRetries {
			backoff := retryBackoff(attempt)
			logrus.Warnf("[RESPONDER] AI attempt %d/%d failed (%v), retrying in %v",
				attempt, r.cfg.AI.MaxRetries, lastErr, backoff)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return "", lastErr
}

// translateAIError maps SDK errors onto ProviderError so the retry and quota
// policies see one shape.
func translateAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &apperr.ProviderError{Provider: aiProvider, Code: apiErr.StatusCode, Message: apiErr.Error()}
	}
	// Transport level failure, treated as retryable.
	return &apperr.ProviderError{Provider: aiProvider, Code: 0, Message: err.Error()}
}

// retryBackoff doubles the wait per attempt: 1s, 2s, 4s.
func retryBackoff(attempt int) time.Duration {
	return time.Second << uint(attempt-1)
}

// chunkDelay returns the pause between reply bubbles. Personas may define a
// millisecond range to randomize pacing; otherwise the global delay applies.
func (r *Responder) chunkDelay(persona *crm.Persona) time.Duration {
	if persona == nil || (persona.MinReplyDelay <= 0 && persona.MaxReplyDelay <= 0) {
		return r.cfg.AI.ChunkDelay
	}
	lo, hi := persona.MinReplyDelay, persona.MaxReplyDelay
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	d := lo
	if spread := hi - lo; spread > 0 {
		d += rand.Intn(spread + 1)
	}
	return time.Duration(d) * time.Millisecond
}

// sendChunks delivers chunks in order with a pause between them, persisting
// each delivered chunk as its own AI message.
func (r *Responder) sendChunks(ctx context.Context, ev *whatsapp.InboundEvent, persona *crm.Persona, chunks []string, deliver DeliverFunc) {
	for i, chunk := range chunks {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.chunkDelay(persona)):
			}
		}

		providerID := deliver(chunk)
		if providerID == "" {
			logrus.Warnf("[RESPONDER] chunk %d/%d delivery returned no id", i+1, len(chunks))
		}

		err := r.repo.SaveOutbound(ctx, &crm.Message{
			ConversationID:    ev.Conversation.ID,
			ProviderMessageID: providerID,
			SenderType:        crm.SenderAI,
			Content:           chunk,
			ContentType:       crm.ContentText,
			Status:            "sent",
		})
		if err != nil {
			logrus.WithError(err).Error("[RESPONDER] failed to persist AI message")
		}
	}
}

// SplitReply breaks an answer on blank lines so long replies arrive as
// separate bubbles, the way a human types.
func SplitReply(answer string) []string {
	parts := strings.Split(strings.ReplaceAll(answer, "\r\n", "\n"), "\n\n")
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}
	return chunks
}

func containsMessage(history []crm.Message, id string) bool {
	for _, m := range history {
		if m.ID == id {
			return true
		}
	}
	return false
}
