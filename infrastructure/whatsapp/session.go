package whatsapp

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/zapfunnel/zapfunnel/domains/crm"
)

// Session is one live protocol connection. All mutable state is guarded by
// mu; the whatsmeow client has its own internal synchronization.
type Session struct {
	ConnectionID string
	CompanyID    string

	client    *whatsmeow.Client
	container *sqlstore.Container

	mu         sync.Mutex
	status     crm.ConnectionStatus
	attempts   int
	pending    []*events.Message
	pendingCap int
	phone      string
}

func newSession(connectionID, companyID string, pendingCap int) *Session {
	if pendingCap <= 0 {
		pendingCap = 200
	}
	return &Session{
		ConnectionID: connectionID,
		CompanyID:    companyID,
		status:       crm.StatusConnecting,
		pendingCap:   pendingCap,
	}
}

func (s *Session) Status() crm.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st crm.ConnectionStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Phone returns the number this session authenticated as, once known.
func (s *Session) Phone() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phone
}

func (s *Session) setPhone(phone string) {
	s.mu.Lock()
	s.phone = phone
	s.mu.Unlock()
}

func (s *Session) IsConnected() bool {
	return s.client != nil && s.client.IsConnected() && s.client.IsLoggedIn()
}

// enqueueInbound buffers an event that arrived before the session reached
// connected. Oldest entries are dropped once the cap is hit; losing the
// newest would reorder the chat.
func (s *Session) enqueueInbound(evt *events.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.pendingCap {
		logrus.Warnf("[SESSION] %s pending queue full (%d), dropping oldest", s.ConnectionID, s.pendingCap)
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, evt)
}

// drainPending hands back the buffered events in arrival order and clears
// the queue.
func (s *Session) drainPending() []*events.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.pending
	s.pending = nil
	return queued
}

// sendText performs the raw protocol send and returns the provider message id.
func (s *Session) sendText(ctx context.Context, to, text string) (string, error) {
	jid, err := recipientJID(to)
	if err != nil {
		return "", err
	}
	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

// recipientJID accepts both full JIDs and bare phone numbers; plain digits
// are addressed as individual chats.
func recipientJID(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.JID{}, errors.New("empty recipient")
	}
	if !strings.Contains(to, "@") {
		return types.NewJID(to, types.DefaultUserServer), nil
	}
	return types.ParseJID(to)
}

func (s *Session) resetAttempts() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}

// nextAttempt bumps the reconnect counter and reports whether another retry
// is allowed under max.
func (s *Session) nextAttempt(max int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts, s.attempts <= max
}

func (s *Session) disconnect() {
	if s.client != nil {
		s.client.Disconnect()
	}
}
