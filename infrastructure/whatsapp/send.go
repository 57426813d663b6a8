package whatsapp

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zapfunnel/zapfunnel/pkg/apperr"
)

// SendText delivers a text message through a connection's session. It never
// returns an error: failures are logged and reported as an empty provider
// message id, so callers in reply paths cannot crash the pipeline.
func (m *Manager) SendText(ctx context.Context, connectionID, to, text string) string {
	sess := m.GetSession(connectionID)
	if sess == nil {
		logrus.Errorf("[SEND] no session for connection %s, message to %s dropped", connectionID, to)
		return ""
	}

	if !sess.IsConnected() {
		logrus.Warnf("[SEND] %s offline, message to %s dropped", connectionID, to)
		return ""
	}

	id, err := sess.sendText(ctx, to, text)
	if err != nil {
		logrus.WithError(err).Errorf("[SEND] %s failed to send to %s", connectionID, to)
		return ""
	}
	return id
}

// ValidateNumber checks whether a phone number is registered on WhatsApp and
// returns its canonical JID.
func (m *Manager) ValidateNumber(ctx context.Context, connectionID, phone string) (string, bool, error) {
	sess := m.GetSession(connectionID)
	if sess == nil || !sess.IsConnected() {
		return "", false, apperr.NotFoundError("no connected session for connection")
	}

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", false, apperr.ValidationError("phone: cannot be blank.")
	}

	resp, err := sess.client.IsOnWhatsApp(ctx, []string{phone})
	if err != nil {
		return "", false, apperr.InternalServerError("IsOnWhatsApp query failed: " + err.Error())
	}
	if len(resp) == 0 {
		return "", false, nil
	}
	return resp[0].JID.String(), resp[0].IsIn, nil
}

// CheckAvailability reports whether a connection can deliver right now.
func (m *Manager) CheckAvailability(connectionID string) bool {
	sess := m.GetSession(connectionID)
	return sess != nil && sess.IsConnected()
}
