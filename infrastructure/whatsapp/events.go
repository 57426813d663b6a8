package whatsapp

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/infrastructure/notify"
)

type contextKey string

const connectionIDKey contextKey = "connectionID"

func contextWithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, connectionIDKey, connectionID)
}

// ConnectionIDFromContext extracts the connection id captured at handler
// registration time.
func ConnectionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(connectionIDKey).(string); ok {
		return v
	}
	return ""
}

// handleEvent is the per-session whatsmeow event dispatcher. The session was
// captured by the registering closure, so no global lookup is needed.
func (m *Manager) handleEvent(ctx context.Context, sess *Session, rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		m.handleConnected(ctx, sess)

	case *events.PairSuccess:
		logrus.Infof("[SESSION] %s paired with %s", sess.ConnectionID, evt.ID.String())

	case *events.Disconnected:
		m.handleDisconnected(ctx, sess)

	case *events.LoggedOut:
		// Remote logout (401 family): retrying would loop on dead credentials.
		logrus.Warnf("[SESSION] %s logged out remotely (reason %d), not retrying", sess.ConnectionID, int(evt.Reason))
		m.teardownSession(ctx, sess, crm.StatusDisconnected)

	case *events.ConnectFailure:
		if evt.Reason.IsLoggedOut() {
			logrus.Warnf("[SESSION] %s connect failed: logged out, not retrying", sess.ConnectionID)
			m.teardownSession(ctx, sess, crm.StatusDisconnected)
			return
		}
		// Unknown failure code: a retry storm against a broken account is
		// worse than waiting for an operator.
		logrus.Errorf("[SESSION] %s connect failure %d (%s), not retrying", sess.ConnectionID, int(evt.Reason), evt.Message)
		m.teardownSession(ctx, sess, crm.StatusFailed)

	case *events.StreamError:
		logrus.Errorf("[SESSION] %s stream error code=%s, not retrying", sess.ConnectionID, evt.Code)
		m.teardownSession(ctx, sess, crm.StatusFailed)

	case *events.StreamReplaced:
		// Another process took over this account's stream.
		logrus.Errorf("[SESSION] %s stream replaced by another client", sess.ConnectionID)
		m.teardownSession(ctx, sess, crm.StatusFailed)

	case *events.Message:
		m.pipeline.Dispatch(ctx, sess, evt)

	case *events.Receipt:
		logrus.Debugf("[SESSION] %s receipt %s from %s", sess.ConnectionID, evt.Type, evt.SourceString())
	}
}

func (m *Manager) handleConnected(ctx context.Context, sess *Session) {
	phone := ""
	if sess.client.Store != nil && sess.client.Store.ID != nil {
		phone = sess.client.Store.ID.User
	}

	if phone != "" && !m.claimPhone(phone, sess.ConnectionID) {
		logrus.Errorf("[SESSION] %s authenticated as %s which is already owned by another connection, disconnecting",
			sess.ConnectionID, phone)
		sess.disconnect()
		sess.setStatus(crm.StatusFailed)
		_ = m.repo.UpdateConnectionStatus(ctx, sess.ConnectionID, crm.StatusFailed)
		return
	}

	sess.setPhone(phone)
	sess.resetAttempts()
	sess.setStatus(crm.StatusConnected)

	connectionID := sess.ConnectionID
	// Clear the QR first: UpdateConnectionQR flips status to qr as a side
	// effect, the status write below must win.
	_ = m.repo.UpdateConnectionQR(ctx, connectionID, "")
	_ = m.repo.UpdateConnectionStatus(ctx, connectionID, crm.StatusConnected)
	if phone != "" {
		_ = m.repo.UpdateConnectionPhone(ctx, connectionID, phone)
	}

	if len(sess.client.Store.PushName) > 0 {
		_ = sess.client.SendPresence(context.Background(), types.PresenceAvailable)
	}

	logrus.Infof("[SESSION] %s connected as %s", connectionID, phone)
	notify.Emit("connection.connected", map[string]any{
		"connection_id": connectionID,
		"phone":         phone,
	})
	m.pipeline.Replay(contextWithConnectionID(context.Background(), connectionID), sess)
}

// handleDisconnected drives the capped reconnect policy: a fixed delay
// between attempts and a hard stop once the cap is reached.
func (m *Manager) handleDisconnected(ctx context.Context, sess *Session) {
	sess.setStatus(crm.StatusDisconnected)
	_ = m.repo.UpdateConnectionStatus(ctx, sess.ConnectionID, crm.StatusDisconnected)

	attempt, allowed := sess.nextAttempt(m.cfg.Whatsapp.MaxReconnects)
	if !allowed {
		logrus.Errorf("[SESSION] %s exhausted %d reconnect attempts, giving up", sess.ConnectionID, m.cfg.Whatsapp.MaxReconnects)
		sess.setStatus(crm.StatusFailed)
		_ = m.repo.UpdateConnectionStatus(ctx, sess.ConnectionID, crm.StatusFailed)
		notify.Emit("connection.failed", map[string]any{
			"connection_id": sess.ConnectionID,
			"reason":        "reconnect attempts exhausted",
		})
		return
	}

	delay := m.cfg.Whatsapp.ReconnectDelay
	logrus.Warnf("[SESSION] %s disconnected, reconnect attempt %d/%d in %v",
		sess.ConnectionID, attempt, m.cfg.Whatsapp.MaxReconnects, delay)

	go func() {
		time.Sleep(delay)
		if sess.client.IsConnected() {
			return
		}
		sess.setStatus(crm.StatusConnecting)
		if err := sess.client.Connect(); err != nil {
			logrus.WithError(err).Errorf("[SESSION] %s reconnect attempt %d failed", sess.ConnectionID, attempt)
		}
	}()
}

// teardownSession disconnects and forgets a session without deleting auth
// material unless the account was remotely logged out.
func (m *Manager) teardownSession(ctx context.Context, sess *Session, status crm.ConnectionStatus) {
	sess.disconnect()
	sess.setStatus(status)
	m.dropSession(sess.ConnectionID)
	if status == crm.StatusDisconnected {
		// Logged out: the stored credentials are dead, remove them so the
		// next EnsureSession starts a fresh QR pairing.
		m.removeSessionFiles(sess.ConnectionID)
	}
	_ = m.repo.UpdateConnectionStatus(ctx, sess.ConnectionID, status)
	notify.Emit("connection.down", map[string]any{
		"connection_id": sess.ConnectionID,
		"status":        string(status),
	})
}
