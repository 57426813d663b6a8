package whatsapp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/zapfunnel/zapfunnel/core/config"
	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/pkg/apperr"
	"github.com/zapfunnel/zapfunnel/pkg/singleflight"
)

// Manager owns every live protocol session. One phone number maps to at most
// one connection; concurrent creation requests for the same connection share
// a single handshake.
type Manager struct {
	cfg      *config.Config
	repo     crm.Repository
	pipeline *Pipeline
	flight   *singleflight.Group[*Session]

	mu         sync.RWMutex
	sessions   map[string]*Session
	phoneOwner map[string]string // phone digits -> connection id
}

func NewManager(cfg *config.Config, repo crm.Repository, pipeline *Pipeline) *Manager {
	return &Manager{
		cfg:        cfg,
		repo:       repo,
		pipeline:   pipeline,
		flight:     singleflight.NewGroup[*Session](),
		sessions:   make(map[string]*Session),
		phoneOwner: make(map[string]string),
	}
}

// GetSession returns the live session for a connection, if any.
func (m *Manager) GetSession(connectionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[connectionID]
}

// SessionInfo is a status snapshot for monitoring endpoints.
type SessionInfo struct {
	ConnectionID string               `json:"connection_id"`
	Phone        string               `json:"phone"`
	Status       crm.ConnectionStatus `json:"status"`
	Connected    bool                 `json:"connected"`
}

// GetAllSessions snapshots every registered session.
func (m *Manager) GetAllSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionInfo{
			ConnectionID: s.ConnectionID,
			Phone:        s.Phone(),
			Status:       s.Status(),
			Connected:    s.IsConnected(),
		})
	}
	return out
}

// EnsureSession returns the existing live session or creates one. Concurrent
// callers for the same connection share one handshake instead of racing on
// the same auth material.
func (m *Manager) EnsureSession(ctx context.Context, connectionID string) (*Session, error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, apperr.ValidationError("connectionID: cannot be blank.")
	}

	if s := m.GetSession(connectionID); s != nil {
		return s, nil
	}

	sess, shared, err := m.flight.Do(ctx, connectionID, func() (*Session, error) {
		// Re-check under the flight: a racing caller may have finished.
		if s := m.GetSession(connectionID); s != nil {
			return s, nil
		}
		return m.createSession(ctx, connectionID)
	})
	if shared {
		logrus.Debugf("[SESSION] %s creation joined an in-flight handshake", connectionID)
	}
	return sess, err
}

// createSession builds the whatsmeow client for a connection and starts the
// login flow. New devices go through QR pairing; restored devices connect
// directly.
func (m *Manager) createSession(ctx context.Context, connectionID string) (*Session, error) {
	conn, err := m.repo.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Type != crm.ConnectionProtocolSession {
		return nil, apperr.ValidationError("connection is not a protocol session")
	}

	// A phone number can back at most one connection. The map is also checked
	// post-authentication, because the paired number is only certain then.
	if conn.PhoneNumber != "" {
		m.mu.RLock()
		owner, taken := m.phoneOwner[conn.PhoneNumber]
		m.mu.RUnlock()
		if taken && owner != connectionID {
			return nil, apperr.ConflictError("phone number " + conn.PhoneNumber + " is already in use by another connection")
		}
	}

	logrus.Infof("[SESSION] Creating WhatsApp client for connection %s", connectionID)

	dbURI := fmt.Sprintf("file:%s/whatsapp-%s.db?_foreign_keys=on", m.cfg.Paths.Storages, connectionID)
	container, err := sqlstore.New(ctx, "sqlite3", dbURI,
		waLog.Stdout(shortID("DB", connectionID), m.cfg.Whatsapp.LogLevel, true))
	if err != nil {
		return nil, apperr.InternalServerError(fmt.Sprintf("failed to init session store: %v", err))
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, apperr.InternalServerError(fmt.Sprintf("failed to get device: %v", err))
	}
	if device == nil {
		device = container.NewDevice()
	}

	client := whatsmeow.NewClient(device,
		waLog.Stdout(shortID("Client", connectionID), m.cfg.Whatsapp.LogLevel, true))
	client.EnableAutoReconnect = false // reconnects are policy-driven, see handleDisconnected
	client.AutoTrustIdentity = true

	sess := newSession(connectionID, conn.CompanyID, m.cfg.Whatsapp.PendingQueueLimit)
	sess.client = client
	sess.container = container

	capturedID := connectionID
	client.AddEventHandler(func(rawEvt interface{}) {
		m.handleEvent(contextWithConnectionID(context.Background(), capturedID), sess, rawEvt)
	})

	m.mu.Lock()
	m.sessions[connectionID] = sess
	m.mu.Unlock()

	if client.Store.ID == nil {
		if err := m.startQRLogin(ctx, sess); err != nil {
			m.dropSession(connectionID)
			return nil, err
		}
	} else {
		if err := client.Connect(); err != nil {
			m.dropSession(connectionID)
			return nil, apperr.InternalServerError(fmt.Sprintf("failed to connect: %v", err))
		}
	}

	_ = m.repo.UpdateConnectionStatus(ctx, connectionID, crm.StatusConnecting)
	return sess, nil
}

// startQRLogin wires the QR channel before connecting. Each emitted code is
// persisted for UI polling and rendered to a PNG.
func (m *Manager) startQRLogin(ctx context.Context, sess *Session) error {
	ch, err := sess.client.GetQRChannel(context.Background())
	if err != nil {
		return apperr.InternalServerError(fmt.Sprintf("failed to get QR channel: %v", err))
	}

	go func() {
		for evt := range ch {
			switch evt.Event {
			case "code":
				sess.setStatus(crm.StatusQR)
				if err := m.repo.UpdateConnectionQR(context.Background(), sess.ConnectionID, evt.Code); err != nil {
					logrus.WithError(err).Error("[SESSION] failed to persist QR code")
				}
				qrPath := fmt.Sprintf("%s/scan-qr-%s.png", m.cfg.Paths.QrCode, sess.ConnectionID)
				if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, qrPath); err != nil {
					logrus.Error("Error when write qr code to file: ", err)
				}
			case "success":
				logrus.Infof("[SESSION] %s QR pairing succeeded", sess.ConnectionID)
			default:
				logrus.Errorf("[SESSION] %s QR channel event %s: %v", sess.ConnectionID, evt.Event, evt.Error)
			}
		}
	}()

	if err := sess.client.Connect(); err != nil {
		return apperr.InternalServerError(fmt.Sprintf("failed to connect for QR login: %v", err))
	}
	return nil
}

// claimPhone enforces single ownership of a phone number across connections.
// Returns false when another live connection already authenticated with it.
func (m *Manager) claimPhone(phone, connectionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.phoneOwner[phone]
	if ok && owner != connectionID {
		if s, live := m.sessions[owner]; live && s.IsConnected() {
			return false
		}
		// Stale claim from a dead session, take it over.
	}
	m.phoneOwner[phone] = connectionID
	return true
}

func (m *Manager) releasePhone(phone, connectionID string) {
	if phone == "" {
		return
	}
	m.mu.Lock()
	if m.phoneOwner[phone] == connectionID {
		delete(m.phoneOwner, phone)
	}
	m.mu.Unlock()
}

func (m *Manager) dropSession(connectionID string) {
	m.mu.Lock()
	sess := m.sessions[connectionID]
	delete(m.sessions, connectionID)
	m.mu.Unlock()
	if sess != nil {
		m.releasePhone(sess.Phone(), connectionID)
	}
}

// DeleteSession logs the device out, removes auth material from disk and
// forgets the session.
func (m *Manager) DeleteSession(ctx context.Context, connectionID string) error {
	sess := m.GetSession(connectionID)
	if sess == nil {
		return apperr.NotFoundError("session not found")
	}

	if sess.client != nil && sess.client.IsLoggedIn() {
		if err := sess.client.Logout(ctx); err != nil {
			logrus.WithError(err).Warnf("[SESSION] %s logout failed, proceeding with local cleanup", connectionID)
		}
	}
	sess.disconnect()
	m.dropSession(connectionID)
	m.removeSessionFiles(connectionID)

	_ = m.repo.UpdateConnectionStatus(ctx, connectionID, crm.StatusDisconnected)
	logrus.Infof("[SESSION] %s deleted", connectionID)
	return nil
}

func (m *Manager) removeSessionFiles(connectionID string) {
	base := fmt.Sprintf("%s/whatsapp-%s.db", m.cfg.Paths.Storages, connectionID)
	for _, suffix := range []string{"", "-shm", "-wal"} {
		if err := os.Remove(base + suffix); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).Warnf("[SESSION] failed to remove %s", base+suffix)
		}
	}
}

// Shutdown disconnects every session without logging out, so auth material
// survives a restart.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.disconnect()
	}
	logrus.Infof("[SESSION] %d sessions disconnected for shutdown", len(sessions))
}

// shortID builds a compact log tag from a connection id.
func shortID(prefix, id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return prefix + "-" + id
}
