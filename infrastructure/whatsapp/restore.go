package whatsapp

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/zapfunnel/zapfunnel/pkg/distlock"
)

// RestoreAll re-establishes every active protocol session at boot. When a
// distributed lock is provided, only one replica runs the sweep; if the lock
// backend itself is unreachable we favor availability and restore anyway.
func (m *Manager) RestoreAll(ctx context.Context, lock *distlock.Lock) {
	if lock != nil {
		acquired, err := lock.TryAcquire(ctx)
		if err != nil {
			logrus.WithError(err).Warn("[RESTORE] lock backend unreachable, restoring without coordination")
		} else if !acquired {
			logrus.Info("[RESTORE] another replica holds the restore lock, skipping sweep")
			return
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				logrus.WithError(err).Warn("[RESTORE] failed to release restore lock")
			}
		}()
	}

	conns, err := m.repo.ListActiveProtocolConnections(ctx)
	if err != nil {
		logrus.WithError(err).Error("[RESTORE] failed to list connections")
		return
	}

	restored, failed := 0, 0
	for _, conn := range conns {
		if _, err := m.EnsureSession(ctx, conn.ID); err != nil {
			// One broken connection must not abort the sweep.
			logrus.WithError(err).Errorf("[RESTORE] failed to restore connection %s", conn.ID)
			failed++
			continue
		}
		restored++
	}
	logrus.Infof("[RESTORE] sweep done: %d restored, %d failed", restored, failed)
}
