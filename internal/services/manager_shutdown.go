package services

import (
	"context"
	"log/slog"
)

// Shutdown stops the services in reverse dependency order: the HTTP server
// first, then the scheduler and worker, then the connections. Safe to call
// after a partial Init.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.server != nil {
		slog.Info("stopping http server")
		if err := m.server.Shutdown(ctx); err != nil {
			slog.Error("http server shutdown failed", "error", err)
		}
	}
	m.wg.Wait()

	if m.scheduler != nil {
		m.scheduler.Stop()
	}
	if m.worker != nil {
		// Start's context is cancelled by now; wait for the drain.
		select {
		case <-m.worker.Done():
		case <-ctx.Done():
			slog.Warn("timeout waiting for reindex worker")
		}
	}

	if m.natsProvider != nil {
		m.natsProvider.Close()
	}
	if m.sphinxClient != nil {
		if err := m.sphinxClient.Close(); err != nil {
			slog.Error("closing sphinx connection failed", "error", err)
		}
	}
	if m.cache != nil {
		if err := m.cache.Close(); err != nil {
			slog.Error("closing cache failed", "error", err)
		}
	}
	for _, db := range m.shardDBs {
		if err := db.Close(); err != nil {
			slog.Error("closing shard database failed", "error", err)
		}
	}
	if m.globalDB != nil {
		if err := m.globalDB.Close(); err != nil {
			slog.Error("closing global database failed", "error", err)
		}
	}
}
