package services

import (
	"context"
	"log/slog"
	"net/http"
)

// Start launches the reindex worker and the HTTP server. It returns once
// everything is running; serving continues until Shutdown.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.worker.Start(ctx); err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		slog.Info("http server listening", "addr", m.server.Addr)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	return nil
}
