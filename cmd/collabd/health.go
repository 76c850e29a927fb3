package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/schedule-sync/internal/session"
	"github.com/rickgao/schedule-sync/internal/writer"
)

type healthReport struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

// healthHandler reports session counts and, when the journal is enabled,
// database reachability and journal backlog.
func healthHandler(registry *session.Registry, pool *pgxpool.Pool, journal *writer.EditJournal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := healthReport{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		stats := registry.Stats()
		health.Components["sessions"] = map[string]int{
			"active":      stats.Sessions,
			"idle":        stats.Idle,
			"connections": stats.Connections,
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "degraded"
				health.Components["journal_db"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["journal_db"] = "connected"
			}
		}
		if journal != nil {
			health.Components["journal"] = journal.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})
}
