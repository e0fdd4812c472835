// Package api exposes the review workflow over HTTP. The UI consuming it
// lives elsewhere; this is the mutation and read surface it talks to.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/womatch-cli/internal/review"
)

// Server serves the review API.
type Server struct {
	reviews *review.Service
	port    int
}

// NewServer creates a review API server.
func NewServer(reviews *review.Service, port int) *Server {
	return &Server{reviews: reviews, port: port}
}

// Router builds the HTTP routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/work-orders", s.listPending)
		r.Get("/work-orders/{id}", s.workOrderDetail)
		r.Post("/work-orders/{id}/review", s.submitReview)
		r.Post("/matches/{id}/accept", s.matchDecision(s.reviews.AcceptMatch))
		r.Post("/matches/{id}/reject", s.matchDecision(s.reviews.RejectMatch))
		r.Post("/matches/{id}/reset", s.matchDecision(s.reviews.ResetMatch))
		r.Get("/metrics", s.metrics)
	})
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("api: listening", zap.Int("port", s.port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "api: shutdown")
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "api: serve")
		}
		return nil
	}
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	scenarioID := r.URL.Query().Get("scenario_id")
	if tenantID == "" || scenarioID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and scenario_id are required")
		return
	}

	wos, err := s.reviews.PendingWorkOrders(r.Context(), tenantID, scenarioID)
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"work_orders": wos})
}

func (s *Server) workOrderDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.reviews.WorkOrderDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	if detail == nil {
		writeError(w, http.StatusNotFound, "work order not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) matchDecision(apply func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := chi.URLParam(r, "id")
		if err := apply(r.Context(), matchID); err != nil {
			if isNotFound(err) {
				writeError(w, http.StatusNotFound, "match not found")
				return
			}
			writeServerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "match_id": matchID})
	}
}

type submitReviewRequest struct {
	Decisions map[string]bool `json:"decisions"`
	Notes     string          `json:"notes"`
}

func (s *Server) submitReview(w http.ResponseWriter, r *http.Request) {
	var req submitReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	workOrderID := chi.URLParam(r, "id")
	if err := s.reviews.SubmitReview(r.Context(), workOrderID, req.Decisions, req.Notes); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "work order not found")
			return
		}
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "work_order_id": workOrderID})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	scenarioID := r.URL.Query().Get("scenario_id")
	if tenantID == "" || scenarioID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and scenario_id are required")
		return
	}

	m, err := s.reviews.Metrics(r.Context(), tenantID, scenarioID)
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// isNotFound classifies store errors that name a missing row. The store
// reports these as plain errors, not typed sentinels.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeServerError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
