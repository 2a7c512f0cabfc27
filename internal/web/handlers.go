package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/position_monitor/internal/domain"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.service.Valuations())
}

func (s *Server) handleCreatePosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pair       string  `json:"pair"`
		Side       string  `json:"side"`
		EntryPrice float64 `json:"entry_price"`
		Margin     float64 `json:"margin"`
		Leverage   int     `json:"leverage"`
		TakeProfit float64 `json:"take_profit"`
		StopLoss   float64 `json:"stop_loss"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Pair == "" || req.EntryPrice <= 0 {
		http.Error(w, "pair and entry_price are required", http.StatusBadRequest)
		return
	}
	side := domain.Side(req.Side)
	if side != domain.SideLong && side != domain.SideShort {
		http.Error(w, "side must be LONG or SHORT", http.StatusBadRequest)
		return
	}
	if req.Leverage < 1 {
		req.Leverage = 1
	}

	pos := &domain.Position{
		ID:           uuid.NewString(),
		Pair:         req.Pair,
		Side:         side,
		EntryPrice:   req.EntryPrice,
		Margin:       req.Margin,
		Leverage:     req.Leverage,
		TakeProfit:   req.TakeProfit,
		StopLoss:     req.StopLoss,
		Status:       domain.StatusActive,
		CurrentPrice: req.EntryPrice,
		CreatedAt:    time.Now(),
	}
	if err := s.positions.SavePosition(r.Context(), pos); err != nil {
		s.logger.Error("Failed to save position", zap.Error(err))
		http.Error(w, "Failed to save position", http.StatusInternalServerError)
		return
	}

	if err := s.service.Reload(r.Context()); err != nil {
		s.logger.Error("Failed to reload after create", zap.Error(err))
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, pos)
}

// handleClosePosition performs a manual close. The monitor itself only flags
// TP/SL hits; CLOSED always comes from outside.
func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status := domain.StatusClosed
	now := time.Now()
	update := domain.PositionUpdate{Status: &status, ClosedAt: &now}

	if err := s.positions.UpdatePosition(r.Context(), id, update); err != nil {
		s.logger.Error("Failed to close position", zap.String("id", id), zap.Error(err))
		http.Error(w, "Failed to close position", http.StatusConflict)
		return
	}

	if err := s.service.Reload(r.Context()); err != nil {
		s.logger.Error("Failed to reload after close", zap.Error(err))
	}

	s.writeJSON(w, map[string]string{"status": "closed"})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListActiveAlertRules(r.Context())
	if err != nil {
		s.logger.Error("Failed to list alert rules", zap.Error(err))
		http.Error(w, "Failed to list alert rules", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rules)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionID string  `json:"position_id"`
		Condition  string  `json:"condition_type"`
		Value      float64 `json:"condition_value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	cond := domain.ConditionType(req.Condition)
	switch cond {
	case domain.ConditionPrice, domain.ConditionPLPercentage, domain.ConditionPLUSD:
	default:
		http.Error(w, "condition_type must be PRICE, PL_PERCENTAGE or PL_USD", http.StatusBadRequest)
		return
	}

	if _, err := s.positions.GetPosition(r.Context(), req.PositionID); err != nil {
		http.Error(w, "position not found", http.StatusBadRequest)
		return
	}

	rule := &domain.AlertRule{
		ID:         uuid.NewString(),
		PositionID: req.PositionID,
		Condition:  cond,
		Value:      req.Value,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	if err := s.rules.SaveAlertRule(r.Context(), rule); err != nil {
		s.logger.Error("Failed to save alert rule", zap.Error(err))
		http.Error(w, "Failed to save alert rule", http.StatusInternalServerError)
		return
	}

	if err := s.service.Reload(r.Context()); err != nil {
		s.logger.Error("Failed to reload after alert create", zap.Error(err))
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, rule)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.rules.DeleteAlertRule(r.Context(), id); err != nil {
		s.logger.Error("Failed to delete alert rule", zap.String("id", id), zap.Error(err))
		http.Error(w, "Failed to delete alert rule", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.service.Ticks())
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.service.Notifications().Active())
}

func (s *Server) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	s.service.Notifications().Dismiss(r.PathValue("id"))
	s.writeJSON(w, map[string]string{"status": "dismissed"})
}

func (s *Server) handleHoverNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hovering bool `json:"hovering"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.service.Notifications().SetHover(r.PathValue("id"), req.Hovering)
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleActivateNotification(w http.ResponseWriter, r *http.Request) {
	activated := s.service.Notifications().Activate(r.PathValue("id"))
	s.writeJSON(w, map[string]bool{"activated": activated})
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.navigation.Pop(); ok {
		s.writeJSON(w, map[string]string{"position_id": id})
		return
	}
	s.writeJSON(w, map[string]string{})
}
