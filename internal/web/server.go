package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/vitos/position_monitor/internal/domain"
	"github.com/vitos/position_monitor/internal/usecase"
	"go.uber.org/zap"
)

// Server exposes the monitor's state as plain JSON for a presentation layer
// to poll. The core has no rendering concerns.
type Server struct {
	router     *http.ServeMux
	server     *http.Server
	positions  domain.PositionRepository
	rules      domain.AlertRuleRepository
	service    *usecase.MonitorService
	navigation *NavigationBuffer
	logger     *zap.Logger
}

func NewServer(
	port int,
	positions domain.PositionRepository,
	rules domain.AlertRuleRepository,
	service *usecase.MonitorService,
	navigation *NavigationBuffer,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		positions:  positions,
		rules:      rules,
		service:    service,
		navigation: navigation,
		logger:     logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Positions
	s.router.HandleFunc("GET /api/positions", s.handleListPositions)
	s.router.HandleFunc("POST /api/positions", s.handleCreatePosition)
	s.router.HandleFunc("POST /api/positions/{id}/close", s.handleClosePosition)

	// Alert rules
	s.router.HandleFunc("GET /api/alerts", s.handleListAlerts)
	s.router.HandleFunc("POST /api/alerts", s.handleCreateAlert)
	s.router.HandleFunc("DELETE /api/alerts/{id}", s.handleDeleteAlert)

	// Notifications
	s.router.HandleFunc("GET /api/notifications", s.handleListNotifications)
	s.router.HandleFunc("POST /api/notifications/{id}/dismiss", s.handleDismissNotification)
	s.router.HandleFunc("POST /api/notifications/{id}/hover", s.handleHoverNotification)
	s.router.HandleFunc("POST /api/notifications/{id}/activate", s.handleActivateNotification)
	s.router.HandleFunc("GET /api/navigation", s.handleNavigation)

	// Market data
	s.router.HandleFunc("GET /api/ticks", s.handleTicks)

	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// NavigationBuffer is the in-process stand-in for the navigation
// collaborator: activating a notification stores the target position, the UI
// polls it away.
type NavigationBuffer struct {
	mu     sync.Mutex
	target string
}

func NewNavigationBuffer() *NavigationBuffer {
	return &NavigationBuffer{}
}

func (n *NavigationBuffer) GoToPosition(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.target = id
}

// Pop returns and clears the pending navigation target.
func (n *NavigationBuffer) Pop() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.target
	n.target = ""
	return id, id != ""
}
