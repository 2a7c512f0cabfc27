package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/position_monitor/internal/domain"
	"go.uber.org/zap"
)

// NotificationConfig controls transient notification behaviour.
type NotificationConfig struct {
	// DismissAfter is the auto-dismiss duration for a shown notification.
	DismissAfter time.Duration
	// SystemEnabled mirrors notifications to the SystemNotifier when set.
	SystemEnabled bool
}

func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{DismissAfter: 7 * time.Second}
}

// NotificationCenter owns the transient queue of on-screen alerts: creation,
// dedup, auto-dismiss timers, pause-on-hover and the navigation callback.
// The queue holds at most one notification per dedup ID.
type NotificationCenter struct {
	logger    *zap.Logger
	system    domain.SystemNotifier // optional
	navigator domain.Navigator      // optional
	cfg       NotificationConfig

	mu      sync.Mutex
	queue   []*domain.Notification
	timers  map[string]*time.Timer
	hovered map[string]bool
	stopped bool
}

func NewNotificationCenter(system domain.SystemNotifier, navigator domain.Navigator, logger *zap.Logger, cfg NotificationConfig) *NotificationCenter {
	return &NotificationCenter{
		logger:    logger,
		system:    system,
		navigator: navigator,
		cfg:       cfg,
		timers:    make(map[string]*time.Timer),
		hovered:   make(map[string]bool),
	}
}

// Show queues a notification. A notification with the same dedup ID replaces
// the existing one in place and restarts its dismiss timer; the queue never
// holds duplicates.
func (c *NotificationCenter) Show(n *domain.Notification) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	replaced := false
	for i, existing := range c.queue {
		if existing.ID == n.ID {
			c.queue[i] = n
			replaced = true
			break
		}
	}
	if !replaced {
		c.queue = append(c.queue, n)
	}

	if t, ok := c.timers[n.ID]; ok {
		t.Stop()
		delete(c.timers, n.ID)
	}
	if !c.hovered[n.ID] {
		c.startTimerLocked(n.ID)
	}
	c.mu.Unlock()

	if c.cfg.SystemEnabled && c.system != nil {
		// Best effort only; a failed system notification is never an error.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.system.Send(ctx, n.Title, n.Message); err != nil {
				c.logger.Debug("system notification failed", zap.String("id", n.ID), zap.Error(err))
			}
		}()
	}
}

// Dismiss removes a notification and cancels its timer. Idempotent: a
// dismiss racing with an auto-expiry is a no-op, not an error.
func (c *NotificationCenter) Dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dismissLocked(id)
}

func (c *NotificationCenter) dismissLocked(id string) {
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	delete(c.hovered, id)

	for i, n := range c.queue {
		if n.ID == id {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// SetHover pauses expiry while the user hovers the notification. Leaving
// hover restarts a full fresh dismiss duration, not the remainder.
func (c *NotificationCenter) SetHover(id string, hovering bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	present := false
	for _, n := range c.queue {
		if n.ID == id {
			present = true
			break
		}
	}
	if !present {
		return
	}

	if hovering {
		c.hovered[id] = true
		if t, ok := c.timers[id]; ok {
			t.Stop()
			delete(c.timers, id)
		}
		return
	}

	delete(c.hovered, id)
	if t, ok := c.timers[id]; ok {
		t.Stop()
	}
	c.startTimerLocked(id)
}

// Activate handles a user click: the notification is dismissed first, then
// the navigator is signalled with the referenced position. Returns false if
// the notification already expired.
func (c *NotificationCenter) Activate(id string) bool {
	c.mu.Lock()
	var positionID string
	found := false
	for _, n := range c.queue {
		if n.ID == id {
			positionID = n.PositionID
			found = true
			break
		}
	}
	if found {
		c.dismissLocked(id)
	}
	c.mu.Unlock()

	if !found {
		return false
	}
	if c.navigator != nil {
		c.navigator.GoToPosition(positionID)
	}
	return true
}

// Active returns a snapshot of the queued notifications in display order.
func (c *NotificationCenter) Active() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Notification, len(c.queue))
	for i, n := range c.queue {
		out[i] = *n
	}
	return out
}

// PendingTimers returns the number of armed dismiss timers.
func (c *NotificationCenter) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Stop cancels every timer and clears the queue. Show is a no-op afterwards.
func (c *NotificationCenter) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.queue = nil
	c.hovered = make(map[string]bool)
}

func (c *NotificationCenter) startTimerLocked(id string) {
	var t *time.Timer
	t = time.AfterFunc(c.cfg.DismissAfter, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// A replacement or hover may have re-armed the timer after this one
		// fired; only the currently registered timer may dismiss.
		if c.timers[id] != t {
			return
		}
		c.dismissLocked(id)
	})
	c.timers[id] = t
}
