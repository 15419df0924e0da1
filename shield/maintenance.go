package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MaintenanceStatus is the flag as last read from the database.
type MaintenanceStatus struct {
	Active    bool   `json:"active"`
	Message   string `json:"message,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// MaintenanceMode answers 503 while the maintenance flag is set. The flag is
// polled from the maintenance table; a missing table or row reads as off.
type MaintenanceMode struct {
	db      *sql.DB
	exclude []string
	logger  *slog.Logger

	// RetryAfter is sent with every 503.
	RetryAfter time.Duration
	// Interval is the reload period of StartReloader.
	Interval time.Duration

	mu     sync.RWMutex
	status MaintenanceStatus
}

// NewMaintenanceMode reads the flag once. Paths starting with one of
// exclude are always served.
func NewMaintenanceMode(db *sql.DB, exclude ...string) *MaintenanceMode {
	m := &MaintenanceMode{
		db:         db,
		exclude:    exclude,
		logger:     slog.Default(),
		RetryAfter: 5 * time.Minute,
		Interval:   5 * time.Second,
	}
	m.reload(context.Background())
	return m
}

// Status returns the cached flag.
func (m *MaintenanceMode) Status() MaintenanceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Active reports whether maintenance is on.
func (m *MaintenanceMode) Active() bool { return m.Status().Active }

// Message returns the message sent with the 503.
func (m *MaintenanceMode) Message() string {
	if s := m.Status().Message; s != "" {
		return s
	}
	return DefaultMaintenanceMessage
}

// StartReloader polls the flag every Interval until done is closed.
func (m *MaintenanceMode) StartReloader(done <-chan struct{}) {
	tick := time.NewTicker(m.Interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				m.reload(context.Background())
			}
		}
	}()
}

func (m *MaintenanceMode) reload(ctx context.Context) {
	if m.db == nil {
		return
	}
	var (
		next   MaintenanceStatus
		active int
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT active, message, updated_at FROM maintenance WHERE id = 1`).
		Scan(&active, &next.Message, &next.UpdatedAt)
	if err != nil {
		next = MaintenanceStatus{}
	}
	next.Active = active == 1

	m.mu.Lock()
	prev := m.status
	m.status = next
	m.mu.Unlock()

	switch {
	case next.Active && !prev.Active:
		m.logger.Warn("maintenance: enabled", "message", next.Message)
	case !next.Active && prev.Active:
		m.logger.Info("maintenance: disabled")
	}
}

// Middleware serves 503 with a JSON body while maintenance is on.
func (m *MaintenanceMode) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Active() || m.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(m.RetryAfter.Seconds())))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   "maintenance",
			"message": m.Message(),
		})
	})
}

func (m *MaintenanceMode) excluded(path string) bool {
	for _, p := range m.exclude {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
