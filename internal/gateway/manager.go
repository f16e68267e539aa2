package gateway

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	robfigcron "github.com/robfig/cron/v3"

	"github.com/wireloop/agentplane/internal/agent"
	"github.com/wireloop/agentplane/internal/auth"
	agentcontext "github.com/wireloop/agentplane/internal/context"
	"github.com/wireloop/agentplane/internal/jobs"
	"github.com/wireloop/agentplane/internal/sessions"
	"github.com/wireloop/agentplane/internal/tools"
	"github.com/wireloop/agentplane/pkg/models"
)

// idleTimeout is the per-connection inactivity threshold enforced by the
// background sweep, per SPEC_FULL.md §4.5 ("closes connections idle for
// >1 hour").
const idleTimeout = time.Hour

// sweepInterval is how often the background sweep runs, per SPEC_FULL.md
// §4.5 ("a background sweep runs every 5 minutes").
const sweepInterval = 5 * time.Minute

// ManagerConfig wires a Manager's shared dependencies. Registry, model, and
// context manager are stateless and shared across every connection; only
// the per-connection Controller holds session state.
type ManagerConfig struct {
	Store         sessions.Store
	Auth          *auth.Service
	Model         agent.ModelClient
	Registry      *tools.Registry
	ContextMgr    agentcontext.Manager
	WorkspaceRoot string
	Logger        *slog.Logger

	// Jobs, when set, backs the async compaction path (compact frame with
	// {"async": true}): the run is handed to jobs.Runner instead of blocking
	// the connection, per SPEC_FULL.md §4.4.
	Jobs jobs.Store

	MaxTurns        int
	MaxOutputTokens int
	TokenBudget     int
	SystemPrompt    string

	// IdleTimeout and SweepInterval override the package defaults (idleTimeout,
	// sweepInterval) when non-zero.
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	// BroadcastParallel sends broadcasts to connections concurrently instead
	// of one at a time.
	BroadcastParallel bool
}

// Manager owns every live Connection and the set-membership maps used for
// broadcast-by-user/by-session/by-all, per SPEC_FULL.md §4.5's broadcast
// utilities and §5's "Subscriber maps — protected by a mutex" rule.
//
// Grounded on the teacher's internal/gateway/broadcast.go BroadcastManager
// (mutex-protected routing maps) generalized from agent-peer groups to a
// connection registry, and singleton_lock.go/server.go's overall shape for
// owning a background sweep goroutine.
type Manager struct {
	store         sessions.Store
	auth          *auth.Service
	model         agent.ModelClient
	registry      *tools.Registry
	ctxManager    agentcontext.Manager
	workspaceRoot string
	logger        *slog.Logger
	jobRunner     *jobs.Runner

	maxTurns        int
	maxOutputTokens int
	tokenBudget     int
	systemPrompt    string

	mu        sync.Mutex
	byID      map[string]*Connection
	byUser    map[string]map[string]*Connection
	bySession map[string]*Connection

	cron              *robfigcron.Cron
	idleTimeout       time.Duration
	sweepInterval     time.Duration
	broadcastParallel bool
}

// NewManager builds a Manager and starts its background idle sweep.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctxMgr := cfg.ContextMgr
	if ctxMgr == nil {
		ctxMgr = agentcontext.NewDropOldestManager(agentcontext.CharTokenCounter{})
	}
	workspaceRoot := cfg.WorkspaceRoot
	if workspaceRoot == "" {
		workspaceRoot = "."
	}

	var runner *jobs.Runner
	if cfg.Jobs != nil {
		runner = jobs.NewRunner(cfg.Jobs)
	}

	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = idleTimeout
	}
	sweep := cfg.SweepInterval
	if sweep == 0 {
		sweep = sweepInterval
	}

	m := &Manager{
		store:           cfg.Store,
		auth:            cfg.Auth,
		model:           cfg.Model,
		registry:        cfg.Registry,
		ctxManager:      ctxMgr,
		workspaceRoot:   workspaceRoot,
		logger:          logger,
		jobRunner:       runner,
		maxTurns:        cfg.MaxTurns,
		maxOutputTokens: cfg.MaxOutputTokens,
		tokenBudget:     cfg.TokenBudget,
		systemPrompt:    cfg.SystemPrompt,
		byID:            make(map[string]*Connection),
		byUser:          make(map[string]map[string]*Connection),
		bySession:       make(map[string]*Connection),
		idleTimeout:       idle,
		sweepInterval:     sweep,
		broadcastParallel: cfg.BroadcastParallel,
	}

	m.cron = robfigcron.New()
	if _, err := m.cron.AddFunc("@every "+sweep.String(), m.sweepIdleConnections); err != nil {
		logger.Warn("gateway: failed to schedule idle sweep, running it inline instead", "error", err)
	} else {
		m.cron.Start()
	}
	return m
}

// Close stops the background sweep. It does not close live connections.
func (m *Manager) Close() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

func (m *Manager) controllerConfig() agent.ControllerConfig {
	cfg := agent.DefaultControllerConfig()
	if m.maxTurns > 0 {
		cfg.MaxTurns = m.maxTurns
	}
	if m.maxOutputTokens > 0 {
		cfg.MaxOutputTokens = m.maxOutputTokens
	}
	if m.tokenBudget > 0 {
		cfg.TokenBudget = m.tokenBudget
	}
	cfg.SystemPrompt = m.systemPrompt
	return cfg
}

// resumeOrCreateSession implements SPEC_FULL.md §4.5 step 2: resume the
// ChatSession named by sessionID if it exists, otherwise create a new
// workspace directory and SessionRecord, and record it as the "current"
// session for its workspace.
func (m *Manager) resumeOrCreateSession(ctx context.Context, sessionID, deviceID string) (*models.SessionRecord, []models.Turn, error) {
	if sessionID != "" {
		if rec, err := m.store.Get(ctx, sessionID); err == nil {
			turns, _, loadErr := m.store.LoadState(ctx, rec.ID)
			if loadErr != nil {
				turns = nil
			}
			return rec, turns, nil
		}
	}

	if sessionID == "" {
		if ptr, err := m.store.LoadCurrentPointer(ctx, m.workspaceRoot); err == nil && ptr.CurrentSessionID != "" {
			if rec, err := m.store.Get(ctx, ptr.CurrentSessionID); err == nil {
				turns, _, loadErr := m.store.LoadState(ctx, rec.ID)
				if loadErr != nil {
					turns = nil
				}
				return rec, turns, nil
			}
		}
	}

	id := sessionID
	if id == "" {
		id = uuid.NewString()
	}
	workspaceDir := filepath.Join(m.workspaceRoot, id)
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, nil, err
	}

	rec := &models.SessionRecord{ID: id, WorkspaceDir: workspaceDir, DeviceID: deviceID, Status: models.SessionActive}
	if err := m.store.Create(ctx, rec); err != nil {
		return nil, nil, err
	}
	_ = m.store.SaveCurrentPointer(ctx, models.CurrentStatePointer{
		CurrentSessionID: rec.ID,
		WorkspacePath:    workspaceDir,
		LastUpdated:      time.Now(),
	})
	return rec, nil, nil
}

// appendToStore returns an events.Handler that persists every event's
// turn snapshot, forming the database-appender subscriber named in
// SPEC_FULL.md §4.5 step 3. Persistence itself is driven off the
// Controller's own State via the connection's disconnect save and explicit
// compact/clear ops; this handler additionally bumps LastMessageAt on
// every observed event so idle tracking and metadata stay current.
func (m *Manager) appendToStore(sessionID string) func(models.Event) {
	return func(e models.Event) {
		rec, err := m.store.Get(context.Background(), sessionID)
		if err != nil {
			return
		}
		rec.LastMessageAt = time.Now()
		_ = m.store.Update(context.Background(), rec)
	}
}

// register adds a fully-initialized connection (post init_agent) to every
// membership map, serialized under the manager's mutex per SPEC_FULL.md
// §5's locking discipline.
func (m *Manager) register(c *Connection) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[c.id] = c
	if c.userID != "" {
		set, ok := m.byUser[c.userID]
		if !ok {
			set = make(map[string]*Connection)
			m.byUser[c.userID] = set
		}
		set[c.id] = c
	}
	if sessionID != "" {
		m.bySession[sessionID] = c
	}
}

func (m *Manager) unregister(c *Connection) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, c.id)
	if set, ok := m.byUser[c.userID]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(m.byUser, c.userID)
		}
	}
	if sessionID != "" && m.bySession[sessionID] == c {
		delete(m.bySession, sessionID)
	}
}

// BroadcastAll sends content to every live connection, concurrently when the
// manager was configured with BroadcastParallel.
func (m *Manager) BroadcastAll(eventType string, content map[string]any) {
	conns := m.snapshotAll()
	if !m.broadcastParallel {
		for _, c := range conns {
			c.sendOutbound(eventType, content)
		}
		return
	}
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			c.sendOutbound(eventType, content)
		}(c)
	}
	wg.Wait()
}

// BroadcastUser sends content to every live connection owned by userID.
func (m *Manager) BroadcastUser(userID, eventType string, content map[string]any) {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.byUser[userID]))
	for _, c := range m.byUser[userID] {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		c.sendOutbound(eventType, content)
	}
}

// BroadcastSession sends content to the connection owning sessionID, if any
// is currently live.
func (m *Manager) BroadcastSession(sessionID, eventType string, content map[string]any) {
	m.mu.Lock()
	c := m.bySession[sessionID]
	m.mu.Unlock()
	if c != nil {
		c.sendOutbound(eventType, content)
	}
}

func (m *Manager) snapshotAll() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		conns = append(conns, c)
	}
	return conns
}

// sweepIdleConnections closes every connection that has been idle for
// longer than idleTimeout, per SPEC_FULL.md §4.5.
func (m *Manager) sweepIdleConnections() {
	for _, c := range m.snapshotAll() {
		if c.idleSince() > m.idleTimeout {
			c.mu.Lock()
			sessionID := c.sessionID
			c.mu.Unlock()
			m.logger.Info("gateway: closing idle connection", "connection", c.id, "session_id", sessionID)
			c.cancel()
			_ = c.conn.Close()
		}
	}
}
