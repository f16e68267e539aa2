package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wireloop/agentplane/internal/agent"
	"github.com/wireloop/agentplane/internal/events"
	"github.com/wireloop/agentplane/pkg/models"
)

const (
	connWriteWait  = 10 * time.Second
	connPongWait   = 45 * time.Second
	connPingPeriod = (connPongWait * 9) / 10
	connSendBuffer = 64
	confirmTimeout = 2 * time.Minute
)

// Connection owns one WebSocket <-> ChatSession mapping, per
// SPEC_FULL.md §4.5's per-connection lifecycle.
type Connection struct {
	id     string
	conn   *websocket.Conn
	mgr    *Manager
	logger *slog.Logger

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	userID string

	mu            sync.Mutex
	sessionID     string
	workspaceDir  string
	controller    *agent.Controller
	stream        *events.Stream
	streamHandles []events.Handle
	lastActivity  time.Time
	pending       map[string]chan models.ConfirmationResolution
	closed        bool
}

func newConnection(mgr *Manager, conn *websocket.Conn, userID string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		mgr:          mgr,
		logger:       mgr.logger,
		send:         make(chan []byte, connSendBuffer),
		ctx:          ctx,
		cancel:       cancel,
		userID:       userID,
		lastActivity: time.Now(),
		pending:      make(map[string]chan models.ConfirmationResolution),
	}
}

// serve runs the connection's read and write loops until the socket
// closes, then performs disconnect cleanup.
func (c *Connection) serve() {
	defer c.disconnect()
	go c.writeLoop()
	c.readLoop()
}

func (c *Connection) readLoop() {
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(connPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(connPongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.touch()

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.emitError("invalid frame: " + err.Error())
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(connPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(connWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(connWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *Connection) handleFrame(frame InboundFrame) {
	switch frame.Type {
	case InboundInitAgent:
		c.handleInitAgent(frame)
	case InboundUserMessage:
		c.handleUserMessage(frame)
	case InboundCancel:
		c.withController(func(ctrl *agent.Controller) { ctrl.Cancel() })
	case InboundClear:
		c.withController(func(ctrl *agent.Controller) { ctrl.Clear() })
	case InboundCompact:
		c.handleCompact(frame)
	case InboundToolConfirmationReply:
		c.handleConfirmationReply(frame)
	default:
		c.emitError(fmt.Sprintf("unsupported frame type %q", frame.Type))
	}
}

// handleInitAgent completes the handshake: create or resume a ChatSession
// keyed by the provided session id, subscribe the WebSocket pusher and the
// database appender to its EventStream, per SPEC_FULL.md §4.5 steps 2-3.
func (c *Connection) handleInitAgent(frame InboundFrame) {
	var content InitAgentContent
	_ = json.Unmarshal(frame.Content, &content)

	rec, turns, err := c.mgr.resumeOrCreateSession(c.ctx, content.SessionID, content.DeviceID)
	if err != nil {
		c.emitError("init_agent: " + err.Error())
		return
	}

	stream := events.New(events.DefaultConfig())
	cfg := c.mgr.controllerConfig()
	cfg.ConfirmFunc = c.confirm
	ctrl := agent.NewController(rec.ID, c.mgr.model, c.mgr.registry, c.mgr.ctxManager, stream, cfg)
	ctrl.Restore(turns)

	pushHandle := stream.Subscribe(c.pushToSocket)
	appendHandle := stream.Subscribe(c.mgr.appendToStore(rec.ID))

	c.mu.Lock()
	c.sessionID = rec.ID
	c.workspaceDir = rec.WorkspaceDir
	c.controller = ctrl
	c.stream = stream
	c.streamHandles = []events.Handle{pushHandle, appendHandle}
	c.mu.Unlock()

	c.mgr.register(c)

	c.sendOutbound(string(models.EventConnectionEstablished), map[string]any{"session_id": rec.ID})
}

func (c *Connection) handleUserMessage(frame InboundFrame) {
	var content UserMessageContent
	if err := json.Unmarshal(frame.Content, &content); err != nil {
		c.emitError("user_message: " + err.Error())
		return
	}
	ctrl := c.activeController()
	if ctrl == nil {
		c.emitError("user_message: no active session; send init_agent first")
		return
	}
	go func() {
		if _, err := ctrl.Run(c.ctx, content.Text, c.attachmentsToImages(content.Attachments)); err != nil {
			c.emitError("run: " + err.Error())
		}
	}()
}

// handleCompact runs Controller.Compact synchronously by default. When the
// frame opts into async compaction and the Manager has a job runner
// configured, the run is instead handed to internal/jobs; both paths report
// the same {originalTokens, newTokens, tokensSaved} shape, per
// SPEC_FULL.md §4.4.
func (c *Connection) handleCompact(frame InboundFrame) {
	var content CompactContent
	_ = json.Unmarshal(frame.Content, &content)

	ctrl := c.activeController()
	if ctrl == nil {
		return
	}

	if content.Async && c.mgr.jobRunner != nil {
		c.mu.Lock()
		sessionID := c.sessionID
		c.mu.Unlock()
		job, err := c.mgr.jobRunner.Enqueue(c.ctx, sessionID, ctrl)
		if err != nil {
			c.emitError("compact: " + err.Error())
			return
		}
		c.sendOutbound("COMPACT_QUEUED", map[string]any{"job_id": job.ID})
		return
	}

	go func() {
		report, err := ctrl.Compact(c.ctx)
		if err != nil {
			c.emitError("compact: " + err.Error())
			return
		}
		c.sendOutbound("COMPACT_COMPLETE", map[string]any{
			"original_tokens": report.OriginalTokens,
			"new_tokens":      report.NewTokens,
			"tokens_saved":    report.TokensSaved,
		})
	}()
}

// handleConfirmationReply resolves a pending ConfirmationTicket. This is
// the gateway side of the Controller's synchronous tools.ConfirmFunc
// callback: Run's goroutine blocks inside Dispatch until this arrives or
// confirmTimeout elapses, per SPEC_FULL.md §7's ConfirmationTimeout policy.
func (c *Connection) handleConfirmationReply(frame InboundFrame) {
	var content ToolConfirmationReplyContent
	if err := json.Unmarshal(frame.Content, &content); err != nil {
		c.emitError("tool_confirmation_response: " + err.Error())
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[content.ToolCallID]
	if ok {
		delete(c.pending, content.ToolCallID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	ch <- models.ConfirmationResolution{Approved: content.Approved, Alternative: content.Alternative}
}

// confirm implements tools.ConfirmFunc, invoked synchronously by the
// Dispatcher from within Controller.Run's goroutine. It publishes a
// TOOL_CONFIRMATION event (picked up by pushToSocket) and blocks for the
// matching tool_confirmation_response frame.
func (c *Connection) confirm(ctx context.Context, ticket models.ConfirmationTicket) (models.ConfirmationResolution, error) {
	ch := make(chan models.ConfirmationResolution, 1)
	c.mu.Lock()
	c.pending[ticket.ToolCallID] = ch
	c.mu.Unlock()

	c.sendOutbound(string(models.EventToolConfirmation), map[string]any{
		"tool_call_id": ticket.ToolCallID,
		"kind":         string(ticket.Kind),
		"message":      ticket.Message,
	})

	select {
	case res := <-ch:
		return res, nil
	case <-time.After(confirmTimeout):
		c.mu.Lock()
		delete(c.pending, ticket.ToolCallID)
		c.mu.Unlock()
		return models.ConfirmationResolution{Approved: false}, nil
	case <-ctx.Done():
		return models.ConfirmationResolution{Approved: false}, ctx.Err()
	}
}

// pushToSocket is the WebSocket pusher subscriber: it forwards every event
// on this session's stream as an outbound frame.
func (c *Connection) pushToSocket(e models.Event) {
	c.sendOutbound(string(e.Type), e.Content)
}

func (c *Connection) sendOutbound(typ string, content map[string]any) {
	frame := OutboundFrame{Type: typ, Content: content, Timestamp: time.Now()}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("gateway: dropping outbound frame, send buffer full", "connection", c.id, "type", typ)
	}
}

func (c *Connection) emitError(message string) {
	c.sendOutbound(string(models.EventError), map[string]any{"error": message})
}

func (c *Connection) activeController() *agent.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *Connection) withController(fn func(*agent.Controller)) {
	if ctrl := c.activeController(); ctrl != nil {
		fn(ctrl)
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Connection) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// disconnect saves State, unsubscribes both handlers, drains the stream
// with a short timeout, and removes the mapping, per SPEC_FULL.md §4.5
// step 5.
func (c *Connection) disconnect() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel() // stops writeLoop via ctx.Done(); the send channel is left for GC, never closed, so a racing sendOutbound can never panic on a closed channel
	_ = c.conn.Close()

	c.mu.Lock()
	ctrl := c.controller
	sessionID := c.sessionID
	stream := c.stream
	handles := c.streamHandles
	c.mu.Unlock()

	if ctrl != nil && sessionID != "" {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.mgr.store.SaveState(saveCtx, sessionID, ctrl.Snapshot(), models.Metadata{
			Version:      "2.0",
			SessionID:    sessionID,
			WorkspaceDir: c.workspaceDir,
		}); err != nil {
			c.logger.Warn("gateway: save state on disconnect failed", "session_id", sessionID, "error", err)
		}
		cancel()
	}

	if stream != nil {
		for _, h := range handles {
			stream.Unsubscribe(h)
		}
		time.Sleep(25 * time.Millisecond) // let queued events drain before the stream is abandoned
	}

	c.mgr.unregister(c)
}

// attachmentsToImages loads each attachment path from disk and base64-
// encodes it into an ImageRef, per SPEC_FULL.md §6's user_message
// attachments field and the persisted-state rule that image data is
// stored as base64 strings. Unreadable paths are skipped with a warning
// rather than failing the whole message.
func (c *Connection) attachmentsToImages(paths []string) []models.ImageRef {
	if len(paths) == 0 {
		return nil
	}
	refs := make([]models.ImageRef, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			c.logger.Warn("gateway: skipping unreadable attachment", "path", p, "error", err)
			continue
		}
		refs = append(refs, models.ImageRef{
			Data:     base64.StdEncoding.EncodeToString(data),
			MimeType: mime.TypeByExtension(filepath.Ext(p)),
		})
	}
	return refs
}
