package telegram

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wireloop/agentplane/internal/agent"
	"github.com/wireloop/agentplane/internal/channels"
	agentcontext "github.com/wireloop/agentplane/internal/context"
	"github.com/wireloop/agentplane/internal/events"
	"github.com/wireloop/agentplane/internal/sessions"
	"github.com/wireloop/agentplane/internal/tools"
	"github.com/wireloop/agentplane/pkg/models"
)

// chatSession pairs one Telegram chat with its own Controller and event
// stream, mirroring the one-Controller-per-connection rule the WebSocket
// gateway enforces for SPEC_FULL.md §4.5, keyed here by chat id instead of
// by socket.
type chatSession struct {
	controller *agent.Controller
	stream     *events.Stream
	sessionID  string
}

// Bridge wires a telegram.Adapter to the core Controller, the secondary
// transport's equivalent of internal/gateway.Manager: one session per chat
// id rather than per WebSocket connection, same Controller/Stream wiring
// underneath.
//
// Grounded on internal/gateway/connection.go's handleInitAgent (session
// resume/create, stream subscription, Controller construction) and
// internal/gateway/manager.go's ManagerConfig (the shared, stateless
// dependencies every session construction needs).
type Bridge struct {
	adapter       *Adapter
	store         sessions.Store
	model         agent.ModelClient
	registry      *tools.Registry
	ctxManager    agentcontext.Manager
	workspaceRoot string
	logger        *slog.Logger
	cfg           agent.ControllerConfig

	mu       sync.Mutex
	sessions map[string]*chatSession // keyed by ChannelMessage.ChatID
}

// BridgeConfig wires a Bridge's dependencies; see ManagerConfig for the
// WebSocket-gateway equivalent these are shared with.
type BridgeConfig struct {
	Adapter       *Adapter
	Store         sessions.Store
	Model         agent.ModelClient
	Registry      *tools.Registry
	ContextMgr    agentcontext.Manager
	WorkspaceRoot string
	Logger        *slog.Logger
	ControllerCfg agent.ControllerConfig
}

// NewBridge builds a Bridge; it does not start the adapter or subscribe to
// inbound messages, see Run.
func NewBridge(cfg BridgeConfig) *Bridge {
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
	return &Bridge{
		adapter:       cfg.Adapter,
		store:         cfg.Store,
		model:         cfg.Model,
		registry:      cfg.Registry,
		ctxManager:    ctxMgr,
		workspaceRoot: workspaceRoot,
		logger:        logger,
		cfg:           cfg.ControllerCfg,
		sessions:      make(map[string]*chatSession),
	}
}

// Run starts the underlying adapter and blocks, dispatching every inbound
// ChannelMessage to its chat's Controller, until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.adapter.Start(ctx); err != nil {
		return err
	}
	defer b.adapter.Stop(context.Background())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-b.adapter.Messages():
			if !ok {
				return nil
			}
			b.handleInbound(ctx, msg)
		}
	}
}

// handleInbound routes one inbound ChannelMessage to its chat's Controller,
// creating the chat's session and Controller on first contact. Unlike the
// gateway's explicit init_agent frame, a chat session is established
// implicitly on the chat's first message.
func (b *Bridge) handleInbound(ctx context.Context, msg *channels.ChannelMessage) {
	sess, err := b.sessionFor(ctx, msg.ChatID)
	if err != nil {
		b.logger.Error("telegram bridge: session setup failed", "chat_id", msg.ChatID, "error", err)
		return
	}
	if msg.Text == "" {
		return
	}
	go func() {
		if _, err := sess.controller.Run(ctx, msg.Text, nil); err != nil {
			b.logger.Error("telegram bridge: run failed", "chat_id", msg.ChatID, "error", err)
		}
	}()
}

// sessionFor resumes or creates the chatSession for a chat id, mirroring
// Manager.resumeOrCreateSession/handleInitAgent but keyed by chat id and
// with no socket to subscribe - the push subscriber is pushToChat instead.
func (b *Bridge) sessionFor(ctx context.Context, chatID string) (*chatSession, error) {
	b.mu.Lock()
	if sess, ok := b.sessions[chatID]; ok {
		b.mu.Unlock()
		return sess, nil
	}
	b.mu.Unlock()

	sessionID := "telegram:" + chatID
	var turns []models.Turn
	rec, err := b.store.Get(ctx, sessionID)
	if err != nil {
		rec = &models.SessionRecord{ID: sessionID, WorkspaceDir: b.workspaceRoot, Status: models.SessionActive}
		if err := b.store.Create(ctx, rec); err != nil {
			return nil, err
		}
	} else {
		if loaded, _, loadErr := b.store.LoadState(ctx, rec.ID); loadErr == nil {
			turns = loaded
		}
	}

	stream := events.New(events.DefaultConfig())
	ctrl := agent.NewController(rec.ID, b.model, b.registry, b.ctxManager, stream, b.cfg)
	ctrl.Restore(turns)
	stream.Subscribe(b.pushToChat(chatID))

	sess := &chatSession{controller: ctrl, stream: stream, sessionID: rec.ID}

	b.mu.Lock()
	b.sessions[chatID] = sess
	b.mu.Unlock()

	return sess, nil
}

// pushToChat is the Telegram pusher subscriber, the secondary transport's
// counterpart to Connection.pushToSocket: it forwards every AGENT_RESPONSE
// event's text as an outbound message on the originating chat.
func (b *Bridge) pushToChat(chatID string) events.Handler {
	return func(e models.Event) {
		if e.Type != models.EventAgentResponse {
			return
		}
		text, _ := e.Content["text"].(string)
		if text == "" {
			return
		}
		out := &channels.ChannelMessage{
			Channel: channels.ChannelTelegram,
			ChatID:  chatID,
			Text:    text,
		}
		if err := b.adapter.Send(context.Background(), out); err != nil {
			b.logger.Error("telegram bridge: send failed", "chat_id", chatID, "error", err)
		}
	}
}
