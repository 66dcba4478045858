package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/promatch/internal/feed"
	"github.com/promatch/internal/live"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/service"
)

const opTimeout = 10 * time.Second

// ErrHubClosed: хаб остановлен, новые подключения не принимаются.
var ErrHubClosed = errors.New("ws hub closed")

// Thread: операции с перепиской, которые клиент вызывает через сокет.
type Thread interface {
	live.Thread
	Send(ctx context.Context, userID, convID, text string) (*model.Message, error)
	Edit(ctx context.Context, userID, messageID, text string) error
	Delete(ctx context.Context, userID, messageID string) error
}

// Deps: сервисы, общие для всех подключений.
type Deps struct {
	Feed          feed.Feed
	Directory     live.Directory
	Thread        Thread
	Notifications live.Notifications
	// Acks может быть nil.
	Acks live.Acks
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	total      int
	maxConns   int
	sendBuf    int
	deps       Deps
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(deps Deps, maxConns, sendBuf int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		sendBuf:    sendBuf,
		deps:       deps,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

// Connect привязывает новое соединение к пользователю: создаёт слушателя, подписывает
// его на feed, запускает pump-горутины и отправляет начальные списки.
func (h *Hub) Connect(conn *websocket.Conn, userID string, role model.Role) (*Client, error) {
	select {
	case <-h.done:
		conn.Close()
		return nil, ErrHubClosed
	default:
	}
	c := newClient(h, conn, userID, role, h.sendBuf)
	c.listener = live.New(h.deps.Feed, h.deps.Directory, h.deps.Thread, h.deps.Notifications, h.deps.Acks,
		func(u live.Update) { h.sendToClient(c, toOutgoing(u)) })

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.listener.Bind(ctx, userID, role); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("ws.Connect user=%s: %w", userID, err)
	}
	c.Start(ctx, cancel)
	h.Register(c)
	go func() {
		rctx, rcancel := context.WithTimeout(ctx, opTimeout)
		defer rcancel()
		c.listener.RefreshAll(rctx)
	}()
	return c, nil
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
	logger.Debugf("ws connected user=%s role=%s", c.userID, c.role)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if ok {
		if _, exists := clients[c]; exists {
			delete(clients, c)
			h.total--
			if len(clients) == 0 {
				delete(h.clients, c.userID)
			}
		}
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// Count: число активных подключений.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	switch msg.Type {
	case EventOpenThread:
		h.handleOpenThread(ctx, c, msg)
	case EventCloseThread:
		c.listener.CloseThread()
	case EventSendMessage:
		h.handleSendMessage(ctx, c, msg)
	case EventEditMessage:
		h.handleEditMessage(ctx, c, msg)
	case EventDeleteMessage:
		h.handleDeleteMessage(ctx, c, msg)
	case EventMarkRead:
		h.handleMarkRead(ctx, c, msg)
	case EventRefresh:
		c.listener.RefreshAll(ctx)
	default:
		h.sendToClient(c, errorMessage("bad_request", "unknown event type", msg.ClientRef))
	}
}

func (h *Hub) handleOpenThread(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleOpenThread", time.Now())()
	if msg.ConversationID == "" {
		h.sendToClient(c, errorMessage("bad_request", "conversation_id required", msg.ClientRef))
		return
	}
	msgs, err := c.listener.OpenThread(ctx, msg.ConversationID)
	if err != nil {
		logger.Warnf("ws open thread conv=%s user=%s: %v", msg.ConversationID, c.userID, err)
		h.sendToClient(c, serviceError(err, msg.ClientRef))
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	h.sendToClient(c, OutgoingMessage{
		Type:    EventThread,
		Payload: ThreadPayload{ConversationID: msg.ConversationID, Messages: msgs},
	})
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	if msg.ConversationID == "" {
		h.sendToClient(c, errorMessage("bad_request", "conversation_id required", msg.ClientRef))
		return
	}
	m, err := h.deps.Thread.Send(ctx, c.userID, msg.ConversationID, msg.Content)
	if err != nil {
		logger.Warnf("ws send conv=%s user=%s: %v", msg.ConversationID, c.userID, err)
		h.sendToClient(c, serviceError(err, msg.ClientRef))
		return
	}
	// Эхо из feed с тем же id потом отбросится.
	c.listener.AppendLocal(*m)
	sent := m.Redacted()
	h.sendToClient(c, OutgoingMessage{
		Type:    EventMessageSent,
		Payload: MessagePayload{ConversationID: m.ConversationID, Message: &sent, ClientRef: msg.ClientRef},
	})
}

func (h *Hub) handleEditMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleEditMessage", time.Now())()
	if msg.MessageID == "" {
		h.sendToClient(c, errorMessage("bad_request", "message_id required", msg.ClientRef))
		return
	}
	// Успех приходит событием message_updated из feed.
	if err := h.deps.Thread.Edit(ctx, c.userID, msg.MessageID, msg.Content); err != nil {
		logger.Warnf("ws edit msg=%s user=%s: %v", msg.MessageID, c.userID, err)
		h.sendToClient(c, serviceError(err, msg.ClientRef))
	}
}

func (h *Hub) handleDeleteMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleDeleteMessage", time.Now())()
	if msg.MessageID == "" {
		h.sendToClient(c, errorMessage("bad_request", "message_id required", msg.ClientRef))
		return
	}
	if err := h.deps.Thread.Delete(ctx, c.userID, msg.MessageID); err != nil {
		logger.Warnf("ws delete msg=%s user=%s: %v", msg.MessageID, c.userID, err)
		h.sendToClient(c, serviceError(err, msg.ClientRef))
	}
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, msg IncomingMessage) {
	ids := msg.MessageIDs
	if len(ids) == 0 && msg.MessageID != "" {
		ids = []string{msg.MessageID}
	}
	if len(ids) == 0 {
		h.sendToClient(c, errorMessage("bad_request", "message_ids required", msg.ClientRef))
		return
	}
	n, err := h.deps.Thread.MarkRead(ctx, c.userID, ids)
	if err != nil {
		logger.Warnf("ws mark read user=%s: %v", c.userID, err)
		h.sendToClient(c, serviceError(err, msg.ClientRef))
		return
	}
	if n > 0 {
		c.listener.RefreshConversations(ctx)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func toOutgoing(u live.Update) OutgoingMessage {
	switch u.Kind {
	case live.KindMessageNew:
		return OutgoingMessage{Type: EventMessageNew, Payload: MessagePayload{ConversationID: u.ConversationID, Message: u.Message}}
	case live.KindMessageUpdated:
		return OutgoingMessage{Type: EventMessageUpdated, Payload: MessagePayload{ConversationID: u.ConversationID, Message: u.Message}}
	case live.KindConversations:
		list := u.Conversations
		if list == nil {
			list = []model.ConversationSummary{}
		}
		return OutgoingMessage{Type: EventConversations, Payload: ConversationsPayload{Conversations: list}}
	case live.KindNotifications:
		return OutgoingMessage{Type: EventNotifications, Payload: u.Notifications}
	}
	return serviceError(u.Err, "")
}

var errorText = map[string]string{
	"permission_denied":   "not a participant of this conversation",
	"not_found":           "not found",
	"message_deleted":     "message was deleted",
	"conversation_closed": "conversation is closed",
	"send_failed":         "message was not sent, try again",
	"load_failed":         "failed to load, try again",
	"write_failed":        "failed to save, try again",
	"internal":            "internal error",
}

func serviceError(err error, ref string) OutgoingMessage {
	code := service.Code(err)
	text := errorText[code]
	if code == "validation" {
		text = err.Error()
	}
	if text == "" {
		code, text = "internal", errorText["internal"]
	}
	return errorMessage(code, text, ref)
}

func errorMessage(code, text, ref string) OutgoingMessage {
	return OutgoingMessage{Type: EventError, Payload: ErrorPayload{Code: code, Message: text, ClientRef: ref}}
}
