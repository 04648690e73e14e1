// Package websocket pushes tab state to browser tabs and carries wallet signing
// requests to them.
package websocket

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/domain"
)

// ConnectionMetrics observes client connects and disconnects.
type ConnectionMetrics interface {
	PushConnected()
	PushDisconnected()
}

type signResult struct {
	payload SignResponsePayload
	err     error
}

type pendingSign struct {
	tabID  uuid.UUID
	result chan signResult
}

// Hub tracks the connected clients of every tab. A tab may hold several connections;
// pushes go to all of them.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]bool
	pending    map[string]*pendingSign
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	done       chan struct{} // closed when Run() exits
	stopped    bool
	logger     *logrus.Logger
	metrics    ConnectionMetrics
	onConnect  []func(tabID uuid.UUID)
	mu         sync.RWMutex
}

func NewHub(logger *logrus.Logger, metrics ConnectionMetrics) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		pending:    make(map[string]*pendingSign),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    metrics,
	}
}

// OnConnect registers fn to run after a client of a tab registers. It runs on the hub
// goroutine and must not block.
func (h *Hub) OnConnect(fn func(tabID uuid.UUID)) {
	h.mu.Lock()
	h.onConnect = append(h.onConnect, fn)
	h.mu.Unlock()
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			h.stopped = true
			for _, set := range h.clients {
				for client := range set {
					client.Close()
				}
			}
			h.clients = make(map[uuid.UUID]map[*Client]bool)
			for id, p := range h.pending {
				p.result <- signResult{err: domain.ErrSignerDisconnected}
				delete(h.pending, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.stopped {
				h.mu.Unlock()
				continue
			}
			set, ok := h.clients[client.tabID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.tabID] = set
			}
			set[client] = true
			hooks := append([]func(uuid.UUID){}, h.onConnect...)
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.PushConnected()
			}
			h.logger.WithField("tab", client.tabID).Debug("Client connected")
			for _, fn := range hooks {
				fn(client.tabID)
			}

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	set, ok := h.clients[client.tabID]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	client.Close()
	if h.metrics != nil {
		h.metrics.PushDisconnected()
	}
	if len(set) > 0 {
		return
	}
	delete(h.clients, client.tabID)

	// the tab's last connection carried its wallet
	for id, p := range h.pending {
		if p.tabID == client.tabID {
			p.result <- signResult{err: domain.ErrSignerDisconnected}
			delete(h.pending, id)
		}
	}
	h.logger.WithField("tab", client.tabID).Debug("Last client of tab disconnected")
}

// Stop closes every client and fails pending signing requests.
// It blocks until the hub has fully shut down.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	<-h.done
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister safely unregisters a client, handling the case where the hub may be stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Connected reports whether the tab has at least one live connection.
func (h *Hub) Connected(tabID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tabID]) > 0
}

// SendToTab pushes a message to every connection of the tab and returns how many
// accepted it.
func (h *Hub) SendToTab(tabID uuid.UUID, msgType MessageType, payload interface{}) int {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		h.logger.WithError(err).WithField("type", msgType).Error("Failed to build message")
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for client := range h.clients[tabID] {
		if client.Send(msg) {
			delivered++
		}
	}
	return delivered
}

// requestSignature sends a sign_request to the tab and waits for the first answer.
func (h *Hub) requestSignature(ctx context.Context, tabID uuid.UUID, req SignRequestPayload) (SignResponsePayload, error) {
	p := &pendingSign{tabID: tabID, result: make(chan signResult, 1)}

	h.mu.Lock()
	if h.stopped || len(h.clients[tabID]) == 0 {
		h.mu.Unlock()
		return SignResponsePayload{}, domain.ErrSignerDisconnected
	}
	h.pending[req.RequestID] = p
	h.mu.Unlock()

	if h.SendToTab(tabID, MessageTypeSignRequest, req) == 0 {
		h.drop(req.RequestID)
		return SignResponsePayload{}, domain.ErrSignerDisconnected
	}

	select {
	case r := <-p.result:
		return r.payload, r.err
	case <-ctx.Done():
		h.drop(req.RequestID)
		return SignResponsePayload{}, ctx.Err()
	}
}

func (h *Hub) drop(requestID string) {
	h.mu.Lock()
	delete(h.pending, requestID)
	h.mu.Unlock()
}

// resolve hands a sign_response to its waiting request. Answers from another tab or
// for an unknown request are ignored.
func (h *Hub) resolve(tabID uuid.UUID, resp SignResponsePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[resp.RequestID]
	if !ok || p.tabID != tabID {
		h.logger.WithFields(logrus.Fields{
			"tab":     tabID,
			"request": resp.RequestID,
		}).Debug("Ignoring sign response without a pending request")
		return
	}
	delete(h.pending, resp.RequestID)
	p.result <- signResult{payload: resp}
}
