package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	redisChannel        = "fleetwatch:dashboard"
	redisPublishTimeout = 2 * time.Second
)

// Hub manages the dashboard WebSocket connections and fans session events
// out to them. With Redis configured every agent instance publishes through
// Pub/Sub, so an operator attached to any instance sees every session.
type Hub struct {
	// operator -> set of connections (one operator can have several tabs open)
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client

	// encoded events waiting for the hub loop, which publishes them to Redis
	// or delivers them locally
	broadcast chan []byte

	rdb    *redis.Client
	logger *slog.Logger
	done   chan struct{}

	// latest snapshot, replayed to newly attached clients
	lastSnapshot []byte
}

// NewHub creates a new Hub. rdb may be nil.
func NewHub(rdb *redis.Client, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		rdb:        rdb,
		logger:     logger.With("component", "hub"),
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's main event loop
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if h.rdb != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.subscribeRedis(ctx)
		}()
	}
	defer wg.Wait()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case data := <-h.broadcast:
			if h.rdb != nil {
				h.publishToRedis(ctx, data)
			} else {
				h.deliver(data)
			}
		}
	}
}

// Register queues a client for registration with the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends event to every dashboard client. It never blocks: when the
// queue is full the event is dropped, the next snapshot supersedes it. The
// Redis publish happens on the hub loop, not on the caller.
func (h *Hub) Broadcast(event *model.WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal dashboard event", "type", event.Type, "error", err)
		return
	}
	if event.Type == model.WSEventSnapshot {
		h.mu.Lock()
		h.lastSnapshot = data
		h.mu.Unlock()
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("dashboard queue full, event dropped", "type", event.Type)
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.Operator]; !ok {
		h.clients[client.Operator] = make(map[*Client]bool)
	}
	h.clients[client.Operator][client] = true
	if h.lastSnapshot != nil {
		client.trySend(h.lastSnapshot)
	}
	h.logger.Info("dashboard client connected", "operator", client.Operator, "connections", len(h.clients[client.Operator]))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.Operator]; ok {
		delete(clients, client)
		client.closeSend()
		if len(clients) == 0 {
			delete(h.clients, client.Operator)
		}
	}
	h.logger.Info("dashboard client disconnected", "operator", client.Operator)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for op, clients := range h.clients {
		for client := range clients {
			client.closeSend()
		}
		delete(h.clients, op)
	}
}

func (h *Hub) deliver(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for client := range clients {
			if !client.trySend(data) {
				// slow consumer: drop it, its read pump unregisters it
				client.closeSend()
				delete(clients, client)
			}
		}
	}
}

// ConnectedOperators returns the operators with at least one open dashboard.
func (h *Hub) ConnectedOperators() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.clients))
	for op := range h.clients {
		out = append(out, op)
	}
	return out
}

// ========== Redis Pub/Sub ==========

func (h *Hub) publishToRedis(ctx context.Context, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, redisPublishTimeout)
	defer cancel()
	if err := h.rdb.Publish(ctx, redisChannel, data).Err(); err != nil {
		h.logger.Warn("failed to publish dashboard event to redis", "error", err)
	}
}

// subscribeRedis subscribes to Redis and delivers events to local clients
func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	h.logger.Info("redis pub/sub subscriber started", "channel", redisChannel)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.deliver([]byte(msg.Payload))
		}
	}
}
