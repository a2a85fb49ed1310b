// Package stream fans out progress events (plan generation, calendar refreshes) to websocket
// subscribers, across instances when redis is configured.
package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "ridecal:"
	channelSuffix  = ":events"
	channelPattern = channelPrefix + "*" + channelSuffix
)

type Hub struct {
	redis   *redis.Client
	logger  *slog.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	ready   chan struct{}
}

type Client struct {
	Topic string
	Send  chan []byte
}

// NewHub delivers locally when redisClient is nil. Otherwise every broadcast goes through
// redis and reaches local subscribers from the pattern subscription, so each instance
// delivers each event once.
func NewHub(redisClient *redis.Client, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		redis:   redisClient,
		logger:  logger,
		clients: map[string]map[*Client]struct{}{},
		ready:   make(chan struct{}),
	}

	if redisClient != nil {
		go h.subscribeRedis()
	} else {
		close(h.ready)
	}
	return h
}

// Ready is closed once the hub can receive redis-published events.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) Register(topic string) *Client {
	client := &Client{
		Topic: topic,
		Send:  make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = map[*Client]struct{}{}
	}
	h.clients[topic][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if topicClients, ok := h.clients[client.Topic]; ok {
		if _, registered := topicClients[client]; !registered {
			return
		}
		delete(topicClients, client)
		if len(topicClients) == 0 {
			delete(h.clients, client.Topic)
		}
		close(client.Send)
	}
}

func (h *Hub) Broadcast(topic string, payload []byte) {
	if h.redis == nil {
		h.deliver(topic, payload)
		return
	}
	if err := h.redis.Publish(context.Background(), redisChannel(topic), payload).Err(); err != nil {
		h.logger.Warn("redis publish failed, delivering locally", "topic", topic, "error", err)
		h.deliver(topic, payload)
	}
}

// deliver drops the event for subscribers whose buffer is full.
func (h *Hub) deliver(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[topic] {
		select {
		case client.Send <- payload:
		default:
			h.logger.Debug("subscriber buffer full, event dropped", "topic", topic)
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Error("redis subscribe failed", "pattern", channelPattern, "error", err)
		close(h.ready)
		return
	}
	close(h.ready)

	for msg := range pubsub.Channel() {
		topic := topicFromChannel(msg.Channel)
		if topic == "" {
			continue
		}
		h.deliver(topic, []byte(msg.Payload))
	}
}

func redisChannel(topic string) string {
	return channelPrefix + topic + channelSuffix
}

func topicFromChannel(ch string) string {
	if len(ch) <= len(channelPrefix)+len(channelSuffix) ||
		!strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}

// Topic scopes an event kind to one athlete.
func Topic(kind, athleteID string) string {
	return kind + "." + athleteID
}
