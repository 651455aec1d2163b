package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	HeartbeatInterval = 30 * time.Second

	clientBuffer = 100
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

type Client struct {
	Topic  string
	Events chan Event
	Done   chan struct{}
}

// Broker fans events out to in-process subscribers grouped by topic.
type Broker struct {
	clients map[string]map[*Client]bool // topic -> set of clients
	mu      sync.RWMutex
	closed  bool
}

func NewBroker() *Broker {
	return &Broker{
		clients: make(map[string]map[*Client]bool),
	}
}

func (b *Broker) Subscribe(topic string) *Client {
	client := &Client{
		Topic:  topic,
		Events: make(chan Event, clientBuffer),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(client.Done)
		return client
	}
	if b.clients[topic] == nil {
		b.clients[topic] = make(map[*Client]bool)
	}
	b.clients[topic][client] = true
	clientCount := len(b.clients[topic])
	b.mu.Unlock()

	log.Info().
		Str("topic", topic).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.Topic]; ok {
		if !clients[client] {
			return
		}
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.Topic)
		}

		log.Info().
			Str("topic", client.Topic).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

func (b *Broker) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[topic] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("topic", topic).
				Str("event", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

// PublishJSON marshals data and publishes it under eventType.
func (b *Broker) PublishJSON(topic, eventType string, data any) {
	event, err := NewEvent(eventType, data)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event")
		return
	}
	b.Publish(topic, event)
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[topic])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
