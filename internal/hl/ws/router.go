package ws

import (
	"encoding/json"
	"sync"
)

// Message is the envelope of every server push.
type Message struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Router fans server pushes out to per-channel handlers so several consumers
// can share one connection.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]func(json.RawMessage)
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string][]func(json.RawMessage))}
}

func (r *Router) Handle(channel string, fn func(json.RawMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[channel] = append(r.handlers[channel], fn)
}

// Dispatch routes raw to the handlers of its channel and reports whether any
// handler ran. Undecodable frames and unknown channels are dropped.
func (r *Router) Dispatch(raw json.RawMessage) bool {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Channel == "" {
		return false
	}
	r.mu.RLock()
	handlers := r.handlers[msg.Channel]
	r.mu.RUnlock()
	for _, fn := range handlers {
		fn(msg.Data)
	}
	return len(handlers) > 0
}
