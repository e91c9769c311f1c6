// Package realtimetest runs an in memory stand-in for the backend's realtime service.
package realtimetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/soapboxsocial/glimpse/pkg/conf"
)

type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type changeConfig struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter"`
}

type client struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *client) send(msg *message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	return c.ws.WriteJSON(msg)
}

type channel struct {
	client  *client
	topic   string
	token   string
	configs []changeConfig
}

// Server is a fake realtime service.
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*client]struct{}
	channels map[string]*channel
	refused  map[string]string
	leaves   map[string]int
	joins    int
}

// NewServer starts a fake realtime service, callers must Close it.
func NewServer() *Server {
	s := &Server{
		clients:  make(map[*client]struct{}),
		channels: make(map[string]*channel),
		refused:  make(map[string]string),
		leaves:   make(map[string]int),
	}

	r := mux.NewRouter()
	r.HandleFunc("/realtime/v1/websocket", s.handle)

	s.Server = httptest.NewServer(r)
	return s
}

// Config returns a backend configuration pointing at the server.
func (s *Server) Config() conf.BackendConf {
	return conf.BackendConf{URL: s.URL, AnonKey: "anon"}
}

// Refuse makes joins for table fail with reason.
func (s *Server) Refuse(table, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refused[table] = reason
}

// Channels returns how many channels are joined.
func (s *Server) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.channels)
}

// Joins returns how many joins were accepted.
func (s *Server) Joins() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.joins
}

// Leaves returns how many times topic was left.
func (s *Server) Leaves(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.leaves[topic]
}

// Token returns the access token topic joined with.
func (s *Server) Token(topic string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.channels[topic]; ok {
		return ch.token
	}

	return ""
}

// WaitChannels blocks until n channels are joined or the timeout passes.
func (s *Server) WaitChannels(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Channels() == n {
			return true
		}

		time.Sleep(5 * time.Millisecond)
	}

	return false
}

// Emit pushes a change to every channel whose configuration matches it and returns how many received it.
func (s *Server) Emit(table, event string, record map[string]interface{}) int {
	s.mu.Lock()
	targets := make([]*channel, 0)
	for _, ch := range s.channels {
		if ch.wants(table, event, record) {
			targets = append(targets, ch)
		}
	}
	s.mu.Unlock()

	payload := map[string]interface{}{
		"ids": []int{1},
		"data": map[string]interface{}{
			"type":             event,
			"schema":           "public",
			"table":            table,
			"record":           record,
			"old_record":       map[string]interface{}{},
			"commit_timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}

	data, _ := json.Marshal(payload)

	sent := 0
	for _, ch := range targets {
		err := ch.client.send(&message{Topic: ch.topic, Event: "postgres_changes", Payload: data})
		if err == nil {
			sent++
		}
	}

	return sent
}

// CloseChannel sends phx_close for topic.
func (s *Server) CloseChannel(topic string) {
	s.mu.Lock()
	ch, ok := s.channels[topic]
	delete(s.channels, topic)
	s.mu.Unlock()

	if ok {
		_ = ch.client.send(&message{Topic: topic, Event: "phx_close", Payload: json.RawMessage("{}")})
	}
}

// Drop closes every connection.
func (s *Server) Drop() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.ws.Close()
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{ws: ws}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		for topic, ch := range s.channels {
			if ch.client == c {
				delete(s.channels, topic)
			}
		}
		s.mu.Unlock()

		_ = ws.Close()
	}()

	for {
		msg := &message{}
		err := ws.ReadJSON(msg)
		if err != nil {
			return
		}

		s.handleMessage(c, msg)
	}
}

func (s *Server) handleMessage(c *client, msg *message) {
	switch msg.Event {
	case "phx_join":
		payload := struct {
			Config struct {
				PostgresChanges []changeConfig `json:"postgres_changes"`
			} `json:"config"`
			AccessToken string `json:"access_token"`
		}{}

		_ = json.Unmarshal(msg.Payload, &payload)

		s.mu.Lock()
		reason := ""
		for _, cfg := range payload.Config.PostgresChanges {
			if r, ok := s.refused[cfg.Table]; ok {
				reason = r
			}
		}

		if reason == "" {
			s.channels[msg.Topic] = &channel{client: c, topic: msg.Topic, token: payload.AccessToken, configs: payload.Config.PostgresChanges}
			s.joins++
		}
		s.mu.Unlock()

		if reason != "" {
			s.reply(c, msg, "error", map[string]string{"reason": reason})
			return
		}

		s.reply(c, msg, "ok", map[string]interface{}{"postgres_changes": payload.Config.PostgresChanges})
	case "phx_leave":
		s.mu.Lock()
		delete(s.channels, msg.Topic)
		s.leaves[msg.Topic]++
		s.mu.Unlock()

		s.reply(c, msg, "ok", map[string]string{})
	case "heartbeat":
		s.reply(c, msg, "ok", map[string]string{})
	}
}

func (s *Server) reply(c *client, msg *message, status string, response interface{}) {
	data, _ := json.Marshal(map[string]interface{}{"status": status, "response": response})
	_ = c.send(&message{Topic: msg.Topic, Event: "phx_reply", Payload: data, Ref: msg.Ref})
}

func (ch *channel) wants(table, event string, record map[string]interface{}) bool {
	for _, cfg := range ch.configs {
		if cfg.Table != table || (cfg.Event != "*" && cfg.Event != event) {
			continue
		}

		if cfg.Filter == "" {
			return true
		}

		column, value, ok := strings.Cut(cfg.Filter, "=eq.")
		if ok && fmt.Sprint(record[column]) == value {
			return true
		}
	}

	return false
}
