// Package realtime subscribes to row changes pushed by the backend.
//
// A Manager multiplexes every channel over one websocket. Views acquire channels through a Scope
// and release all of them with Scope.Close. Failed or dropped channels are not retried.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/soapboxsocial/glimpse/pkg/conf"
	httputil "github.com/soapboxsocial/glimpse/pkg/http"
)

const (
	schema = "public"

	heartbeatInterval = 25 * time.Second
	writeTimeout      = 10 * time.Second
)

var (
	ErrAlreadySubscribed = errors.New("already subscribed to this channel in scope")
	ErrScopeClosed       = errors.New("scope is closed")
	ErrConnectionLost    = errors.New("realtime connection lost")
	ErrChannelClosed     = errors.New("channel closed by server")
)

// JoinError is returned when the backend refuses a channel.
type JoinError struct {
	Topic  string
	Reason string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("failed to join %s: %s", e.Topic, e.Reason)
}

type Manager struct {
	url         string
	apiKey      string
	dialer      *websocket.Dialer
	JoinTimeout time.Duration

	mu      sync.Mutex
	conn    *conn
	subs    map[string]*Subscription
	pending map[string]pendingJoin
	ref     uint64
	seq     uint64
}

// NewManager returns a manager for the realtime service of the backend, it connects on the first subscription.
func NewManager(config conf.BackendConf) (*Manager, error) {
	u, err := url.Parse(strings.TrimSuffix(config.URL, "/") + "/realtime/v1/websocket")
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	q := u.Query()
	q.Set("apikey", config.AnonKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	return &Manager{
		url:         u.String(),
		apiKey:      config.AnonKey,
		dialer:      websocket.DefaultDialer,
		JoinTimeout: 10 * time.Second,
		subs:        make(map[string]*Subscription),
		pending:     make(map[string]pendingJoin),
	}, nil
}

// NewScope returns a scope tied to the lifetime of one view.
func (m *Manager) NewScope() *Scope {
	return &Scope{manager: m, subs: make(map[string]*Subscription)}
}

// Close drops the connection, every open subscription fails with ErrConnectionLost.
func (m *Manager) Close() {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()

	if c != nil {
		c.close()
	}
}

func (m *Manager) subscribe(ctx context.Context, filter Filter, handler Handler, scope *Scope) (*Subscription, error) {
	token := m.apiKey
	if t, ok := httputil.GetAccessTokenFromContext(ctx); ok {
		token = t
	}

	var c *conn
	for {
		var err error
		c, err = m.connect(ctx)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.conn == c {
			break
		}

		// dropped or closed while idle before the join was registered.
		m.mu.Unlock()
	}

	m.seq++
	m.ref++

	topic := fmt.Sprintf("realtime:%s-%d", filter.name(), m.seq)
	ref := strconv.FormatUint(m.ref, 10)

	sub := newSubscription(topic, filter, handler, m, scope, c)
	m.subs[topic] = sub

	reply := make(chan *replyPayload, 1)
	m.pending[ref] = pendingJoin{conn: c, reply: reply}

	m.mu.Unlock()

	err := c.send(&message{Topic: topic, Event: eventJoin, Payload: join(filter, schema, token), Ref: ref})
	if err != nil {
		m.abandon(sub, ref)
		return nil, err
	}

	timer := time.NewTimer(m.JoinTimeout)
	defer timer.Stop()

	select {
	case r, ok := <-reply:
		if !ok {
			m.abandon(sub, ref)
			return nil, ErrConnectionLost
		}

		if r.Status != statusOK {
			m.abandon(sub, ref)
			return nil, &JoinError{Topic: topic, Reason: replyError(r)}
		}
	case <-ctx.Done():
		m.abandon(sub, ref)
		return nil, ctx.Err()
	case <-timer.C:
		m.abandon(sub, ref)
		return nil, &JoinError{Topic: topic, Reason: "timeout"}
	}

	go sub.run()

	log.Debug().Str("topic", topic).Msg("joined channel")
	return sub, nil
}

// connect returns the open connection, dialing one if there is none. The dial runs without mu held.
func (m *Manager) connect(ctx context.Context) (*conn, error) {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()

	if c != nil {
		return c, nil
	}

	ws, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.conn != nil {
		// another subscriber connected first.
		c = m.conn
		m.mu.Unlock()

		_ = ws.Close()
		return c, nil
	}

	c = &conn{ws: ws, closed: make(chan struct{})}
	m.conn = c
	m.mu.Unlock()

	go m.read(c)
	go m.heartbeat(c)

	return c, nil
}

func (m *Manager) abandon(sub *Subscription, ref string) {
	m.mu.Lock()
	delete(m.pending, ref)
	m.mu.Unlock()

	sub.stop()
	m.leave(sub)
}

// leave unregisters a subscription and closes the connection once nothing uses it.
func (m *Manager) leave(sub *Subscription) {
	m.mu.Lock()

	if m.subs[sub.topic] != sub {
		m.mu.Unlock()
		return
	}

	delete(m.subs, sub.topic)

	m.ref++
	ref := strconv.FormatUint(m.ref, 10)

	idle := len(m.subs) == 0 && m.conn == sub.conn
	if idle {
		m.conn = nil
	}

	m.mu.Unlock()

	err := sub.conn.send(&message{Topic: sub.topic, Event: eventLeave, Payload: json.RawMessage("{}"), Ref: ref})
	if err != nil {
		log.Debug().Err(err).Str("topic", sub.topic).Msg("failed to leave channel")
	}

	if idle {
		sub.conn.close()
	}
}

func (m *Manager) read(c *conn) {
	for {
		msg := &message{}
		err := c.ws.ReadJSON(msg)
		if err != nil {
			m.drop(c, err)
			return
		}

		m.dispatch(msg)
	}
}

func (m *Manager) dispatch(msg *message) {
	m.mu.Lock()
	sub := m.subs[msg.Topic]
	m.mu.Unlock()

	switch msg.Event {
	case eventReply:
		p := &replyPayload{}
		err := json.Unmarshal(msg.Payload, p)
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic).Msg("malformed reply")
			return
		}

		m.mu.Lock()
		pending, ok := m.pending[msg.Ref]
		delete(m.pending, msg.Ref)
		m.mu.Unlock()

		if ok {
			pending.reply <- p
		}
	case eventPostgresChanges:
		if sub == nil {
			return
		}

		p := &changePayload{}
		err := json.Unmarshal(msg.Payload, p)
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic).Msg("malformed change")
			return
		}

		sub.enqueue(p.change())
	case eventSystem:
		p := &systemPayload{}
		err := json.Unmarshal(msg.Payload, p)
		if err != nil || sub == nil || p.Status == statusOK {
			return
		}

		sub.fail(&JoinError{Topic: msg.Topic, Reason: p.Message})
	case eventError:
		if sub != nil {
			sub.fail(ErrChannelClosed)
		}
	case eventClose:
		if sub != nil {
			sub.fail(ErrChannelClosed)
		}
	}
}

func (m *Manager) drop(c *conn, err error) {
	c.close()

	m.mu.Lock()

	if m.conn == c {
		m.conn = nil
	}

	lost := make([]*Subscription, 0)
	for topic, sub := range m.subs {
		if sub.conn != c {
			continue
		}

		lost = append(lost, sub)
		delete(m.subs, topic)
	}

	for ref, pending := range m.pending {
		if pending.conn != c {
			continue
		}

		close(pending.reply)
		delete(m.pending, ref)
	}

	m.mu.Unlock()

	if len(lost) > 0 {
		log.Warn().Err(err).Int("channels", len(lost)).Msg("realtime connection lost")
	}

	for _, sub := range lost {
		sub.fail(ErrConnectionLost)
	}
}

func (m *Manager) heartbeat(c *conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.ref++
			ref := strconv.FormatUint(m.ref, 10)
			m.mu.Unlock()

			err := c.send(&message{Topic: topicPhoenix, Event: eventHeartbeat, Payload: json.RawMessage("{}"), Ref: ref})
			if err != nil {
				log.Debug().Err(err).Msg("heartbeat failed")
				return
			}
		}
	}
}

type pendingJoin struct {
	conn  *conn
	reply chan *replyPayload
}

type conn struct {
	ws *websocket.Conn

	wmu    sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func (c *conn) send(msg *message) error {
	select {
	case <-c.closed:
		return ErrConnectionLost
	default:
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err != nil {
		return err
	}

	return c.ws.WriteJSON(msg)
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}
