package bridge

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatcore/internal/core"
	"chatcore/internal/events"
	"chatcore/internal/transport"
	"chatcore/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Rate limits per minute
type RateLimits struct {
	MaxSends   int
	MaxOpens   int
	MaxHistory int
	MaxPings   int
}

var DefaultRateLimits = RateLimits{
	MaxSends:   60,
	MaxOpens:   30,
	MaxHistory: 30,
	MaxPings:   60,
}

// ClientRateLimiter tracks per-connection token buckets.
type ClientRateLimiter struct {
	sendTokens    int
	openTokens    int
	historyTokens int
	pingTokens    int
	lastRefill    time.Time
	mu            sync.Mutex
}

func NewClientRateLimiter() *ClientRateLimiter {
	return &ClientRateLimiter{
		sendTokens:    DefaultRateLimits.MaxSends,
		openTokens:    DefaultRateLimits.MaxOpens,
		historyTokens: DefaultRateLimits.MaxHistory,
		pingTokens:    DefaultRateLimits.MaxPings,
		lastRefill:    time.Now(),
	}
}

func (rl *ClientRateLimiter) Allow(msgType string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.sendTokens = DefaultRateLimits.MaxSends
		rl.openTokens = DefaultRateLimits.MaxOpens
		rl.historyTokens = DefaultRateLimits.MaxHistory
		rl.pingTokens = DefaultRateLimits.MaxPings
		rl.lastRefill = now
	}

	switch msgType {
	case "send":
		if rl.sendTokens > 0 {
			rl.sendTokens--
			return true
		}
	case "open", "close":
		if rl.openTokens > 0 {
			rl.openTokens--
			return true
		}
	case "history":
		if rl.historyTokens > 0 {
			rl.historyTokens--
			return true
		}
	case "ping":
		if rl.pingTokens > 0 {
			rl.pingTokens--
			return true
		}
	}
	return false
}

// Hub fans conversation events out to every connected stream client.
type Hub struct {
	core       *core.Core
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	stopChan   chan struct{}
	stopOnce   sync.Once
	subs       []*events.Subscription
	log        *logger.Logger
}

func NewHub(c *core.Core, l *logger.Logger) *Hub {
	return &Hub{
		core:       c,
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan []byte, 256),
		stopChan:   make(chan struct{}),
		log:        l.Named("stream"),
	}
}

// Run subscribes to the core topics and fans events out until Stop.
func (h *Hub) Run() {
	topics := []string{
		events.TopicRowInserted,
		events.TopicRowCorrected,
		events.TopicMarkerChanged,
		events.TopicEventAdded,
		events.TopicEventRemoved,
		events.TopicRosterChanged,
	}
	for _, topic := range topics {
		h.subs = append(h.subs, h.core.Bus().Subscribe(topic, h.mirror))
	}
	defer func() {
		for _, sub := range h.subs {
			sub.Unsubscribe()
		}
	}()

	for {
		select {
		case client := <-h.register:
			h.clients[client.clientID] = client
			h.log.Infof("stream client %s connected", client.clientID)
			go client.writePump()
			go client.readPump()

		case client := <-h.unregister:
			if _, ok := h.clients[client.clientID]; ok {
				delete(h.clients, client.clientID)
				close(client.send)
				h.log.Infof("stream client %s disconnected", client.clientID)
			}

		case frame := <-h.broadcast:
			for id, client := range h.clients {
				select {
				case client.send <- frame:
				default:
					// Slow consumer: drop it rather than stall the hub.
					delete(h.clients, id)
					close(client.send)
					client.conn.Close()
				}
			}

		case <-h.stopChan:
			for _, client := range h.clients {
				close(client.send)
				client.conn.Close()
			}
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// mirror runs on the core dispatch loop; it must never block it.
func (h *Hub) mirror(topic string, payload interface{}) {
	account, jid := "", ""
	if addr, ok := payload.(events.Addressable); ok {
		account, jid = addr.EventAccount(), addr.EventJID()
	}
	env, err := events.NewEnvelope(topic, account, jid, payload)
	if err != nil {
		h.log.Errorf("failed to marshal %s frame: %v", topic, err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Errorf("failed to marshal envelope: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warnf("broadcast queue full, dropping %s frame", topic)
	}
}

// Client is a single stream connection.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	clientID     string
	rateLimiter  *ClientRateLimiter
	lastActivity time.Time
}

// ClientMessage is a command frame from a stream client.
type ClientMessage struct {
	Type    string `json:"type"`
	Account string `json:"account,omitempty"`
	JID     string `json:"jid,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Text    string `json:"text,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 256),
		clientID:     uuid.New().String(),
		rateLimiter:  NewClientRateLimiter(),
		lastActivity: time.Now(),
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastActivity = time.Now()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Errorf("stream client %s unexpected close: %v", c.clientID, err)
			}
			break
		}

		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
		c.lastActivity = time.Now()

		if err := c.handleMessage(message); err != nil {
			c.hub.log.Errorf("stream client %s command failed: %v", c.clientID, err)
		}
	}
}

func (c *Client) handleMessage(message []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return err
	}

	if !c.rateLimiter.Allow(msg.Type) {
		c.hub.log.Warnf("stream client %s rate limited on %s", c.clientID, msg.Type)
		return nil
	}

	switch msg.Type {
	case "ping":
		c.send <- []byte(`{"type":"pong"}`)
		return nil
	case "open":
		c.hub.core.OpenConversation(msg.Account, msg.JID, messageType(msg.Kind))
		return nil
	case "close":
		decision := c.hub.core.CloseConversation(msg.Account, msg.JID, messageType(msg.Kind))
		frame, _ := json.Marshal(map[string]interface{}{"type": "closed", "decision": int(decision)})
		c.send <- frame
		return nil
	case "send":
		return c.hub.core.SendMessage(msg.Account, msg.JID, messageType(msg.Kind), msg.Text)
	case "history":
		limit := msg.Limit
		if limit <= 0 {
			limit = 50
		}
		_, err := c.hub.core.LoadHistory(msg.Account, msg.JID, limit)
		return err
	default:
		c.hub.log.Warnf("stream client %s sent unknown type %q", c.clientID, msg.Type)
		return nil
	}
}

func messageType(kind string) transport.MessageType {
	switch kind {
	case "normal":
		return transport.TypeNormal
	case "groupchat":
		return transport.TypeGroupchat
	case "pm":
		return transport.TypePM
	default:
		return transport.TypeChat
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

			if time.Since(c.lastActivity) > pongWait*2 {
				c.hub.log.Infof("stream client %s idle timeout", c.clientID)
				return
			}
		}
	}
}
