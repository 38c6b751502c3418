// «Кто поближе?» trivia transport
//
// One game session per process: players join a shared lobby, the host picks
// theme/answer-type filters and starts the game, everyone answers each
// question with free text, and the closest answers score. All player actions
// arrive over a single WebSocket per client:
//
// - /kto        → HTML client
// - /kto/ws     → WebSocket carrying {join, start_game, answer, settings, reset}
// - /kto/qr     → PNG QR code pointing at the game URL
//
// Players are identified by a uuid cookie, so a page reload reconnects the
// same player; a disconnected player is only dropped from the roster after a
// reconnect grace period.

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string          `json:"type"`               // "join", "start_game", "answer", "settings", "reset"
	Name     string          `json:"name,omitempty"`     // join
	Avatar   json.RawMessage `json:"avatar,omitempty"`   // join; opaque blob, echoed back untouched
	Answer   string          `json:"answer,omitempty"`   // answer
	Settings *SettingsUpdate `json:"settings,omitempty"` // settings
}

// ErrorMessage is sent only to the client whose action was rejected.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type clientRequest struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	cfg  *Config
	game *Game

	clients map[*Client]bool

	register  chan *Client
	unreg     chan *Client
	actions   chan clientRequest
	broadcast chan struct{}

	mu sync.RWMutex
}

func newHub(cfg *Config, game *Game) *Hub {
	return &Hub{
		cfg:       cfg,
		game:      game,
		clients:   make(map[*Client]bool),
		register:  make(chan *Client),
		unreg:     make(chan *Client),
		actions:   make(chan clientRequest),
		broadcast: make(chan struct{}, 1),
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

			// The newcomer gets the current state immediately.
			c.send <- h.game.ViewFor(c.playerID)

		case c := <-h.unreg:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			playerID := c.playerID
			h.mu.Unlock()

			if playerID != "" {
				go h.scheduleRemoval(playerID, h.cfg.reconnectGrace)
			}

		case req := <-h.actions:
			h.handleAction(req)

		case <-h.broadcast:
			h.pushState()
		}
	}
}

func (h *Hub) handleAction(req clientRequest) {
	c := req.client
	msg := req.msg

	var err error
	switch msg.Type {
	case "join":
		err = h.game.Join(c.playerID, msg.Name, msg.Avatar)
	case "start_game":
		err = h.game.Start(c.playerID)
	case "answer":
		err = h.game.SubmitAnswer(c.playerID, msg.Answer)
	case "settings":
		if msg.Settings != nil {
			err = h.game.ApplySettings(c.playerID, *msg.Settings)
		}
	case "reset":
		err = h.game.RequestReset(c.playerID)
	default:
		// ignore unknown types
	}

	if err != nil {
		h.sendTo(c, ErrorMessage{Type: "error", Message: err.Error()})
	}
}

func (h *Hub) sendTo(c *Client, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// StateChanged implements Notifier. The orchestrator calls it while holding
// its own mutex, so the signal must never block; pending signals coalesce and
// the views are built in the run loop, after the mutex is released, so later
// changes can never be overtaken by an earlier broadcast.
func (h *Hub) StateChanged() {
	select {
	case h.broadcast <- struct{}{}:
	default:
	}
}

func (h *Hub) pushState() {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.sendTo(c, h.game.ViewFor(c.playerID))
	}
}

// scheduleRemoval waits out the reconnect grace, and if no client with this
// playerID has come back, drops the player from the game.
func (h *Hub) scheduleRemoval(playerID string, d time.Duration) {
	time.Sleep(d)

	h.mu.RLock()
	for c := range h.clients {
		if c.playerID == playerID {
			h.mu.RUnlock()
			return
		}
	}
	h.mu.RUnlock()

	h.game.Leave(playerID)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "kto_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func serveWS(cfg *Config, h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		h.register <- client

		go client.writePump()
		client.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join", "start_game", "answer", "settings", "reset":
			h.actions <- clientRequest{
				client: c,
				msg:    msg,
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// qrHandler generates a PNG QR code for the game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /kto/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerTriviaGame wires the single game session into the router:
//   - $path       → HTML client
//   - $path/ws    → WebSocket for all player actions
//   - $path/qr    → PNG QR code for the game URL
func registerTriviaGame(cfg *Config, path string, mux *httprouter.Router, bank *QuestionBank, stats *StatsCache, judge *Judge) *Game {
	game := NewGame(cfg, bank, stats, judge)
	hub := newHub(cfg, game)
	game.SetNotifier(hub)
	go hub.run()

	mux.GET(cfg.prefix+path, getIndexHandler(cfg))
	mux.GET(cfg.prefix+path+"/ws", serveWS(cfg, hub))
	mux.GET(cfg.prefix+path+"/qr", qrHandler)

	return game
}
