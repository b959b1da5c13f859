// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/inertial_compass/internal/config"
	"github.com/relabs-tech/inertial_compass/internal/heading"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const wsWriteWait = time.Second

// HeadingHub keeps the latest update and pushes every new one to the
// connected compass pages.
type HeadingHub struct {
	mu      sync.RWMutex
	last    heading.Update
	have    bool
	clients map[*websocket.Conn]*sync.Mutex
}

func NewHeadingHub() *HeadingHub {
	return &HeadingHub{clients: make(map[*websocket.Conn]*sync.Mutex)}
}

// PublishUpdate records u and sends it to every client. Clients that fail to
// take the write are dropped.
func (h *HeadingHub) PublishUpdate(u heading.Update) error {
	h.mu.Lock()
	h.last = u
	h.have = true
	clients := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for c, m := range h.clients {
		clients[c] = m
	}
	h.mu.Unlock()

	for c, m := range clients {
		m.Lock()
		c.SetWriteDeadline(time.Now().Add(wsWriteWait))
		err := c.WriteJSON(u)
		m.Unlock()
		if err != nil {
			log.Printf("web: dropping websocket client: %v", err)
			h.remove(c)
		}
	}
	return nil
}

// Latest returns the most recent update, if any.
func (h *HeadingHub) Latest() (heading.Update, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.have
}

func (h *HeadingHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.Close()
	}
}

// ServeWS upgrades the request and streams updates until the client goes
// away. The current heading, if known, is sent first.
func (h *HeadingHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}

	m := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = m
	last, have := h.last, h.have
	h.mu.Unlock()

	if have {
		m.Lock()
		err := conn.WriteJSON(last)
		m.Unlock()
		if err != nil {
			h.remove(conn)
			return
		}
	}

	// Reads only detect the close; the page never sends anything we use.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: websocket error: %v", err)
			}
			h.remove(conn)
			return
		}
	}
}

// ServeLatest answers /api/heading with the latest update as JSON.
func (h *HeadingHub) ServeLatest(w http.ResponseWriter, r *http.Request) {
	u, ok := h.Latest()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(u); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// NewWebMux routes the API, the websocket and static files from webDir.
func NewWebMux(hub *HeadingHub, webDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/heading", hub.ServeLatest)
	mux.HandleFunc("/ws/heading", hub.ServeWS)
	mux.Handle("/", http.FileServer(http.Dir(webDir)))
	return mux
}

func RunWeb() error {
	cfg := config.Get()
	hub := NewHeadingHub()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicHeading, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var u heading.Update
		if err := json.Unmarshal(msg.Payload(), &u); err != nil {
			log.Printf("web: MQTT payload unmarshal error: %v", err)
			return
		}
		hub.PublishUpdate(u)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to MQTT topic %s", cfg.TopicHeading)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, NewWebMux(hub, "web"))
}
