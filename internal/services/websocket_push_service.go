package services

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"issuance-backend/internal/metrics"
	"issuance-backend/internal/settlement"
)

// WebSocket Upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced by the CORS layer
		return true
	},
}

// Connection information
type Connection struct {
	ID          string          `json:"id"`
	UserAddress string          `json:"user_address"` // lowercase hex
	Conn        *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	LastPing    time.Time       `json:"last_ping"`
}

// Push message base structure
type PushMessage struct {
	Type        string      `json:"type"`
	Timestamp   string      `json:"timestamp"`
	MessageID   string      `json:"message_id"`
	UserAddress string      `json:"user_address"`
	Data        interface{} `json:"data"`

	component string // subscription filter key; empty reaches every connection
}

// SettlementEventData is the payload of a "settlement_event" push.
type SettlementEventData struct {
	OperationID string           `json:"operation_id"`
	Sequence    uint64           `json:"sequence"`
	Event       settlement.Event `json:"event"`
}

// WebSocketPushService fans committed events out to the connections of
// every account an event mentions.
type WebSocketPushService struct {
	connections map[string]*Connection   // key: connectionID
	userConns   map[string][]*Connection // key: userAddress, value: connections
	hub         chan PushMessage
	subs        *WebSocketSubscriptionManager
	register    chan *Connection
	unregister  chan *Connection
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
}

// NewWebSocketPushService creates the service and starts its dispatch loop.
func NewWebSocketPushService() *WebSocketPushService {
	service := &WebSocketPushService{
		connections: make(map[string]*Connection),
		userConns:   make(map[string][]*Connection),
		hub:         make(chan PushMessage, 256),
		subs:        NewWebSocketSubscriptionManager(),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
	}

	go service.run()
	return service
}

func (s *WebSocketPushService) run() {
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)

		case conn := <-s.unregister:
			s.handleUnregister(conn)

		case message := <-s.hub:
			s.handleBroadcast(message)

		case <-s.done:
			return
		}
	}
}

// Close stops the dispatch loop. Open connections are left to their handlers.
func (s *WebSocketPushService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// RegisterConnection registers a connection with the push service
func (s *WebSocketPushService) RegisterConnection(conn *Connection) {
	select {
	case s.register <- conn:
	case <-s.done:
	}
}

// UnregisterConnection unregisters a connection and closes it
func (s *WebSocketPushService) UnregisterConnection(conn *Connection) {
	select {
	case s.unregister <- conn:
	case <-s.done:
	}
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.connections[conn.ID] = conn
	s.userConns[conn.UserAddress] = append(s.userConns[conn.UserAddress], conn)
	metrics.WebSocketConnections.Set(float64(len(s.connections)))

	log.Printf("📱 WebSocket connection registered: user=%s, connID=%s", conn.UserAddress, conn.ID)

	if conn.Send != nil {
		s.sendToConnection(conn, PushMessage{
			Type:        "connection_established",
			Timestamp:   time.Now().Format(time.RFC3339),
			MessageID:   generateMessageID(),
			UserAddress: conn.UserAddress,
			Data: map[string]interface{}{
				"user_address":  conn.UserAddress,
				"connection_id": conn.ID,
			},
		})
	}
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.connections[conn.ID]; !exists {
		return
	}
	delete(s.connections, conn.ID)
	s.subs.Remove(conn.ID)

	if userConns, exists := s.userConns[conn.UserAddress]; exists {
		for i, c := range userConns {
			if c.ID == conn.ID {
				s.userConns[conn.UserAddress] = append(userConns[:i], userConns[i+1:]...)
				break
			}
		}
		if len(s.userConns[conn.UserAddress]) == 0 {
			delete(s.userConns, conn.UserAddress)
		}
	}
	metrics.WebSocketConnections.Set(float64(len(s.connections)))

	if conn.Send != nil {
		close(conn.Send)
	}
	if conn.Conn != nil {
		conn.Conn.Close()
	}

	log.Printf("📱 WebSocket connection unregistered: user=%s, connID=%s", conn.UserAddress, conn.ID)
}

func (s *WebSocketPushService) handleBroadcast(message PushMessage) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	userConns, exists := s.userConns[message.UserAddress]
	if !exists {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ Failed to marshal message: %v", err)
		return
	}

	sent, failed := 0, 0
	for _, conn := range userConns {
		if message.component != "" && !s.subs.Wants(conn.ID, message.component) {
			continue
		}
		select {
		case conn.Send <- data:
			sent++
		default:
			failed++
			log.Printf("⚠️ [WebSocketpush] Failed to send to connection: %s (channel full)", conn.ID)
		}
	}
	log.Printf("📤 [WebSocketpush] type=%s user=%s sent=%d failed=%d",
		message.Type, message.UserAddress, sent, failed)
}

func (s *WebSocketPushService) sendToConnection(conn *Connection, message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ Failed to marshal message: %v", err)
		return
	}

	select {
	case conn.Send <- data:
	default:
		log.Printf("⚠️ Failed to send to connection: %s", conn.ID)
	}
}

// PushOperation queues one message per event for every account it mentions.
func (s *WebSocketPushService) PushOperation(receipt *OperationReceipt) {
	for _, ev := range receipt.Events {
		for _, user := range eventAccounts(ev) {
			message := PushMessage{
				Type:        "settlement_event",
				Timestamp:   ev.Time.Format(time.RFC3339),
				MessageID:   generateMessageID(),
				UserAddress: user,
				Data: SettlementEventData{
					OperationID: receipt.OperationID,
					Sequence:    receipt.Sequence,
					Event:       ev,
				},
				component: ev.Component,
			}
			select {
			case s.hub <- message:
			default:
				log.Printf("⚠️ [WebSocketpush] hub full, dropping %s.%s for %s", ev.Component, ev.Name, user)
			}
		}
	}
}

// HandleWebSocket upgrades the request and serves pushes for userAddress.
func (s *WebSocketPushService) HandleWebSocket(w http.ResponseWriter, r *http.Request, userAddress string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ WebSocket upgrade failed: %v", err)
		return
	}

	connection := &Connection{
		ID:          generateConnectionID(),
		UserAddress: strings.ToLower(userAddress),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		LastPing:    time.Now(),
	}

	s.RegisterConnection(connection)

	go s.handleConnectionWrite(connection)
	go s.handleConnectionRead(connection)
}

func (s *WebSocketPushService) handleConnectionWrite(conn *Connection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ Write message failed: %v", err)
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketPushService) handleConnectionRead(conn *Connection) {
	defer s.UnregisterConnection(conn)

	conn.Conn.SetReadLimit(1024)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.LastPing = time.Now()
		return nil
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ WebSocket read error: %v", err)
			}
			return
		}
		s.handleClientMessage(conn, data)
	}
}

// handleClientMessage applies a subscription request and acknowledges it.
func (s *WebSocketPushService) handleClientMessage(conn *Connection, data []byte) {
	var req SubscriptionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		req.Action = ""
	}
	components, err := s.subs.Apply(conn.ID, req)

	reply := map[string]interface{}{
		"action":     req.Action,
		"components": components,
	}
	if err != nil {
		reply["error"] = err.Error()
	}
	s.sendToConnection(conn, PushMessage{
		Type:        "subscriptions",
		Timestamp:   time.Now().Format(time.RFC3339),
		MessageID:   generateMessageID(),
		UserAddress: conn.UserAddress,
		Data:        reply,
	})
}

// GetActiveConnections returns the number of open connections.
func (s *WebSocketPushService) GetActiveConnections() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}

// GetUserConnections returns the number of connections for one account.
func (s *WebSocketPushService) GetUserConnections(userAddress string) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.userConns[strings.ToLower(userAddress)])
}

// eventAccounts lists the distinct lowercase addresses among ev's
// attribute values, sorted by attribute name.
func eventAccounts(ev settlement.Event) []string {
	keys := make([]string, 0, len(ev.Attributes))
	for k := range ev.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]bool)
	var out []string
	for _, k := range keys {
		v := ev.Attributes[k]
		if len(v) != 2*common.AddressLength+2 || !common.IsHexAddress(v) {
			continue
		}
		addr := strings.ToLower(v)
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

func generateConnectionID() string {
	return fmt.Sprintf("conn_%d", time.Now().UnixNano())
}

func generateMessageID() string {
	return fmt.Sprintf("msg_%d", time.Now().UnixNano())
}
