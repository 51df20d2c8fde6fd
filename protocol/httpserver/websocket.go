package httpserver

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/spf13/cast"

	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/protocol"
	"github.com/hydrogen-io/hydrogen/wire"
)

// wsConnection is one live websocket client.  Writes are serialized through
// the send channel; the read loop owns the socket for reads.
type wsConnection struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	done   chan struct{}
}

// newConnectionID produces a "ws_" prefixed id with 16 hex characters.
func newConnectionID() string {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(err)
	}

	return "ws_" + hex.EncodeToString(raw[:])
}

// handleWebSocket upgrades the request and starts the connection's pumps.
func (s *Server) handleWebSocket(response http.ResponseWriter, request *http.Request) {
	conn, err := s.upgrader.Upgrade(response, request, nil)
	if err != nil {
		// the upgrader has already written the error response
		s.logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "websocket upgrade failed", logging.ErrorKey(), err)
		return
	}

	wsConn := &wsConnection{
		id:     newConnectionID(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
	}

	remoteHost, remotePort, _ := net.SplitHostPort(conn.RemoteAddr().String())
	info := protocol.ConnectionInfo{
		ClientID:      wsConn.id,
		Protocol:      wire.ProtocolWebSocket,
		RemoteAddress: remoteHost,
		RemotePort:    cast.ToInt(remotePort),
		ConnectedAt:   time.Now(),
		LastActivity:  time.Now(),
	}

	s.connections.Add(info)
	s.wsLock.Lock()
	s.wsConns[wsConn.id] = wsConn
	s.wsLock.Unlock()

	s.logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "websocket client connected", "clientId", wsConn.id, "remoteAddress", conn.RemoteAddr().String())
	s.fireConnect(info)

	go wsConn.writePump()
	wsConn.readPump()
}

// readPump consumes frames until the peer disconnects.  It runs on the
// upgraded request's goroutine.
func (c *wsConnection) readPump() {
	defer c.teardown()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.Log(level.Key(), level.DebugValue(), logging.MessageKey(), "websocket read failed", "clientId", c.id, logging.ErrorKey(), err)
			}

			return
		}

		c.server.connections.Touch(c.id)
		message, err := wire.Decode(data)
		if err != nil {
			c.server.logger.Log(level.Key(), level.DebugValue(), logging.MessageKey(), "discarding unparseable frame", "clientId", c.id, logging.ErrorKey(), err)
			continue
		}

		switch message.Type {
		case wire.HeartbeatType:
			c.answerHeartbeat(message)
		case wire.DiscoveryRequestType:
			c.answerDiscovery(message)
		default:
			c.server.fireMessage(c.id, message)
		}
	}
}

// answerHeartbeat echoes a heartbeat back with the server's timestamp.
func (c *wsConnection) answerHeartbeat(message *wire.Message) {
	reply := wire.NewMessage(wire.HeartbeatType)
	reply.RecipientID = message.SenderID
	reply.CorrelationID = message.MessageID
	reply.Payload = map[string]interface{}{
		"timestamp": time.Now().UnixMilli(),
	}

	_ = c.Send(reply)
}

// answerDiscovery replies to a discovery request with summaries of the
// registered devices, optionally filtered by a deviceType header.
func (c *wsConnection) answerDiscovery(message *wire.Message) {
	var devices interface{}
	if deviceType := message.Headers["deviceType"]; len(deviceType) > 0 {
		devices = c.server.devices.FindByType(deviceType)
	} else {
		devices = c.server.devices.List()
	}

	reply := message.Response(map[string]interface{}{
		"devices": devices,
	})
	_ = c.Send(reply)
}

// writePump serializes all writes to the socket.
func (c *wsConnection) writePump() {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// Send queues a message for delivery to this client.
func (c *wsConnection) Send(message *wire.Message) error {
	data, err := message.Encode()
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrUnknownClient
	}
}

// close shuts the connection down from the server side.
func (c *wsConnection) close() {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server closing"),
		time.Now().Add(time.Second),
	)
	_ = c.conn.Close()
}

// teardown unregisters the connection and fires the disconnect callback.
// Safe against double invocation through the done channel.
func (c *wsConnection) teardown() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}

	_ = c.conn.Close()

	c.server.wsLock.Lock()
	delete(c.server.wsConns, c.id)
	c.server.wsLock.Unlock()

	if c.server.connections.Remove(c.id) {
		c.server.logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "websocket client disconnected", "clientId", c.id)
		c.server.fireDisconnect(c.id)
	}
}

// Send delivers a message to one connected websocket client.
func (s *Server) Send(clientID string, message *wire.Message) error {
	s.wsLock.Lock()
	wsConn, ok := s.wsConns[clientID]
	s.wsLock.Unlock()

	if !ok {
		return ErrUnknownClient
	}

	return wsConn.Send(message)
}

// Broadcast delivers a message to every connected websocket client.
func (s *Server) Broadcast(message *wire.Message) int {
	s.wsLock.Lock()
	targets := make([]*wsConnection, 0, len(s.wsConns))
	for _, wsConn := range s.wsConns {
		targets = append(targets, wsConn)
	}
	s.wsLock.Unlock()

	delivered := 0
	for _, wsConn := range targets {
		if wsConn.Send(message) == nil {
			delivered++
		}
	}

	return delivered
}
