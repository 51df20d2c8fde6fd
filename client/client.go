// Package client is the unified gateway client: a single websocket session
// with request/response correlation, topic subscriptions, heartbeats, and
// automatic reconnection.
package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"

	"github.com/hydrogen-io/hydrogen/errorhandler"
	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/wire"
)

var (
	ErrAlreadyConnected = errors.New("the client is already connected")
	ErrConnectInFlight  = errors.New("another connect attempt is in flight")
	ErrNotConnected     = errors.New("the client is not connected")
	ErrTimeout          = errors.New("the request timed out awaiting its response")
)

// UnifiedClient is a gateway client.  All methods are safe for concurrent
// use; at most one connection exists at a time.
type UnifiedClient struct {
	logger log.Logger

	url               string
	token             string
	clientID          string
	handshakeTimeout  time.Duration
	requestTimeout    time.Duration
	writeTimeout      time.Duration
	heartbeatInterval time.Duration
	maxBatchTimeout   time.Duration
	reconnectPolicy   errorhandler.RetryPolicy
	disableReconnect  bool

	onConnected    func()
	onDisconnected func(error)
	onMessage      MessageHandler

	stateLock  sync.Mutex
	connected  bool
	connecting bool
	closing    bool
	conn       *websocket.Conn
	generation int

	writeLock sync.Mutex

	transactions *transactions

	subscriptionLock sync.Mutex
	subscriptions    map[string]MessageHandler
}

// New constructs a UnifiedClient from a set of Options.
func New(o *Options) *UnifiedClient {
	c := &UnifiedClient{
		logger:            o.logger(),
		handshakeTimeout:  o.handshakeTimeout(),
		requestTimeout:    o.requestTimeout(),
		writeTimeout:      o.writeTimeout(),
		heartbeatInterval: o.heartbeatInterval(),
		maxBatchTimeout:   o.maxBatchTimeout(),
		reconnectPolicy:   o.reconnectPolicy(),
		onConnected:       o.connected(),
		onDisconnected:    o.disconnected(),
		onMessage:         o.message(),
		transactions:      newTransactions(),
		subscriptions:     make(map[string]MessageHandler),
	}

	if o != nil {
		c.url = o.URL
		c.token = o.Token
		c.clientID = o.ClientID
		c.disableReconnect = o.DisableReconnect
	}

	return c
}

// Connect establishes the websocket session.  Exactly one Connect can be in
// flight at a time; concurrent calls fail fast rather than racing.
func (c *UnifiedClient) Connect(ctx context.Context) error {
	c.stateLock.Lock()
	if c.connected {
		c.stateLock.Unlock()
		return ErrAlreadyConnected
	}

	if c.connecting {
		c.stateLock.Unlock()
		return ErrConnectInFlight
	}

	c.connecting = true
	c.closing = false
	c.stateLock.Unlock()

	err := c.dial(ctx)

	c.stateLock.Lock()
	c.connecting = false
	c.stateLock.Unlock()
	return err
}

// dial performs one connection attempt and, on success, installs the
// connection and starts its pumps.
func (c *UnifiedClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	header := http.Header{}
	if len(c.token) > 0 {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}

	c.stateLock.Lock()
	c.conn = conn
	c.connected = true
	c.generation++
	generation := c.generation
	c.stateLock.Unlock()

	c.logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "connected", "url", c.url)

	go c.readLoop(conn, generation)
	if c.heartbeatInterval > 0 {
		go c.heartbeatLoop(conn, generation)
	}

	c.replaySubscriptions()
	c.onConnected()
	return nil
}

// Disconnect closes the session.  Reconnection is suppressed.
func (c *UnifiedClient) Disconnect() error {
	c.stateLock.Lock()
	c.closing = true
	conn := c.conn
	wasConnected := c.connected
	c.connected = false
	c.conn = nil
	c.stateLock.Unlock()

	if !wasConnected {
		return ErrNotConnected
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(time.Second),
	)

	err := conn.Close()
	c.transactions.drain()
	return err
}

// IsConnected reports whether a session is established.
func (c *UnifiedClient) IsConnected() bool {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	return c.connected
}

// readLoop consumes frames until the connection drops.  generation guards
// against a stale loop tearing down a newer connection.
func (c *UnifiedClient) readLoop(conn *websocket.Conn, generation int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, generation, err)
			return
		}

		message, err := wire.Decode(data)
		if err != nil {
			c.logger.Log(level.Key(), level.DebugValue(), logging.MessageKey(), "discarding unparseable frame", logging.ErrorKey(), err)
			continue
		}

		c.dispatch(message)
	}
}

// dispatch routes one inbound message.
func (c *UnifiedClient) dispatch(message *wire.Message) {
	correlation := message.CorrelationID
	if len(correlation) == 0 {
		correlation = message.OriginalMessageID
	}

	if (message.Type == wire.ResponseType || message.Type == wire.ErrorType) && len(correlation) > 0 {
		if c.transactions.complete(correlation, message) {
			return
		}
	}

	if message.Type == wire.HeartbeatType {
		return
	}

	if message.Type == wire.EventType || message.Type == wire.PropertyChangeType {
		c.subscriptionLock.Lock()
		handler, ok := c.subscriptions[message.Topic]
		c.subscriptionLock.Unlock()
		if ok {
			handler(message)
			return
		}
	}

	c.onMessage(message)
}

// handleDisconnect tears the session down and, unless the client is
// closing, begins reconnection.
func (c *UnifiedClient) handleDisconnect(conn *websocket.Conn, generation int, cause error) {
	c.stateLock.Lock()
	if c.generation != generation {
		c.stateLock.Unlock()
		return
	}

	closing := c.closing
	c.connected = false
	c.conn = nil
	c.stateLock.Unlock()

	conn.Close()
	c.transactions.drain()

	if closing {
		return
	}

	c.logger.Log(level.Key(), level.WarnValue(), logging.MessageKey(), "connection lost", logging.ErrorKey(), cause)
	c.onDisconnected(cause)

	if !c.disableReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries the connection per the reconnect policy.  A
// MaxAttempts of zero retries until connected or the client is closing.
func (c *UnifiedClient) reconnectLoop() {
	cause := errorhandler.Classify(errors.New("connection lost"))

	for attempt := 0; c.reconnectPolicy.MaxAttempts == 0 || attempt < c.reconnectPolicy.MaxAttempts; attempt++ {
		time.Sleep(c.reconnectPolicy.RetryDelay(cause, attempt))

		c.stateLock.Lock()
		if c.closing || c.connected || c.connecting {
			c.stateLock.Unlock()
			return
		}

		c.connecting = true
		c.stateLock.Unlock()

		err := c.dial(context.Background())

		c.stateLock.Lock()
		c.connecting = false
		c.stateLock.Unlock()

		if err == nil {
			return
		}

		c.logger.Log(level.Key(), level.WarnValue(), logging.MessageKey(), "reconnect attempt failed", "attempt", attempt+1, logging.ErrorKey(), err)
	}

	c.logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "reconnection abandoned", "attempts", c.reconnectPolicy.MaxAttempts)
}

// heartbeatLoop sends periodic heartbeats while the connection lives.
func (c *UnifiedClient) heartbeatLoop(conn *websocket.Conn, generation int) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.stateLock.Lock()
		live := c.connected && c.generation == generation
		c.stateLock.Unlock()
		if !live {
			return
		}

		heartbeat := wire.NewMessage(wire.HeartbeatType)
		heartbeat.SenderID = c.clientID
		heartbeat.Payload = map[string]interface{}{"timestamp": time.Now().UnixMilli()}
		if err := c.write(heartbeat); err != nil {
			// transient send failures do not end the loop; only the
			// liveness check above does
			c.logger.Log(level.Key(), level.WarnValue(), logging.MessageKey(), "heartbeat send failed", logging.ErrorKey(), err)
		}
	}
}

// write serializes one message onto the socket.
func (c *UnifiedClient) write(message *wire.Message) error {
	c.stateLock.Lock()
	conn := c.conn
	connected := c.connected
	c.stateLock.Unlock()

	if !connected {
		return ErrNotConnected
	}

	data, err := message.Encode()
	if err != nil {
		return err
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Send transmits a message and waits for its correlated response.  On
// timeout the returned message is an ERROR describing the timeout, along
// with ErrTimeout.
func (c *UnifiedClient) Send(ctx context.Context, message *wire.Message) (*wire.Message, error) {
	if len(message.SenderID) == 0 {
		message.SenderID = c.clientID
	}

	waiter, err := c.transactions.register(message.MessageID)
	if err != nil {
		return nil, err
	}

	if err := c.write(message); err != nil {
		c.transactions.cancel(message.MessageID)
		return nil, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case response, ok := <-waiter:
		if !ok {
			return nil, ErrNotConnected
		}

		return response, nil

	case <-ctx.Done():
		c.transactions.cancel(message.MessageID)
		return nil, ctx.Err()

	case <-timer.C:
		c.transactions.cancel(message.MessageID)
		return timeoutMessage(message), ErrTimeout
	}
}

// timeoutMessage is the synthetic ERROR produced when a response never
// arrives.
func timeoutMessage(request *wire.Message) *wire.Message {
	failure := wire.NewMessage(wire.ErrorType)
	failure.CorrelationID = request.MessageID
	failure.Topic = request.Topic
	failure.Payload = map[string]interface{}{
		"error":     "Message timeout",
		"messageId": request.MessageID,
	}

	return failure
}

// SendAsync transmits a message without awaiting a response.
func (c *UnifiedClient) SendAsync(message *wire.Message) error {
	if len(message.SenderID) == 0 {
		message.SenderID = c.clientID
	}

	return c.write(message)
}

// SendBatch transmits messages concurrently and collects their responses in
// input order.  The timeout is capped by the configured maximum; a zero
// timeout means the cap itself.
func (c *UnifiedClient) SendBatch(ctx context.Context, messages []*wire.Message, timeout time.Duration) []*wire.Message {
	if timeout <= 0 || timeout > c.maxBatchTimeout {
		timeout = c.maxBatchTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	responses := make([]*wire.Message, len(messages))
	var group sync.WaitGroup
	for i, message := range messages {
		group.Add(1)
		go func(i int, message *wire.Message) {
			defer group.Done()
			response, err := c.Send(ctx, message)
			if err != nil && response == nil {
				response = timeoutMessage(message)
			}

			responses[i] = response
		}(i, message)
	}

	group.Wait()
	return responses
}

// Subscribe installs a handler for events on a topic.  Active subscriptions
// are replayed after every reconnect.
func (c *UnifiedClient) Subscribe(topic string, handler MessageHandler) error {
	c.subscriptionLock.Lock()
	c.subscriptions[topic] = handler
	c.subscriptionLock.Unlock()

	if c.IsConnected() {
		return c.write(subscriptionMessage("subscribe", topic, c.clientID))
	}

	return nil
}

// Unsubscribe removes a topic handler.
func (c *UnifiedClient) Unsubscribe(topic string) error {
	c.subscriptionLock.Lock()
	delete(c.subscriptions, topic)
	c.subscriptionLock.Unlock()

	if c.IsConnected() {
		return c.write(subscriptionMessage("unsubscribe", topic, c.clientID))
	}

	return nil
}

// Subscriptions returns the currently subscribed topics.
func (c *UnifiedClient) Subscriptions() []string {
	c.subscriptionLock.Lock()
	defer c.subscriptionLock.Unlock()

	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}

	return topics
}

// PendingRequests returns the number of requests awaiting responses.
func (c *UnifiedClient) PendingRequests() int {
	return c.transactions.count()
}

// replaySubscriptions re-announces every active subscription.
func (c *UnifiedClient) replaySubscriptions() {
	for _, topic := range c.Subscriptions() {
		if err := c.write(subscriptionMessage("subscribe", topic, c.clientID)); err != nil {
			c.logger.Log(level.Key(), level.WarnValue(), logging.MessageKey(), "subscription replay failed", "topic", topic, logging.ErrorKey(), err)
			return
		}
	}
}

func subscriptionMessage(action, topic, clientID string) *wire.Message {
	message := wire.NewMessage(wire.CommandType)
	message.SenderID = clientID
	message.Topic = topic
	message.Headers = map[string]string{"action": action}
	return message
}
