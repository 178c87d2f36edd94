package binance

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/recws-org/recws"
	"github.com/sirupsen/logrus"
)

const (
	handshakeTimeout = 5 * time.Second
	// The exchange pings every few minutes and drops idle connections after
	// ten; absence of any frame for this long is treated as connection loss.
	keepAliveTimeout = 3 * time.Minute
	connectTimeout   = 15 * time.Second

	subscriptionBuffer = 1024
)

type subscriptionEntry struct {
	ch              chan []byte
	subscriberCount int
}

type wsRequest struct {
	ReqID  int      `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// combinedStreamFrame is the envelope of the combined-stream endpoint; Data is
// kept raw for the topic-specific decoders in stream-api.go.
type combinedStreamFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// StreamClient multiplexes topic subscriptions over one auto-reconnecting
// combined-stream websocket. After every redial it resubscribes all open
// topics and notifies reconnect listeners, so protocol state that depends on
// stream continuity can be rebuilt.
type StreamClient struct {
	endpoint string
	conn     *recws.RecConn
	log      *logrus.Entry

	mu                 sync.Mutex
	subscriptions      map[string]*subscriptionEntry
	reconnectListeners []func()
	dialedOnce         bool

	done chan struct{}
}

func NewStreamClient(endpoint string, log *logrus.Entry) *StreamClient {
	return &StreamClient{
		endpoint:      endpoint,
		subscriptions: make(map[string]*subscriptionEntry),
		log:           log.WithField("component", "stream-client"),
		done:          make(chan struct{}),
	}
}

func (c *StreamClient) Connect() error {
	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		KeepAliveTimeout: keepAliveTimeout,
		NonVerbose:       true,
	}
	conn.SubscribeHandler = c.onConnected
	c.conn = conn

	conn.Dial(c.endpoint, nil)

	// Dial establishes the connection in the background; subscriptions
	// written before the handshake completes would be lost.
	deadline := time.Now().Add(connectTimeout)
	for !conn.IsConnected() {
		if time.Now().After(deadline) {
			conn.Close()
			return fmt.Errorf("stream endpoint %s unreachable after %s", c.endpoint, connectTimeout)
		}
		time.Sleep(50 * time.Millisecond)
	}

	go c.readLoop()
	return nil
}

// onConnected runs after the initial dial and after every successful redial.
func (c *StreamClient) onConnected() error {
	c.mu.Lock()
	firstDial := !c.dialedOnce
	c.dialedOnce = true

	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	listeners := make([]func(), len(c.reconnectListeners))
	copy(listeners, c.reconnectListeners)
	c.mu.Unlock()

	if firstDial {
		return nil
	}

	c.log.WithField("topics", len(topics)).Warn("stream reconnected, resubscribing")

	if len(topics) > 0 {
		if err := c.conn.WriteJSON(wsRequest{
			ReqID:  randomReqID(),
			Method: "SUBSCRIBE",
			Params: topics,
		}); err != nil {
			return err
		}
	}

	for _, listener := range listeners {
		listener()
	}
	return nil
}

// OnReconnect registers a listener invoked after every stream redial.
func (c *StreamClient) OnReconnect(listener func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectListeners = append(c.reconnectListeners, listener)
}

// Subscribe attaches to a topic, issuing the SUBSCRIBE request on first use.
// Messages are delivered on a buffered channel; a consumer that stops
// draining loses newest messages rather than blocking the socket.
func (c *StreamClient) Subscribe(topic string) (<-chan []byte, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.subscriptions[topic]; ok {
		entry.subscriberCount++
		return entry.ch, func() { c.unsubscribe(topic) }, nil
	}

	ch := make(chan []byte, subscriptionBuffer)
	c.subscriptions[topic] = &subscriptionEntry{ch: ch, subscriberCount: 1}

	c.log.WithField("topic", topic).Info("subscribing")
	if err := c.conn.WriteJSON(wsRequest{
		ReqID:  randomReqID(),
		Method: "SUBSCRIBE",
		Params: []string{topic},
	}); err != nil {
		delete(c.subscriptions, topic)
		return nil, nil, err
	}

	return ch, func() { c.unsubscribe(topic) }, nil
}

func (c *StreamClient) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.subscriptions[topic]
	if !ok {
		return
	}
	if entry.subscriberCount > 1 {
		entry.subscriberCount--
		return
	}

	close(entry.ch)
	delete(c.subscriptions, topic)

	c.log.WithField("topic", topic).Info("unsubscribing")
	if err := c.conn.WriteJSON(wsRequest{
		ReqID:  randomReqID(),
		Method: "UNSUBSCRIBE",
		Params: []string{topic},
	}); err != nil {
		c.log.WithError(err).Warn("failed to send unsubscribe request")
	}
}

// Close sends a close frame and stops the read loop.
func (c *StreamClient) Close() error {
	close(c.done)

	_ = c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.conn.Close()
	return nil
}

func (c *StreamClient) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			// recws redials on its own; wait it out.
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		var frame combinedStreamFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			c.log.WithError(err).Warn("dropping undecodable frame")
			continue
		}
		if frame.Stream == "" {
			// Subscribe/unsubscribe ack, nothing to route.
			continue
		}

		c.mu.Lock()
		entry, ok := c.subscriptions[frame.Stream]
		c.mu.Unlock()
		if !ok {
			continue
		}

		select {
		case entry.ch <- frame.Data:
		default:
			c.log.WithField("topic", frame.Stream).Warn("subscriber lagging, dropping message")
		}
	}
}

func randomReqID() int {
	return 10000 + rand.Intn(9989999)
}
