package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultWriteWait    = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultMaxFrameSize = 4096
)

// Tuning holds the timing and size knobs for the connection pumps. Values
// come from configuration; zero values fall back to the defaults above.
type Tuning struct {
	// Time allowed to write a message to the agent
	WriteWait time.Duration

	// Time allowed to read the next pong message from the agent
	PongWait time.Duration

	// Send pings with this period (must be less than PongWait)
	PingPeriod time.Duration

	// Maximum frame size allowed from the agent
	MaxFrameSize int64
}

func (t Tuning) withDefaults() Tuning {
	if t.WriteWait <= 0 {
		t.WriteWait = defaultWriteWait
	}
	if t.PongWait <= 0 {
		t.PongWait = defaultPongWait
	}
	if t.PingPeriod <= 0 {
		t.PingPeriod = (t.PongWait * 9) / 10
	}
	if t.MaxFrameSize <= 0 {
		t.MaxFrameSize = defaultMaxFrameSize
	}
	return t
}

// Sink receives connection lifecycle callbacks and inbound frames. The
// router implements it.
type Sink interface {
	Connected(c *Client)
	Disconnected(c *Client)
	Frame(c *Client, data []byte)
}

// Client is one agent's live WebSocket connection
type Client struct {
	agentID string
	conn    *websocket.Conn
	sink    Sink
	tuning  Tuning
	logger  zerolog.Logger

	// Buffered channel of outbound frames
	send chan []byte

	// done signals client shutdown to senders
	done chan struct{}

	// closeOnce ensures send channel is closed only once
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection for an authenticated agent
func NewClient(agentID string, conn *websocket.Conn, sink Sink, tuning Tuning, logger zerolog.Logger) *Client {
	return &Client{
		agentID: agentID,
		conn:    conn,
		sink:    sink,
		tuning:  tuning.withDefaults(),
		logger:  logger.With().Str("agent_id", agentID).Logger(),
		send:    make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// AgentID returns the authenticated agent this connection belongs to
func (c *Client) AgentID() string { return c.agentID }

// readPump pumps frames from the websocket connection to the sink
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.sink.Disconnected(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.tuning.MaxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(c.tuning.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.tuning.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket read error")
			}
			break
		}

		c.sink.Frame(c, message)
	}
}

// writePump pumps frames from the send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(c.tuning.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.tuning.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.tuning.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Close safely closes the client's send channel (idempotent)
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		defer func() {
			recover() // absorb panic if channel was already closed
		}()
		close(c.send)
	})
}

// safeSend attempts to queue a frame, recovering from panic if the channel
// is closed
func (c *Client) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}
