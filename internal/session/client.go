package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// PingPeriod is how often a session is pinged and its presence refreshed.
	PingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	respondTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Responder handles courier responses arriving over a session.
type Responder interface {
	Accept(ctx context.Context, orderID string, courierID int64) (domain.AcceptResult, error)
	Reject(ctx context.Context, orderID string, courierID int64) (domain.RejectResult, error)
}

// Presence records which couriers hold a live session.
type Presence interface {
	Touch(ctx context.Context, courierID int64) error
	Clear(ctx context.Context, courierID int64) error
	IsOnline(ctx context.Context, courierID int64) (bool, error)
}

// Frame is a message a courier client sends.
type Frame struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
}

// Reply answers a Frame.
type Reply struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client is one WebSocket connection subscribed to a single topic.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	topic     string
	courierID int64
	responder Responder
	presence  Presence
	logger    logx.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// ServeCourier upgrades the request into the courier's session. Offers arrive on the courier topic,
// and accept/reject frames are forwarded to the responder.
func (h *Hub) ServeCourier(w http.ResponseWriter, r *http.Request, courierID int64, responder Responder, presence Presence) error {
	if presence == nil {
		presence = h
	}
	c, err := h.serve(w, r, domain.CourierTopic(courierID))
	if err != nil {
		return err
	}
	c.courierID = courierID
	c.responder = responder
	c.presence = presence
	c.logger = h.logger.With(logx.Int64("courier_id", courierID))

	if err := presence.Touch(r.Context(), courierID); err != nil {
		c.logger.Warn("presence touch failed", logx.Err(err))
	}
	c.start()
	return nil
}

// ServeOrder upgrades the request into a read-only customer channel for the order.
func (h *Hub) ServeOrder(w http.ResponseWriter, r *http.Request, orderID string) error {
	c, err := h.serve(w, r, domain.OrderTopic(orderID))
	if err != nil {
		return err
	}
	c.logger = h.logger.With(logx.String("order_id", orderID))
	c.start()
	return nil
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, topic string) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		topic:  topic,
		logger: h.logger,
		done:   make(chan struct{}),
	}, nil
}

func (c *Client) start() {
	c.hub.register(c)
	go c.writePump()
	go c.readPump()
}

func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		if c.presence != nil && c.hub.Subscribers(c.topic) == 0 {
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			if err := c.presence.Clear(ctx, c.courierID); err != nil {
				c.logger.Warn("presence clear failed", logx.Err(err))
			}
		}
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("session read failed", logx.Err(err))
			}
			return
		}
		if c.responder == nil {
			continue
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.OrderID == "" {
			c.reply(Reply{Type: "error", Error: "malformed frame"})
			continue
		}
		c.reply(c.respond(f))
	}
}

func (c *Client) respond(f Frame) Reply {
	ctx, cancel := context.WithTimeout(context.Background(), respondTimeout)
	defer cancel()

	rep := Reply{Type: f.Type + "_result", OrderID: f.OrderID}
	var err error
	switch f.Type {
	case "accept":
		rep.Result, err = c.responder.Accept(ctx, f.OrderID, c.courierID)
	case "reject":
		rep.Result, err = c.responder.Reject(ctx, f.OrderID, c.courierID)
	default:
		err = errors.New("unknown frame type")
		rep.Type = "error"
	}
	if err != nil {
		rep.Result = nil
		rep.Error = err.Error()
	}
	return rep
}

func (c *Client) reply(rep Reply) {
	payload, err := json.Marshal(rep)
	if err != nil {
		c.logger.Error("encode reply failed", logx.Err(err))
		return
	}
	if !c.enqueue(payload) {
		c.logger.Warn("reply dropped", logx.String("type", rep.Type))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.presence != nil {
				ctx, cancel := context.WithTimeout(context.Background(), writeWait)
				if err := c.presence.Touch(ctx, c.courierID); err != nil {
					c.logger.Warn("presence refresh failed", logx.Err(err))
				}
				cancel()
			}
		}
	}
}
