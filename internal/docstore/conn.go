package docstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Time allowed for one hub operation on behalf of a connection.
	opTimeout = 5 * time.Second
)

var ErrBackpressure = errors.New("backpressure")

// Limits bounds how fast one connection may send frames.
type Limits struct {
	Rate  float64
	Burst int
}

// Conn wraps a single websocket connection and serves document requests
// for it against the hub.
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	log  zerolog.Logger
	lim  *rate.Limiter
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	// subs is touched only by the ReadPump goroutine.
	subs map[string]signaling.Subscription
	wg   sync.WaitGroup
}

// NewConn creates a connection bound to hub.
func NewConn(hub *Hub, ws *websocket.Conn, limits Limits, logger zerolog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:   id,
		hub:  hub,
		ws:   ws,
		log:  logger.With().Str("module", "docstore").Str("conn", id).Str("remote", ws.RemoteAddr().String()).Logger(),
		lim:  rate.NewLimiter(rate.Limit(limits.Rate), limits.Burst),
		send: make(chan []byte, 256),
		done: make(chan struct{}),
		subs: make(map[string]signaling.Subscription),
	}
}

// Serve runs the read and write pumps and returns when the connection ends.
func (c *Conn) Serve() {
	c.log.Info().Msg("client connected")
	go c.WritePump()
	c.ReadPump()
	c.log.Info().Msg("client disconnected")
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// ReadPump pumps frames from the websocket connection to the hub.
//
// There is at most one reader on a connection; every request is handled in
// order on this goroutine, so one client's writes are applied in the order
// it sent them.
func (c *Conn) ReadPump() {
	defer func() {
		for id, sub := range c.subs {
			_ = sub.Close()
			delete(c.subs, id)
		}
		c.close()
		c.wg.Wait()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read failed")
			}
			return
		}

		if !c.lim.Allow() {
			c.log.Warn().Msg("rate limit hit, closing connection")
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit"),
				time.Now().Add(writeWait))
			return
		}

		frame, err := signaling.DecodeFrame(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("bad frame")
			c.reply(&signaling.Frame{Type: signaling.FrameTypeError, Code: signaling.CodeBadRequest, Error: err.Error()})
			continue
		}

		c.handle(frame)
	}
}

func (c *Conn) handle(f *signaling.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if f.RoomID == "" {
		c.fail(f, errors.New("room_id is required"))
		return
	}

	switch f.Type {
	case signaling.FrameTypeGet:
		doc, err := c.hub.Get(ctx, f.RoomID)
		if err != nil {
			c.fail(f, err)
			return
		}
		c.reply(&signaling.Frame{Type: signaling.FrameTypeResult, ID: f.ID, RoomID: doc.RoomID, Version: doc.Version, Fields: doc.Fields})

	case signaling.FrameTypeSet:
		c.result(f, c.hub.Set(ctx, f.RoomID, f.Fields))

	case signaling.FrameTypeMerge:
		c.result(f, c.hub.Merge(ctx, f.RoomID, f.Fields))

	case signaling.FrameTypeCAS:
		c.result(f, c.hub.CompareAndSwap(ctx, f.RoomID, f.Version, f.Fields))

	case signaling.FrameTypeSubscribe:
		if f.SubID == "" {
			c.fail(f, errors.New("sub is required"))
			return
		}
		if _, ok := c.subs[f.SubID]; ok {
			c.result(f, nil)
			return
		}
		sub, err := c.hub.Subscribe(ctx, f.RoomID)
		if err != nil {
			c.fail(f, err)
			return
		}
		c.subs[f.SubID] = sub
		c.wg.Add(1)
		go c.forward(f.SubID, sub)
		c.result(f, nil)

	case signaling.FrameTypeUnsubscribe:
		if sub, ok := c.subs[f.SubID]; ok {
			_ = sub.Close()
			delete(c.subs, f.SubID)
		}
		c.result(f, nil)

	default:
		c.log.Debug().Str("type", f.Type).Msg("unknown frame type")
		c.fail(f, errors.New("unknown frame type "+f.Type))
	}
}

// forward relays snapshots for one subscription until it closes.
func (c *Conn) forward(subID string, sub signaling.Subscription) {
	defer c.wg.Done()
	for doc := range sub.Updates() {
		c.reply(&signaling.Frame{
			Type:    signaling.FrameTypeSnapshot,
			SubID:   subID,
			RoomID:  doc.RoomID,
			Version: doc.Version,
			Fields:  doc.Fields,
		})
	}
}

func (c *Conn) result(f *signaling.Frame, err error) {
	if err != nil {
		c.fail(f, err)
		return
	}
	c.reply(&signaling.Frame{Type: signaling.FrameTypeResult, ID: f.ID, RoomID: f.RoomID})
}

func (c *Conn) fail(f *signaling.Frame, err error) {
	c.log.Debug().Err(err).Str("type", f.Type).Str("room", f.RoomID).Msg("request failed")
	c.reply(&signaling.Frame{
		Type:   signaling.FrameTypeError,
		ID:     f.ID,
		RoomID: f.RoomID,
		Code:   signaling.CodeFor(err),
		Error:  err.Error(),
	})
}

// reply queues a frame for the write pump. A client that cannot keep up
// is disconnected.
func (c *Conn) reply(f *signaling.Frame) {
	data, err := signaling.EncodeFrame(f)
	if err != nil {
		c.log.Error().Err(err).Msg("encode reply")
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.log.Warn().Err(ErrBackpressure).Msg("send buffer full, closing connection")
		c.close()
	}
}

// WritePump pumps frames from the send buffer to the websocket connection.
//
// There is at most one writer to a connection; every write happens on
// this goroutine.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.log.Warn().Err(err).Msg("write failed")
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
