package signaling

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/dns"
	"github.com/go4org/hashtriemap"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is a Channel backed by a websocket connection to the document
// server. Requests are correlated with replies by frame ID.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	log       zerolog.Logger

	outgoing  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	pending hashtriemap.HashTrieMap[string, chan *Frame]
	subs    hashtriemap.HashTrieMap[string, *clientSubscription]
}

// NewClient creates a new signaling client
func NewClient(serverURL string, logger zerolog.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		log:       logger.With().Str("module", "signaling").Logger(),
		outgoing:  make(chan []byte, 16),
		done:      make(chan struct{}),
	}
}

// Connect establishes the websocket connection to the server.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		resolvedIP, err := dns.Lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}

		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(resolvedIP, port))
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: failed to connect: %v", ErrUnavailable, err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	c.log.Debug().Str("url", u.String()).Msg("connected")
	return nil
}

// readPump reads frames from the websocket connection and routes them to
// waiting requests and subscriptions.
func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.subs.Range(func(id string, sub *clientSubscription) bool {
			sub.shutdown()
			c.subs.Delete(id)
			return true
		})
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("connection lost")
			}
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}

		switch frame.Type {
		case FrameTypeResult, FrameTypeError:
			if reply, ok := c.pending.LoadAndDelete(frame.ID); ok {
				reply <- frame
			}

		case FrameTypeSnapshot:
			if sub, ok := c.subs.Load(frame.SubID); ok {
				sub.deliver(&Document{RoomID: frame.RoomID, Version: frame.Version, Fields: frame.Fields})
			}

		default:
			c.log.Debug().Str("type", frame.Type).Msg("unknown frame type")
		}
	}
}

// writePump writes frames to the websocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.log.Warn().Err(err).Msg("write failed")
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) request(ctx context.Context, f *Frame) (*Frame, error) {
	f.ID = uuid.NewString()
	data, err := EncodeFrame(f)
	if err != nil {
		return nil, err
	}

	reply := make(chan *Frame, 1)
	c.pending.Store(f.ID, reply)
	defer c.pending.Delete(f.ID)

	select {
	case c.outgoing <- data:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, f.Type, f.RoomID, ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("%w: %s %s: connection closed", ErrUnavailable, f.Type, f.RoomID)
	}

	select {
	case resp := <-reply:
		if resp.Type == FrameTypeError {
			return nil, ErrorFor(resp)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, f.Type, f.RoomID, ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("%w: %s %s: connection closed", ErrUnavailable, f.Type, f.RoomID)
	}
}

// Get implements Channel.
func (c *Client) Get(ctx context.Context, roomID string) (*Document, error) {
	resp, err := c.request(ctx, &Frame{Type: FrameTypeGet, RoomID: roomID})
	if err != nil {
		return nil, err
	}
	return &Document{RoomID: resp.RoomID, Version: resp.Version, Fields: resp.Fields}, nil
}

// Set implements Channel.
func (c *Client) Set(ctx context.Context, roomID string, fields Fields) error {
	_, err := c.request(ctx, &Frame{Type: FrameTypeSet, RoomID: roomID, Fields: fields})
	return err
}

// Merge implements Channel.
func (c *Client) Merge(ctx context.Context, roomID string, fields Fields) error {
	_, err := c.request(ctx, &Frame{Type: FrameTypeMerge, RoomID: roomID, Fields: fields})
	return err
}

// CompareAndSwap implements Channel.
func (c *Client) CompareAndSwap(ctx context.Context, roomID string, version uint64, fields Fields) error {
	_, err := c.request(ctx, &Frame{Type: FrameTypeCAS, RoomID: roomID, Version: version, Fields: fields})
	return err
}

// Subscribe implements Channel.
func (c *Client) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	sub := &clientSubscription{
		id:      uuid.NewString(),
		roomID:  roomID,
		client:  c,
		updates: make(chan *Document, 1),
	}

	// Registered before the request so the initial snapshot is not missed.
	c.subs.Store(sub.id, sub)
	if _, err := c.request(ctx, &Frame{Type: FrameTypeSubscribe, RoomID: roomID, SubID: sub.id}); err != nil {
		c.subs.Delete(sub.id)
		return nil, err
	}
	return sub, nil
}

// Close closes the websocket connection and fails all outstanding requests.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

type clientSubscription struct {
	id     string
	roomID string
	client *Client

	mu      sync.Mutex
	closed  bool
	updates chan *Document
}

func (s *clientSubscription) Updates() <-chan *Document {
	return s.updates
}

// deliver hands the newest snapshot to the consumer, replacing one that has
// not been picked up yet.
func (s *clientSubscription) deliver(doc *Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- doc:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- doc
	}
}

func (s *clientSubscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.updates)
}

func (s *clientSubscription) Close() error {
	s.client.subs.Delete(s.id)
	s.shutdown()

	select {
	case <-s.client.done:
		return nil
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	_, err := s.client.request(ctx, &Frame{Type: FrameTypeUnsubscribe, RoomID: s.roomID, SubID: s.id})
	return err
}
