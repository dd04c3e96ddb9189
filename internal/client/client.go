// Package client provides an outbound websocket connection to another
// hub that reconnects automatically with capped backoff. Used when this
// process is itself a client of a peer hub (server to server); ordinary
// end-user clients connect inbound and never need this.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/driftsync/hub/internal/message"
)

// State represents where the client is in its connection lifecycle
type State int32

// Client states
const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ErrRetriesExceeded wraps the last dial error once the retry budget is
// spent
var ErrRetriesExceeded = errors.New("retries exceeded")

// RetryConfig represents the parameters for when to retry to connect
type RetryConfig struct {
	Factor float64
	Jitter bool
	Min    time.Duration
	Max    time.Duration

	// MaxRetries caps consecutive failed dials before Run gives up;
	// zero means retry forever
	MaxRetries int
}

// Client is a websocket client that reconnects if the connection drops.
// Outbound messages are read from Out; incoming messages are forwarded
// to In while ForwardIncoming is true.
type Client struct {
	ID  string
	URL string
	In  chan *message.Message
	Out chan *message.Message

	// Connected is closed on each successful connect, then remade.
	// Capture it before calling Run, or read it via ConnectedSignal;
	// the field itself is reassigned between reconnect cycles.
	Connected chan struct{}

	ConnectedAt     time.Time
	ForwardIncoming bool
	Retry           RetryConfig
	HeartbeatEvery  time.Duration
	WriteWait       time.Duration

	mu    sync.Mutex // guards Connected
	state int32
}

// New returns a pointer to a new reconnecting client for the given url
func New(urlStr string) *Client {
	return &Client{
		ID:              uuid.New().String()[0:6],
		URL:             urlStr,
		In:              make(chan *message.Message),
		Out:             make(chan *message.Message),
		Connected:       make(chan struct{}),
		ForwardIncoming: true,
		Retry: RetryConfig{
			Factor: 2,
			Min:    time.Second,
			Max:    60 * time.Second,
			Jitter: false,
		},
		HeartbeatEvery: 30 * time.Second,
		WriteWait:      10 * time.Second,
	}
}

// State returns the current lifecycle state
func (c *Client) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// ConnectedSignal returns the channel closed on the current or next
// successful connect; safe to call while Run is reconnecting
func (c *Client) ConnectedSignal() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Connected
}

func (c *Client) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Run dials and re-dials until the context is cancelled or the retry
// budget is spent; run in its own goroutine. A successful connect
// resets the retry count to zero.
func (c *Client) Run(ctx context.Context) error {

	id := "client.Run(" + c.ID + ")"

	boff := &backoff.Backoff{
		Min:    c.Retry.Min,
		Max:    c.Retry.Max,
		Factor: c.Retry.Factor,
		Jitter: c.Retry.Jitter,
	}

	retries := 0

	for {

		select {
		case <-ctx.Done():
			c.setState(Disconnected)
			return ctx.Err()
		default:
		}

		c.setState(Connecting)

		err := c.Dial(ctx)

		if ctx.Err() != nil {
			c.setState(Disconnected)
			return ctx.Err()
		}

		if err == nil {
			// connected then closed cleanly; dial again straight away
			boff.Reset()
			retries = 0
			log.Tracef("%s: dial finished cleanly, resetting backoff", id)
			continue
		}

		retries++

		if c.Retry.MaxRetries > 0 && retries >= c.Retry.MaxRetries {
			c.setState(Disconnected)
			return fmt.Errorf("%w after %d attempts: %s", ErrRetriesExceeded, retries, err.Error())
		}

		c.setState(Reconnecting)
		wait := boff.Duration()
		log.WithFields(log.Fields{"error": err.Error(), "wait": wait.String()}).Debugf("%s: dial failed, backing off", id)

		select {
		case <-ctx.Done():
			c.setState(Disconnected)
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Dial connects once. If the dial fails it returns immediately; if it
// succeeds it handles message traffic until the connection drops or the
// context is cancelled.
func (c *Client) Dial(ctx context.Context) error {

	id := "client.Dial(" + c.ID + ")"

	if c.URL == "" {
		return errors.New("can't dial an empty url")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return err
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("url must start with ws or wss")
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		log.WithField("error", err.Error()).Debugf("%s: dial error", id)
		return err
	}

	defer ws.Close()

	c.ConnectedAt = time.Now()
	c.setState(Connected)

	c.mu.Lock()
	connected := c.Connected
	c.mu.Unlock()
	close(connected) // signal that we've connected
	defer func() {
		c.mu.Lock()
		c.Connected = make(chan struct{}) // reset for next time
		c.mu.Unlock()
	}()

	log.WithField("url", c.URL).Infof("%s: connected", id)

	readClosed := make(chan struct{})
	var readErr error

	go func() {
		defer close(readClosed)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				// expected on a normal exit when the writer closes the socket
				log.WithField("error", err.Error()).Debugf("%s: read closed", id)
				readErr = err
				return
			}
			m, err := message.Parse(data)
			if err != nil {
				log.WithField("error", err.Error()).Debugf("%s: ignoring malformed message", id)
				continue
			}
			if m.Type == message.TypeAck {
				continue // heartbeat acks stop here
			}
			if c.ForwardIncoming {
				c.In <- m
			}
		}
	}()

	ticker := time.NewTicker(c.HeartbeatEvery)
	defer ticker.Stop()

	for {
		select {

		case <-readClosed:
			if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil // clean close resets the backoff
			}
			return readErr

		case m := <-c.Out:
			data, err := m.Encode()
			if err != nil {
				log.WithField("error", err.Error()).Warnf("%s: dropping unencodable message", id)
				continue
			}
			if err := ws.SetWriteDeadline(time.Now().Add(c.WriteWait)); err != nil {
				return err
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.WithField("error", err.Error()).Infof("%s: write error, closing", id)
				return err
			}

		case <-ticker.C:
			hb, err := message.New(message.TypeHeartbeat).Encode()
			if err != nil {
				continue
			}
			if err := ws.SetWriteDeadline(time.Now().Add(c.WriteWait)); err != nil {
				return err
			}
			if err := ws.WriteMessage(websocket.TextMessage, hb); err != nil {
				return err
			}

		case <-ctx.Done():
			err := ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.WithField("error", err.Error()).Debugf("%s: error sending close message", id)
			}
			ws.Close()
			<-readClosed
			return nil
		}
	}
}
