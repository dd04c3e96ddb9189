package hub

import (
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/driftsync/hub/internal/message"
)

// readPump pumps frames from the websocket into the hub's router.
//
// The connection runs readPump in a per-connection goroutine; all reads
// happen here so there is at most one reader on the socket. Heartbeat
// messages are answered in-loop and never reach the hub. Malformed
// frames get an error reply, not a disconnect. Any other read error is
// fatal to this connection.
func (c *Connection) readPump() {

	defer func() {
		c.Close()
		log.WithField("conn_id", c.ID).Trace("readPump closed")
	}()

	c.ws.SetReadLimit(c.hub.config.MaxMessageSize)

	if err := c.ws.SetReadDeadline(time.Now().Add(c.hub.config.PongWait)); err != nil {
		log.WithField("error", err.Error()).Error("readPump deadline error")
		return
	}

	c.ws.SetPongHandler(func(string) error {
		c.touchHeartbeat()
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.config.PongWait))
	})

	for {

		mt, data, err := c.ws.ReadMessage()

		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithFields(log.Fields{"conn_id": c.ID, "error": err.Error()}).Error("readPump error")
			}
			break
		}

		if mt != websocket.TextMessage {
			c.replyError("binary frames not supported")
			continue
		}

		m, err := message.Parse(data)
		if err != nil {
			log.WithFields(log.Fields{"conn_id": c.ID, "error": err.Error()}).Debug("malformed message")
			c.replyError(err.Error())
			continue
		}

		// stamp sender identity and arrival time; never trust the wire
		m.From = &message.Sender{
			UserID:   c.UserID,
			ConnID:   c.ID,
			DeviceID: c.Device().ID,
		}
		m.Timestamp = time.Now().Unix()

		if m.Type == message.TypeHeartbeat {
			c.touchHeartbeat()
			if err := c.ws.SetReadDeadline(time.Now().Add(c.hub.config.PongWait)); err != nil {
				return
			}
			if err := c.SendMessage(message.NewAck(m)); err != nil {
				log.WithFields(log.Fields{"conn_id": c.ID, "error": err.Error()}).Debug("heartbeat ack not sent")
			}
			continue
		}

		c.hub.RouteMessage(c, m)
	}
}

// replyError sends a system error message back to the peer; best effort
func (c *Connection) replyError(detail string) {
	if err := c.SendMessage(message.NewSystem("error", detail)); err != nil {
		log.WithFields(log.Fields{"conn_id": c.ID, "error": err.Error()}).Debug("error reply not sent")
	}
}

// writePump drains the outbound queue onto the wire, batching frames
// that are already queued before yielding, and pings on a fixed
// interval so idle sockets are not reaped by intermediaries.
//
// A goroutine running writePump is started for each connection; all
// writes happen here so there is at most one writer on the socket.
func (c *Connection) writePump() {

	ticker := time.NewTicker(c.hub.config.PingInterval)

	defer func() {
		ticker.Stop()
		c.Close()
		log.WithField("conn_id", c.ID).Trace("writePump closed")
	}()

	for {
		select {

		case data := <-c.send:
			if err := c.writeFrame(data); err != nil {
				log.WithFields(log.Fields{"conn_id": c.ID, "error": err.Error()}).Debug("writePump write error")
				return
			}

			// drain whatever else is already queued before yielding
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.writeFrame(<-c.send); err != nil {
					log.WithFields(log.Fields{"conn_id": c.ID, "error": err.Error()}).Debug("writePump write error")
					return
				}
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Connection) writeFrame(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// checkHeartbeat force-closes the connection if the peer goes silent
// past the heartbeat timeout. This reclaims half-open sockets where the
// read pump has not errored, e.g. a peer that vanished without a reset.
func (c *Connection) checkHeartbeat() {

	ticker := time.NewTicker(c.hub.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if age := c.HeartbeatAge(); age > c.hub.config.HeartbeatTimeout {
				log.WithFields(log.Fields{
					"conn_id":       c.ID,
					"heartbeat_age": age.String(),
				}).Warn("heartbeat timeout, closing connection")
				c.Close()
				return
			}
		}
	}
}
