package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/driftsync/hub/internal/hub"
	"github.com/driftsync/hub/internal/message"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin checking is the deployment's concern; the relay sits
	// behind the gateway that authenticated the request
	CheckOrigin: func(*http.Request) bool { return true },
}

// AuthorizeFromQuery trusts the user_id query parameter. Token
// validation happens upstream of this process; swap in a real Authorize
// func when running without that layer.
func AuthorizeFromQuery(r *http.Request) (string, error) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		return "", errors.New("no user_id")
	}
	return userID, nil
}

// serveWs handles websocket requests from clients: authorize, upgrade,
// build the connection from the connect-time parameters, start its
// pumps
func serveWs(h *hub.Hub, config *Config, w http.ResponseWriter, r *http.Request) {

	userID, err := config.Authorize(r)
	if err != nil {
		log.WithField("error", err.Error()).Info("unauthorized connection attempt")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()

	device := message.NewDeviceInfo(
		q.Get("device_id"),
		message.ParseDeviceType(q.Get("device_type")),
		q.Get("device_name"),
		q.Get("platform"),
		q.Get("app_version"),
	)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("error", err.Error()).Error("failed to upgrade to websocket")
		return
	}

	// cannot return any http responses from here on

	remoteAddr := r.Header.Get("X-Forwarded-For")
	if remoteAddr == "" {
		remoteAddr = r.RemoteAddr
	}

	c := hub.NewConnection(h, ws, userID, device, remoteAddr)
	c.Start()

	log.WithFields(log.Fields{
		"conn_id":   c.ID,
		"user_id":   userID,
		"device_id": device.ID,
	}).Trace("websocket connection started")
}

// statusReport is the body served by /sync/status
type statusReport struct {
	Stats       hub.Report           `json:"stats"`
	Connections []hub.ConnectionInfo `json:"connections"`
}

func statusHandler(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		report := statusReport{
			Stats:       h.GetStats(),
			Connections: h.GetAllConnectionsInfo(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.WithField("error", err.Error()).Error("status encode failed")
		}
	}
}
