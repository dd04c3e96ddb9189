// Package relay wires the hub to its websocket transport and runs the
// http server around both.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/driftsync/hub/internal/hub"
)

// Config represents configuration options for a relay instance. Use
// this struct to pass configuration as argument during testing.
type Config struct {

	// Listen is the <ip>:<port> the http server binds
	Listen string

	// Hub holds the hub and connection tuning parameters
	Hub *hub.Config

	// Authorize extracts the authenticated user from a connection
	// request; the real gatekeeper lives outside this repo, so the
	// default trusts the user_id query parameter
	Authorize func(*http.Request) (string, error)
}

// NewDefaultConfig returns a pointer to a Config struct with default
// parameters
func NewDefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8088",
		Hub:       hub.NewDefaultConfig(),
		Authorize: AuthorizeFromQuery,
	}
}

// Router returns the http routes for a hub; split out so tests can
// mount them on an httptest server
func Router(h *hub.Hub, config *Config) *mux.Router {

	r := mux.NewRouter()

	r.HandleFunc("/sync/ws", func(w http.ResponseWriter, req *http.Request) {
		serveWs(h, config, w, req)
	})

	r.HandleFunc("/sync/status", statusHandler(h))

	r.HandleFunc("/healthcheck", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(`{"status":"ok"}`))
		if err != nil {
			log.WithField("error", err.Error()).Error("healthcheck write failed")
		}
	})

	return r
}

// Relay runs the hub and its http server until the closed channel is
// closed
func Relay(closed <-chan struct{}, parentwg *sync.WaitGroup, config *Config) {

	if config.Hub == nil {
		config.Hub = hub.NewDefaultConfig()
	}
	if config.Authorize == nil {
		config.Authorize = AuthorizeFromQuery
	}
	if config.Hub.OnConnect == nil {
		config.Hub.OnConnect = func(c *hub.Connection) {
			log.WithFields(log.Fields{"user_id": c.UserID, "remote_addr": c.RemoteAddr()}).Info("client connected")
		}
	}
	if config.Hub.OnDisconnect == nil {
		config.Hub.OnDisconnect = func(c *hub.Connection) {
			log.WithField("user_id", c.UserID).Info("client offline")
		}
	}

	h := hub.NewWithConfig(config.Hub)
	hub.SetDefault(h)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.Run(closed)
	}()

	srv := &http.Server{
		Addr:    config.Listen,
		Handler: Router(h, config),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("listen", config.Listen).Info("relay listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err.Error()).Error("relay server stopped")
		}
	}()

	<-closed

	h.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithField("error", err.Error()).Warn("http shutdown")
	}

	wg.Wait()
	parentwg.Done()
	log.Trace("relay done")
}
