package relay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phayes/freeport"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/driftsync/hub/internal/hub"
	"github.com/driftsync/hub/internal/message"
)

var audience string
var closed chan struct{}
var wg sync.WaitGroup

func TestMain(m *testing.M) {

	debug := false
	if debug {
		log.SetLevel(log.TraceLevel)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: true})
		log.SetOutput(os.Stdout)
	} else {
		var ignore bytes.Buffer
		logignore := bufio.NewWriter(&ignore)
		log.SetOutput(logignore)
	}

	port, err := freeport.GetFreePort()
	if err != nil {
		panic(err)
	}

	audience = "127.0.0.1:" + strconv.Itoa(port)

	config := NewDefaultConfig()
	config.Listen = audience

	closed = make(chan struct{})
	wg.Add(1)
	go Relay(closed, &wg, config)

	time.Sleep(time.Second) // big safety margin for server startup

	status := m.Run()

	close(closed)
	wg.Wait()

	os.Exit(status)
}

func wsURL(query string) string {
	return "ws://" + audience + "/sync/ws?" + query
}

func dial(t *testing.T, query string) *websocket.Conn {
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(query), nil)
	if err != nil {
		t.Fatalf("dial failed: %s", err.Error())
	}
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn, timeout time.Duration) *message.Message {
	if err := ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatal(err)
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %s", err.Error())
	}
	m, err := message.Parse(data)
	assert.NoError(t, err)
	return m
}

// expectConnected drains the welcome message every new socket receives
func expectConnected(t *testing.T, ws *websocket.Conn) string {
	m := readMessage(t, ws, time.Second)
	assert.Equal(t, message.TypeSystem, m.Type)
	var body message.SystemBody
	assert.NoError(t, m.DecodeContent(&body))
	assert.Equal(t, "connected", body.Event)
	assert.NotEmpty(t, body.ConnID)
	return body.ConnID
}

func TestConnectAndRoute(t *testing.T) {

	alice := dial(t, "user_id=alice&device_id=alice-laptop&device_type=linux")
	defer alice.Close()
	bob := dial(t, "user_id=bob&device_id=bob-phone&device_type=android")
	defer bob.Close()

	expectConnected(t, alice)
	expectConnected(t, bob)

	time.Sleep(100 * time.Millisecond) // let registration settle

	m := message.New(message.TypeText).
		WithContent("hi bob").
		WithTarget(&message.Target{Type: message.TargetUser, UserIDs: []string{"bob"}})

	data, err := m.Encode()
	assert.NoError(t, err)
	assert.NoError(t, alice.WriteMessage(websocket.TextMessage, data))

	got := readMessage(t, bob, time.Second)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, message.TypeText, got.Type)

	// sender identity is stamped server side
	if assert.NotNil(t, got.From) {
		assert.Equal(t, "alice", got.From.UserID)
		assert.Equal(t, "alice-laptop", got.From.DeviceID)
	}

	var body string
	assert.NoError(t, got.DecodeContent(&body))
	assert.Equal(t, "hi bob", body)
}

func TestBroadcastBetweenClients(t *testing.T) {

	c1 := dial(t, "user_id=carol&device_id=carol-web&device_type=web")
	defer c1.Close()
	c2 := dial(t, "user_id=dave&device_id=dave-mac&device_type=macos")
	defer c2.Close()

	expectConnected(t, c1)
	expectConnected(t, c2)

	time.Sleep(100 * time.Millisecond)

	m := message.New(message.TypeBroadcast).WithContent("everyone hears this")
	data, err := m.Encode()
	assert.NoError(t, err)
	assert.NoError(t, c1.WriteMessage(websocket.TextMessage, data))

	// broadcast includes the sender
	for _, ws := range []*websocket.Conn{c1, c2} {
		got := readMessage(t, ws, time.Second)
		assert.Equal(t, m.ID, got.ID)
	}
}

func TestHeartbeatAck(t *testing.T) {

	ws := dial(t, "user_id=erin&device_id=erin-ios&device_type=ios")
	defer ws.Close()

	expectConnected(t, ws)

	hb := message.New(message.TypeHeartbeat)
	data, err := hb.Encode()
	assert.NoError(t, err)
	assert.NoError(t, ws.WriteMessage(websocket.TextMessage, data))

	got := readMessage(t, ws, time.Second)
	assert.Equal(t, message.TypeAck, got.Type)

	var body message.AckBody
	assert.NoError(t, got.DecodeContent(&body))
	assert.Equal(t, hb.ID, body.ID)
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {

	ws := dial(t, "user_id=frank&device_id=frank-win&device_type=windows")
	defer ws.Close()

	expectConnected(t, ws)

	assert.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("this is not json")))

	got := readMessage(t, ws, time.Second)
	assert.Equal(t, message.TypeSystem, got.Type)

	var body message.SystemBody
	assert.NoError(t, got.DecodeContent(&body))
	assert.Equal(t, "error", body.Event)
	assert.NotEmpty(t, body.Detail)
}

func TestUnauthorizedIsRefused(t *testing.T) {

	_, resp, err := websocket.DefaultDialer.Dial(wsURL("device_id=anon"), nil)
	assert.Error(t, err)
	if assert.NotNil(t, resp) {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestDeviceEvictionOverWire(t *testing.T) {

	first := dial(t, "user_id=grace&device_id=grace-tablet&device_type=android")
	defer first.Close()
	expectConnected(t, first)

	second := dial(t, "user_id=grace&device_id=grace-tablet&device_type=android")
	defer second.Close()
	expectConnected(t, second)

	// the first socket is closed by the server
	if err := first.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	// the second socket still works
	time.Sleep(100 * time.Millisecond)
	hb := message.New(message.TypeHeartbeat)
	data, _ := hb.Encode()
	assert.NoError(t, second.WriteMessage(websocket.TextMessage, data))
	got := readMessage(t, second, time.Second)
	assert.Equal(t, message.TypeAck, got.Type)
}

func TestDefaultHubConvenience(t *testing.T) {

	// Relay installs its hub as the package default, so the rest of the
	// process can notify users without holding a hub reference

	ws := dial(t, "user_id=heidi&device_id=heidi-web&device_type=web")
	defer ws.Close()

	expectConnected(t, ws)
	time.Sleep(100 * time.Millisecond)

	assert.True(t, hub.IsOnline("heidi"))

	err := hub.NotifyUser("heidi", "sync complete", "5 files updated", "info")
	assert.NoError(t, err)

	got := readMessage(t, ws, time.Second)
	assert.Equal(t, message.TypeNotify, got.Type)

	var n message.Notification
	assert.NoError(t, got.DecodeContent(&n))
	assert.Equal(t, "sync complete", n.Title)

	assert.ErrorIs(t, hub.NotifyUser("nobody-home", "x", "y", "info"), hub.ErrUserNotFound)
}

func TestStatusAndHealthcheck(t *testing.T) {

	ws := dial(t, "user_id=ivan&device_id=ivan-srv&device_type=server")
	defer ws.Close()
	expectConnected(t, ws)
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://" + audience + "/sync/status")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report statusReport
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.GreaterOrEqual(t, report.Stats.ActiveConnections, 1)
	assert.GreaterOrEqual(t, report.Stats.TotalConnections, 1)

	found := false
	for _, c := range report.Connections {
		if c.UserID == "ivan" {
			found = true
			assert.Equal(t, message.DeviceServer, c.Device.Type)
			assert.True(t, c.Alive)
		}
	}
	assert.True(t, found, "ivan not in status report")

	resp2, err := http.Get("http://" + audience + "/healthcheck")
	assert.NoError(t, err)
	defer resp2.Body.Close()

	var health map[string]string
	assert.NoError(t, json.NewDecoder(resp2.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
}
