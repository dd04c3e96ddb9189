package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseValidMessage(t *testing.T) {

	data := []byte(`{"id":"m-1","type":"text","target":{"type":"user","user_ids":["user1"]},"content":{"body":"hello"},"timestamp":1718000000}`)

	m, err := Parse(data)
	assert.NoError(t, err)
	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, TypeText, m.Type)
	assert.Equal(t, TargetUser, m.Target.Type)
	assert.Equal(t, []string{"user1"}, m.Target.UserIDs)

	var body map[string]string
	assert.NoError(t, m.DecodeContent(&body))
	assert.Equal(t, "hello", body["body"])
}

func TestParseGeneratesMissingID(t *testing.T) {

	m, err := Parse([]byte(`{"type":"heartbeat"}`))
	assert.NoError(t, err)
	assert.NotEmpty(t, m.ID)
}

func TestParseRejectsBadFrames(t *testing.T) {

	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"type":"telegram"}`))
	assert.ErrorIs(t, err, ErrBadType)

	_, err = Parse([]byte(`{"type":"text","target":{"type":"planet"}}`))
	assert.ErrorIs(t, err, ErrBadTarget)
}

func TestEncodeRoundTrip(t *testing.T) {

	m := New(TypeNotify).
		WithContent(Notification{Title: "sync", Message: "2 files", Level: "info"}).
		WithTarget(&Target{Type: TargetDevice, DeviceIDs: []string{"deviceA"}})

	data, err := m.Encode()
	assert.NoError(t, err)

	got, err := Parse(data)
	assert.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, TypeNotify, got.Type)
	assert.Equal(t, []string{"deviceA"}, got.Target.DeviceIDs)

	var n Notification
	assert.NoError(t, got.DecodeContent(&n))
	assert.Equal(t, "sync", n.Title)
}

func TestContentIsOpaque(t *testing.T) {

	// arbitrary app payloads pass through untouched
	payload := `{"op":"upload","chunks":[1,2,3],"nested":{"deep":true}}`
	m := New(TypeFileSync)
	m.Content = json.RawMessage(payload)

	data, err := m.Encode()
	assert.NoError(t, err)

	got, err := Parse(data)
	assert.NoError(t, err)
	assert.JSONEq(t, payload, string(got.Content))
}

func TestControlConstructors(t *testing.T) {

	c := NewConnected("conn-9")
	assert.Equal(t, TypeSystem, c.Type)
	var sys SystemBody
	assert.NoError(t, c.DecodeContent(&sys))
	assert.Equal(t, "connected", sys.Event)
	assert.Equal(t, "conn-9", sys.ConnID)

	orig := New(TypeHeartbeat)
	ack := NewAck(orig)
	assert.Equal(t, TypeAck, ack.Type)
	var ab AckBody
	assert.NoError(t, ack.DecodeContent(&ab))
	assert.Equal(t, orig.ID, ab.ID)
}

func TestNewDeviceInfoDefaults(t *testing.T) {

	d := NewDeviceInfo("", "", "", "", "")
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, DeviceUnknown, d.Type)
	assert.Equal(t, StatusOnline, d.Status)

	d2 := NewDeviceInfo("deviceA", DeviceAndroid, "pixel", "android 15", "2.3.1")
	assert.Equal(t, "deviceA", d2.ID)
	assert.Equal(t, DeviceAndroid, d2.Type)
	assert.Equal(t, "pixel", d2.Name)
}

func TestParseDeviceType(t *testing.T) {

	assert.Equal(t, DeviceIOS, ParseDeviceType("ios"))
	assert.Equal(t, DeviceServer, ParseDeviceType("server"))
	assert.Equal(t, DeviceUnknown, ParseDeviceType("fridge"))
	assert.Equal(t, DeviceUnknown, ParseDeviceType(""))
}
