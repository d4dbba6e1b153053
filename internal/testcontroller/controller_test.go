package testcontroller

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzzt-protocol/bzzt-go/pkg/wire"
)

func dial(t *testing.T, c *Controller) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(c.URL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func register(t *testing.T, c *Controller, conn *websocket.Conn, role string) {
	t.Helper()
	frame := `{"command":"register","type":"` + role + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func waitPhone(t *testing.T, c *Controller) *Peer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := c.WaitRegistered(ctx)
	require.NoError(t, err)
	return p
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	return string(data)
}

func TestRegisterAndBuzz(t *testing.T) {
	c := New()
	defer c.Close()

	phone := dial(t, c)
	register(t, c, phone, wire.RolePhone)
	p := waitPhone(t, c)
	assert.Equal(t, wire.RolePhone, p.Role())
	require.Len(t, p.Received(), 1)

	require.NoError(t, c.Buzz(wire.PulseCommand{Intensity: 200, Duration: 500}))

	assert.JSONEq(t, `{"command":"buzz","intensity":200,"duration":500}`, readText(t, phone))
}

func TestBuzzRelayedFromControllerClient(t *testing.T) {
	c := New()
	defer c.Close()

	phone := dial(t, c)
	register(t, c, phone, wire.RolePhone)
	waitPhone(t, c)

	remote := dial(t, c)
	register(t, c, remote, wire.RoleController)
	frame := `{"command":"buzz","intensity":10,"duration":20}`
	require.NoError(t, remote.WriteMessage(websocket.TextMessage, []byte(frame)))

	assert.Equal(t, frame, readText(t, phone))
	assert.Len(t, c.Phones(), 1)
}

func TestMistypedRegisterIgnored(t *testing.T) {
	c := New()
	defer c.Close()

	phone := dial(t, c)
	require.NoError(t, phone.WriteMessage(websocket.TextMessage, []byte(`{"command":"register","type":7}`)))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.WaitRegistered(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, c.Phones())

	register(t, c, phone, wire.RolePhone)
	p := waitPhone(t, c)
	assert.Len(t, p.Received(), 2)
}

func TestSendWithoutPhones(t *testing.T) {
	c := New()
	defer c.Close()

	assert.ErrorIs(t, c.Send([]byte(`{}`)), ErrNoPhones)
}

func TestWaitRegisteredTimeout(t *testing.T) {
	c := New()
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.WaitRegistered(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClosePhones(t *testing.T) {
	c := New()
	defer c.Close()

	phone := dial(t, c)
	register(t, c, phone, wire.RolePhone)
	waitPhone(t, c)

	c.ClosePhones()

	require.NoError(t, phone.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := phone.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestAddress(t *testing.T) {
	c := New()
	defer c.Close()

	assert.NotContains(t, c.Address(), "://")
	assert.Equal(t, "ws://"+c.Address()+"/", c.URL())
}
