package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferedChannelSendReceive(t *testing.T) {
	ch := NewChannel(2)
	require.NoError(t, ch.Send(1))
	require.NoError(t, ch.Send(2))

	v, ok, err := ch.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok, err = ch.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestUnbufferedChannelRendezvous(t *testing.T) {
	ch := NewChannel(0)
	done := make(chan struct{})
	var received interface{}

	go func() {
		v, ok, err := ch.Receive()
		received = v
		assert.True(t, ok)
		assert.NoError(t, err)
		close(done)
	}()

	// Give the receiver a moment to start waiting, then send — an
	// unbuffered send only completes once a receiver has taken the value.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ch.Send(42))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receiver never observed the send")
	}
	assert.Equal(t, 42, received)
}

func TestSendOnClosedChannelErrors(t *testing.T) {
	ch := NewChannel(1)
	require.NoError(t, ch.Close())
	err := ch.Send(1)
	assert.Error(t, err)
}

func TestReceiveFromClosedEmptyChannelReturnsFalse(t *testing.T) {
	ch := NewChannel(1)
	require.NoError(t, ch.Close())
	v, ok, err := ch.Receive()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestReceiveDrainsBufferedValuesBeforeClosedSignal(t *testing.T) {
	ch := NewChannel(2)
	require.NoError(t, ch.Send("a"))
	require.NoError(t, ch.Close())

	v, ok, err := ch.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok, err = ch.Receive()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDoubleCloseIsANoop(t *testing.T) {
	ch := NewChannel(1)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
}
