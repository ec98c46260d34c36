package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishBeforeConnect(t *testing.T) {
	t.Parallel()

	b := New("tcp://localhost:1883", "gnssd-test")

	err := b.Publish("gnss/solution", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestSubscribeBeforeConnect(t *testing.T) {
	t.Parallel()

	b := New("tcp://localhost:1883", "gnssd-test")

	err := b.Subscribe("gnss/receiver", func(string, []byte) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestCloseWithoutConnect(t *testing.T) {
	t.Parallel()

	b := New("tcp://localhost:1883", "gnssd-test")
	b.Close() // must not panic
}

func TestNilLoggerOptionIgnored(t *testing.T) {
	t.Parallel()

	b := New("tcp://localhost:1883", "gnssd-test", WithLogger(nil))
	require.NotNil(t, b.logger)
}
