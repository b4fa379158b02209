package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "events.CHAT_REPORTED", Subject("CHAT_REPORTED"))
}

func TestDecode(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(map[string]interface{}{
		"type":        "CHAT_COMPLETED",
		"occurred_at": at,
		"data":        map[string]interface{}{"session_id": "s1"},
	})
	require.NoError(t, err)

	ev, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "CHAT_COMPLETED", ev.EventType())
	assert.Equal(t, "s1", ev.Payload()["session_id"])
	assert.True(t, at.Equal(ev.Timestamp()))

	_, err = Decode([]byte(`{"data":{}}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.Publish(context.Background(), nil))
	assert.NotPanics(t, p.Close)
}
