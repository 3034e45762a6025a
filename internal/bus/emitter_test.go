package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

func TestFanOutInOrder(t *testing.T) {
	emitter := NewEmitter()
	var order []string
	sub := func(name string) Subscriber {
		return SubscriberFunc{SubName: name, Fn: func(EventEnvelope) error {
			order = append(order, name)
			return nil
		}}
	}
	emitter.Subscribe(sub("first"))
	emitter.Subscribe(sub("second"))
	emitter.Subscribe(sub("third"))

	emitter.Emit(NewEvent(protocol.EventRequestReceived, nil))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSubscriberErrorDoesNotAbortFanOut(t *testing.T) {
	emitter := NewEmitter()
	var reached bool
	emitter.Subscribe(SubscriberFunc{SubName: "broken", Fn: func(EventEnvelope) error {
		return errors.New("boom")
	}})
	emitter.Subscribe(SubscriberFunc{SubName: "after", Fn: func(EventEnvelope) error {
		reached = true
		return nil
	}})

	emitter.Emit(NewEvent(protocol.EventSystemError, nil))
	assert.True(t, reached)
}

func TestUnsubscribe(t *testing.T) {
	emitter := NewEmitter()
	count := 0
	emitter.Subscribe(SubscriberFunc{SubName: "counting", Fn: func(EventEnvelope) error {
		count++
		return nil
	}})

	emitter.Emit(NewEvent(protocol.EventRequestReceived, nil))
	emitter.Unsubscribe("counting")
	emitter.Emit(NewEvent(protocol.EventRequestReceived, nil))
	assert.Equal(t, 1, count)
}

func TestEnvelopeDefaults(t *testing.T) {
	e := NewEvent(protocol.EventPolicyEvaluated, map[string]any{"k": "v"})
	require.NotEmpty(t, e.ID)
	require.NotEmpty(t, e.TraceID)
	assert.Equal(t, "system", e.Actor)
	assert.Equal(t, protocol.SeverityInfo, e.Severity)
	assert.False(t, e.Timestamp.IsZero())

	withSession := e.WithSession("s1").WithActor("alice").WithSeverity(protocol.SeverityWarning)
	assert.Equal(t, "s1", withSession.SessionID)
	assert.Equal(t, "alice", withSession.Actor)
	// The original envelope is unchanged.
	assert.Empty(t, e.SessionID)
}
