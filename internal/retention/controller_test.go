package retention

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

type stubStore struct {
	pruned int
	erased int
	fail   bool
}

func (s *stubStore) Prune(context.Context, time.Duration) (int, error) {
	if s.fail {
		return 0, fmt.Errorf("backend down")
	}
	return s.pruned, nil
}

func (s *stubStore) EraseUser(context.Context, string) (int, error) {
	if s.fail {
		return 0, fmt.Errorf("backend down")
	}
	return s.erased, nil
}

func TestInvalidScheduleRejected(t *testing.T) {
	_, err := NewController(Config{Schedule: "not a cron"}, nil)
	assert.Error(t, err)
}

func TestPruneAllCounts(t *testing.T) {
	c, err := NewController(DefaultConfig(), nil)
	require.NoError(t, err)
	c.AddPrunable("a", &stubStore{pruned: 3})
	c.AddPrunable("b", &stubStore{pruned: 2})
	c.AddPrunable("broken", &stubStore{fail: true})

	assert.Equal(t, 5, c.PruneAll(context.Background()))
}

func TestForgetUserAggregatesAndEmits(t *testing.T) {
	emitter := bus.NewEmitter()
	var events []string
	emitter.Subscribe(bus.SubscriberFunc{SubName: "capture", Fn: func(e bus.EventEnvelope) error {
		events = append(events, e.EventType)
		return nil
	}})

	c, err := NewController(DefaultConfig(), emitter)
	require.NoError(t, err)
	c.AddErasable("sessions", &stubStore{erased: 4})
	c.AddErasable("artifacts", &stubStore{erased: 7})
	c.AddErasable("broken", &stubStore{fail: true})

	report := c.ForgetUser(context.Background(), "user-1")
	assert.Equal(t, "user-1", report.UserID)
	assert.Equal(t, 11, report.TotalDeleted)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "broken")

	assert.Equal(t, []string{
		protocol.EventDataDeletionInitiated,
		protocol.EventDataDeletionCompleted,
	}, events)
}

func TestRealStoresSatisfyInterfaces(t *testing.T) {
	var _ store.Prunable = store.NewMemorySessionStore()
	var _ store.Erasable = store.NewMemorySessionStore()
	var _ store.Prunable = store.NewMemoryArtifactStore()
	var _ store.Erasable = store.NewMemoryArtifactStore()
}
