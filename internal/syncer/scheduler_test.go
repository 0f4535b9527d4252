package syncer

import (
	"context"
	"testing"

	"offlinesync/internal/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	h := newHarness(t, online, Options{})
	_, err := NewScheduler(h.engine, "every tuesday", nil)
	assert.Error(t, err)
}

func TestSchedulerTriggersDrain(t *testing.T) {
	h := newHarness(t, online, Options{})
	h.enqueueOffline(t, "a")

	s, err := NewScheduler(h.engine, "@every 1h", nil)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	s.triggerSync()
	h.engine.Wait()

	assert.Equal(t, []string{"a"}, h.exec.Calls())
	assert.Empty(t, h.queued(t))
}

func TestSchedulerSkipsWhileOffline(t *testing.T) {
	h := newHarness(t, network.Status{}, Options{})
	_, err := h.engine.EnqueueAndMaybeSync(context.Background(), taskOp("a"))
	require.NoError(t, err)

	s, err := NewScheduler(h.engine, "@every 1h", nil)
	require.NoError(t, err)

	s.triggerSync()
	h.engine.Wait()

	assert.Empty(t, h.exec.Calls())
	assert.Equal(t, []string{"a"}, h.queued(t))
}
