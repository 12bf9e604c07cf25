package bitrunq_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrunq/bitrunq"
	"github.com/bitrunq/bitrunq/model/cpuset"
	"github.com/bitrunq/bitrunq/model/task"
)

func TestService(t *testing.T) {
	srv, err := bitrunq.New(bitrunq.WithCores(2))
	require.NoError(t, err)

	s := srv.Scheduler()
	require.NotNil(t, s)
	assert.Equal(t, 2, s.NumCores())

	tk := task.New("worker", task.DefaultPrio, cpuset.Set{})
	cpu, err := s.Submit(tk)
	require.NoError(t, err)

	cur, err := s.Schedule(cpu)
	require.NoError(t, err)
	assert.Same(t, tk, cur)
	assert.Equal(t, uint64(1), srv.Stats().Dispatches)
}

func TestServiceConfigValidation(t *testing.T) {
	cfg := bitrunq.DefaultConfig()
	cfg.Telemetry.EventBuffer = -1
	_, err := bitrunq.New(bitrunq.WithConfig(cfg))
	assert.Error(t, err)
}
