package system

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingService struct {
	name     string
	startErr error
	log      *[]string
}

func (r recordingService) Name() string { return r.name }

func (r recordingService) Start(context.Context) error {
	*r.log = append(*r.log, "start:"+r.name)
	return r.startErr
}

func (r recordingService) Stop(context.Context) error {
	*r.log = append(*r.log, "stop:"+r.name)
	return nil
}

func TestManagerOrder(t *testing.T) {
	var log []string
	m := NewManager()
	require.NoError(t, m.Register(recordingService{name: "a", log: &log}))
	require.NoError(t, m.Register(recordingService{name: "b", log: &log}))

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, log)
}

func TestManagerDuplicateName(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(NoopService{ServiceName: "x"}))
	assert.Error(t, m.Register(NoopService{ServiceName: "x"}))
	assert.Error(t, m.Register(nil))
}

func TestManagerStartFailureRollsBack(t *testing.T) {
	var log []string
	m := NewManager()
	require.NoError(t, m.Register(recordingService{name: "a", log: &log}))
	require.NoError(t, m.Register(recordingService{name: "b", log: &log, startErr: errors.New("boom")}))
	require.NoError(t, m.Register(recordingService{name: "c", log: &log}))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, log)
}

func TestManagerRegisterAfterStart(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(NoopService{ServiceName: "x"}))
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Register(NoopService{ServiceName: "y"}))
	assert.Len(t, m.Services(), 1)
}
