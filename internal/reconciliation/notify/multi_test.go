package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(context.Context, AlertMessage) error {
	s.calls++
	return s.err
}

func TestMultiNotifierReachesAllAndJoinsErrors(t *testing.T) {
	failing := &stubNotifier{err: errors.New("webhook down")}
	ok := &stubNotifier{}
	m := NewMultiNotifier(failing, nil, ok)

	err := m.Notify(context.Background(), AlertMessage{GridArea: "791"})
	require.ErrorContains(t, err, "webhook down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)

	var empty *MultiNotifier
	require.NoError(t, empty.Notify(context.Background(), AlertMessage{}))
}

func TestLogNotifierWritesWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), AlertMessage{GridArea: "791", ResultID: "r-1"}))
	entries := logs.FilterMessage("reconciliation discrepancy").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "791", entries[0].ContextMap()["grid_area"])
}
