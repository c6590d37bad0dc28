package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTarget struct {
	calls atomic.Int32
	keep  atomic.Int32
	err   error
}

func (c *countingTarget) Prune(_ context.Context, keep int) (int, error) {
	c.calls.Add(1)
	c.keep.Store(int32(keep))
	return 3, c.err
}

func TestNewPruner_RejectsBadSchedule(t *testing.T) {
	_, err := NewPruner(&countingTarget{}, "every tuesday", 1, nil)
	require.Error(t, err)

	_, err = NewPruner(&countingTarget{}, "@daily", -1, nil)
	require.Error(t, err)
}

func TestRunNow_RecordsStatus(t *testing.T) {
	target := &countingTarget{}
	p, err := NewPruner(target, "0 3 * * *", 2, nil)
	require.NoError(t, err)

	st := p.RunNow(context.Background())
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 3, st.LastRemoved)
	assert.Empty(t, st.LastError)
	assert.Equal(t, int32(2), target.keep.Load())

	target.err = errors.New("disk gone")
	st = p.RunNow(context.Background())
	assert.Equal(t, 2, st.Runs)
	assert.Equal(t, "disk gone", st.LastError)
	assert.Equal(t, st, p.Status())
}

func TestStartStop(t *testing.T) {
	p, err := NewPruner(&countingTarget{}, "@hourly", 1, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	require.Error(t, p.Start())
	p.Stop()
	p.Stop()
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("*/15 * * * *"))
	assert.NoError(t, ValidateSchedule("@daily"))
	assert.Error(t, ValidateSchedule("* * *"))
}
