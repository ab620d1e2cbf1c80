package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	tbl := NewTable(0)

	require.True(t, tbl.Acquire("device-1", "op1"))
	assert.Equal(t, "op1", tbl.Holder("device-1"))

	// second operation cannot steal a live lock
	assert.False(t, tbl.Acquire("device-1", "op2"))

	// re-acquiring your own lock succeeds
	assert.True(t, tbl.Acquire("device-1", "op1"))

	// a different resource is independent
	assert.True(t, tbl.Acquire("device-2", "op2"))

	assert.True(t, tbl.Release("device-1", "op1"))
	assert.True(t, tbl.Acquire("device-1", "op2"))
}

func TestStaleLockReclaimed(t *testing.T) {
	tbl := NewTable(30 * time.Second)
	now := time.Now()
	tbl.now = func() time.Time { return now }

	require.True(t, tbl.Acquire("device-1", "op1"))

	now = now.Add(29 * time.Second)
	assert.False(t, tbl.Acquire("device-1", "op2"), "lock not yet expired")

	now = now.Add(2 * time.Second)
	assert.True(t, tbl.Acquire("device-1", "op2"), "expired lock should be reclaimed")
	assert.Equal(t, "op2", tbl.Holder("device-1"))

	// the evicted holder can no longer release
	assert.False(t, tbl.Release("device-1", "op1"))
	assert.Equal(t, "op2", tbl.Holder("device-1"))
}

func TestReleaseNotOwned(t *testing.T) {
	tbl := NewTable(0)

	// releasing a lock that doesn't exist is a reported no-op
	assert.False(t, tbl.Release("device-1", "op1"))

	require.True(t, tbl.Acquire("device-1", "op1"))

	// releasing someone else's lock leaves it intact
	assert.False(t, tbl.Release("device-1", "op2"))
	assert.Equal(t, "op1", tbl.Holder("device-1"))

	assert.True(t, tbl.Release("device-1", "op1"))
	// double release reports failure
	assert.False(t, tbl.Release("device-1", "op1"))
}
