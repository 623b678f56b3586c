/*
File Name:  Sequence_test.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceResolvedOnce(t *testing.T) {
	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := NewSequenceManager(2 * time.Second)

	manager.NewSequence(7, "a", CommandPing, now, 0, nil)
	require.Equal(t, 1, manager.Count())

	sequence, valid, rtt := manager.ValidateSequence(7, "a", CommandPing, now.Add(300*time.Millisecond))
	require.NotNil(t, sequence)
	assert.True(t, valid)
	assert.Equal(t, 300*time.Millisecond, rtt)
	assert.True(t, sequence.MarkResolved())
	assert.False(t, sequence.MarkResolved())

	// a duplicate response does not find the sequence anymore
	sequence, valid, _ = manager.ValidateSequence(7, "a", CommandPing, now.Add(400*time.Millisecond))
	assert.Nil(t, sequence)
	assert.False(t, valid)
	assert.Empty(t, manager.ExpireSequences(now.Add(time.Hour)))
}

func TestSequenceExpiration(t *testing.T) {
	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := NewSequenceManager(2 * time.Second)

	manager.NewSequence(1, "a", CommandPing, now, 0, nil)
	manager.NewSequence(2, "b", CommandPing, now, 5*time.Second, nil)

	assert.Empty(t, manager.ExpireSequences(now.Add(2*time.Second)))

	expired := manager.ExpireSequences(now.Add(3 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, int64(1), expired[0].UniqueID)
	assert.Equal(t, 1, manager.Count())

	// a late response after expiry but before the sweep is invalid and still removes the sequence
	sequence, valid, _ := manager.ValidateSequence(2, "b", CommandPing, now.Add(6*time.Second))
	require.NotNil(t, sequence)
	assert.False(t, valid)
	assert.Equal(t, 0, manager.Count())
}

func TestSequenceInvalidate(t *testing.T) {
	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := NewSequenceManager(time.Second)

	manager.NewSequence(3, "a", CommandHandshake, now, 0, "data")
	manager.InvalidateSequence(3)

	sequence, _, _ := manager.ValidateSequence(3, "a", CommandHandshake, now)
	assert.Nil(t, sequence)
}

func TestSequenceWrongSender(t *testing.T) {
	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := NewSequenceManager(time.Second)

	manager.NewSequence(4, "a", CommandPong, now, 0, nil)

	sequence, _, _ := manager.ValidateSequence(4, "b", CommandPong, now)
	assert.Nil(t, sequence)
	sequence, _, _ = manager.ValidateSequence(4, "a", CommandConnectResponse, now)
	assert.Nil(t, sequence)
	assert.Equal(t, 1, manager.Count())

	sequence, valid, _ := manager.ValidateSequence(4, "a", CommandPong, now)
	require.NotNil(t, sequence)
	assert.True(t, valid)
}
