package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferAppendWithinCapacity(t *testing.T) {
	rb := newRingBuffer(16)
	rb.Append([]byte("hello "))
	rb.Append([]byte("world"))
	assert.Equal(t, "hello world", string(rb.Snapshot()))
}

func TestRingBufferEvictsOldest(t *testing.T) {
	rb := newRingBuffer(8)
	rb.Append([]byte("abcdefgh"))
	rb.Append([]byte("ij"))
	assert.Equal(t, "cdefghij", string(rb.Snapshot()))
}

func TestRingBufferChunkLargerThanCapacityKeepsTail(t *testing.T) {
	rb := newRingBuffer(4)
	rb.Append([]byte("0123456789"))
	assert.Equal(t, "6789", string(rb.Snapshot()))
}

func TestRingBufferSnapshotIsIndependentCopy(t *testing.T) {
	rb := newRingBuffer(16)
	rb.Append([]byte("abc"))
	snap := rb.Snapshot()
	rb.Append([]byte("def"))
	assert.Equal(t, "abc", string(snap))
	assert.Equal(t, "abcdef", string(rb.Snapshot()))
}

func TestRingBufferEmptySnapshotIsNil(t *testing.T) {
	rb := newRingBuffer(16)
	assert.Nil(t, rb.Snapshot())
}
