package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKVStore_ApplySet(t *testing.T) {
	kv := NewKVStore()

	previous, existed := kv.Apply(LogEntry{Command: CommandSet, Key: "a", Value: 1})
	assert.Nil(t, previous)
	assert.False(t, existed)

	previous, existed = kv.Apply(LogEntry{Command: CommandSet, Key: "a", Value: 2})
	assert.Equal(t, 1, previous)
	assert.True(t, existed)

	v, ok := kv.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestKVStore_ApplyDelete(t *testing.T) {
	kv := NewKVStore()
	kv.Apply(LogEntry{Command: CommandSet, Key: "a", Value: "x"})

	previous, existed := kv.Apply(LogEntry{Command: CommandDelete, Key: "a"})
	assert.Equal(t, "x", previous)
	assert.True(t, existed)

	_, ok := kv.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, kv.Len())
}

func TestKVStore_DeleteMissingKey(t *testing.T) {
	kv := NewKVStore()

	previous, existed := kv.Apply(LogEntry{Command: CommandDelete, Key: "ghost"})
	assert.Nil(t, previous)
	assert.False(t, existed)
}

func TestKVStore_SnapshotIsACopy(t *testing.T) {
	kv := NewKVStore()
	kv.Apply(LogEntry{Command: CommandSet, Key: "a", Value: 1})

	snap := kv.Snapshot()
	snap["a"] = 99
	snap["b"] = 2

	v, _ := kv.Get("a")
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, kv.Len())
}
