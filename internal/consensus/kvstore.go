package consensus

import "sync"

// KVStore is the key/value state machine driven forward by committed log
// entries. It is entirely derived state: rebuild it by replaying the log in
// index order. Inspired by the FSM interface in
// [Hashicorp's Raft impl](https://github.com/hashicorp/raft/blob/main/fsm.go).
//
// The store is exclusively owned by its protocol instance; clients never
// mutate it directly. Reads take their own lock so Get does not contend with
// the instance's protocol lock.
type KVStore struct {
	mu    sync.RWMutex
	store map[string]any
}

func NewKVStore() *KVStore {
	return &KVStore{store: make(map[string]any)}
}

// Apply folds one committed entry into the store and returns the previous
// value for the key, if any. Callers must apply entries strictly in index
// order.
func (kv *KVStore) Apply(entry LogEntry) (previous any, existed bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	previous, existed = kv.store[entry.Key]
	switch entry.Command {
	case CommandSet:
		kv.store[entry.Key] = entry.Value
	case CommandDelete:
		delete(kv.store, entry.Key)
	}
	return previous, existed
}

// Get returns the current value for key.
func (kv *KVStore) Get(key string) (any, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.store[key]
	return v, ok
}

// Snapshot returns a copy of the full committed state.
func (kv *KVStore) Snapshot() map[string]any {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	out := make(map[string]any, len(kv.store))
	for k, v := range kv.store {
		out[k] = v
	}
	return out
}

// Len returns the number of live keys.
func (kv *KVStore) Len() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return len(kv.store)
}
