// Package statemachine provides a demonstration raft.StateMachine
// backed by the storage package's LSM-tree key-value engine. It is
// not part of the consensus core; it exists so a deployed node has
// something concrete to apply committed commands to.
package statemachine

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v4"

	"bftraft/raft"
	"bftraft/storage"
)

// opKind discriminates the two operations a KV command can encode.
type opKind uint8

const (
	opPut opKind = iota + 1
	opDelete
)

// Op is the msgpack-encoded payload carried inside raft.AppCommand.
// cmd/client builds one of these for every submitted command.
type Op struct {
	Kind  opKind
	Key   string
	Value []byte
}

// EncodePut builds the AppCommand bytes for a PUT.
func EncodePut(key string, value []byte) (raft.AppCommand, error) {
	b, err := msgpack.Marshal(Op{Kind: opPut, Key: key, Value: value})
	if err != nil {
		return nil, fmt.Errorf("statemachine: encode put: %w", err)
	}
	return raft.AppCommand(b), nil
}

// EncodeDelete builds the AppCommand bytes for a DELETE.
func EncodeDelete(key string) (raft.AppCommand, error) {
	b, err := msgpack.Marshal(Op{Kind: opDelete, Key: key})
	if err != nil {
		return nil, fmt.Errorf("statemachine: encode delete: %w", err)
	}
	return raft.AppCommand(b), nil
}

// KVStateMachine is a deterministic, disk-backed key-value store
// driven entirely by committed raft commands. Every replica runs its
// own instance; since Apply only ever sees the same commits in the
// same order (spec §4.1.6), every replica's store converges to the
// same content.
type KVStateMachine struct {
	store *storage.ReplicatedEngine
}

// NewKVStateMachine opens (or creates) an engine rooted at dataDir.
func NewKVStateMachine(dataDir string) (*KVStateMachine, error) {
	store, err := storage.NewReplicatedEngine(dataDir)
	if err != nil {
		return nil, fmt.Errorf("statemachine: open store: %w", err)
	}
	return &KVStateMachine{store: store}, nil
}

// Apply decodes entry and applies it to the backing store, returning
// the prior value for a PUT/DELETE so clients can see what they
// overwrote, mirroring typical KV-store semantics.
func (k *KVStateMachine) Apply(entry raft.AppCommand) (raft.CommandResult, error) {
	var op Op
	if err := msgpack.Unmarshal(entry, &op); err != nil {
		return nil, fmt.Errorf("statemachine: decode command: %w", err)
	}

	switch op.Kind {
	case opPut:
		prev, _ := k.store.Get(op.Key)
		if err := k.store.Put(op.Key, op.Value); err != nil {
			return nil, fmt.Errorf("statemachine: put %q: %w", op.Key, err)
		}
		return raft.CommandResult(prev), nil
	case opDelete:
		prev, _ := k.store.Get(op.Key)
		if err := k.store.Delete(op.Key); err != nil {
			return nil, fmt.Errorf("statemachine: delete %q: %w", op.Key, err)
		}
		return raft.CommandResult(prev), nil
	default:
		return nil, fmt.Errorf("statemachine: unknown op kind %d", op.Kind)
	}
}

// Get reads directly from the backing store without going through
// consensus. It exists for local inspection and tests; no RPC path
// wires it up, since read-only fast paths are out of scope here.
func (k *KVStateMachine) Get(key string) ([]byte, error) {
	return k.store.Get(key)
}

// Close releases the backing store's file handles.
func (k *KVStateMachine) Close() error {
	return k.store.Close()
}
