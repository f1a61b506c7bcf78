package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// MemTableSizeThreshold is the size limit before flushing to disk (64MB).
	MemTableSizeThreshold = 64 * 1024 * 1024
)

// ErrKeyNotFound is returned by Get when no live value for the key is
// found.
var ErrKeyNotFound = fmt.Errorf("storage: key not found")

// tombstoneMarker is written in place of a value to record a delete.
// Put does not reject these bytes as a value, so a key Put with exactly
// this value reads back as deleted.
var tombstoneMarker = []byte("__TOMBSTONE__")

// ReplicatedEngine is the on-disk key-value engine backing a single
// replica's copy of the state machine. Every mutation reaches it
// through Apply on a committed log entry (never directly from a
// client), so every replica that applies the same prefix of entries
// converges to byte-identical content here — this type itself has no
// notion of consensus, it only needs to be deterministic and durable.
type ReplicatedEngine struct {
	memTable       *MemTable
	immutableTable *MemTable  // MemTable being flushed
	sstables       []*SSTable // Sorted by newest to oldest
	wal            *WAL
	dataDir        string
	nextTableID    int
	mu             sync.RWMutex
	flushMu        sync.Mutex
	compactionMgr  *CompactionManager
}

// NewReplicatedEngine opens (or creates) an engine rooted at dataDir,
// replaying its write-ahead log so a crashed replica reopens with the
// storage content it had before the crash. Its compaction manager is
// created but not started.
func NewReplicatedEngine(dataDir string) (*ReplicatedEngine, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	wal, err := NewWAL(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAL: %w", err)
	}

	store := &ReplicatedEngine{
		memTable:    NewMemTable(),
		dataDir:     dataDir,
		sstables:    make([]*SSTable, 0),
		wal:         wal,
		nextTableID: 0,
	}
	store.compactionMgr = NewCompactionManager(store)

	if err := store.loadSSTables(); err != nil {
		return nil, fmt.Errorf("failed to load SSTables: %w", err)
	}

	if err := store.recover(); err != nil {
		return nil, fmt.Errorf("failed to recover from WAL: %w", err)
	}

	return store, nil
}

// Put applies a PUT operation decoded from a committed command.
func (s *ReplicatedEngine) Put(key string, value []byte) error {
	entry := Entry{
		Timestamp: time.Now().UnixNano(),
		Op:        OpPut,
		Key:       []byte(key),
		Value:     value,
	}

	if err := s.wal.Write(entry); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}

	s.mu.Lock()
	s.memTable.Put([]byte(key), value)
	memSize := s.memTable.Size()
	s.mu.Unlock()

	if memSize >= MemTableSizeThreshold {
		if err := s.maybeFlush(); err != nil {
			return fmt.Errorf("failed to flush MemTable: %w", err)
		}
	}

	return nil
}

// Get reads the current value for key, checked against the engine's
// three tiers (mutable memtable, flushing memtable, on-disk SSTables
// newest first) in the order a write to key could have landed.
func (s *ReplicatedEngine) Get(key string) ([]byte, error) {
	keyBytes := []byte(key)

	s.mu.RLock()

	if value, found := s.memTable.Get(keyBytes); found {
		s.mu.RUnlock()
		return value, nil
	}

	if s.immutableTable != nil {
		if value, found := s.immutableTable.Get(keyBytes); found {
			s.mu.RUnlock()
			return value, nil
		}
	}

	sstables := make([]*SSTable, len(s.sstables))
	copy(sstables, s.sstables)
	s.mu.RUnlock()

	for _, sst := range sstables {
		value, found, err := sst.Get(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("error reading SSTable: %w", err)
		}
		if found {
			if bytes.Equal(value, tombstoneMarker) {
				return nil, ErrKeyNotFound
			}
			return value, nil
		}
	}

	return nil, ErrKeyNotFound
}

// Delete applies a DELETE operation decoded from a committed command,
// recording a tombstone rather than removing the key outright — an
// older SSTable entry for the same key must still be shadowed once
// this memtable itself gets flushed and compacted away.
func (s *ReplicatedEngine) Delete(key string) error {
	entry := Entry{
		Timestamp: time.Now().UnixNano(),
		Op:        OpDelete,
		Key:       []byte(key),
		Value:     nil,
	}

	if err := s.wal.Write(entry); err != nil {
		return fmt.Errorf("failed to write delete to WAL: %w", err)
	}

	s.mu.Lock()
	s.memTable.Delete([]byte(key))
	memSize := s.memTable.Size()
	s.mu.Unlock()

	if memSize >= MemTableSizeThreshold {
		if err := s.maybeFlush(); err != nil {
			return fmt.Errorf("failed to flush MemTable: %w", err)
		}
	}

	return nil
}

// maybeFlush flushes the memtable to a new SSTable unless it is empty,
// freeing the WAL to start over. Put and Delete call it once the
// memtable reaches MemTableSizeThreshold; Close calls it for whatever
// is still buffered.
func (s *ReplicatedEngine) maybeFlush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()

	if s.memTable.Size() == 0 {
		s.mu.Unlock()
		return nil
	}

	s.immutableTable = s.memTable
	s.memTable = NewMemTable()

	tableToFlush := s.immutableTable
	tableID := s.nextTableID
	s.nextTableID++

	s.mu.Unlock()

	// No locks held during the actual I/O.
	if err := s.flushToDisk(tableToFlush, tableID); err != nil {
		return err
	}

	s.mu.Lock()
	s.immutableTable = nil
	s.mu.Unlock()

	if err := s.wal.Reset(); err != nil {
		return fmt.Errorf("failed to reset WAL: %w", err)
	}

	return nil
}

// flushToDisk writes a memtable's sorted entries out as a new SSTable.
func (s *ReplicatedEngine) flushToDisk(memTable *MemTable, tableID int) error {
	writer, err := NewSSTableWriter(s.dataDir, tableID)
	if err != nil {
		return err
	}

	entries := memTable.Iterator()

	for _, entry := range entries {
		if err := writer.Write(entry.Key, entry.Value); err != nil {
			return fmt.Errorf("failed to write entry to SSTable: %w", err)
		}
	}

	if err := writer.Finalize(); err != nil {
		return fmt.Errorf("failed to finalize SSTable: %w", err)
	}

	sst, err := OpenSSTable(writer.filePath)
	if err != nil {
		return fmt.Errorf("failed to open new SSTable: %w", err)
	}

	s.mu.Lock()
	s.sstables = append([]*SSTable{sst}, s.sstables...)
	s.mu.Unlock()

	return nil
}

// loadSSTables loads any SSTables left over from a previous run.
func (s *ReplicatedEngine) loadSSTables() error {
	pattern := filepath.Join(s.dataDir, "sstable_*.db")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	tableID := func(file string) int {
		var id int
		fmt.Sscanf(filepath.Base(file), "sstable_%d.db", &id)
		return id
	}
	sort.Slice(files, func(i, j int) bool {
		return tableID(files[i]) > tableID(files[j])
	})

	for _, file := range files {
		sst, err := OpenSSTable(file)
		if err != nil {
			return fmt.Errorf("failed to open SSTable %s: %w", file, err)
		}
		s.sstables = append(s.sstables, sst)

		var id int
		fmt.Sscanf(filepath.Base(file), "sstable_%d.db", &id)
		if id >= s.nextTableID {
			s.nextTableID = id + 1
		}
	}

	return nil
}

// recover replays WAL entries left by a crash between the last flush
// and the last committed Put/Delete, restoring the memtable to where
// it was right before the crash.
func (s *ReplicatedEngine) recover() error {
	entries, err := s.wal.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read WAL: %w", err)
	}

	for _, entry := range entries {
		switch entry.Op {
		case OpPut:
			s.memTable.Put(entry.Key, entry.Value)
		case OpDelete:
			s.memTable.Delete(entry.Key)
		}
	}

	return nil
}

// Close stops background compaction, flushes any unflushed writes and
// releases the WAL's file handle.
func (s *ReplicatedEngine) Close() error {
	s.compactionMgr.Stop()

	if s.memTable.Size() > 0 {
		if err := s.maybeFlush(); err != nil {
			return err
		}
	}

	return s.wal.Close()
}

// Stats reports point-in-time engine sizing: the memtable's size in
// bytes and the number of SSTables.
func (s *ReplicatedEngine) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"memtable_size": s.memTable.Size(),
		"num_sstables":  len(s.sstables),
	}
}
