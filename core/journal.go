package core

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

const (
	headKey   = "head"
	logPrefix = "logs-"
)

// Head identifies the last committed message and the state root after it.
// Sequence 0 is genesis.
type Head struct {
	Seq  uint64      `json:"seq"`
	Root common.Hash `json:"root"`
}

// Journal records the committed head and the logs of every message.
type Journal interface {
	Head() (Head, bool, error)
	Append(head Head, logs []*types.Log) error
	Logs(seq uint64) ([]*types.Log, error)
	Close() error
}

// StorageJournal keeps the journal in an axiom-kit key value store.
type StorageJournal struct {
	db storage.Storage
}

func NewStorageJournal(db storage.Storage) *StorageJournal {
	return &StorageJournal{db: db}
}

func (j *StorageJournal) Head() (Head, bool, error) {
	data := j.db.Get([]byte(headKey))
	if data == nil {
		return Head{}, false, nil
	}
	var head Head
	if err := json.Unmarshal(data, &head); err != nil {
		return Head{}, false, errors.Wrap(err, "decode head")
	}
	return head, true, nil
}

func (j *StorageJournal) Append(head Head, logs []*types.Log) error {
	if len(logs) > 0 {
		data, err := json.Marshal(logs)
		if err != nil {
			return errors.Wrap(err, "encode logs")
		}
		j.db.Put(logKey(head.Seq), data)
	}
	data, err := json.Marshal(head)
	if err != nil {
		return errors.Wrap(err, "encode head")
	}
	j.db.Put([]byte(headKey), data)
	return nil
}

func (j *StorageJournal) Logs(seq uint64) ([]*types.Log, error) {
	data := j.db.Get(logKey(seq))
	if data == nil {
		return nil, nil
	}
	var logs []*types.Log
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, errors.Wrapf(err, "decode logs of %d", seq)
	}
	return logs, nil
}

func (j *StorageJournal) Close() error {
	return j.db.Close()
}

func logKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(logPrefix), seq)
}

// MemJournal is the journal of an ephemeral chain.
type MemJournal struct {
	mu   sync.RWMutex
	head *Head
	logs map[uint64][]*types.Log
}

func NewMemJournal() *MemJournal {
	return &MemJournal{logs: make(map[uint64][]*types.Log)}
}

func (j *MemJournal) Head() (Head, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.head == nil {
		return Head{}, false, nil
	}
	return *j.head, true, nil
}

func (j *MemJournal) Append(head Head, logs []*types.Log) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(logs) > 0 {
		j.logs[head.Seq] = logs
	}
	j.head = &head
	return nil
}

func (j *MemJournal) Logs(seq uint64) ([]*types.Log, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.logs[seq], nil
}

func (j *MemJournal) Close() error {
	return nil
}
