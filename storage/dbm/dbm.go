// Package dbm wraps tkrzw hash files behind a small typed API.
package dbm

import (
	"fmt"
	"os"
	"sync"

	"github.com/estraier/tkrzw-go"
	"github.com/goccy/go-json"

	"github.com/codekulturbonn/textsmith"
)

type Hash struct {
	dbm   *tkrzw.DBM
	mutex *sync.RWMutex
}

func (h *Hash) Get(k string) ([]byte, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	b, stat := h.dbm.Get(k)
	if stat.GetCode() == tkrzw.StatusNotFoundError {
		return nil, textsmith.WithStack(os.ErrNotExist)
	} else if !stat.IsOK() {
		return nil, textsmith.WithStack(stat)
	}
	return b, nil
}

func (h *Hash) Set(k string, v []byte, overwrite bool) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if stat := h.dbm.Set(k, v, overwrite); !stat.IsOK() {
		return textsmith.WithStack(stat)
	}
	return nil
}

func (h *Hash) Del(k string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if stat := h.dbm.Remove(k); !stat.IsOK() {
		return textsmith.WithStack(stat)
	}
	return nil
}

// Increment adds delta to the numeric record at k, starting from zero.
// tkrzw executes this atomically.
func (h *Hash) Increment(k string, delta int64) (int64, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	res, stat := h.dbm.Increment(k, delta, 0)
	if !stat.IsOK() {
		return 0, textsmith.WithStack(stat)
	}
	return res, nil
}

// Each calls f for every record. Iteration stops at the first error.
func (h *Hash) Each(f func(k string, v []byte) error) error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	iter := h.dbm.MakeIterator()
	defer iter.Destruct()
	for iter.First(); ; iter.Next() {
		k, v, stat := iter.Get()
		if stat.GetCode() == tkrzw.StatusNotFoundError {
			return nil
		} else if !stat.IsOK() {
			return textsmith.WithStack(stat)
		}
		if err := f(string(k), v); err != nil {
			return textsmith.WithStack(err)
		}
	}
}

// TypeHash stores JSON encodings of T.
type TypeHash[T any] struct {
	*Hash
}

func (h *TypeHash[T]) Get(k string) (*T, error) {
	b, err := h.Hash.Get(k)
	if err != nil {
		return nil, err
	}
	t := new(T)
	if err := json.Unmarshal(b, t); err != nil {
		return nil, textsmith.WithStack(err)
	}
	return t, nil
}

func (h *TypeHash[T]) Set(k string, v *T, overwrite bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return textsmith.WithStack(err)
	}
	return h.Hash.Set(k, b, overwrite)
}

func OpenHash(path string) (*Hash, error) {
	dbm := tkrzw.NewDBM()
	stat := dbm.Open(fmt.Sprintf("%s.tkh", path), true, map[string]string{
		"update_mode":      "UPDATE_APPENDING",
		"record_comp_mode": "RECORD_COMP_NONE",
		"restore_mode":     "RESTORE_SYNC|RESTORE_NO_SHORTCUTS|RESTORE_WITH_HARDSYNC",
	})
	if !stat.IsOK() {
		return nil, textsmith.WithStack(stat)
	}
	return &Hash{dbm, &sync.RWMutex{}}, nil
}

func OpenTypeHash[T any](path string) (*TypeHash[T], error) {
	h, err := OpenHash(path)
	if err != nil {
		return nil, textsmith.WithStack(err)
	}
	return &TypeHash[T]{h}, nil
}

func (h *Hash) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if stat := h.dbm.Close(); !stat.IsOK() {
		return textsmith.WithStack(stat)
	}
	return nil
}
