// Package strtab implements the append-only string arena that backs every
// script string value. A string is named by the byte offset of its first
// character; runs are NUL terminated.
package strtab

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrEmbeddedNUL = errors.New("string contains embedded NUL")
	ErrNotReserved = errors.New("string is not a reserved run")
)

// ID is a byte offset into the arena.
type ID int32

// Table is single writer. Readers and the writer must share a goroutine.
type Table struct {
	data    []byte
	lengths map[ID]int
	index   map[uint64][]ID
	scratch []span
}

// span is a fixed run that is rewritten in place. Its contents are never
// indexed or memoised.
type span struct {
	start ID
	size  int
}

// New seeds a table with an initial blob, usually the string section of a
// compiled program. A missing trailing NUL is added.
func New(initial []byte) *Table {
	t := &Table{
		data:    make([]byte, 0, len(initial)+1024),
		lengths: make(map[ID]int),
		index:   make(map[uint64][]ID),
	}
	t.data = append(t.data, initial...)
	if len(t.data) == 0 || t.data[len(t.data)-1] != 0 {
		t.data = append(t.data, 0)
	}

	start := 0
	for i, b := range t.data {
		if b == 0 {
			t.indexRun(ID(start), t.data[start:i])
			t.lengths[ID(start)] = i - start
			start = i + 1
		}
	}
	return t
}

// Len is the arena size in bytes, terminators included.
func (t *Table) Len() int {
	return len(t.data)
}

// Bytes exposes the raw arena. Callers must not modify it.
func (t *Table) Bytes() []byte {
	return t.data
}

// Insert appends s and its terminator and returns the offset of s.
func (t *Table) Insert(s string) (ID, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return 0, ErrEmbeddedNUL
	}
	id := ID(len(t.data))
	t.data = append(t.data, s...)
	t.data = append(t.data, 0)
	t.lengths[id] = len(s)
	t.indexRun(id, t.data[int(id):int(id)+len(s)])
	return id, nil
}

// Reserve appends a zeroed run of size bytes plus terminator for Overwrite.
func (t *Table) Reserve(size int) ID {
	id := ID(len(t.data))
	t.data = append(t.data, make([]byte, size+1)...)
	t.scratch = append(t.scratch, span{start: id, size: size})
	return id
}

// Overwrite replaces the contents of a run made by Reserve. Strings longer
// than the run are truncated.
func (t *Table) Overwrite(id ID, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return ErrEmbeddedNUL
	}
	sp, ok := t.spanAt(id)
	if !ok || sp.start != id {
		return fmt.Errorf("%w: %d", ErrNotReserved, id)
	}
	n := copy(t.data[int(id):int(id)+sp.size], s)
	t.data[int(id)+n] = 0
	return nil
}

func (t *Table) spanAt(id ID) (span, bool) {
	for _, sp := range t.scratch {
		if id >= sp.start && int(id) <= int(sp.start)+sp.size {
			return sp, true
		}
	}
	return span{}, false
}

// Find returns the first run exactly equal to s.
func (t *Table) Find(s string) (ID, bool) {
	for _, id := range t.index[xxhash.Sum64String(s)] {
		if got, ok := t.Get(id); ok && got == s {
			return id, true
		}
	}
	return 0, false
}

// FindOrInsert deduplicates by exact match.
func (t *Table) FindOrInsert(s string) (ID, error) {
	if id, ok := t.Find(s); ok {
		return id, nil
	}
	return t.Insert(s)
}

// Get returns the NUL delimited slice starting at id. Offsets pointing
// inside a run are legal and yield its suffix.
func (t *Table) Get(id ID) (string, bool) {
	if id < 0 || int(id) >= len(t.data) {
		return "", false
	}
	if n, ok := t.lengths[id]; ok {
		return string(t.data[int(id) : int(id)+n]), true
	}
	n := bytes.IndexByte(t.data[id:], 0)
	if n < 0 {
		n = len(t.data) - int(id)
	}
	if _, reserved := t.spanAt(id); !reserved {
		t.lengths[id] = n
	}
	return string(t.data[int(id) : int(id)+n]), true
}

// MustGet is Get for callers holding ids they produced themselves.
func (t *Table) MustGet(id ID) string {
	s, _ := t.Get(id)
	return s
}

func (t *Table) indexRun(id ID, run []byte) {
	h := xxhash.Sum64(run)
	t.index[h] = append(t.index[h], id)
}
