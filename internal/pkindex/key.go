package pkindex

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/colgraph/bulkload/internal/overflow"
)

// Key is a node primary key: either a 64-bit integer or a string.
type Key interface {
	Hash() uint64
	Equal(other Key) bool
	isKey()
}

// IntKey is an INT64 primary key.
type IntKey uint64

func (k IntKey) Hash() uint64 {
	h := fnv.New64a()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	h.Write(b[:])
	return h.Sum64()
}

func (k IntKey) Equal(other Key) bool {
	o, ok := other.(IntKey)
	return ok && o == k
}

func (IntKey) isKey() {}

// StringKey is a STRING primary key.
type StringKey string

func (k StringKey) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(k))
	return h.Sum64()
}

func (k StringKey) Equal(other Key) bool {
	o, ok := other.(StringKey)
	return ok && o == k
}

func (StringKey) isKey() {}

// entry is what each slot stores for one key. For IntKey, strInfo
// is unused; for StringKey, strInfo carries the 16-byte representation
// (possibly pointing into the string overflow file).
type entry struct {
	isString bool
	intKey   uint64
	strInfo  overflow.InlineString
	offset   uint64
}
