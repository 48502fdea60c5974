package gpucore

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
)

// hashWriter accumulates an FNV-1a structural hash over a create-info
// value's fields, in a fixed field order chosen by each type's
// structuralHash method. The same hashing scheme is used throughout this
// codebase for descriptor and create-info keys: every field that
// distinguishes two otherwise-equal resources must be written, and in the
// same order every time, or two structurally identical create-infos could
// hash differently.
type hashWriter struct {
	h hash.Hash64
}

func newHashWriter() hashWriter { return hashWriter{h: fnv.New64a()} }

func (w hashWriter) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = w.h.Write(buf[:])
}

func (w hashWriter) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = w.h.Write(buf[:])
}

func (w hashWriter) s(v string) {
	w.u32(uint32(len(v)))
	_, _ = w.h.Write([]byte(v))
}

func (w hashWriter) b(v bool) {
	if v {
		_, _ = w.h.Write([]byte{1})
	} else {
		_, _ = w.h.Write([]byte{0})
	}
}

func (w hashWriter) sum() uint64 { return w.h.Sum64() }

// structuralHasher is implemented by every create-info type so Cache and
// PerFrameCache can key entries without reflection.
type structuralHasher interface {
	structuralHash() uint64
}
