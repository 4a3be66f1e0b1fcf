package pipeline

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"image"
	"math"
)

// Signature is a structural fingerprint of a node and everything upstream of
// it: its kind, its parameters and its inputs' signatures. Two nodes built
// separately from equal ingredients get equal signatures.
type Signature [sha256.Size]byte

func (s Signature) String() string {
	return hex.EncodeToString(s[:8])
}

// fingerprinter feeds parameters into a signature hash with fixed-width,
// length-prefixed encodings so that different parameter lists never produce
// the same byte stream.
type fingerprinter struct {
	h   hash.Hash
	buf [8]byte
}

func newFingerprinter() *fingerprinter {
	return &fingerprinter{h: sha256.New()}
}

func (f *fingerprinter) int(v int) {
	binary.LittleEndian.PutUint64(f.buf[:], uint64(int64(v)))
	f.h.Write(f.buf[:])
}

func (f *fingerprinter) float(v float64) {
	binary.LittleEndian.PutUint64(f.buf[:], math.Float64bits(v))
	f.h.Write(f.buf[:])
}

func (f *fingerprinter) bool(v bool) {
	if v {
		f.int(1)
	} else {
		f.int(0)
	}
}

func (f *fingerprinter) bytes(b []byte) {
	f.int(len(b))
	f.h.Write(b)
}

func (f *fingerprinter) string(s string) {
	f.bytes([]byte(s))
}

func (f *fingerprinter) floats(v []float64) {
	f.int(len(v))
	for _, x := range v {
		f.float(x)
	}
}

func (f *fingerprinter) rect(r image.Rectangle) {
	f.int(r.Min.X)
	f.int(r.Min.Y)
	f.int(r.Max.X)
	f.int(r.Max.Y)
}

func (f *fingerprinter) sum() Signature {
	var s Signature
	f.h.Sum(s[:0])
	return s
}

// signatureOf computes a node signature.
func signatureOf(op Operation, inputs []Signature) Signature {
	f := newFingerprinter()
	f.int(int(op.Kind()))
	op.fingerprint(f)
	f.int(len(inputs))
	for _, s := range inputs {
		f.h.Write(s[:])
	}
	return f.sum()
}
