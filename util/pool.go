package util

import "sync"

// FrameSize fits the largest frame a u16 length header can announce,
// plus the header itself.
const FrameSize = 64*1024 + 2

// FramePool hands out read buffers of exactly FrameSize bytes.  The
// zero value is ready to use.
type FramePool struct {
	pool sync.Pool
}

// Frames is the pool session read loops draw from.
var Frames = &FramePool{}

// Get returns a FrameSize buffer.  Callers hand it back with Put.
func (fp *FramePool) Get() *[]byte {
	if b, ok := fp.pool.Get().(*[]byte); ok {
		return b
	}
	b := make([]byte, FrameSize)
	return &b
}

// Put recycles b.  Nil buffers and buffers of any other length are
// dropped.
func (fp *FramePool) Put(b *[]byte) {
	if b == nil || len(*b) != FrameSize {
		return
	}
	fp.pool.Put(b)
}
