package util

import "testing"

func TestFramePool_Get(t *testing.T) {
	var fp FramePool
	b := fp.Get()
	if b == nil || len(*b) != FrameSize {
		t.Fatalf("Get returned %v", b)
	}
	fp.Put(b)

	again := fp.Get()
	if len(*again) != FrameSize {
		t.Errorf("recycled buffer is %d bytes", len(*again))
	}
}

func TestFramePool_PutDropsForeign(t *testing.T) {
	var fp FramePool
	fp.Put(nil)

	short := make([]byte, 16)
	fp.Put(&short)
	for i := 0; i < 4; i++ {
		if b := fp.Get(); len(*b) != FrameSize {
			t.Fatalf("pool handed out a %d-byte buffer", len(*b))
		}
	}
}
