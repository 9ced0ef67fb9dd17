package snapshot

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/zeusync/qcserver/pkg/generic"
)

// maxPooledBuffer keeps one huge full frame from pinning its buffer.
const maxPooledBuffer = 1 << 20

var buffers = generic.NewHotPool(func() *bytes.Buffer {
	return bytes.NewBuffer(make([]byte, 0, 4096))
}, 8).WithReset(func(b *bytes.Buffer) bool {
	b.Reset()
	return b.Cap() <= maxPooledBuffer
})

// Encode writes f as msgpack. The returned slice is owned by the caller.
func Encode(f *Frame) ([]byte, error) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	if err := msgpack.NewEncoder(buf).Encode(f); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Tick, err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}
