package device

import (
	"fmt"
	"unsafe"
)

// Buffer is a flat device-resident array of a primitive type.
type Buffer[T any] struct {
	name  string
	ctx   *Context
	data  []T
	bytes uint64
}

// Alloc reserves a buffer of n elements in c, zero-initialized.
func Alloc[T any](c *Context, name string, n int) (*Buffer[T], error) {
	if n < 0 {
		return nil, fmt.Errorf("allocate %s: negative length %d: %w", name, n, ErrAllocation)
	}
	var zero T
	bytes := uint64(n) * uint64(unsafe.Sizeof(zero))
	if err := c.reserve(name, bytes); err != nil {
		return nil, err
	}
	return &Buffer[T]{
		name:  name,
		ctx:   c,
		data:  make([]T, n),
		bytes: bytes,
	}, nil
}

// Name returns the buffer's allocation name.
func (b *Buffer[T]) Name() string { return b.name }

// Len returns the element count.
func (b *Buffer[T]) Len() int { return len(b.data) }

// Bytes returns the reserved size in bytes.
func (b *Buffer[T]) Bytes() uint64 { return b.bytes }

// Upload copies src into the buffer starting at element offset.
func (b *Buffer[T]) Upload(offset int, src []T) error {
	if offset < 0 || offset+len(src) > len(b.data) {
		return fmt.Errorf("upload %s: range [%d,%d) outside length %d", b.name, offset, offset+len(src), len(b.data))
	}
	copy(b.data[offset:], src)
	return nil
}

// Download copies the buffer, starting at element offset, into dst.
func (b *Buffer[T]) Download(offset int, dst []T) error {
	if offset < 0 || offset+len(dst) > len(b.data) {
		return fmt.Errorf("download %s: range [%d,%d) outside length %d", b.name, offset, offset+len(dst), len(b.data))
	}
	copy(dst, b.data[offset:])
	return nil
}

// Fill sets every element to v.
func (b *Buffer[T]) Fill(v T) {
	for i := range b.data {
		b.data[i] = v
	}
}

// Device returns the device-side view. Only kernel bodies may write through it.
func (b *Buffer[T]) Device() []T { return b.data }

// Release returns the buffer's memory to its context. Safe on a nil buffer.
func (b *Buffer[T]) Release() {
	if b == nil || b.data == nil {
		return
	}
	b.ctx.free(b.name)
	b.data = nil
}
