package mlie

import (
	"encoding/binary"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
)

// reader is a bounds-checked cursor over an immutable byte slice.
// Every read either succeeds completely or returns a protocol error
// naming the field that did not fit.
type reader struct {
	buf []byte
	off int
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) need(n int, field string) error {
	if r.remaining() < n {
		return domain.Protocolf("%s needs %d octets at offset %d, %d remaining", field, n, r.off, r.remaining())
	}
	return nil
}

func (r *reader) u8(field string) (uint8, error) {
	if err := r.need(1, field); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16(field string) (uint16, error) {
	if err := r.need(2, field); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u64(field string) (uint64, error) {
	if err := r.need(8, field); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) mac(field string) (domain.MAC, error) {
	if err := r.need(macLen, field); err != nil {
		return domain.MAC{}, err
	}
	m := domain.MACFromBytes(r.buf[r.off : r.off+macLen])
	r.off += macLen
	return m, nil
}

func (r *reader) bytes(n int, field string) ([]byte, error) {
	if err := r.need(n, field); err != nil {
		return nil, err
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}

func (r *reader) skip(n int, field string) error {
	if err := r.need(n, field); err != nil {
		return err
	}
	r.off += n
	return nil
}

// rest returns the unread bytes without consuming them.
func (r *reader) rest() []byte {
	return r.buf[r.off:]
}
