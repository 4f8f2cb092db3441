package guest

// linearMemory is the subset of api.Memory the host touches.
type linearMemory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// foreignMemory is a bounds-checked view over memory owned by the guest.
// Size is re-read before every access since the guest may grow or the
// runtime may replace the backing slice between calls.
type foreignMemory struct {
	mem      linearMemory
	boundary string
}

func fits(offset uint32, length uint64, size uint32) bool {
	return uint64(offset)+length <= uint64(size)
}

func (m foreignMemory) check(offset uint32, length uint64) error {
	size := m.mem.Size()
	if !fits(offset, length, size) {
		return &BoundsError{
			Boundary: m.boundary,
			Offset:   uint64(offset),
			Length:   length,
			Size:     uint64(size),
		}
	}
	return nil
}

// Write copies data into guest memory at offset. Nothing is written
// unless the whole range fits.
func (m foreignMemory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint64(len(data))); err != nil {
		return err
	}
	if !m.mem.Write(offset, data) {
		return &BoundsError{Boundary: m.boundary, Offset: uint64(offset), Length: uint64(len(data)), Size: uint64(m.mem.Size())}
	}
	return nil
}

// Read returns a host-owned copy of length bytes at offset.
func (m foreignMemory) Read(offset, length uint32) ([]byte, error) {
	if err := m.check(offset, uint64(length)); err != nil {
		return nil, err
	}
	view, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, &BoundsError{Boundary: m.boundary, Offset: uint64(offset), Length: uint64(length), Size: uint64(m.mem.Size())}
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}
