//go:build unix

package sst

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile is the memory-mapped readableFile implementation for
// unix-like platforms, using golang.org/x/sys/unix directly, the same
// way pebble's vfs layer reaches it for platform syscalls.
type mmapFile struct {
	f    *os.File
	data []byte
}

func openReadable(path string) (readableFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errSSTCorrupt("open %s: %v", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errSSTCorrupt("stat %s: %v", path, err)
	}
	size := info.Size()
	if size == 0 {
		f.Close()
		return nil, errSSTCorrupt("%s: empty file", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		// Fall back to buffered reads rather than failing outright;
		// some filesystems (overlayfs variants, certain CI sandboxes)
		// reject mmap but serve pread fine.
		f.Close()
		return newBufferedFile(path)
	}
	return &mmapFile{f: f, data: data}, nil
}

func (m *mmapFile) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, errSSTCorrupt("mmap read out of range: off=%d size=%d", off, len(m.data))
	}
	n := copy(buf, m.data[off:])
	if n < len(buf) {
		return n, errSSTCorrupt("mmap short read: got %d want %d", n, len(buf))
	}
	return n, nil
}

func (m *mmapFile) Size() int64 { return int64(len(m.data)) }

func (m *mmapFile) Close() error {
	if m.data != nil {
		_ = unix.Munmap(m.data)
		m.data = nil
	}
	return m.f.Close()
}
