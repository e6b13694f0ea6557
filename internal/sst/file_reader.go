package sst

import "os"

// bufferedFile is the portable readableFile implementation: plain
// pread-style reads through *os.File, used on platforms without mmap
// support and as the default fallback.
type bufferedFile struct {
	f    *os.File
	size int64
}

func newBufferedFile(path string) (readableFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errSSTCorrupt("open %s: %v", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errSSTCorrupt("stat %s: %v", path, err)
	}
	return &bufferedFile{f: f, size: info.Size()}, nil
}

func (b *bufferedFile) ReadAt(buf []byte, off int64) (int, error) {
	return b.f.ReadAt(buf, off)
}

func (b *bufferedFile) Size() int64 { return b.size }

func (b *bufferedFile) Close() error { return b.f.Close() }

// OpenFile opens the SST at path using the best available
// readableFile implementation (mmap where supported, buffered reads
// otherwise).4.
func OpenFile(path string) (*Reader, error) {
	rf, err := openReadable(path)
	if err != nil {
		return nil, err
	}
	r, err := Open(rf)
	if err != nil {
		rf.Close()
		return nil, err
	}
	return r, nil
}
