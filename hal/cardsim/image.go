package cardsim

import (
	"io"
	"os"
	"sync"
)

// Image is the backing store for a simulated card's block content.
type Image interface {
	// Size returns the image capacity in bytes.
	Size() uint64

	// Read fills p from the image starting at byte offset off.
	Read(off uint64, p []byte) error

	// Write copies p into the image starting at byte offset off.
	Write(off uint64, p []byte) error
}

// MemoryImage is an Image held in a byte slice.
type MemoryImage struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryImage creates a zero-filled in-memory image of the given size.
func NewMemoryImage(size uint64) *MemoryImage {
	return &MemoryImage{data: make([]byte, size)}
}

// Size returns the image capacity in bytes.
func (m *MemoryImage) Size() uint64 {
	return uint64(len(m.data))
}

// Read fills p from memory.
func (m *MemoryImage) Read(off uint64, p []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off+uint64(len(p)) > uint64(len(m.data)) {
		return io.EOF
	}
	copy(p, m.data[off:])
	return nil
}

// Write copies p into memory.
func (m *MemoryImage) Write(off uint64, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off+uint64(len(p)) > uint64(len(m.data)) {
		return io.EOF
	}
	copy(m.data[off:], p)
	return nil
}

// FileImage is an Image backed by a file on disk, so a simulated card can
// persist its content across runs.
type FileImage struct {
	mu   sync.RWMutex
	file *os.File
	size uint64
}

// NewFileImage opens (or creates) a file-backed image. An existing file
// keeps its size; a new file is extended to the given size.
func NewFileImage(path string, size uint64) (*FileImage, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if stat.Size() > 0 {
		size = uint64(stat.Size())
	} else if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, err
	}

	return &FileImage{file: file, size: size}, nil
}

// Size returns the image capacity in bytes.
func (f *FileImage) Size() uint64 {
	return f.size
}

// Read fills p from the file.
func (f *FileImage) Read(off uint64, p []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if off+uint64(len(p)) > f.size {
		return io.EOF
	}
	_, err := f.file.ReadAt(p, int64(off))
	return err
}

// Write copies p into the file.
func (f *FileImage) Write(off uint64, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off+uint64(len(p)) > f.size {
		return io.EOF
	}
	_, err := f.file.WriteAt(p, int64(off))
	return err
}

// Sync flushes pending writes to disk.
func (f *FileImage) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Sync()
}

// Close closes the underlying file.
func (f *FileImage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}
