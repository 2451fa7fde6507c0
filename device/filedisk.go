package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileDisk stores device dev in <dir>/dev<dev>.img, block blockno at offset
// blockno*blockSize. Image files are created on first use. Reads beyond the
// end of an image return zeroes. Every write is synced before returning.
type FileDisk struct {
	dir       string
	blockSize int

	mu    sync.Mutex
	files map[uint32]*os.File
}

// OpenFileDisk prepares dir (creating it if needed) for device images.
func OpenFileDisk(dir string, blockSize int) (*FileDisk, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("device: bad block size %d", blockSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	return &FileDisk{dir: dir, blockSize: blockSize, files: make(map[uint32]*os.File)}, nil
}

// ReadWrite implements bcache.Device.
func (d *FileDisk) ReadWrite(dev, blockno uint32, data []byte, write bool) error {
	if len(data) != d.blockSize {
		return fmt.Errorf("device: buffer of %d bytes, block size %d", len(data), d.blockSize)
	}
	f, err := d.file(dev)
	if err != nil {
		return err
	}
	off := int64(blockno) * int64(d.blockSize)
	if write {
		if err := writeBlock(f, data, off); err != nil {
			return fmt.Errorf("device: write dev %d block %d: %w", dev, blockno, err)
		}
		return nil
	}
	if err := readBlock(f, data, off); err != nil {
		return fmt.Errorf("device: read dev %d block %d: %w", dev, blockno, err)
	}
	return nil
}

// Path returns the image file path for dev.
func (d *FileDisk) Path(dev uint32) string {
	return filepath.Join(d.dir, fmt.Sprintf("dev%d.img", dev))
}

// Close closes every open image.
func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for dev, f := range d.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(d.files, dev)
	}
	return first
}

func (d *FileDisk) file(dev uint32) (*os.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.files[dev]; ok {
		return f, nil
	}
	f, err := os.OpenFile(d.Path(dev), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	d.files[dev] = f
	return f, nil
}
