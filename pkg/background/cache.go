package background

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

// Cache stores decoded background tracks by source URL. Implementations
// must be safe for concurrent use, including across processes when shared.
type Cache interface {
	Get(url string) (*audio.Segment, bool, error)
	Put(url string, seg *audio.Segment) error
}

const cacheMagic = "WABG"

// ErrCorruptEntry is returned by DiskCache.Get for an unreadable entry.
var ErrCorruptEntry = errors.New("corrupt cache entry")

type cacheHeader struct {
	Magic      [4]byte
	SampleRate uint32
	Channels   uint32
	Frames     uint64
}

// DiskCache keeps decoded tracks as raw float files in one directory.
// Readers hold a shared flock on a per-key lock file and writers an
// exclusive one; entries are written to a temporary file and renamed into
// place so a reader never sees a partial entry.
type DiskCache struct {
	dir string
}

// NewDiskCache creates dir if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &DiskCache{dir: dir}, nil
}

// Key returns the cache key for url.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (c *DiskCache) paths(url string) (data, lock string) {
	key := Key(url)
	return filepath.Join(c.dir, key+".pcm"), filepath.Join(c.dir, key+".lock")
}

func lockFile(path string, how int) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", filepath.Base(path), err)
	}
	return f, nil
}

func unlock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}

// Get returns the cached track for url. A missing entry is not an error.
func (c *DiskCache) Get(url string) (*audio.Segment, bool, error) {
	dataPath, lockPath := c.paths(url)

	lock, err := lockFile(lockPath, unix.LOCK_SH)
	if err != nil {
		return nil, false, err
	}
	defer unlock(lock)

	f, err := os.Open(dataPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	name := filepath.Base(dataPath)

	r := bufio.NewReaderSize(f, 1<<20)
	var h cacheHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, false, fmt.Errorf("%w %s: header: %v", ErrCorruptEntry, name, err)
	}
	if string(h.Magic[:]) != cacheMagic {
		return nil, false, fmt.Errorf("%w %s: bad magic", ErrCorruptEntry, name)
	}
	format := audio.Format{SampleRate: int(h.SampleRate), Channels: int(h.Channels)}
	if !format.Valid() {
		return nil, false, fmt.Errorf("%w %s: format %s", ErrCorruptEntry, name, format)
	}
	// The header's frame count must match the payload actually on disk.
	payload := uint64(info.Size()) - uint64(binary.Size(h))
	frameBytes := uint64(h.Channels) * 4
	if payload%frameBytes != 0 || payload/frameBytes != h.Frames {
		return nil, false, fmt.Errorf("%w %s: %d frames declared, %d bytes stored", ErrCorruptEntry, name, h.Frames, payload)
	}

	samples := make([]float32, int(h.Frames)*format.Channels)
	if err := binary.Read(r, binary.LittleEndian, samples); err != nil {
		return nil, false, fmt.Errorf("read cache samples: %w", err)
	}
	return audio.NewSegment(format, samples), true, nil
}

// Put stores seg under url, replacing any previous entry.
func (c *DiskCache) Put(url string, seg *audio.Segment) error {
	dataPath, lockPath := c.paths(url)

	lock, err := lockFile(lockPath, unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock(lock)

	tmp, err := os.CreateTemp(c.dir, filepath.Base(dataPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeEntry(tmp, seg); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close cache temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dataPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

func writeEntry(w io.Writer, seg *audio.Segment) error {
	bw := bufio.NewWriterSize(w, 1<<20)
	h := cacheHeader{
		SampleRate: uint32(seg.SampleRate),
		Channels:   uint32(seg.Channels),
		Frames:     uint64(seg.Frames()),
	}
	copy(h.Magic[:], cacheMagic)
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("write cache header: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, seg.Samples[:seg.Frames()*seg.Channels]); err != nil {
		return fmt.Errorf("write cache samples: %w", err)
	}
	return bw.Flush()
}
