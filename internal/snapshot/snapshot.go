// Package snapshot persists pool state to disk with a checksummed
// record format, so a process can stop and resume without losing
// accumulated history.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][payload]
//
// The first record is the pool info message; one buffer record follows
// per pool entry, in index order.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xtxerr/hitrate/internal/history"
)

const (
	snapMagic        = 0x4852534e41500001 // "HRSNAP" + version 1
	snapVersion      = 1
	headerSize       = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc

	// maxRecordSize rejects absurd record lengths before allocating.
	maxRecordSize = 1 << 30

	// maxBufferCount rejects absurd pool dimensions before allocating.
	maxBufferCount = 1 << 24
)

var (
	ErrBadMagic   = errors.New("not a snapshot file")
	ErrBadVersion = errors.New("unsupported snapshot version")
	ErrBadHeader  = errors.New("snapshot header out of range")
	ErrChecksum   = errors.New("snapshot record checksum mismatch")
	ErrTruncated  = errors.New("snapshot file truncated")
)

// Write serializes the pool to w.
func Write(w io.Writer, pool *history.Pool) error {
	return WriteLabeled(w, pool, nil)
}

// WriteLabeled serializes the pool to w with one series label per
// buffer. labels may be nil, or must have one entry per buffer; empty
// entries mark unassigned buffers.
func WriteLabeled(w io.Writer, pool *history.Pool, labels []string) error {
	st := pool.State()
	if labels != nil && len(labels) != st.BufferCount {
		return fmt.Errorf("%d labels for %d buffers", len(labels), st.BufferCount)
	}

	bw := bufio.NewWriter(w)

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], snapMagic)
	binary.LittleEndian.PutUint32(header[8:12], snapVersion)
	if _, err := bw.Write(header[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	info := Info{
		StoreCount:  st.StoreCount,
		BufferCount: st.BufferCount,
		Policy:      st.Policy,
		CreatedMs:   time.Now().UnixMilli(),
	}
	if err := writeRecord(bw, appendInfo(nil, info)); err != nil {
		return fmt.Errorf("write pool info: %w", err)
	}

	for i := 0; i < st.BufferCount; i++ {
		words := st.Words[i*st.StoreCount : (i+1)*st.StoreCount]
		boundaries := st.Boundaries[i*(st.StoreCount-1) : (i+1)*(st.StoreCount-1)]
		var label string
		if labels != nil {
			label = labels[i]
		}
		payload := appendBuffer(nil, words, boundaries, st.Updates[i], label)
		if err := writeRecord(bw, payload); err != nil {
			return fmt.Errorf("write buffer %d: %w", i, err)
		}
	}

	return bw.Flush()
}

func writeRecord(w io.Writer, payload []byte) error {
	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Read deserializes a pool from r.
func Read(r io.Reader) (*history.Pool, error) {
	pool, _, err := ReadLabeled(r)
	return pool, err
}

// ReadLabeled deserializes a pool from r along with its per-buffer
// series labels.
func ReadLabeled(r io.Reader) (*history.Pool, []string, error) {
	br := bufio.NewReader(r)

	info, err := readHeader(br)
	if err != nil {
		return nil, nil, err
	}

	bufs := make([]bufferState, 0, info.BufferCount)
	labels := make([]string, 0, info.BufferCount)
	for i := 0; i < info.BufferCount; i++ {
		payload, err := readRecord(br)
		if err != nil {
			return nil, nil, fmt.Errorf("buffer record %d: %w", i, err)
		}
		bs, err := parseBuffer(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("buffer record %d: %w", i, err)
		}
		bufs = append(bufs, bs)
		labels = append(labels, bs.label)
	}

	st, err := assemble(info, bufs)
	if err != nil {
		return nil, nil, err
	}
	pool, err := history.RestorePool(st)
	if err != nil {
		return nil, nil, err
	}
	return pool, labels, nil
}

func readHeader(br *bufio.Reader) (Info, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Info{}, ErrTruncated
		}
		return Info{}, fmt.Errorf("read header: %w", err)
	}
	if binary.LittleEndian.Uint64(header[0:8]) != snapMagic {
		return Info{}, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(header[8:12]); v != snapVersion {
		return Info{}, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}

	payload, err := readRecord(br)
	if err != nil {
		return Info{}, fmt.Errorf("pool info record: %w", err)
	}
	info, err := parseInfo(payload)
	if err != nil {
		return Info{}, err
	}
	// Dimensions size every allocation below, so a corrupt header must
	// be rejected before RestorePool ever sees it.
	if info.StoreCount < 1 || info.StoreCount > history.MaxStoreCount {
		return Info{}, fmt.Errorf("%w: store count %d", ErrBadHeader, info.StoreCount)
	}
	if info.BufferCount < 1 || info.BufferCount > maxBufferCount {
		return Info{}, fmt.Errorf("%w: buffer count %d", ErrBadHeader, info.BufferCount)
	}
	return info, nil
}

func readRecord(br *bufio.Reader) ([]byte, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	crc := binary.LittleEndian.Uint32(header[4:8])
	if length > maxRecordSize {
		return nil, fmt.Errorf("record length %d exceeds limit", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	if crc32.ChecksumIEEE(payload) != crc {
		return nil, ErrChecksum
	}
	return payload, nil
}

// Save writes the pool to path atomically: the snapshot lands under a
// temporary name and is renamed into place only after a successful
// sync, so a crash never leaves a half-written file at path.
func Save(path string, pool *history.Pool) error {
	return SaveLabeled(path, pool, nil)
}

// SaveLabeled is Save with per-buffer series labels.
func SaveLabeled(path string, pool *history.Pool, labels []string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if err := WriteLabeled(tmp, pool, labels); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load reads a pool from path.
func Load(path string) (*history.Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// LoadLabeled reads a pool and its series labels from path.
func LoadLabeled(path string) (*history.Pool, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return ReadLabeled(f)
}

// ReadInfo reads only the snapshot metadata from path.
func ReadInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}
