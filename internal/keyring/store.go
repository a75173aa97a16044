package keyring

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// fileMagic identifies the on-disk keyring format; fileVersion allows the
// layout to evolve without breaking old keyrings.
const (
	fileMagic   = "WKDC"
	fileVersion = uint8(1)
)

// FileStore persists a Ring to a single file: a short magic+version header
// followed by a record count and one fixed-size record per key. Writes are
// atomic (temp file + rename), guarded by a named advisory lock so that two
// server processes never race on the same path.
type FileStore struct{}

// NewFileStore returns the on-disk Store implementation.
func NewFileStore() *FileStore { return &FileStore{} }

// Exists reports whether the keyring file is present.
func (FileStore) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Load reads and parses the keyring file.
func (FileStore) Load(path string) (*Ring, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("keyring: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyring: read %s: %w", path, err)
	}
	return decode(data)
}

// Save atomically replaces the keyring file: write to a temp file in the
// same directory, fsync it, rename over the destination, then fsync the
// directory so the rename itself is durable.
func (FileStore) Save(path string, r *Ring) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("keyring: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".keyring-*.tmp")
	if err != nil {
		return fmt.Errorf("keyring: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(encode(r)); err != nil {
		tmp.Close()
		return fmt.Errorf("keyring: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("keyring: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keyring: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("keyring: rename into place: %w", err)
	}
	if dirFile, err := os.Open(dir); err == nil {
		dirFile.Sync()
		dirFile.Close()
	}
	return nil
}

func encode(r *Ring) []byte {
	keys := r.snapshot()
	var buf bytes.Buffer
	buf.WriteString(fileMagic)
	buf.WriteByte(fileVersion)
	binary.Write(&buf, binary.BigEndian, uint32(len(keys)))
	for _, k := range keys {
		buf.WriteByte(k.Kind)
		binary.Write(&buf, binary.BigEndian, k.CreatedAt.Unix())
		binary.Write(&buf, binary.BigEndian, k.ValidAfter.Unix())
		buf.Write(k.Bytes[:])
	}
	return buf.Bytes()
}

func decode(data []byte) (*Ring, error) {
	if len(data) < len(fileMagic)+1+4 {
		return nil, fmt.Errorf("keyring: file too short")
	}
	if string(data[:len(fileMagic)]) != fileMagic {
		return nil, fmt.Errorf("keyring: bad magic")
	}
	off := len(fileMagic)
	version := data[off]
	off++
	if version != fileVersion {
		return nil, fmt.Errorf("keyring: unsupported version %d", version)
	}
	count := binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	const recordLen = 1 + 8 + 8 + KeySize
	keys := make([]Key, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+recordLen > len(data) {
			return nil, fmt.Errorf("keyring: truncated record %d", i)
		}
		var k Key
		k.Kind = data[off]
		off++
		created := int64(binary.BigEndian.Uint64(data[off : off+8]))
		off += 8
		validAfter := int64(binary.BigEndian.Uint64(data[off : off+8]))
		off += 8
		k.CreatedAt = time.Unix(created, 0).UTC()
		k.ValidAfter = time.Unix(validAfter, 0).UTC()
		copy(k.Bytes[:], data[off:off+KeySize])
		off += KeySize
		keys = append(keys, k)
	}
	return NewRing(keys), nil
}
