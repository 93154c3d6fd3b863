// Package snapshot persists node state as a single opaque file: the state is gob
// encoded, zstd compressed and written through a temporary file that is renamed
// into place, so a crash never leaves a half-written snapshot behind.
package snapshot

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("snapshot")

// ErrCorrupt is returned when a snapshot exists but cannot be decoded
var ErrCorrupt = errors.New("snapshot corrupt")

// magic prefixes every snapshot file
const magic = "DBKT1"

// Encode writes v to w
func Encode(w io.Writer, v any) error {
	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(zw).Encode(v); err != nil {
		zw.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return zw.Close()
}

// Decode reads a snapshot written by Encode into v
func Decode(r io.Reader, v any) error {
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil || string(header) != magic {
		return fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	if err := gob.NewDecoder(zr).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// Save atomically replaces the snapshot at path
func Save(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := Encode(tmp, v); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	log.Infof("snapshot written to %s", path)
	return nil
}

// Load reads the snapshot at path into v. It reports false if no snapshot exists.
func Load(path string, v any) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	if err := Decode(f, v); err != nil {
		return false, fmt.Errorf("load %s: %w", path, err)
	}
	log.Infof("snapshot loaded from %s", path)
	return true, nil
}
