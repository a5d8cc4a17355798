// Package store manages the coordination directory and the atomic file
// primitives every component mutates it with: exclusive create,
// write-temp-then-rename, atomic rename claims, and single-write appends.
// No record is ever modified in place by read-modify-write; the primitives
// here are the only mutation paths.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"warren/pkg/protocol"
)

// Dir is an opened coordination directory.
type Dir struct {
	Root string
}

// subdirs lists every directory Init creates under the root.
var subdirs = []string{
	protocol.TicketsDir,
	protocol.PreemptedDir,
	protocol.WaitsDir,
	protocol.QueueDir,
	protocol.ClaimedDir,
	protocol.FailedDir,
	protocol.AgentsDir,
}

// Init creates the coordination directory tree at root (idempotent) and
// returns the opened Dir.
func Init(root string) (*Dir, error) {
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("init %s: %w", sub, err)
		}
	}
	return &Dir{Root: root}, nil
}

// Open returns a Dir for an existing coordination directory. It fails if
// the directory has not been initialized.
func Open(root string) (*Dir, error) {
	info, err := os.Stat(filepath.Join(root, protocol.TicketsDir))
	if err != nil {
		return nil, fmt.Errorf("open coordination dir %s (run init first): %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open coordination dir %s: tickets is not a directory", root)
	}
	return &Dir{Root: root}, nil
}

// Path joins parts under the coordination root.
func (d *Dir) Path(parts ...string) string {
	return filepath.Join(append([]string{d.Root}, parts...)...)
}

// ResourceKey converts an arbitrary resource identifier into a filesystem
// safe directory name: a readable slug plus a short content hash so two
// resources never collide after slugging.
func ResourceKey(resource string) string {
	sum := sha256.Sum256([]byte(resource))
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, resource)
	if len(slug) > 48 {
		slug = slug[len(slug)-48:]
	}
	return slug + "-" + hex.EncodeToString(sum[:6])
}

// CreateExclusive writes v as JSON to path with O_EXCL semantics: exactly
// one concurrent caller wins, the rest see fs.ErrExist. This is the
// one-winner primitive lock acquisition is built on.
func CreateExclusive(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// WriteAtomic replaces path with the JSON encoding of v via a temp file in
// the same directory and an atomic rename. Readers never observe a partial
// record.
func WriteAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ReadJSON decodes the JSON record at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// AppendLine appends one line to path in a single O_APPEND write, which the
// kernel keeps atomic for line-sized payloads.
func AppendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if !strings.HasSuffix(string(line), "\n") {
		line = append(line, '\n')
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
