// Package persistence implements the core's single persistence rule
// (§5, §6): every on-disk state file is written by exactly one writer
// process and replaced atomically, write-to-temp-then-rename. Grounded
// on the teacher's internal/cache/store.go index save/load, hardened
// here to actually rename instead of writing the destination path
// directly (see DESIGN.md).
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteJSONAtomic marshals v and replaces path's contents atomically.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadJSON unmarshals path into v. Returns os.ErrNotExist (wrapped) if
// the file does not exist, letting callers distinguish "no prior state"
// from "corrupted state".
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// BackupCorrupt renames a file aside (with a .corrupt-<unixnano> suffix
// supplied by the caller) so a fresh state can be started without
// losing the evidence. Fatal-error handling per §7: "corrupted
// persistence file on load → back up and start fresh (logged)".
func BackupCorrupt(path, suffix string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.Rename(path, path+suffix)
}
