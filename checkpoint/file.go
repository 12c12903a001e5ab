package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultRoot is the default checkpoint root used when config leaves it unset.
const DefaultRoot = ".maverick/checkpoints"

// FileStore persists checkpoints as one JSON file per (workflow, id) under
// root, written via a .tmp sibling + rename so a reader never observes a
// partial write. It sweeps leftover .tmp files on startup to recover from a
// crash between write and rename.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at root (DefaultRoot if empty) and
// sweeps any leftover .tmp files from a previous crashed write.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		root = DefaultRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: creating root %s: %w", root, err)
	}
	s := &FileStore{root: root}
	if err := s.sweepTmp(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) sweepTmp() error {
	return filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".tmp") {
			_ = os.Remove(path)
		}
		return nil
	})
}

func (s *FileStore) dir(workflowName string) string {
	return filepath.Join(s.root, workflowName)
}

func (s *FileStore) path(workflowName, checkpointID string) string {
	return filepath.Join(s.dir(workflowName), checkpointID+".json")
}

// Save writes data atomically: encode, write to a .tmp sibling, fsync, then
// rename over the target.
func (s *FileStore) Save(workflowName string, data Data) error {
	dir := s.dir(workflowName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: creating dir %s: %w", dir, err)
	}
	target := s.path(workflowName, data.CheckpointID)
	tmp := target + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("checkpoint: creating tmp file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: encoding: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: closing tmp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

func (s *FileStore) Load(workflowName, checkpointID string) (Data, bool, error) {
	b, err := os.ReadFile(s.path(workflowName, checkpointID))
	if err != nil {
		if os.IsNotExist(err) {
			return Data{}, false, nil
		}
		return Data{}, false, fmt.Errorf("checkpoint: reading %s/%s: %w", workflowName, checkpointID, err)
	}
	var data Data
	if err := json.Unmarshal(b, &data); err != nil {
		return Data{}, false, fmt.Errorf("checkpoint: decoding %s/%s: %w", workflowName, checkpointID, err)
	}
	return data, true, nil
}

func (s *FileStore) LoadLatest(workflowName string) (Data, bool, error) {
	ids, err := s.List(workflowName)
	if err != nil {
		return Data{}, false, err
	}
	if len(ids) == 0 {
		return Data{}, false, nil
	}
	var latest Data
	found := false
	for _, id := range ids {
		d, ok, err := s.Load(workflowName, id)
		if err != nil {
			return Data{}, false, err
		}
		if !ok {
			continue
		}
		if !found || d.SavedAt.After(latest.SavedAt) {
			latest = d
			found = true
		}
	}
	return latest, found, nil
}

func (s *FileStore) Clear(workflowName string) error {
	err := os.RemoveAll(s.dir(workflowName))
	if err != nil {
		return fmt.Errorf("checkpoint: clearing %s: %w", workflowName, err)
	}
	return nil
}

func (s *FileStore) List(workflowName string) ([]string, error) {
	entries, err := os.ReadDir(s.dir(workflowName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: listing %s: %w", workflowName, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
