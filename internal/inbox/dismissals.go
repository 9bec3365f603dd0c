package inbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// DismissalStore is the local, per-viewer set of suppressed suggestion
// identities. It is the only thing this engine persists on its own; the
// message store is rebuilt from the backing store on every view open.
type DismissalStore struct {
	mu   sync.Mutex
	path string
	set  map[int]bool
}

func OpenDismissalStore(dir string, viewerID int) (*DismissalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create state dir")
	}
	s := &DismissalStore{
		path: filepath.Join(dir, "dismissed_"+strconv.Itoa(viewerID)+".json"),
		set:  make(map[int]bool),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(err, "read dismissal state")
	}

	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		// Corrupt state file: start empty rather than refuse to run.
		return s, nil
	}
	for _, id := range ids {
		s.set[id] = true
	}
	return s, nil
}

// Dismiss suppresses a suggestion identity. Re-dismissing is a no-op and
// skips the disk write.
func (s *DismissalStore) Dismiss(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set[id] {
		return nil
	}
	s.set[id] = true
	return s.saveLocked()
}

func (s *DismissalStore) Dismissed(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set[id]
}

func (s *DismissalStore) saveLocked() error {
	// The websocket session and the REST handlers may each hold a store on
	// the same file. Merge whatever is on disk before replacing it, so one
	// instance's save never erases a dismissal the other recorded.
	if data, err := os.ReadFile(s.path); err == nil {
		var onDisk []int
		if json.Unmarshal(data, &onDisk) == nil {
			for _, id := range onDisk {
				s.set[id] = true
			}
		}
	}

	ids := make([]int, 0, len(s.set))
	for id := range s.set {
		ids = append(ids, id)
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write dismissal state")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "replace dismissal state")
}
