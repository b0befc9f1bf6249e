package task

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Store persists one JSON record per task. Writes go through a temp file and
// an atomic rename so a crash can never leave a half-written record.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) Put(t *Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, t.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write task %s: %w", t.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("flush task %s: %w", t.ID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(t.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit task %s: %w", t.ID, err)
	}
	return nil
}

// LoadAll reads every persisted task. Records that fail to parse are logged
// and skipped so one corrupt file cannot block startup.
func (s *Store) LoadAll() ([]*Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read task dir: %w", err)
	}

	var tasks []*Task
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable task record", "file", path, "error", err)
			continue
		}
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			s.logger.Warn("skipping corrupt task record", "file", path, "error", err)
			continue
		}
		if t.ID == "" || !t.Status.Valid() {
			s.logger.Warn("skipping malformed task record", "file", path)
			continue
		}
		if t.Result == nil {
			t.Result = map[string]string{}
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// indexRecord mirrors the in-memory ordering index on disk. It is advisory:
// on load the order is rebuilt from the task records themselves.
type indexRecord struct {
	QueueOrder  []string  `json:"queue_order"`
	TotalTasks  int       `json:"total_tasks"`
	LastUpdated time.Time `json:"last_updated"`
}

func (s *Store) WriteIndex(order []string, total int) {
	rec := indexRecord{
		QueueOrder:  order,
		TotalTasks:  total,
		LastUpdated: time.Now(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.logger.Warn("marshal queue index", "error", err)
		return
	}

	path := filepath.Join(s.dir, "queue_metadata.json")
	tmp, err := os.CreateTemp(s.dir, "queue_metadata.tmp-*")
	if err != nil {
		s.logger.Warn("write queue index", "error", err)
		return
	}
	if _, err := tmp.Write(data); err == nil {
		err = tmp.Close()
		if err == nil {
			err = os.Rename(tmp.Name(), path)
		}
	} else {
		tmp.Close()
	}
	if err != nil {
		os.Remove(tmp.Name())
		s.logger.Warn("write queue index", "error", err)
	}
}
