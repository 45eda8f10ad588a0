package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"crew/internal/chat/ports"
	"crew/internal/shared/jsonx"
)

const claimedSuffix = ".claimed"

// FileQueue is a directory-backed task source. Each pending task is one
// *.json file; claiming renames the file so concurrent workers never pick
// the same task twice. Delete removes the claimed file for good.
type FileQueue struct {
	dir    string
	logger ports.Logger
}

// NewFileQueue ensures dir exists and returns a queue over it.
func NewFileQueue(dir string, logger ports.Logger) (*FileQueue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return &FileQueue{dir: dir, logger: logger}, nil
}

// Enqueue writes a task file into the queue. Tasks without an ID get one.
func (q *FileQueue) Enqueue(task ports.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	data, err := jsonx.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	path := filepath.Join(q.dir, task.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write task: %w", err)
	}
	return os.Rename(tmp, path)
}

// Receive claims the oldest pending task, or returns (nil, nil) when the
// queue is empty.
func (q *FileQueue) Receive(ctx context.Context) (*ports.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pending, err := q.pending()
	if err != nil {
		return nil, err
	}

	for _, name := range pending {
		path := filepath.Join(q.dir, name)
		claimed := path + claimedSuffix
		if err := os.Rename(path, claimed); err != nil {
			// Another worker got there first.
			continue
		}

		data, err := os.ReadFile(claimed)
		if err != nil {
			return nil, fmt.Errorf("read claimed task: %w", err)
		}
		var task ports.Task
		if err := jsonx.Unmarshal(data, &task); err != nil {
			q.logger.Error("dropping malformed task file %s: %v", name, err)
			_ = os.Remove(claimed)
			continue
		}
		if task.ID == "" {
			task.ID = strings.TrimSuffix(name, ".json")
		}
		return &task, nil
	}
	return nil, nil
}

// Delete removes the claimed file for a finished task.
func (q *FileQueue) Delete(ctx context.Context, task *ports.Task) error {
	if task == nil {
		return nil
	}
	claimed := filepath.Join(q.dir, task.ID+".json"+claimedSuffix)
	if err := os.Remove(claimed); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete task %s: %w", task.ID, err)
	}
	return nil
}

// pending lists unclaimed task files, oldest first.
func (q *FileQueue) pending() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("list queue dir: %w", err)
	}

	type candidate struct {
		name string
		mod  int64
	}
	candidates := make([]candidate, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: name, mod: info.ModTime().UnixNano()})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].mod != candidates[j].mod {
			return candidates[i].mod < candidates[j].mod
		}
		return candidates[i].name < candidates[j].name
	})

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names, nil
}
