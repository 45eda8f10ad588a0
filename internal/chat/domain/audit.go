package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"crew/internal/chat/ports"
	"crew/internal/shared/jsonx"
)

// auditRecord is the on-disk shape of one mirrored turn: one JSON object per
// line, used for post-hoc analysis only.
type auditRecord struct {
	Timestamp   time.Time      `json:"timestamp"`
	AgentName   string         `json:"agent_name"`
	MessageType string         `json:"message_type"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AuditLog mirrors a conversation to an append-only JSONL file, one file per
// task.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
}

// NewAuditLog opens (creating if needed) the audit file for taskID inside dir.
func NewAuditLog(dir, taskID string) (*AuditLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	path := filepath.Join(dir, taskID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &AuditLog{file: file}, nil
}

// Record appends one turn as a JSON line.
func (a *AuditLog) Record(turn ports.Turn) error {
	line, err := jsonx.Marshal(auditRecord{
		Timestamp:   turn.Timestamp,
		AgentName:   string(turn.Speaker),
		MessageType: string(turn.Kind),
		Content:     turn.Content,
		Metadata:    turn.Metadata,
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// Close flushes and closes the underlying file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
