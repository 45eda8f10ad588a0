package domain_test

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"crew/internal/chat/domain"
	"crew/internal/chat/ports"
	"crew/internal/shared/jsonx"
)

func TestAuditLog_AppendsOneLinePerTurn(t *testing.T) {
	dir := t.TempDir()
	audit, err := domain.NewAuditLog(dir, "task-9")
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}

	turns := []ports.Turn{
		textTurn(ports.RolePlanner, "step one of the plan"),
		{Speaker: ports.RoleCoder, Content: `{"tool": "write_file"}`, Kind: ports.KindToolCall},
	}
	for _, turn := range turns {
		if err := audit.Record(turn); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := audit.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	file, err := os.Open(filepath.Join(dir, "task-9.jsonl"))
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	var lines int
	for scanner.Scan() {
		var record map[string]any
		if err := jsonx.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		lines++
		if lines == 2 {
			if record["agent_name"] != "coder" || record["message_type"] != "tool_call" {
				t.Fatalf("unexpected second record %+v", record)
			}
		}
	}
	if lines != 2 {
		t.Fatalf("expected 2 audit lines, got %d", lines)
	}
}
