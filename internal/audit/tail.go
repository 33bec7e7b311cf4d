package audit

import (
	"encoding/json"
	"fmt"
	"os"
)

// Tail returns the last n well-formed entries of the log, oldest first.
// n <= 0 returns every entry.
func Tail(path string, n int) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var ring []AuditEntry
	head := 0
	err = eachLine(f, func(line []byte) error {
		var entry AuditEntry
		if json.Unmarshal(line, &entry) != nil {
			return nil
		}
		if n <= 0 || len(ring) < n {
			ring = append(ring, entry)
			return nil
		}
		ring[head] = entry
		head = (head + 1) % n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	out := make([]AuditEntry, 0, len(ring))
	out = append(out, ring[head:]...)
	out = append(out, ring[:head]...)
	return out, nil
}
