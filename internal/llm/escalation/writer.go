// Package escalation writes the audit trail the fallback manager
// produces when it gives up on a request. Records are written to disk
// via internal/persistence's atomic write. This package sends no
// notification itself; any operator notify callback is run by the
// fallback manager.
package escalation

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/persistence"
)

// Writer persists EscalationRecords under Dir, one file per escalation.
type Writer struct {
	Dir string
}

// New returns a Writer rooted at dir. The directory is not created
// here; Write creates it if necessary.
func New(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Write assigns an ID and CreatedAt to record, then persists it
// atomically to <dir>/congress_escalation_<unix-nano>.json.
func (w *Writer) Write(record domain.EscalationRecord) error {
	record.ID = uuid.NewString()
	record.CreatedAt = time.Now()

	name := fmt.Sprintf("congress_escalation_%d.json", record.CreatedAt.UnixNano())
	path := filepath.Join(w.Dir, name)

	if err := persistence.WriteJSONAtomic(path, record); err != nil {
		return fmt.Errorf("write escalation record: %w", err)
	}

	log.Warn().
		Str("escalation_id", record.ID).
		Str("reason", record.Reason).
		Str("path", path).
		Msg("llm fallback escalation recorded")

	return nil
}

// List returns the escalation record files present in Dir, most
// recent first, for operator inspection.
func (w *Writer) List() ([]string, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsDir() {
			continue
		}
		files = append(files, filepath.Join(w.Dir, entries[i].Name()))
	}
	return files, nil
}
