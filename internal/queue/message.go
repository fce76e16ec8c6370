package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/invoice-pipeline/internal/pipeline"
)

// IngestMessage is the broker payload handed over by the inbox watcher:
// one source message reference plus the attachments that passed its
// filter.
type IngestMessage struct {
	SourceRef  string                `json:"sourceRef"`
	ReceivedAt time.Time             `json:"receivedAt,omitempty"`
	Files      []pipeline.SourceFile `json:"files"`
}

func (m IngestMessage) Validate() error {
	if strings.TrimSpace(m.SourceRef) == "" {
		return fmt.Errorf("sourceRef is required")
	}
	if len(m.Files) == 0 {
		return fmt.Errorf("at least one file is required")
	}
	for i, f := range m.Files {
		if strings.TrimSpace(f.Filename) == "" {
			return fmt.Errorf("file %d: filename is required", i)
		}
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Errorf("file %d: path is required", i)
		}
		if f.SizeBytes < 0 {
			return fmt.Errorf("file %d: negative size", i)
		}
	}
	return nil
}
