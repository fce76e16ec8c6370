package pipeline

import "context"

// SourceFile is one inbox attachment that already passed the watcher's
// whitelist/label filter. The watcher runs outside this module and hands
// files over through the intake queue.
type SourceFile struct {
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Intake is the input of one pipeline run: the originating message
// reference plus its eligible files.
type Intake struct {
	SourceRef string
	Files     []SourceFile
}

// SheetParser turns a spreadsheet file into raw rows, keyed by column
// name, in file order. Billable filtering and field validation stay with
// the pipeline.
type SheetParser interface {
	Rows(ctx context.Context, path string) ([]map[string]string, error)
}
