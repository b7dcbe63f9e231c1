// Package results persists completed conversation turns to CSV files for
// later review.
package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Writer appends one row per completed turn to a timestamped CSV file.
// It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
	path string
}

// NewWriter creates dir if needed and opens a fresh transcript named
// after the current time.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("results_%s.csv", time.Now().Format("20060102_150405")))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create results file: %w", err)
	}

	w := &Writer{file: file, csv: csv.NewWriter(file), path: path}
	if err := w.write([]string{"timestamp", "session", "question", "answer", "sources"}); err != nil {
		file.Close()
		return nil, fmt.Errorf("write results header: %w", err)
	}
	return w, nil
}

// Record appends one turn. Source labels are joined with "; " into a
// single column.
func (w *Writer) Record(session, question, answer string, sources []string) error {
	row := []string{
		time.Now().Format(time.RFC3339),
		session,
		question,
		answer,
		strings.Join(sources, "; "),
	}
	if err := w.write(row); err != nil {
		return fmt.Errorf("write result row: %w", err)
	}
	return nil
}

func (w *Writer) write(row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.csv.Write(row); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Path reports where this transcript is being written.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
