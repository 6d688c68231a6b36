package reportstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/verdict/internal/faults"
)

// Per-conversation report kinds.
const (
	KindConversation = "conversation"
	KindTeamReport   = "team_report"
	KindClientReport = "client_report"
)

// Batch report kinds.
const (
	KindMergedTeamReport  = "merged_team_report"
	KindMergedLeadReport  = "merged_lead_report"
	KindIndividualReports = "individual_reports"
)

// Append-only CSV files.
const (
	TeamCSV    = "team_reports.csv"
	ClientCSV  = "client_reports.csv"
	SummaryCSV = "processing_summary.csv"
)

// Row is a CSV record that knows its header.
type Row interface {
	Header() string
	Line() string
}

// Store writes reports under one directory. Timestamped files are
// write-once; CSV files are append-only with a single header line.
type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Timestamp formats t as an ISO instant safe for file names.
func Timestamp(t time.Time) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(ts)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func safeName(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// maxNameAttempts bounds the -2, -3, ... suffixes tried when a name is taken.
const maxNameAttempts = 100

// WriteReport writes {kind}_{conversationID}_{ts}.{ext}, or
// {kind}_{conversationID}_{ts}-{n}.{ext} when that name is already taken.
func (s *Store) WriteReport(kind, conversationID string, ts time.Time, ext string, content []byte) (string, error) {
	stem := fmt.Sprintf("%s_%s_%s", kind, safeName(conversationID), Timestamp(ts))
	return s.writeOnce(stem, ext, content)
}

// WriteAggregate writes {kind}_{ts}.{ext}, suffixed like WriteReport on collision.
func (s *Store) WriteAggregate(kind string, ts time.Time, ext string, content []byte) (string, error) {
	stem := fmt.Sprintf("%s_%s", kind, Timestamp(ts))
	return s.writeOnce(stem, ext, content)
}

// WriteReportJSON writes v as indented JSON under the per-conversation naming.
func (s *Store) WriteReportJSON(kind, conversationID string, ts time.Time, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", kind, err)
	}
	return s.WriteReport(kind, conversationID, ts, "json", data)
}

// WriteAggregateJSON writes v as indented JSON under the aggregate naming.
func (s *Store) WriteAggregateJSON(kind string, ts time.Time, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", kind, err)
	}
	return s.WriteAggregate(kind, ts, "json", data)
}

// writeOnce stages content in a temp file and links it into place, so the
// final path either holds the complete content or does not exist. An
// existing file is never replaced; the next free numeric suffix is used.
func (s *Store) writeOnce(stem, ext string, content []byte) (string, error) {
	path := filepath.Join(s.dir, stem+"."+ext)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", &faults.PersistenceError{Path: s.dir, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+stem+"-*")
	if err != nil {
		return "", &faults.PersistenceError{Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", &faults.PersistenceError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &faults.PersistenceError{Path: path, Err: err}
	}

	for n := 1; n <= maxNameAttempts; n++ {
		if n > 1 {
			path = filepath.Join(s.dir, fmt.Sprintf("%s-%d.%s", stem, n, ext))
		}
		err := os.Link(tmp.Name(), path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", &faults.PersistenceError{Path: path, Err: err}
		}
	}
	return "", &faults.PersistenceError{
		Path: filepath.Join(s.dir, stem+"."+ext),
		Err:  fmt.Errorf("%d names already taken: %w", maxNameAttempts, fs.ErrExist),
	}
}

// Append is one row bound for one CSV file.
type Append struct {
	File string
	Row  Row
}

// AppendRow appends row to the named CSV file, writing the header first
// when the file is new or empty. Appends are serialized.
func (s *Store) AppendRow(file string, row Row) error {
	return s.AppendRows(Append{File: file, Row: row})
}

// AppendRows appends every row or none: when one append fails, the files
// already appended to are truncated back to their previous size.
func (s *Store) AppendRows(appends ...Append) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &faults.PersistenceError{Path: s.dir, Err: err}
	}

	type written struct {
		path string
		size int64
	}
	var done []written
	for _, a := range appends {
		path := filepath.Join(s.dir, a.File)
		size, err := appendLine(path, a.Row)
		if err != nil {
			for i := len(done) - 1; i >= 0; i-- {
				_ = os.Truncate(done[i].path, done[i].size)
			}
			return err
		}
		done = append(done, written{path: path, size: size})
	}
	return nil
}

// appendLine appends one row and returns the file size before the write.
func appendLine(path string, row Row) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return 0, &faults.PersistenceError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, &faults.PersistenceError{Path: path, Err: err}
	}
	size := info.Size()

	var buf strings.Builder
	if size == 0 {
		buf.WriteString(row.Header())
		buf.WriteString("\n")
	} else {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return size, &faults.PersistenceError{Path: path, Err: err}
		}
		if last[0] != '\n' {
			buf.WriteString("\n")
		}
	}
	buf.WriteString(row.Line())
	buf.WriteString("\n")

	if _, err := f.WriteString(buf.String()); err != nil {
		_ = f.Truncate(size)
		return size, &faults.PersistenceError{Path: path, Err: err}
	}
	return size, nil
}

// Read returns the content of a file the store wrote. Paths outside the
// store directory are rejected.
func (s *Store) Read(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(s.dir)
	if err != nil {
		return nil, err
	}
	if rel, err := filepath.Rel(root, abs); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("read %s: outside reports directory", path)
	}
	return os.ReadFile(abs)
}
