// Package archive exports research runs to a .tar.zst file and reads them
// back. Each run becomes a directory:
//
//	runs/<id>/run.json
//	runs/<id>/messages.json
//	runs/<id>/report.md   (completed runs only)
package archive

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/nichescout/nichescout/internal/store"
)

const runsDir = "runs"

type Run struct {
	Run      store.Run          `json:"run"`
	Messages []store.RunMessage `json:"messages"`
	Report   string             `json:"report,omitempty"`
}

type Summary struct {
	Runs  int
	Bytes int64
}

// Export writes the given runs, or every stored run when ids is empty, to w.
// Report files are taken from reportsDir when present and from the stored
// final report otherwise.
func Export(w io.Writer, s *store.Store, reportsDir string, ids []string) (Summary, error) {
	runs, err := selectRuns(s, ids)
	if err != nil {
		return Summary{}, err
	}

	cw := &countingWriter{w: w}
	zw, err := zstd.NewWriter(cw)
	if err != nil {
		return Summary{}, fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	for _, run := range runs {
		slog.Debug("exporting run", "run", run.ID, "niche", run.Niche)
		if err := writeRun(tw, s, reportsDir, run); err != nil {
			zw.Close()
			return Summary{}, fmt.Errorf("export run %s: %w", run.ID, err)
		}
	}

	if err := tw.Close(); err != nil {
		return Summary{}, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Summary{}, fmt.Errorf("close zstd: %w", err)
	}
	return Summary{Runs: len(runs), Bytes: cw.n}, nil
}

// ExportFile is Export to a newly created file.
func ExportFile(outputPath string, s *store.Store, reportsDir string, ids []string) (Summary, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return Summary{}, fmt.Errorf("create output file: %w", err)
	}
	sum, err := Export(f, s, reportsDir, ids)
	if err != nil {
		f.Close()
		return Summary{}, err
	}
	if err := f.Close(); err != nil {
		return Summary{}, fmt.Errorf("close file: %w", err)
	}
	return sum, nil
}

func selectRuns(s *store.Store, ids []string) ([]store.Run, error) {
	if len(ids) == 0 {
		runs, err := s.ListRuns(1 << 30)
		if err != nil {
			return nil, err
		}
		return runs, nil
	}
	runs := make([]store.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(id)
		if err != nil {
			return nil, err
		}
		if run == nil {
			return nil, fmt.Errorf("run %s not found", id)
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func writeRun(tw *tar.Writer, s *store.Store, reportsDir string, run store.Run) error {
	msgs, err := s.GetRunMessages(run.ID)
	if err != nil {
		return err
	}
	dir := path.Join(runsDir, run.ID)

	if err := writeJSON(tw, path.Join(dir, "run.json"), run, run.StartedAt); err != nil {
		return err
	}
	if msgs == nil {
		msgs = []store.RunMessage{}
	}
	if err := writeJSON(tw, path.Join(dir, "messages.json"), msgs, run.StartedAt); err != nil {
		return err
	}

	report := run.FinalReport
	if data, err := os.ReadFile(filepath.Join(reportsDir, run.ID+".md")); err == nil {
		report = string(data)
	}
	if report == "" {
		return nil
	}
	modTime := run.StartedAt
	if run.CompletedAt != nil {
		modTime = *run.CompletedAt
	}
	return writeFile(tw, path.Join(dir, "report.md"), []byte(report), modTime)
}

func writeJSON(tw *tar.Writer, name string, v any, modTime time.Time) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return writeFile(tw, name, data, modTime)
}

func writeFile(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: modTime,
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Read decodes an archive written by Export. Runs are returned in id order.
func Read(r io.Reader) ([]Run, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	byID := make(map[string]*Run)
	get := func(id string) *Run {
		if byID[id] == nil {
			byID[id] = &Run{}
		}
		return byID[id]
	}

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		id, file, ok := splitEntry(hdr.Name)
		if !ok {
			slog.Warn("skipping unknown archive entry", "name", hdr.Name)
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}

		entry := get(id)
		switch file {
		case "run.json":
			err = json.Unmarshal(data, &entry.Run)
		case "messages.json":
			err = json.Unmarshal(data, &entry.Messages)
		case "report.md":
			entry.Report = string(data)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", hdr.Name, err)
		}
	}

	ids := make([]string, 0, len(byID))
	for id, entry := range byID {
		if entry.Run.ID != id {
			return nil, fmt.Errorf("run %s has no run.json", id)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Run, 0, len(ids))
	for _, id := range ids {
		out = append(out, *byID[id])
	}
	return out, nil
}

// splitEntry parses "runs/<id>/<file>".
func splitEntry(name string) (id, file string, ok bool) {
	parts := strings.Split(path.Clean(strings.TrimPrefix(name, "./")), "/")
	if len(parts) != 3 || parts[0] != runsDir || parts[1] == "" {
		return "", "", false
	}
	switch parts[2] {
	case "run.json", "messages.json", "report.md":
		return parts[1], parts[2], true
	}
	return "", "", false
}

// Import stores the runs of an archive, replacing runs with the same id.
func Import(r io.Reader, s *store.Store) (int, error) {
	runs, err := Read(r)
	if err != nil {
		return 0, err
	}
	for _, entry := range runs {
		if err := s.DeleteRun(entry.Run.ID); err != nil {
			return 0, err
		}
		run := entry.Run
		if err := s.SaveRun(&run); err != nil {
			return 0, err
		}
		for _, m := range entry.Messages {
			m.ID = 0
			m.RunID = run.ID
			if err := s.SaveRunMessage(&m); err != nil {
				return 0, fmt.Errorf("import message %d of %s: %w", m.Seq, run.ID, err)
			}
		}
	}
	return len(runs), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func FormatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
