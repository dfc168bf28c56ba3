// Package resultlog reads and appends the per-frame result CSV. The log is
// the only checkpoint of a run: a frame present in it is never searched
// again.
package resultlog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gogpu/tilematch"
)

// Header is the first line of every log file.
const Header = "Frame,tile_x,tile_y,tile_z,zoom,x,y,score,time"

// Log errors.
var (
	// ErrMalformed is returned for a row that cannot be parsed.
	ErrMalformed = errors.New("resultlog: malformed row")

	// ErrDuplicateFrame is returned when a frame appears twice.
	ErrDuplicateFrame = errors.New("resultlog: duplicate frame")
)

// Record is one logged frame.
type Record struct {
	Frame  uint32
	Result tilematch.PosResult
	Time   float32 // seconds spent searching
}

// Parse reads every record of r. The header, blank lines and lines starting
// with '#' are skipped. Records are returned in file order.
func Parse(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var recs []Record
	seen := make(map[uint32]int)
	for first := true; ; first = false {
		fields, err := cr.Read()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		line, _ := cr.FieldPos(0)
		if first && strings.EqualFold(strings.TrimSpace(fields[0]), "Frame") {
			continue
		}
		rec, err := parseRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformed, line, err)
		}
		if prev, dup := seen[rec.Frame]; dup {
			return nil, fmt.Errorf("%w: frame %d on lines %d and %d", ErrDuplicateFrame, rec.Frame, prev, line)
		}
		seen[rec.Frame] = line
		recs = append(recs, rec)
	}
}

func parseRecord(fields []string) (Record, error) {
	if len(fields) < 8 || len(fields) > 9 {
		return Record{}, fmt.Errorf("want 8 or 9 fields, got %d", len(fields))
	}
	var u [6]uint32
	var f [3]float32
	uintAt := []int{0, 1, 2, 3, 5, 6}
	for i, col := range uintAt {
		v, err := strconv.ParseUint(strings.TrimSpace(fields[col]), 10, 32)
		if err != nil {
			return Record{}, fmt.Errorf("column %d: %w", col+1, err)
		}
		u[i] = uint32(v)
	}
	floatAt := []int{4, 7, 8}
	for i, col := range floatAt {
		if col >= len(fields) {
			break
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[col]), 32)
		if err != nil {
			return Record{}, fmt.Errorf("column %d: %w", col+1, err)
		}
		f[i] = float32(v)
	}
	return Record{
		Frame: u[0],
		Result: tilematch.PosResult{
			Tile:  tilematch.TilePos{X: u[1], Y: u[2], Z: u[3]},
			X:     u[4],
			Y:     u[5],
			Zoom:  f[0],
			Score: f[1],
		},
		Time: f[2],
	}, nil
}

// FormatRow returns the log line for a frame, without the newline.
func FormatRow(frame uint32, r tilematch.PosResult, elapsed time.Duration) string {
	return fmt.Sprintf("%d,%d,%d,%d,%g,%d,%d,%.6f,%.2f",
		frame, r.Tile.X, r.Tile.Y, r.Tile.Z, r.Zoom, r.X, r.Y, r.Score, elapsed.Seconds())
}

// Range is an inclusive run of consecutive frames.
type Range struct {
	Begin, End uint32
}

func (r Range) String() string {
	if r.Begin == r.End {
		return fmt.Sprintf("Frame %d", r.Begin)
	}
	return fmt.Sprintf("Frames %d-%d", r.Begin, r.End)
}

// Ranges compresses frames into sorted contiguous ranges.
func Ranges(frames []uint32) []Range {
	if len(frames) == 0 {
		return nil
	}
	sorted := slices.Clone(frames)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	out := []Range{{sorted[0], sorted[0]}}
	for _, f := range sorted[1:] {
		last := &out[len(out)-1]
		if f == last.End+1 {
			last.End = f
			continue
		}
		out = append(out, Range{f, f})
	}
	return out
}

// Log is an open result log positioned for appending.
type Log struct {
	f *os.File
	w *bufio.Writer
}

// Open opens or creates the log at path and returns its existing records.
// A new file gets the header; an existing file that does not end with a
// newline gets one so appended rows start on their own line.
func Open(path string) (*Log, []Record, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("resultlog: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("resultlog: read %s: %w", path, err)
	}
	recs, err := Parse(strings.NewReader(string(data)))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("resultlog: %w", err)
	}

	l := &Log{f: f, w: bufio.NewWriter(f)}
	switch {
	case len(data) == 0:
		l.w.WriteString(Header + "\n")
	case data[len(data)-1] != '\n':
		l.w.WriteByte('\n')
	}
	if err := l.w.Flush(); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("resultlog: %w", err)
	}
	return l, recs, nil
}

// Append writes one row and flushes it to the file.
func (l *Log) Append(frame uint32, r tilematch.PosResult, elapsed time.Duration) error {
	l.w.WriteString(FormatRow(frame, r, elapsed))
	l.w.WriteByte('\n')
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("resultlog: append frame %d: %w", frame, err)
	}
	return nil
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
