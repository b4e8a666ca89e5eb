package changelog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/historify-project/historify/pkg/errclass"
)

// SigSuffix is the detached signature sibling suffix.
const SigSuffix = ".sig"

var logNameRegex = regexp.MustCompile(`^changelog-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.csv$`)

// LogInfo describes one change log file.
type LogInfo struct {
	Name   string
	Path   string
	Signed bool
}

// SigPath returns the sibling signature path for this log.
func (l LogInfo) SigPath() string { return l.Path + SigSuffix }

// Store reads and appends change logs in a single changes directory.
type Store struct {
	dir     string
	columns []string
}

// NewStore creates a store over dir. algorithms is the configured hash
// algorithm list; algorithms beyond the default pair contribute appended
// columns named after the algorithm.
func NewStore(dir string, algorithms []string) *Store {
	columns := append([]string(nil), BaseColumns...)
	for _, a := range algorithms {
		if a != "sha256" && a != "blake3" {
			columns = append(columns, a)
		}
	}
	return &Store{dir: dir, columns: columns}
}

// Dir returns the changes directory.
func (s *Store) Dir() string { return s.dir }

// Columns returns the active column set.
func (s *Store) Columns() []string { return append([]string(nil), s.columns...) }

// List enumerates change logs in chronological order. Chronology is the
// date embedded in the filename; same-day suffixes order numerically.
func (s *Store) List() ([]LogInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errclass.ErrIO.WithMessagef("read changes directory: %v", err)
	}

	type keyed struct {
		info LogInfo
		date string
		n    int
	}
	var logs []keyed
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := logNameRegex.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n := 1
		if m[2] != "" {
			n, _ = strconv.Atoi(m[2])
		}
		path := filepath.Join(s.dir, e.Name())
		_, sigErr := os.Stat(path + SigSuffix)
		logs = append(logs, keyed{
			info: LogInfo{Name: e.Name(), Path: path, Signed: sigErr == nil},
			date: m[1],
			n:    n,
		})
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].date != logs[j].date {
			return logs[i].date < logs[j].date
		}
		return logs[i].n < logs[j].n
	})

	out := make([]LogInfo, len(logs))
	for i, l := range logs {
		out[i] = l.info
	}
	return out, nil
}

// Open returns the single open log. Exactly the most recent log may be
// unsigned; anything else breaks the chain.
func (s *Store) Open() (LogInfo, error) {
	logs, err := s.List()
	if err != nil {
		return LogInfo{}, err
	}
	if len(logs) == 0 {
		return LogInfo{}, errclass.ErrChainBroken.WithMessage("no change logs exist; run start first")
	}
	for _, l := range logs[:len(logs)-1] {
		if !l.Signed {
			return LogInfo{}, errclass.ErrChainBroken.WithMessagef("unsigned non-tail log: %s", l.Name)
		}
	}
	last := logs[len(logs)-1]
	if last.Signed {
		return LogInfo{}, errclass.ErrChainBroken.WithMessage("no open change log; all logs are signed")
	}
	return last, nil
}

// NewLogName picks the filename for a log opened now, appending -2, -3, ...
// when the plain daily name is taken.
func (s *Store) NewLogName(now time.Time) (string, error) {
	date := now.UTC().Format("2006-01-02")
	name := fmt.Sprintf("changelog-%s.csv", date)
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(s.dir, name)); os.IsNotExist(err) {
			return name, nil
		} else if err != nil {
			return "", errclass.ErrIO.WithMessagef("stat %s: %v", name, err)
		}
		name = fmt.Sprintf("changelog-%s-%d.csv", date, n)
	}
}

// Create writes a new log containing the header and the given closing row.
func (s *Store) Create(name string, closing *Event) error {
	if closing.Type != TypeClosing {
		return fmt.Errorf("first row must be a closing event, got %s", closing.Type)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errclass.ErrIO.WithMessagef("create changes directory: %v", err)
	}

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return errclass.ErrIO.WithMessagef("create log %s: %v", name, err)
	}
	defer f.Close()

	fields, err := closing.fields(s.columns)
	if err != nil {
		return err
	}
	data := encodeLine(s.columns) + encodeLine(fields)
	if _, err := f.WriteString(data); err != nil {
		return errclass.ErrIO.WithMessagef("write log %s: %v", name, err)
	}
	return f.Sync()
}

// Append writes a batch of events to the open log as one write. Event
// timestamps older than the log's last timestamp are clamped forward and a
// comment row documenting the clamp is added to the batch.
func (s *Store) Append(events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	open, err := s.Open()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(open.Path, os.O_RDWR, 0o644)
	if err != nil {
		return errclass.ErrIO.WithMessagef("open log %s: %v", open.Name, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return errclass.ErrIO.WithMessagef("flock log %s: %v", open.Name, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	last, err := s.tail(f, open.Name)
	if err != nil {
		return err
	}

	clamped := false
	for _, ev := range events {
		if ev.Timestamp.Before(last) {
			ev.Timestamp = last
			clamped = true
		} else {
			last = ev.Timestamp
		}
	}

	var buf strings.Builder
	for _, ev := range events {
		fields, err := ev.fields(s.columns)
		if err != nil {
			return err
		}
		buf.WriteString(encodeLine(fields))
	}
	if clamped {
		note := &Event{
			Timestamp: last,
			Type:      TypeComment,
			Extra:     Extra{}.With("msg", "timestamp clamped: wall clock moved backwards"),
		}
		fields, err := note.fields(s.columns)
		if err != nil {
			return err
		}
		buf.WriteString(encodeLine(fields))
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return errclass.ErrIO.WithMessagef("seek log %s: %v", open.Name, err)
	}
	if _, err := f.WriteString(buf.String()); err != nil {
		return errclass.ErrIO.WithMessagef("append log %s: %v", open.Name, err)
	}
	return f.Sync()
}

// tail validates the file's trailing newline and returns the last row's
// timestamp. A log whose final line is partial is corrupt.
func (s *Store) tail(f *os.File, name string) (time.Time, error) {
	info, err := f.Stat()
	if err != nil {
		return time.Time{}, errclass.ErrIO.WithMessagef("stat log %s: %v", name, err)
	}
	if info.Size() == 0 {
		return time.Time{}, errclass.ErrLogCorrupt.WithMessagef("log %s is empty", name)
	}

	b := make([]byte, 1)
	if _, err := f.ReadAt(b, info.Size()-1); err != nil {
		return time.Time{}, errclass.ErrIO.WithMessagef("read log %s: %v", name, err)
	}
	if b[0] != '\n' {
		return time.Time{}, errclass.ErrLogCorrupt.WithMessagef("log %s ends mid-row", name)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return time.Time{}, errclass.ErrIO.WithMessagef("seek log %s: %v", name, err)
	}
	var last time.Time
	err = s.read(f, name, func(ev *Event) error {
		last = ev.Timestamp
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return last, nil
}

// Read streams every event of the named log through fn, in file order.
func (s *Store) Read(name string, fn func(*Event) error) error {
	path := filepath.Join(s.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return errclass.ErrIO.WithMessagef("open log %s: %v", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errclass.ErrIO.WithMessagef("stat log %s: %v", name, err)
	}
	if info.Size() > 0 {
		b := make([]byte, 1)
		if _, err := f.ReadAt(b, info.Size()-1); err == nil && b[0] != '\n' {
			return errclass.ErrLogCorrupt.WithMessagef("log %s ends mid-row", name)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return errclass.ErrIO.WithMessagef("seek log %s: %v", name, err)
		}
	}

	return s.read(f, name, fn)
}

func (s *Store) read(r io.Reader, name string, fn func(*Event) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return errclass.ErrLogCorrupt.WithMessagef("log %s is empty", name)
	}
	if err != nil {
		return errclass.ErrLogCorrupt.WithMessagef("log %s: %v", name, err)
	}
	columns, err := validateHeader(header)
	if err != nil {
		return errclass.ErrLogCorrupt.WithMessagef("log %s: %v", name, err)
	}

	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errclass.ErrLogCorrupt.WithMessagef("log %s: %v", name, err)
		}
		ev, err := parseEvent(columns, fields)
		if err != nil {
			return fmt.Errorf("log %s: %w", name, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// validateHeader checks that the header starts with the base column prefix;
// columns beyond it are appended algorithm columns.
func validateHeader(header []string) ([]string, error) {
	if len(header) < len(BaseColumns) {
		return nil, fmt.Errorf("header has %d columns, need at least %d", len(header), len(BaseColumns))
	}
	for i, want := range BaseColumns {
		if header[i] != want {
			return nil, fmt.Errorf("header column %d is %q, want %q", i, header[i], want)
		}
	}
	return header, nil
}

// ReadAll collects every event of the named log.
func (s *Store) ReadAll(name string) ([]*Event, error) {
	var out []*Event
	err := s.Read(name, func(ev *Event) error {
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
