// Package changelog implements the append-only daily change logs and the
// strict CSV dialect they are written in.
package changelog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/historify-project/historify/pkg/errclass"
)

// EventType tags a change log row. The set of types is closed; unknown
// types fail parsing so that column additions stay forward-compatible but
// value additions do not pass silently.
type EventType string

const (
	TypeClosing EventType = "closing"
	TypeNew     EventType = "new"
	TypeChanged EventType = "changed"
	TypeMove    EventType = "move"
	TypeDeleted EventType = "deleted"
	TypeConfig  EventType = "config"
	TypeComment EventType = "comment"
	TypeVerify  EventType = "verify"
)

// ParseEventType validates a raw type string.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case TypeClosing, TypeNew, TypeChanged, TypeMove, TypeDeleted,
		TypeConfig, TypeComment, TypeVerify:
		return t, nil
	}
	return "", errclass.ErrLogCorrupt.WithMessagef("unknown event type: %q", s)
}

// BaseColumns is the fixed column prefix of every change log. Additional
// digest algorithm columns are appended after "extra" and never reordered.
var BaseColumns = []string{
	"timestamp", "type", "category", "path",
	"size", "ctime", "mtime", "sha256", "blake3", "extra",
}

// Extra is the ordered key=value;... payload of the extra column.
type Extra []KV

// KV is one extra pair.
type KV struct {
	Key   string
	Value string
}

// Get returns the value for key, or "".
func (e Extra) Get(key string) string {
	for _, kv := range e {
		if kv.Key == key {
			return kv.Value
		}
	}
	return ""
}

// With returns a copy of e with key=value appended.
func (e Extra) With(key, value string) Extra {
	out := make(Extra, len(e), len(e)+1)
	copy(out, e)
	return append(out, KV{key, value})
}

// String encodes the pairs as key=value;key=value.
func (e Extra) String() string {
	parts := make([]string, len(e))
	for i, kv := range e {
		parts[i] = kv.Key + "=" + kv.Value
	}
	return strings.Join(parts, ";")
}

// ParseExtra decodes the extra column. The value of the final pair may
// contain further '=' characters (comment text does).
func ParseExtra(s string) Extra {
	if s == "" {
		return nil
	}
	var out Extra
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		k, v, found := strings.Cut(part, "=")
		if !found {
			out = append(out, KV{Key: part})
			continue
		}
		out = append(out, KV{Key: k, Value: v})
	}
	return out
}

// Event is one change log row. Size, CTime and MTime are meaningful only
// for file events; digests are meaningful for file events and closing rows.
// CTime and MTime are nanosecond Unix epoch values.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Category  string
	Path      string
	Size      int64
	CTime     int64
	MTime     int64
	SHA256    string
	BLAKE3    string
	Extra     Extra

	// MoreDigests holds values for algorithm columns beyond the default
	// pair, keyed by column name, in effect when hash.algorithms grew.
	MoreDigests map[string]string
}

// IsFileEvent reports whether the event describes a tracked file.
func (ev *Event) IsFileEvent() bool {
	switch ev.Type {
	case TypeNew, TypeChanged, TypeMove, TypeDeleted:
		return true
	}
	return false
}

// fields renders the event as CSV fields for the given column set.
func (ev *Event) fields(columns []string) ([]string, error) {
	out := make([]string, 0, len(columns))
	for _, col := range columns {
		switch col {
		case "timestamp":
			out = append(out, ev.Timestamp.UTC().Format(time.RFC3339))
		case "type":
			out = append(out, string(ev.Type))
		case "category":
			out = append(out, ev.Category)
		case "path":
			out = append(out, ev.Path)
		case "size":
			out = append(out, formatInt(ev.Size, ev.IsFileEvent()))
		case "ctime":
			out = append(out, formatInt(ev.CTime, ev.IsFileEvent()))
		case "mtime":
			out = append(out, formatInt(ev.MTime, ev.IsFileEvent()))
		case "sha256":
			out = append(out, ev.SHA256)
		case "blake3":
			out = append(out, ev.BLAKE3)
		case "extra":
			out = append(out, ev.Extra.String())
		default:
			out = append(out, ev.MoreDigests[col])
		}
	}
	return out, nil
}

func formatInt(v int64, meaningful bool) string {
	if !meaningful && v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

// parseEvent decodes CSV fields according to the column set.
func parseEvent(columns, fields []string) (*Event, error) {
	if len(fields) != len(columns) {
		return nil, errclass.ErrLogCorrupt.WithMessagef(
			"row has %d fields, expected %d", len(fields), len(columns))
	}

	ev := &Event{}
	for i, col := range columns {
		val := fields[i]
		switch col {
		case "timestamp":
			ts, err := time.Parse(time.RFC3339, val)
			if err != nil {
				return nil, errclass.ErrLogCorrupt.WithMessagef("bad timestamp %q: %v", val, err)
			}
			ev.Timestamp = ts.UTC()
		case "type":
			t, err := ParseEventType(val)
			if err != nil {
				return nil, err
			}
			ev.Type = t
		case "category":
			ev.Category = val
		case "path":
			ev.Path = val
		case "size":
			n, err := parseInt(val)
			if err != nil {
				return nil, errclass.ErrLogCorrupt.WithMessagef("bad size %q", val)
			}
			ev.Size = n
		case "ctime":
			n, err := parseInt(val)
			if err != nil {
				return nil, errclass.ErrLogCorrupt.WithMessagef("bad ctime %q", val)
			}
			ev.CTime = n
		case "mtime":
			n, err := parseInt(val)
			if err != nil {
				return nil, errclass.ErrLogCorrupt.WithMessagef("bad mtime %q", val)
			}
			ev.MTime = n
		case "sha256":
			ev.SHA256 = val
		case "blake3":
			ev.BLAKE3 = val
		case "extra":
			ev.Extra = ParseExtra(val)
		default:
			if ev.MoreDigests == nil {
				ev.MoreDigests = make(map[string]string)
			}
			ev.MoreDigests[col] = val
		}
	}
	return ev, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// quoteField applies the log dialect: a field is quoted when it contains a
// comma, a quote, or any whitespace; quotes are doubled.
func quoteField(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r\t ") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// encodeLine renders one fully formed CSV line, LF-terminated.
func encodeLine(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = quoteField(f)
	}
	return strings.Join(quoted, ",") + "\n"
}

// EncodeLine renders ev as its on-disk line for the given columns.
// Exposed for tests that assert byte-level log contents.
func EncodeLine(ev *Event, columns []string) (string, error) {
	fields, err := ev.fields(columns)
	if err != nil {
		return "", err
	}
	return encodeLine(fields), nil
}

// String implements a compact human rendering used by the log command.
func (ev *Event) String() string {
	return fmt.Sprintf("%s %-7s %s %s",
		ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Category, ev.Path)
}
