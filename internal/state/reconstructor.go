// Package state replays change logs into the last-known file state.
package state

import (
	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/pkg/errclass"
)

// FileState is the last known record for one category-relative path.
type FileState struct {
	SHA256 string
	BLAKE3 string
	Size   int64
	CTime  int64
	MTime  int64
}

// State maps category -> path -> last known record.
type State map[string]map[string]FileState

// Category returns the path map for a category, never nil.
func (s State) Category(name string) map[string]FileState {
	if m, ok := s[name]; ok {
		return m
	}
	return map[string]FileState{}
}

// ClosingLink is the chain link extracted from a log's closing row.
type ClosingLink struct {
	Log    string // the log carrying the closing row
	Prev   string // basename named in extra prev=
	SHA256 string
	BLAKE3 string
	Signed bool
}

// Result is the outcome of a full replay.
type Result struct {
	State State
	Chain []ClosingLink
	// Comments collects category-scoped comment messages (category -> msgs).
	// Administrative comments with no category are not tracked.
	Comments map[string][]string
}

// Options control replay behavior.
type Options struct {
	// Category restricts state tracking to one category ("" = all).
	Category string
	// OnInconsistency, when set, downgrades LogInconsistent replay errors
	// to a callback and continues. When nil, replay fails on the first one.
	OnInconsistency func(error)
}

// Reconstruct replays every log in chronological order.
func Reconstruct(store *changelog.Store, opts Options) (*Result, error) {
	logs, err := store.List()
	if err != nil {
		return nil, err
	}

	res := &Result{State: State{}, Comments: map[string][]string{}}
	for _, log := range logs {
		first := true
		err := store.Read(log.Name, func(ev *changelog.Event) error {
			if first {
				first = false
				if ev.Type == changelog.TypeClosing {
					res.Chain = append(res.Chain, ClosingLink{
						Log:    log.Name,
						Prev:   ev.Extra.Get("prev"),
						SHA256: ev.SHA256,
						BLAKE3: ev.BLAKE3,
						Signed: log.Signed,
					})
				}
				return res.apply(log.Name, ev, opts)
			}
			return res.apply(log.Name, ev, opts)
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *Result) apply(logName string, ev *changelog.Event, opts Options) error {
	if ev.Type == changelog.TypeComment && ev.Category != "" {
		r.Comments[ev.Category] = append(r.Comments[ev.Category], ev.Extra.Get("msg"))
		return nil
	}
	if !ev.IsFileEvent() {
		return nil
	}
	if opts.Category != "" && ev.Category != opts.Category {
		return nil
	}

	cat := r.State[ev.Category]
	if cat == nil {
		cat = make(map[string]FileState)
		r.State[ev.Category] = cat
	}

	fail := func(e *errclass.Error) error {
		if opts.OnInconsistency != nil {
			opts.OnInconsistency(e)
			return nil
		}
		return e
	}

	switch ev.Type {
	case changelog.TypeNew:
		cat[ev.Path] = fileState(ev)

	case changelog.TypeChanged:
		if _, ok := cat[ev.Path]; !ok {
			return fail(errclass.ErrLogInconsistent.WithMessagef(
				"%s: changed %s/%s without prior record", logName, ev.Category, ev.Path))
		}
		cat[ev.Path] = fileState(ev)

	case changelog.TypeMove:
		from := ev.Extra.Get("from")
		if from == "" {
			return fail(errclass.ErrLogInconsistent.WithMessagef(
				"%s: move %s/%s without from=", logName, ev.Category, ev.Path))
		}
		if _, ok := cat[from]; !ok {
			return fail(errclass.ErrLogInconsistent.WithMessagef(
				"%s: move from absent path %s/%s", logName, ev.Category, from))
		}
		delete(cat, from)
		cat[ev.Path] = fileState(ev)

	case changelog.TypeDeleted:
		if _, ok := cat[ev.Path]; !ok {
			return fail(errclass.ErrLogInconsistent.WithMessagef(
				"%s: deleted absent path %s/%s", logName, ev.Category, ev.Path))
		}
		delete(cat, ev.Path)
	}
	return nil
}

func fileState(ev *changelog.Event) FileState {
	return FileState{
		SHA256: ev.SHA256,
		BLAKE3: ev.BLAKE3,
		Size:   ev.Size,
		CTime:  ev.CTime,
		MTime:  ev.MTime,
	}
}
