// Package verify validates signatures, hash-chain continuity and,
// optionally, current file integrity.
package verify

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/internal/hash"
	"github.com/historify-project/historify/internal/index"
	"github.com/historify-project/historify/internal/repo"
	"github.com/historify-project/historify/internal/sign"
	"github.com/historify-project/historify/internal/state"
	"github.com/historify-project/historify/pkg/errclass"
)

// FailureKind categorizes a verification failure.
type FailureKind string

const (
	KindSignature FailureKind = "signature"
	KindChain     FailureKind = "chain"
	KindFile      FailureKind = "file-integrity"
	KindStructure FailureKind = "structural"
)

// Failure is one verification finding.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	File   string      `json:"file"`
	Path   string      `json:"path,omitempty"`
	Detail string      `json:"detail"`
}

// Report is the structured outcome of a verification pass.
type Report struct {
	OK           bool      `json:"ok"`
	Scope        string    `json:"scope"`
	CheckedLogs  int       `json:"checked_logs"`
	CheckedFiles int       `json:"checked_files"`
	RebuiltIndex bool      `json:"rebuilt_index"`
	Failures     []Failure `json:"failures,omitempty"`
}

func (r *Report) fail(kind FailureKind, file, path, detail string) {
	r.OK = false
	r.Failures = append(r.Failures, Failure{Kind: kind, File: file, Path: path, Detail: detail})
}

// Err maps the report to the error class driving the exit code, or nil.
func (r *Report) Err() error {
	if r.OK {
		return nil
	}
	for _, f := range r.Failures {
		if f.Kind == KindSignature {
			return errclass.ErrBadSignature.WithMessage(f.Detail)
		}
	}
	return errclass.ErrChainBroken.WithMessagef("%d verification failures", len(r.Failures))
}

// Options select the verification mode.
type Options struct {
	// FullChain verifies from the seed forward; otherwise only the most
	// recent closed log and its link are checked.
	FullChain bool
	// CheckFiles rehashes every live file in the reconstructed state.
	CheckFiles bool
	// Record appends a verify row to the open log with the result.
	Record bool
}

// Verifier checks a repository's chain. Verification is a pure function of
// on-disk state apart from the optional verify row it records and, in full
// chain mode, the rebuild of a stale or corrupt integrity index together
// with the comment row documenting it.
type Verifier struct {
	repo   *repo.Repository
	signer sign.Signer
	hasher *hash.Hasher
}

// New creates a Verifier using signer for signature validation.
func New(r *repo.Repository, signer sign.Signer) *Verifier {
	return &Verifier{repo: r, signer: signer, hasher: hash.New()}
}

// Verify runs the selected verification mode and returns its report.
func (v *Verifier) Verify(opts Options) (*Report, error) {
	report := &Report{OK: true, Scope: scopeString(opts)}

	store := v.repo.Store()
	logs, err := store.List()
	if err != nil {
		return nil, err
	}

	if opts.FullChain {
		v.verifyFull(report, store, logs, opts.CheckFiles)
	} else {
		v.verifyTail(report, store, logs)
	}

	if opts.Record {
		if err := v.record(store, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func scopeString(opts Options) string {
	s := "chain"
	if opts.FullChain {
		s = "full-chain"
	}
	if opts.CheckFiles {
		s += "+files"
	}
	return s
}

// verifySig validates one detached signature using the archived public key
// selected by the fingerprint embedded in the signature.
func (v *Verifier) verifySig(report *Report, target, sigPath string) bool {
	if _, err := os.Stat(sigPath); err != nil {
		report.fail(KindSignature, filepath.Base(target), "", "missing signature "+filepath.Base(sigPath))
		return false
	}
	pubPath, err := sign.FindArchivedKey(v.repo.KeysDir(), sigPath)
	if err != nil {
		report.fail(KindSignature, filepath.Base(target), "", err.Error())
		return false
	}
	if err := v.signer.Verify(target, sigPath, pubPath); err != nil {
		report.fail(KindSignature, filepath.Base(target), "", err.Error())
		return false
	}
	return true
}

// verifyLink checks that log's first row is a closing event matching the
// digests of the file it names.
func (v *Verifier) verifyLink(report *Report, store *changelog.Store, logName string) {
	events, err := store.ReadAll(logName)
	if err != nil {
		report.fail(KindStructure, logName, "", err.Error())
		return
	}
	if len(events) == 0 || events[0].Type != changelog.TypeClosing {
		report.fail(KindStructure, logName, "", "first row is not a closing event")
		return
	}
	for _, ev := range events[1:] {
		if ev.Type == changelog.TypeClosing {
			report.fail(KindStructure, logName, "", "closing event past the first row")
		}
	}

	closing := events[0]
	prev := closing.Extra.Get("prev")
	if prev == "" {
		report.fail(KindChain, logName, "", "closing row has no prev reference")
		return
	}

	prevPath := filepath.Join(store.Dir(), prev)
	if prev == "seed.bin" {
		prevPath = v.repo.SeedPath()
	}
	d, err := v.hasher.File(prevPath)
	if err != nil {
		report.fail(KindChain, logName, "", "previous chain file unreadable: "+prev)
		return
	}
	if d.SHA256 != closing.SHA256 || d.BLAKE3 != closing.BLAKE3 {
		report.fail(KindChain, logName, "",
			"digest mismatch against "+prev+": have "+d.BLAKE3+", closing row says "+closing.BLAKE3)
	}
}

// verifyTail is the default mode: check the most recent closed log's
// signature and its link into whatever preceded it. Every log before the
// tail counts as closed whether or not its signature is still present.
func (v *Verifier) verifyTail(report *Report, store *changelog.Store, logs []changelog.LogInfo) {
	var lastClosed *changelog.LogInfo
	for i := range logs {
		if logs[i].Signed || i < len(logs)-1 {
			lastClosed = &logs[i]
		}
	}

	if lastClosed == nil {
		// Nothing closed yet; the chain root is the seed.
		if v.verifySig(report, v.repo.SeedPath(), v.repo.SeedSigPath()) && len(logs) > 0 {
			v.verifyLink(report, store, logs[0].Name)
			report.CheckedLogs = 1
		}
		return
	}

	if v.verifySig(report, lastClosed.Path, lastClosed.SigPath()) {
		v.verifyLink(report, store, lastClosed.Name)
	}
	report.CheckedLogs = 1

	// The open log, when present, must link onto the last closed log.
	if len(logs) > 0 && !logs[len(logs)-1].Signed {
		v.verifyLink(report, store, logs[len(logs)-1].Name)
		report.CheckedLogs++
	}
}

// verifyFull is the ordered pass from the seed forward.
func (v *Verifier) verifyFull(report *Report, store *changelog.Store, logs []changelog.LogInfo, checkFiles bool) {
	v.verifySig(report, v.repo.SeedPath(), v.repo.SeedSigPath())

	for _, l := range logs {
		if !l.Signed {
			break // tail open log, handled below
		}
		if v.verifySig(report, l.Path, l.SigPath()) {
			v.verifyLink(report, store, l.Name)
		}
		report.CheckedLogs++
	}

	// Every unsigned log must be the single tail entry; signed logs after
	// an unsigned one are a structural violation.
	seenOpen := false
	for _, l := range logs {
		if !l.Signed {
			if seenOpen {
				report.fail(KindStructure, l.Name, "", "more than one unsigned log")
			}
			seenOpen = true
			continue
		}
		if seenOpen {
			report.fail(KindStructure, l.Name, "", "signed log after the open log")
		}
	}

	if seenOpen {
		open := logs[len(logs)-1]
		v.verifyLink(report, store, open.Name)
		report.CheckedLogs++
	}

	res, err := state.Reconstruct(store, state.Options{})
	if err != nil {
		report.fail(KindStructure, "", "", err.Error())
		return
	}

	if checkFiles {
		v.checkFiles(report, res.State)
	}

	if report.OK {
		v.checkIndex(report, store, res.State)
	}
}

// checkFiles rehashes every live file and reports mismatches per file
// without aborting the pass.
func (v *Verifier) checkFiles(report *Report, st state.State) {
	for _, cat := range v.repo.Categories() {
		files := st.Category(cat.Name)
		root := v.repo.CategoryRoot(cat)
		for rel, want := range files {
			report.CheckedFiles++
			d, err := v.hasher.File(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				report.fail(KindFile, cat.Name, rel, "unreadable: "+err.Error())
				continue
			}
			if d.SHA256 != want.SHA256 || d.BLAKE3 != want.BLAKE3 {
				report.fail(KindFile, cat.Name, rel, "content digest mismatch")
			}
		}
	}
}

// checkIndex compares the derived index against the replayed state and
// rebuilds it when it is the only thing wrong. An index-only corruption
// does not fail verification.
func (v *Verifier) checkIndex(report *Report, store *changelog.Store, st state.State) {
	idxPath := v.repo.IndexPath()
	loaded, err := index.Load(idxPath)
	if os.IsNotExist(err) {
		return
	}

	healthy := err == nil && index.Equal(loaded, st)
	if healthy {
		return
	}

	if err := index.Write(idxPath, st); err != nil {
		report.fail(KindStructure, "integrity.csv", "", "index rebuild failed: "+err.Error())
		return
	}
	report.RebuiltIndex = true
	log.Warn().Msg("integrity index was stale or corrupt; rebuilt from logs")

	note := &changelog.Event{
		Timestamp: time.Now().UTC(),
		Type:      changelog.TypeComment,
		Extra:     changelog.Extra{}.With("msg", "integrity index rebuilt from change logs"),
	}
	if err := store.Append([]*changelog.Event{note}); err != nil {
		log.Warn().Err(err).Msg("could not record index rebuild")
	}
}

// record appends the verify row documenting this pass.
func (v *Verifier) record(store *changelog.Store, report *Report) error {
	result := "ok"
	if !report.OK {
		result = "fail"
	}
	row := &changelog.Event{
		Timestamp: time.Now().UTC(),
		Type:      changelog.TypeVerify,
		Extra:     changelog.Extra{}.With("result", result).With("scope", report.Scope),
	}
	err := store.Append([]*changelog.Event{row})
	if err != nil && errors.Is(err, errclass.ErrChainBroken) {
		// No open log to record into; the report still stands.
		return nil
	}
	return err
}
