// Package action implements the action loop: the outer state machine that
// turns an edited data file back into directory operations (§4.8 of
// SPEC_FULL.md). It never calls os.Exit itself — every terminal transition
// is returned as a Result for cmd/ldapvi/main.go to act on.
package action

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ldapvi/ldapvi/internal/diff"
	"github.com/ldapvi/ldapvi/internal/ldif"
	"github.com/ldapvi/ldapvi/internal/printer"
	"github.com/ldapvi/ldapvi/internal/record"
	"github.com/ldapvi/ldapvi/internal/schema"
	"github.com/ldapvi/ldapvi/internal/vdif"
)

// Format selects which record syntax the working data file is written in.
type Format int

const (
	FormatLDIF Format = iota
	FormatNative
)

// ActionCharbag and ParseErrorCharbag are the two prompts' accepted keys,
// spelled out for Prompter.Choose's help text and for validating test
// harness replies.
const (
	ActionCharbag     = "yYqQvVebB*rsf+?"
	ParseErrorCharbag = "eQ?"
)

// Prompter is the core's only source of terminal input. Production code
// talks to a real tty; tests drive the CHOOSE/EDIT/VIEW/READLINE line
// protocol instead (§6.4). The core never reads stdin directly; its status
// lines (change statistics, "No changes.", "Done.", help text) are written
// straight to standard output.
type Prompter interface {
	Choose(prompt, charbag, help string) (byte, error)
	Edit(path string, line *int) error
	View(path string) error
	ReadLine(prompt string) (string, error)
	ReadPassword(prompt string) (string, error)
}

// Transport is what the action loop needs from the directory connection:
// the diff.Directory commit surface plus bind/reconnect/schema-fetch.
type Transport interface {
	diff.Directory
	Bind(dn, password string) error
	Reconnect() error
	ReadSchema() (*schema.Schema, error)
}

// Result is how the loop reports a terminal state; only main.go calls
// os.Exit, and only after inspecting this.
type Result struct {
	Exit bool
	Code int
}

func exit(code int) Result { return Result{Exit: true, Code: code} }

// pendingCommit remembers a commit pass that stopped on a HandlerFail, so a
// retry continues from where it left off instead of re-dispatching already
// committed operations (§4.6's offset-inversion resume contract).
type pendingCommit struct {
	clean record.Parser
	data  record.Parser
}

// Session holds everything one action-loop run needs across its EditPhase /
// ActionPrompt / ParseErrorPrompt transitions.
type Session struct {
	Clean   []byte
	Data    []byte
	Offsets []int64
	Format  Format

	DataPath string // where Data is persisted for Prompter.Edit

	Prompter  Prompter
	Transport Transport
	Log       *logrus.Logger

	pending *pendingCommit
}

// NewSession wires a Session with sane defaults for the optional fields.
func NewSession(clean, data []byte, offsets []int64, format Format, dataPath string, prompter Prompter, transport Transport, log *logrus.Logger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		Clean:     clean,
		Data:      data,
		Offsets:   offsets,
		Format:    format,
		DataPath:  dataPath,
		Prompter:  prompter,
		Transport: transport,
		Log:       log,
	}
}

func (s *Session) newParser(data []byte) record.Parser {
	if s.Format == FormatNative {
		return vdif.New(data)
	}
	return ldif.New(data)
}

func cloneOffsets(offsets []int64) []int64 {
	cp := make([]int64, len(offsets))
	copy(cp, offsets)
	return cp
}

// Run drives the state machine to a terminal Result. It loops internally
// over EditPhase re-entries (e, s, f, + and re-edits after a parse error)
// and only returns once the user has chosen an exiting action or analysis
// reports no changes.
func (s *Session) Run() Result {
	for {
		res, reenter := s.editPhase()
		if !reenter {
			return res
		}
	}
}

// editPhase runs analyse() once and then whichever prompt loop it lands in.
// The bool return says whether the caller should re-enter EditPhase (true)
// or whether a terminal Result has been produced (false).
func (s *Session) editPhase() (Result, bool) {
	stats, perr := s.analyse()
	if perr != nil {
		return s.parseErrorPrompt(perr)
	}
	if stats == (diff.Stats{}) {
		fmt.Println("No changes.")
		return exit(0), false
	}
	printStats(stats)
	return s.actionPrompt(stats)
}

// analyse runs a dry-run CompareStreams pass with StatisticsHandler,
// restoring Offsets fully (since StatisticsHandler never fails), and
// reports either the tallied stats or the parse error encountered.
func (s *Session) analyse() (diff.Stats, *record.ParseError) {
	clean := s.newParser(s.Clean)
	data := s.newParser(s.Data)
	h := diff.NewStatisticsHandler()
	code, err := diff.CompareStreams(clean, data, s.Offsets, h)
	if code == diff.ParseError {
		if pe, ok := errors.Cause(err).(*record.ParseError); ok {
			return diff.Stats{}, pe
		}
		return diff.Stats{}, record.NewParseError(0, "%s", err)
	}
	return h.Stats, nil
}

func printStats(stats diff.Stats) {
	fmt.Printf("%d add(s), %d delete(s), %d change(s), %d rename(s)\n",
		stats.Added, stats.Deleted, stats.Changed, stats.Renamed)
}

func (s *Session) parseErrorPrompt(perr *record.ParseError) (Result, bool) {
	for {
		c, err := s.Prompter.Choose(
			fmt.Sprintf("Parse error at byte %d: %s. What now?", perr.Pos, perr.Message),
			ParseErrorCharbag, parseErrorHelp)
		if err != nil {
			return exit(2), false
		}
		switch c {
		case 'e':
			line := lineOf(s.Data, perr.Pos)
			if err := s.Prompter.Edit(s.DataPath, &line); err != nil {
				s.Log.WithError(err).Error("edit failed")
				continue
			}
			if err := s.reloadData(); err != nil {
				s.Log.WithError(err).Error("reloading edited data failed")
				continue
			}
			return Result{}, true
		case 'Q':
			return exit(0), false
		case '?':
			fmt.Println(parseErrorHelp)
		}
	}
}

const parseErrorHelp = `e  re-edit, cursor on the offending line
Q  discard changes and quit
?  this help`

const actionHelp = `y  commit
Y  commit, continuing past per-entry errors
q  save change-records as LDIF and quit
Q  discard changes and quit
v  view pending changes as LDIF
V  view pending changes in native format
e  re-edit
b  bind as a different user
r  reconnect
s  skip the first pending change
f  forget pending deletions
+  annotate with schema and re-edit
?  this help`

// lineOf converts a byte offset into a 1-based line number within data.
func lineOf(data []byte, pos int64) int {
	if pos > int64(len(data)) {
		pos = int64(len(data))
	}
	return bytes.Count(data[:pos], []byte("\n")) + 1
}

func (s *Session) reloadData() error {
	if s.DataPath == "" {
		return nil
	}
	b, err := os.ReadFile(s.DataPath)
	if err != nil {
		return errors.Wrap(err, "action: reading edited data file")
	}
	s.Data = b
	s.pending = nil
	return nil
}

// actionPrompt implements the ActionPrompt state's key table.
func (s *Session) actionPrompt(stats diff.Stats) (Result, bool) {
	for {
		c, err := s.Prompter.Choose("Action?", ActionCharbag, actionHelp)
		if err != nil {
			return exit(2), false
		}
		switch c {
		case 'y':
			res, reenter, ok := s.commit(false)
			if ok {
				return res, reenter
			}
		case 'Y':
			res, reenter, ok := s.commit(true)
			if ok {
				return res, reenter
			}
		case 'q':
			path, err := s.saveSideFile()
			if err != nil {
				s.Log.WithError(err).Error("saving change records failed")
				continue
			}
			fmt.Println(path)
			return exit(0), false
		case 'Q':
			return exit(0), false
		case 'v':
			s.render(FormatLDIF)
		case 'V':
			s.render(FormatNative)
		case 'e':
			if err := s.Prompter.Edit(s.DataPath, nil); err != nil {
				s.Log.WithError(err).Error("edit failed")
				continue
			}
			if err := s.reloadData(); err != nil {
				s.Log.WithError(err).Error("reloading edited data failed")
				continue
			}
			return Result{}, true
		case 'b':
			s.rebind()
		case 'B', '*':
			fmt.Println("SASL bind options are not implemented.")
		case 'r':
			if err := s.Transport.Reconnect(); err != nil {
				s.Log.WithError(err).Error("reconnect failed")
			}
		case 's':
			s.skipFirst()
			return Result{}, true
		case 'f':
			s.forgetDeletions()
			return Result{}, true
		case '+':
			if err := s.annotateWithSchema(); err != nil {
				s.Log.WithError(err).Error("fetching schema failed")
				continue
			}
			if err := s.Prompter.Edit(s.DataPath, nil); err != nil {
				s.Log.WithError(err).Error("edit failed")
				continue
			}
			if err := s.reloadData(); err != nil {
				s.Log.WithError(err).Error("reloading edited data failed")
				continue
			}
			return Result{}, true
		case '?':
			fmt.Println(actionHelp)
		}
	}
}

// commit runs (or resumes) a real commit pass. The third return value
// reports whether the caller should stop looping the ActionPrompt (true) --
// in which case the first two values are the answer -- or keep prompting
// (false, in which case the first two are ignored).
func (s *Session) commit(continuous bool) (Result, bool, bool) {
	var clean, data record.Parser
	if s.pending != nil {
		clean, data = s.pending.clean, s.pending.data
	} else {
		clean, data = s.newParser(s.Clean), s.newParser(s.Data)
	}

	h := diff.NewCommitHandler(s.Transport, continuous, s.Log)
	code, err := diff.CompareStreams(clean, data, s.Offsets, h)
	switch code {
	case diff.OK:
		s.pending = nil
		fmt.Println("Done.")
		return exit(0), false, true
	case diff.HandlerFail:
		s.pending = &pendingCommit{clean: clean, data: data}
		return Result{}, false, false
	default: // ParseError: analyse() should have already caught this
		s.pending = nil
		s.Log.WithError(err).Error("commit aborted by parse error")
		return Result{}, false, false
	}
}

func (s *Session) render(format Format) {
	var buf bytes.Buffer
	var h diff.Handler
	if format == FormatNative {
		h = diff.NewVdifPrintHandler(&buf, printer.ModeUTF8)
	} else {
		h = diff.NewLdifPrintHandler(&buf)
	}

	clean := s.newParser(s.Clean)
	data := s.newParser(s.Data)
	offsets := cloneOffsets(s.Offsets)
	if _, err := diff.CompareStreams(clean, data, offsets, h); err != nil {
		s.Log.WithError(err).Error("rendering pending changes failed")
		return
	}

	f, err := os.CreateTemp("", "ldapvi-view-*")
	if err != nil {
		s.Log.WithError(err).Error("creating temp file for view failed")
		return
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		s.Log.WithError(err).Error("writing temp file for view failed")
		return
	}
	f.Close()

	if err := s.Prompter.View(path); err != nil {
		s.Log.WithError(err).Error("viewing pending changes failed")
	}
}

func (s *Session) saveSideFile() (string, error) {
	var buf bytes.Buffer
	h := diff.NewLdifPrintHandler(&buf)
	clean := s.newParser(s.Clean)
	data := s.newParser(s.Data)
	offsets := cloneOffsets(s.Offsets)
	if _, err := diff.CompareStreams(clean, data, offsets, h); err != nil {
		return "", errors.Wrap(err, "action: rendering change records")
	}
	path := fmt.Sprintf(",ldapvi-%d.ldif", time.Now().Unix())
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return "", errors.Wrap(err, "action: writing side file")
	}
	return path, nil
}

func (s *Session) rebind() {
	dn, err := s.Prompter.ReadLine("Bind DN: ")
	if err != nil {
		s.Log.WithError(err).Error("reading bind DN failed")
		return
	}
	pw, err := s.Prompter.ReadPassword("Password: ")
	if err != nil {
		s.Log.WithError(err).Error("reading password failed")
		return
	}
	if err := s.Transport.Bind(dn, pw); err != nil {
		s.Log.WithError(err).Error("bind failed")
	}
}

// skipFirst implements the 's' key: drop data's first pending record. If it
// carries a numeric key within range, suppress the matching delete by
// marking that clean offset -1; otherwise (data already empty) skip one
// pending deletion outright by suppressing the smallest still-live offset.
func (s *Session) skipFirst() {
	data := s.newParser(s.Data)
	key, _, err := data.PeekEntry(nil)
	if err != nil {
		// data is empty (or unparseable, which analyse would already have
		// reported): fall back to skipping one deletion.
		s.skipOneDeletion()
		return
	}
	endKey, err := data.SkipEntry(nil)
	if err != nil {
		return
	}
	cut := data.Tell()
	s.Data = append([]byte{}, s.Data[cut:]...)

	if endKey.Kind == record.KindNumbered {
		var n int64
		if _, err := fmt.Sscanf(key.Label, "%d", &n); err == nil && n >= 0 && int(n) < len(s.Offsets) {
			s.Offsets[n] = -1
		}
	}
}

func (s *Session) skipOneDeletion() {
	best := -1
	for i, off := range s.Offsets {
		if off >= 0 {
			best = i
			break
		}
	}
	if best >= 0 {
		s.Offsets[best] = -1
	}
}

// forgetDeletions implements the 'f' key: every clean offset still pending
// (>=0) whose key doesn't appear anywhere in data gets its clean entry
// appended verbatim to data, so the next analyse no longer proposes
// deleting it.
func (s *Session) forgetDeletions() {
	present := s.numberedKeysInData()

	clean := s.newParser(s.Clean)
	var buf bytes.Buffer
	buf.Write(s.Data)
	for n, off := range s.Offsets {
		if off < 0 || present[int64(n)] {
			continue
		}
		if err := clean.Seek(off); err != nil {
			continue
		}
		_, entry, _, err := clean.ReadEntry(nil)
		if err != nil {
			continue
		}
		label := fmt.Sprintf("%d", n)
		if s.Format == FormatNative {
			printer.PrintEntry(&buf, entry, label, printer.ModeUTF8)
		} else {
			printer.PrintLDIFEntry(&buf, entry, label)
		}
	}
	s.Data = buf.Bytes()
}

func (s *Session) numberedKeysInData() map[int64]bool {
	present := map[int64]bool{}
	data := s.newParser(s.Data)
	for {
		key, err := data.SkipEntry(nil)
		if err != nil {
			break
		}
		if key.Kind == record.KindNumbered {
			var n int64
			if _, err := fmt.Sscanf(key.Label, "%d", &n); err == nil {
				present[n] = true
			}
		}
	}
	return present
}

// annotateWithSchema fetches the schema over the transport and rewrites
// every numbered entry in Data, in place, ahead of a re-edit. In native
// format each entry gets Entroid-driven MUST/MAY annotations (§4.4); in
// LDIF format entries are reprinted without annotation comments. Records
// without a clean-file number are copied through unchanged.
func (s *Session) annotateWithSchema() error {
	sch, err := s.Transport.ReadSchema()
	if err != nil {
		return errors.Wrap(err, "action: fetching schema")
	}
	entroid := schema.NewEntroid(sch)

	data := s.newParser(s.Data)
	var buf bytes.Buffer
	for {
		key, pos, err := data.PeekEntry(nil)
		if err == record.ErrEnd {
			break
		}
		if err != nil {
			return errors.Wrap(err, "action: re-parsing data for annotation")
		}
		if key.Kind != record.KindNumbered {
			// add/delete/modify/rename records are not annotated; keep their text as is
			if _, err := data.SkipEntry(nil); err != nil {
				return errors.Wrap(err, "action: re-parsing data for annotation")
			}
			buf.WriteString("\n")
			buf.Write(s.Data[pos:data.Tell()])
			continue
		}
		_, entry, _, err := data.ReadEntry(nil)
		if err != nil {
			return errors.Wrap(err, "action: re-parsing data for annotation")
		}
		entroid.Reset()
		if oc := entry.GetAttribute("objectClass"); oc != nil {
			for _, v := range oc.Values {
				entroid.RequestClass(string(v))
			}
		}
		if err := entroid.Compute(); err != nil {
			return errors.Wrap(err, "action: computing schema closure")
		}
		if s.Format == FormatNative {
			if err := printer.PrintEntryAnnotated(&buf, entry, key.Label, printer.ModeUTF8, entroid); err != nil {
				return err
			}
		} else {
			if err := printer.PrintLDIFEntry(&buf, entry, key.Label); err != nil {
				return err
			}
		}
	}
	s.Data = buf.Bytes()
	if s.DataPath != "" {
		if err := os.WriteFile(s.DataPath, s.Data, 0o600); err != nil {
			return errors.Wrap(err, "action: writing annotated data file")
		}
	}
	s.pending = nil
	return nil
}
