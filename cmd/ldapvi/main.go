// Command ldapvi is an interactive LDAP directory editor: it runs a
// server-side search, renders the result as a human-editable text file,
// lets an external editor mutate it, then derives and applies the precise
// set of directory operations needed to bring the server in line.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/ldapvi/ldapvi/internal/action"
	"github.com/ldapvi/ldapvi/internal/config"
	"github.com/ldapvi/ldapvi/internal/ldif"
	"github.com/ldapvi/ldapvi/internal/model"
	"github.com/ldapvi/ldapvi/internal/printer"
	"github.com/ldapvi/ldapvi/internal/prompt"
	"github.com/ldapvi/ldapvi/internal/rdn"
	"github.com/ldapvi/ldapvi/internal/record"
	"github.com/ldapvi/ldapvi/internal/schema"
	"github.com/ldapvi/ldapvi/internal/wire"
)

func main() {
	os.Exit(run())
}

// run contains everything main would otherwise do directly, so a deferred
// profiler's Stop() reliably fires before the process exits.
func run() int {
	var (
		app = kingpin.New("ldapvi", "An interactive LDAP directory editor.")

		uri      = app.Flag("uri", "LDAP URI to connect to.").Short('h').String()
		binddn   = app.Flag("binddn", "Bind DN.").Short('D').String()
		password = app.Flag("password", "Bind password.").Short('w').String()
		pwPrompt = app.Flag("bindpw-prompt", "Prompt for the bind password.").Short('W').Bool()
		passFile = app.Flag("passwordfile", "File containing the bind password.").String()
		basedn   = app.Flag("basedn", "Search base DN.").Short('b').String()
		scopeStr = app.Flag("scope", "Search scope: base, one, or sub.").Short('s').Default("sub").String()
		filter   = app.Flag("filter", "Search filter.").Short('e').Default("(objectClass=*)").String()

		profileName = app.Flag("profile", "Named connection profile from the config file.").String()
		configFile  = app.Flag("config", "Config file (default ~/.ldapvirc, then /etc/ldapvi.conf).").String()

		outMode    = app.Flag("out", "Print the search result set and exit; no edit.").Bool()
		inMode     = app.Flag("in", "Consume change records from a file (or stdin) and commit them.").Bool()
		deleteMode = app.Flag("delete", "Delete the entries named on the command line.").Bool()
		renameMode = app.Flag("rename", "Rename a single entry: <old-dn> <new-rdn>.").Bool()
		modrdnMode = app.Flag("modrdn", "Alias for --rename.").Bool()

		ldapsearch = app.Flag("ldapsearch", "Shortcut: noninteractive --out.").Bool()
		ldapmodify = app.Flag("ldapmodify", "Shortcut: noninteractive --in.").Bool()
		ldapdelete = app.Flag("ldapdelete", "Shortcut: noninteractive --delete.").Bool()
		ldapmoddn  = app.Flag("ldapmoddn", "Shortcut: noninteractive --modrdn.").Bool()

		noninteractive = app.Flag("noninteractive", "Never prompt; fail rather than ask.").Bool()
		quiet          = app.Flag("quiet", "Suppress the closing \"Done.\" line of --in.").Short('q').Bool()
		continuous     = app.Flag("continuous", "Keep committing past per-entry errors.").Short('c').Bool()
		debug          = app.Flag("debug", "Enable debug logging.").Bool()

		controlFD = app.Flag("control-fd", "Advanced: drive the action loop over an already-open fd instead of a terminal (test harness).").Int()

		binaryMode = app.Flag("binary-mode", "How to classify values as text: utf8, ascii, or junk.").Default("utf8").Enum("utf8", "ascii", "junk")
		nativeFmt  = app.Flag("format-native", "Edit in native ldapvi format instead of LDIF.").Bool()

		schemaGraph = app.Flag("schema-graph", "Read the server's schema, write it to FILE as a Graphviz .dot graph, and exit; directory entries are not touched.").String()

		cpuProfile = app.Flag("cpuprofile", "Write a CPU profile to this directory.").String()
		memProfile = app.Flag("memprofile", "Write a memory profile to this directory.").String()

		args = app.Arg("args", "DN(s) or rename arguments, depending on mode.").Strings()
	)

	app.UsageTemplate(kingpin.CompactUsageTemplate).Version("ldapvi 1.0").Author("ldapvi")
	app.HelpFlag.Short('?')
	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if *cpuProfile != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*cpuProfile)).Stop()
	} else if *memProfile != "" {
		defer profile.Start(profile.MemProfile, profile.ProfilePath(*memProfile)).Stop()
	}

	log := logrus.New()
	log.Level = logrus.InfoLevel
	if *debug {
		log.Level = logrus.DebugLevel
	}

	*noninteractive = *noninteractive || *ldapsearch || *ldapmodify || *ldapdelete || *ldapmoddn
	*outMode = *outMode || *ldapsearch
	*inMode = *inMode || *ldapmodify
	*deleteMode = *deleteMode || *ldapdelete
	*modrdnMode = *modrdnMode || *ldapmoddn

	mode, err := resolveMode(*outMode, *inMode, *deleteMode, *renameMode || *modrdnMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if mode == modeEdit && *noninteractive {
		fmt.Fprintln(os.Stderr, "ldapvi: --noninteractive requires one of --out, --in, --delete, --rename/--modrdn")
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	applyProfile(cfg, *profileName, uri, binddn, basedn, scopeStr)

	var bmode printer.BinaryMode
	switch *binaryMode {
	case "ascii":
		bmode = printer.ModeASCII
	case "junk":
		bmode = printer.ModeJunk
	default:
		bmode = printer.ModeUTF8
	}

	if *schemaGraph != "" {
		return writeSchemaGraph(*uri, *binddn, resolvePassword(*password, *passFile), *schemaGraph)
	}

	scope, err := parseScope(*scopeStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	conn, err := wire.Dial(*uri)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer conn.Close()

	pw := resolvePassword(*password, *passFile)
	var prompter action.Prompter
	if *controlFD != 0 {
		f := os.NewFile(uintptr(*controlFD), "control")
		prompter = prompt.NewControlChannel(f, f)
	} else {
		prompter = prompt.NewTerminal()
	}

	if pw == "" && *pwPrompt {
		pw, err = prompter.ReadPassword("Password: ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	if err := conn.Bind(*binddn, pw); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	switch mode {
	case modeOut:
		return runOut(conn, *basedn, scope, *filter, bmode, os.Stdout)
	case modeDelete:
		return runDelete(conn, *args)
	case modeRename:
		return runRename(conn, *args)
	case modeIn:
		return runIn(conn, *args, *continuous, *quiet, log)
	default:
		format := action.FormatLDIF
		if *nativeFmt {
			format = action.FormatNative
		}
		return runEdit(conn, *basedn, scope, *filter, format, bmode, prompter, log)
	}
}

type mode int

const (
	modeEdit mode = iota
	modeOut
	modeIn
	modeDelete
	modeRename
)

func resolveMode(out, in, del, rename bool) (mode, error) {
	count := 0
	for _, b := range []bool{out, in, del, rename} {
		if b {
			count++
		}
	}
	if count > 1 {
		return modeEdit, errors.New("ldapvi: --out, --in, --delete and --rename/--modrdn are mutually exclusive")
	}
	switch {
	case out:
		return modeOut, nil
	case in:
		return modeIn, nil
	case del:
		return modeDelete, nil
	case rename:
		return modeRename, nil
	default:
		return modeEdit, nil
	}
}

func applyProfile(cfg *config.Config, name string, uri, binddn, basedn, scope *string) {
	p, ok := cfg.Profile(name)
	if !ok {
		return
	}
	if *uri == "" {
		*uri = p.URI
	}
	if *binddn == "" {
		*binddn = p.BindDN
	}
	if *basedn == "" {
		*basedn = p.Base
	}
	if *scope == "sub" && p.Scope != "" {
		*scope = p.Scope
	}
}

func resolvePassword(password, passFile string) string {
	if password != "" {
		return password
	}
	if passFile != "" {
		b, err := os.ReadFile(passFile)
		if err == nil {
			return string(bytes.TrimRight(b, "\r\n"))
		}
	}
	return ""
}

func parseScope(s string) (wire.Scope, error) {
	switch s {
	case "base":
		return wire.ScopeBase, nil
	case "one":
		return wire.ScopeOne, nil
	case "sub", "":
		return wire.ScopeSub, nil
	default:
		return wire.ScopeSub, errors.Errorf("ldapvi: unknown scope %q", s)
	}
}

// runOut implements --out / --ldapsearch: print the clean file and exit,
// without ever invoking an editor.
func runOut(conn *wire.Conn, base string, scope wire.Scope, filter string, bmode printer.BinaryMode, w io.Writer) int {
	entries, err := conn.Search(base, scope, filter, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for i, se := range entries {
		if err := printer.PrintEntry(w, se.ToEntry(), fmt.Sprintf("%d", i), bmode); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	return 0
}

// runDelete implements --delete / --ldapdelete: delete every DN named on
// the command line.
func runDelete(conn *wire.Conn, dns []string) int {
	if len(dns) == 0 {
		fmt.Fprintln(os.Stderr, "ldapvi: --delete requires at least one DN")
		return 2
	}
	for _, dn := range dns {
		if err := conn.Delete(dn); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	return 0
}

// runRename implements --rename/--modrdn/--ldapmoddn: <old-dn> <new-rdn>
// [new-superior], deleting the old RDN value.
func runRename(conn *wire.Conn, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "ldapvi: --rename requires <old-dn> <new-rdn> [new-superior]")
		return 2
	}
	oldDN, newRDN := args[0], args[1]
	newSuperior := ""
	if len(args) > 2 {
		newSuperior = args[2]
	}
	superior := newSuperior
	if superior == "" {
		_, superior = rdn.SplitDN(oldDN)
	}
	newDN := newRDN
	if superior != "" {
		newDN = newRDN + "," + superior
	}
	if err := conn.ModifyDN(oldDN, newDN, true, newSuperior); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// runIn implements --in / --ldapmodify: parse change records from a file
// (or stdin if args is empty) and commit them directly, with no clean-file
// comparison — every record is applied as given.
func runIn(conn *wire.Conn, files []string, continuous, quiet bool, log *logrus.Logger) int {
	var content []byte
	var err error
	if len(files) == 0 {
		content, err = io.ReadAll(os.Stdin)
	} else {
		content, err = os.ReadFile(files[0])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	p := ldif.New(content)
	failed := false
	for {
		start := p.Tell()
		key, _, err := p.PeekEntry(nil)
		if err != nil {
			break
		}
		applyErr := applyChangeRecord(conn, p, key)
		if p.Tell() == start {
			// The record's body failed to parse (Peek only validated its
			// header): force past it so the loop can't spin forever.
			if _, skipErr := p.SkipEntry(&start); skipErr != nil {
				break
			}
		}
		if applyErr != nil {
			log.WithError(applyErr).Error("commit failed")
			failed = true
			if !continuous {
				return 1
			}
		}
	}
	if failed {
		return 1
	}
	if !quiet {
		fmt.Println("Done.")
	}
	return 0
}

func applyChangeRecord(conn *wire.Conn, p *ldif.Parser, key record.Key) error {
	switch key.String() {
	case "delete":
		dn, err := p.ReadDelete(nil)
		if err != nil {
			return err
		}
		return conn.Delete(dn)
	case "modify":
		rec, err := p.ReadModify(nil)
		if err != nil {
			return err
		}
		return conn.Modify(rec.DN, rec.Mods)
	case "rename", "replace":
		rec, err := p.ReadRename(nil)
		if err != nil {
			return err
		}
		return conn.ModifyDN(rec.OldDN, rec.NewDN, rec.DeleteOldRDN, "")
	default:
		_, entry, _, err := p.ReadEntry(nil)
		if err != nil {
			return err
		}
		return conn.Add(entry.DN, addMods(entry.ToMods()))
	}
}

// addMods turns a bare attribute-set into the []model.LdapMod shape
// conn.Add expects; every entry in an add record is implicitly ModAdd.
func addMods(mods []model.Mod) []model.LdapMod {
	out := make([]model.LdapMod, len(mods))
	for i, m := range mods {
		out[i] = model.LdapMod{Op: model.ModAdd, Attr: m.Attr, Values: m.Values}
	}
	return out
}

// runEdit is the default interactive edit mode: search, write a clean file,
// copy it to a data file, hand both to an action.Session.
func runEdit(conn *wire.Conn, base string, scope wire.Scope, filter string, format action.Format, bmode printer.BinaryMode, prompter action.Prompter, log *logrus.Logger) int {
	entries, err := conn.Search(base, scope, filter, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var clean bytes.Buffer
	offsets := make([]int64, len(entries))
	for i, se := range entries {
		offsets[i] = int64(clean.Len())
		entry := se.ToEntry()
		var werr error
		if format == action.FormatNative {
			werr = printer.PrintEntry(&clean, entry, fmt.Sprintf("%d", i), bmode)
		} else {
			werr = printer.PrintLDIFEntry(&clean, entry, fmt.Sprintf("%d", i))
		}
		if werr != nil {
			fmt.Fprintln(os.Stderr, werr)
			return 1
		}
	}

	dataFile, err := os.CreateTemp("", "ldapvi-data-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	dataPath := dataFile.Name()
	defer os.Remove(dataPath)
	if _, err := dataFile.Write(clean.Bytes()); err != nil {
		dataFile.Close()
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	dataFile.Close()

	if err := prompter.Edit(dataPath, nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	data, err := os.ReadFile(dataPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	session := action.NewSession(clean.Bytes(), data, offsets, format, dataPath, prompter, conn, log)
	res := session.Run()
	return res.Code
}

// writeSchemaGraph implements --schema-graph: fetch the schema and dump a
// Graphviz rendering to FILE without touching directory content.
func writeSchemaGraph(uri, binddn, password, path string) int {
	conn, err := wire.Dial(uri)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer conn.Close()
	if err := conn.Bind(binddn, password); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	sch, err := conn.ReadSchema()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := os.WriteFile(path, []byte(schema.RenderGraph(sch)), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
