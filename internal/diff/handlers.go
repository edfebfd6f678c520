package diff

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ldapvi/ldapvi/internal/model"
	"github.com/ldapvi/ldapvi/internal/printer"
	"github.com/ldapvi/ldapvi/internal/rdn"
)

// deleteOldRDN recomputes the deleteoldrdn flag of a rename the engine has
// already validated: true when none of the old RDN's values remain on the
// new entry.
func deleteOldRDN(oldDN string, newEntry *model.Entry) bool {
	return rdn.FrobRDN(newEntry, rdn.CheckNone, oldDN) == 0
}

// Directory is the subset of the wire transport CommitHandler needs; the
// concrete implementation lives in internal/wire and talks to the server
// over go-ldap/ldap/v3.
type Directory interface {
	Add(dn string, mods []model.LdapMod) error
	Delete(dn string) error
	Modify(dn string, mods []model.LdapMod) error
	ModifyDN(oldDN, newDN string, deleteOldRDN bool, newSuperior string) error
}

// Stats tallies how many records of each kind a diff pass dispatched.
type Stats struct {
	Added   int
	Deleted int
	Changed int
	Renamed int
}

// StatisticsHandler counts dispatched operations without performing them;
// the action loop uses it to tally pending changes before prompting.
type StatisticsHandler struct {
	Stats Stats
}

func NewStatisticsHandler() *StatisticsHandler { return &StatisticsHandler{} }

func (h *StatisticsHandler) HandleAdd(n int64, dn string, mods []model.LdapMod) int {
	h.Stats.Added++
	return 0
}

func (h *StatisticsHandler) HandleDelete(n int64, dn string) int {
	h.Stats.Deleted++
	return 0
}

func (h *StatisticsHandler) HandleChange(n int64, oldDN, newDN string, mods []model.LdapMod) int {
	h.Stats.Changed++
	return 0
}

func (h *StatisticsHandler) HandleRename(n int64, oldDN string, newEntry *model.Entry) int {
	h.Stats.Renamed++
	return 0
}

func (h *StatisticsHandler) HandleRename0(n int64, oldDN, newDN string, deleteOldRDN bool) int {
	h.Stats.Renamed++
	return 0
}

// CommitHandler applies dispatched changes to a live directory over dir. In
// continuous mode a failed operation is logged and swallowed (the engine
// keeps going); otherwise the error aborts the engine, which then reports
// HandlerFail up to the action loop.
type CommitHandler struct {
	Dir        Directory
	Continuous bool
	Log        *logrus.Logger
}

func NewCommitHandler(dir Directory, continuous bool, log *logrus.Logger) *CommitHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CommitHandler{Dir: dir, Continuous: continuous, Log: log}
}

func (h *CommitHandler) fail(err error, dn string) int {
	h.Log.WithError(err).WithField("dn", dn).Error("ldap operation failed")
	if h.Continuous {
		return 0
	}
	return -1
}

func (h *CommitHandler) HandleAdd(n int64, dn string, mods []model.LdapMod) int {
	if err := h.Dir.Add(dn, mods); err != nil {
		return h.fail(err, dn)
	}
	return 0
}

func (h *CommitHandler) HandleDelete(n int64, dn string) int {
	if err := h.Dir.Delete(dn); err != nil {
		return h.fail(err, dn)
	}
	return 0
}

func (h *CommitHandler) HandleChange(n int64, oldDN, newDN string, mods []model.LdapMod) int {
	if err := h.Dir.Modify(newDN, mods); err != nil {
		return h.fail(err, newDN)
	}
	return 0
}

func (h *CommitHandler) HandleRename(n int64, oldDN string, newEntry *model.Entry) int {
	if err := h.Dir.ModifyDN(oldDN, newEntry.DN, deleteOldRDN(oldDN, newEntry), ""); err != nil {
		return h.fail(err, oldDN)
	}
	return 0
}

func (h *CommitHandler) HandleRename0(n int64, oldDN, newDN string, deleteOldRDN bool) int {
	if err := h.Dir.ModifyDN(oldDN, newDN, deleteOldRDN, ""); err != nil {
		return h.fail(err, oldDN)
	}
	return 0
}

// LdifPrintHandler writes dispatched changes as an LDIF change-records
// stream instead of talking to a server (the --ldapmodify-compatible output
// mode, SPEC_FULL.md §6.2).
type LdifPrintHandler struct {
	w io.Writer
}

func NewLdifPrintHandler(w io.Writer) *LdifPrintHandler {
	return &LdifPrintHandler{w: w}
}

func (h *LdifPrintHandler) HandleAdd(n int64, dn string, mods []model.LdapMod) int {
	plain := make([]model.Mod, len(mods))
	for i, m := range mods {
		plain[i] = model.Mod{Attr: m.Attr, Values: m.Values}
	}
	if err := printer.PrintLDIFAdd(h.w, dn, plain); err != nil {
		return -1
	}
	return 0
}

func (h *LdifPrintHandler) HandleDelete(n int64, dn string) int {
	if err := printer.PrintLDIFDelete(h.w, dn); err != nil {
		return -1
	}
	return 0
}

func (h *LdifPrintHandler) HandleChange(n int64, oldDN, newDN string, mods []model.LdapMod) int {
	if err := printer.PrintLDIFModify(h.w, newDN, mods); err != nil {
		return -1
	}
	return 0
}

func (h *LdifPrintHandler) HandleRename(n int64, oldDN string, newEntry *model.Entry) int {
	if err := printer.PrintLDIFRename(h.w, oldDN, newEntry.DN, deleteOldRDN(oldDN, newEntry)); err != nil {
		return -1
	}
	return 0
}

func (h *LdifPrintHandler) HandleRename0(n int64, oldDN, newDN string, deleteOldRDN bool) int {
	if err := printer.PrintLDIFRename(h.w, oldDN, newDN, deleteOldRDN); err != nil {
		return -1
	}
	return 0
}

// VdifPrintHandler is LdifPrintHandler's native-format counterpart.
type VdifPrintHandler struct {
	w    io.Writer
	mode printer.BinaryMode
}

func NewVdifPrintHandler(w io.Writer, mode printer.BinaryMode) *VdifPrintHandler {
	return &VdifPrintHandler{w: w, mode: mode}
}

func (h *VdifPrintHandler) HandleAdd(n int64, dn string, mods []model.LdapMod) int {
	plain := make([]model.Mod, len(mods))
	for i, m := range mods {
		plain[i] = model.Mod{Attr: m.Attr, Values: m.Values}
	}
	if err := printer.PrintAdd(h.w, dn, plain, h.mode); err != nil {
		return -1
	}
	return 0
}

func (h *VdifPrintHandler) HandleDelete(n int64, dn string) int {
	if err := printer.PrintDelete(h.w, dn, h.mode); err != nil {
		return -1
	}
	return 0
}

func (h *VdifPrintHandler) HandleChange(n int64, oldDN, newDN string, mods []model.LdapMod) int {
	if err := printer.PrintModify(h.w, newDN, mods, h.mode); err != nil {
		return -1
	}
	return 0
}

func (h *VdifPrintHandler) HandleRename(n int64, oldDN string, newEntry *model.Entry) int {
	if err := printer.PrintRename(h.w, oldDN, newEntry.DN, deleteOldRDN(oldDN, newEntry), h.mode); err != nil {
		return -1
	}
	return 0
}

func (h *VdifPrintHandler) HandleRename0(n int64, oldDN, newDN string, deleteOldRDN bool) int {
	if err := printer.PrintRename(h.w, oldDN, newDN, deleteOldRDN, h.mode); err != nil {
		return -1
	}
	return 0
}
