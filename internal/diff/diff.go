// Package diff implements compare_streams, the streaming three-way diff
// between a "clean" (last-known-good) record stream and a "data" (edited)
// record stream (§4.6 of SPEC_FULL.md) — the core of the action loop's
// commit step.
package diff

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ldapvi/ldapvi/internal/model"
	"github.com/ldapvi/ldapvi/internal/rdn"
	"github.com/ldapvi/ldapvi/internal/record"
)

// Handler receives the dispatched changes. Each method returns 0 to
// continue or -1 to abort the engine (which then returns code -2).
type Handler interface {
	HandleAdd(n int64, dn string, mods []model.LdapMod) int
	HandleDelete(n int64, dn string) int
	HandleChange(n int64, oldDN, newDN string, mods []model.LdapMod) int
	// HandleRename is used when the clean and data DNs for the same numbered
	// record differ; the engine has already validated the rename. The
	// callback must compute deleteoldrdn itself.
	HandleRename(n int64, oldDN string, newEntry *model.Entry) int
	// HandleRename0 is used for immediate (non-numbered) rename records
	// where deleteOldRDN is explicit in the record.
	HandleRename0(n int64, oldDN, newDN string, deleteOldRDN bool) int
}

// Return codes from CompareStreams.
const (
	OK          = 0
	ParseError  = -1
	HandlerFail = -2
)

// invert applies the offsets "seen" involution x -> -2-x. Self-inverse: a
// second application restores the original value. The sentinel -1 is a fixed
// point (-2-(-1) = -1) and is never produced by inverting a real (>=0)
// offset, so it safely marks "no clean record at this key" throughout.
func invert(x int64) int64 {
	return -2 - x
}

// CompareStreams runs the streaming diff described by SPEC_FULL.md §4.6.
//
// offsets[n] must hold the byte offset of clean record n, or -1 if no clean
// record with that key exists. On return with code OK or ParseError, every
// offsets entry has been restored to its original (non-seen) value. On
// HandlerFail, offsets is left in its mid-inversion state — entries already
// dispatched are negative — so a caller can resume without re-committing
// them.
func CompareStreams(clean, data record.Parser, offsets []int64, handler Handler) (code int, err error) {
	for {
		key, pos, err := data.PeekEntry(nil)
		if err == record.ErrEnd {
			break
		}
		if err != nil {
			restore(offsets)
			return ParseError, err
		}

		if key.Kind == record.KindNumbered {
			n, perr := strconv.ParseInt(key.Label, 10, 64)
			if perr != nil {
				restore(offsets)
				return ParseError, errors.Errorf("diff: invalid numeric key %q", key.Label)
			}
			code, err := dispatchNumbered(clean, data, offsets, handler, n, pos)
			if code != OK {
				if code == ParseError {
					restore(offsets)
				}
				return code, err
			}
			continue
		}

		code, err := dispatchImmediate(data, handler, key)
		if code != OK {
			if code == ParseError {
				restore(offsets)
			}
			return code, err
		}
	}

	for n := range offsets {
		if offsets[n] < 0 {
			continue
		}
		if err := clean.Seek(offsets[n]); err != nil {
			restore(offsets)
			return ParseError, errors.Wrap(err, "diff: seeking clean stream for delete pass")
		}
		_, entry, _, err := clean.ReadEntry(nil)
		if err != nil {
			restore(offsets)
			return ParseError, errors.Wrap(err, "diff: reading clean entry for delete pass")
		}
		if rc := handler.HandleDelete(int64(n), entry.DN); rc != 0 {
			return HandlerFail, errors.Errorf("diff: handler rejected delete of entry %d", n)
		}
		offsets[n] = invert(offsets[n])
	}

	restore(offsets)
	return OK, nil
}

func restore(offsets []int64) {
	for i, v := range offsets {
		if v < -1 {
			offsets[i] = invert(v)
		}
	}
}

func dispatchImmediate(data record.Parser, handler Handler, key record.Key) (int, error) {
	switch key.Kind {
	case record.KindAdd:
		_, entry, _, err := data.ReadEntry(nil)
		if err != nil {
			return ParseError, err
		}
		mods := make([]model.LdapMod, 0, len(entry.Attributes))
		for _, m := range entry.ToMods() {
			mods = append(mods, model.LdapMod{Op: model.ModAdd, Attr: m.Attr, Values: m.Values})
		}
		if rc := handler.HandleAdd(-1, entry.DN, mods); rc != 0 {
			return HandlerFail, errors.Errorf("diff: handler rejected add of %s", entry.DN)
		}
		return OK, nil

	case record.KindReplace:
		_, entry, _, err := data.ReadEntry(nil)
		if err != nil {
			return ParseError, err
		}
		mods := make([]model.LdapMod, 0, len(entry.Attributes))
		for _, m := range entry.ToMods() {
			mods = append(mods, model.LdapMod{Op: model.ModReplace, Attr: m.Attr, Values: m.Values})
		}
		if rc := handler.HandleChange(-1, entry.DN, entry.DN, mods); rc != 0 {
			return HandlerFail, errors.Errorf("diff: handler rejected replace of %s", entry.DN)
		}
		return OK, nil

	case record.KindDelete:
		dn, err := data.ReadDelete(nil)
		if err != nil {
			return ParseError, err
		}
		if rc := handler.HandleDelete(-1, dn); rc != 0 {
			return HandlerFail, errors.Errorf("diff: handler rejected delete of %s", dn)
		}
		return OK, nil

	case record.KindModify:
		mr, err := data.ReadModify(nil)
		if err != nil {
			return ParseError, err
		}
		if rc := handler.HandleChange(-1, mr.DN, mr.DN, mr.Mods); rc != 0 {
			return HandlerFail, errors.Errorf("diff: handler rejected modify of %s", mr.DN)
		}
		return OK, nil

	case record.KindRename:
		rr, err := data.ReadRename(nil)
		if err != nil {
			return ParseError, err
		}
		if rc := handler.HandleRename0(-1, rr.OldDN, rr.NewDN, rr.DeleteOldRDN); rc != 0 {
			return HandlerFail, errors.Errorf("diff: handler rejected rename of %s", rr.OldDN)
		}
		return OK, nil

	default:
		return ParseError, errors.Errorf("diff: unexpected record kind %v", key.Kind)
	}
}

// dispatchNumbered handles one numbered data record, including the fast-skip
// optimisation and the full rename/attribute-delta path.
func dispatchNumbered(clean, data record.Parser, offsets []int64, handler Handler, n, pos int64) (int, error) {
	if n < 0 || int(n) >= len(offsets) {
		return ParseError, errors.Errorf("diff: numeric key %d out of range", n)
	}
	if offsets[n] < 0 {
		return ParseError, errors.Errorf("diff: duplicate entry %d", n)
	}

	if int(n)+1 < len(offsets) && offsets[n+1] >= 0 {
		cleanLen := offsets[n+1] - offsets[n]
		if cleanLen > 0 {
			if ok, err := fastSkip(clean, data, offsets[n], pos, cleanLen); err != nil {
				return ParseError, err
			} else if ok {
				offsets[n] = invert(offsets[n])
				return OK, nil
			}
			// fastcmp found a difference; data's cursor consumed cleanLen
			// bytes during the comparison and must be rewound before the
			// full parse below.
			if err := data.Seek(pos); err != nil {
				return ParseError, err
			}
		}
	}

	if err := clean.Seek(offsets[n]); err != nil {
		return ParseError, err
	}
	_, cleanEntry, _, err := clean.ReadEntry(nil)
	if err != nil {
		return ParseError, err
	}
	_, dataEntry, _, err := data.ReadEntry(nil)
	if err != nil {
		return ParseError, err
	}

	oldDN := cleanEntry.DN
	if cleanEntry.DN != dataEntry.DN {
		deleteOldRDN, ok := rdn.ValidateRename(cleanEntry, dataEntry)
		if !ok {
			return ParseError, errors.Errorf("diff: invalid rename of entry %d (%s -> %s)", n, oldDN, dataEntry.DN)
		}
		if rc := handler.HandleRename(n, oldDN, dataEntry); rc != 0 {
			return HandlerFail, errors.Errorf("diff: handler rejected rename of entry %d", n)
		}
		rdn.ApplyRename(cleanEntry, dataEntry.DN, deleteOldRDN)
	}

	mods := attributeDelta(cleanEntry, dataEntry)
	if len(mods) > 0 {
		if rc := handler.HandleChange(n, oldDN, dataEntry.DN, mods); rc != 0 {
			return HandlerFail, errors.Errorf("diff: handler rejected change of entry %d", n)
		}
	}

	offsets[n] = invert(offsets[n])
	return OK, nil
}

// fastSkip compares cleanLen raw bytes starting at cleanPos in clean against
// cleanLen raw bytes starting at dataPos in data. Reports whether they're
// identical (meaning the record is unchanged and needs no parsing).
func fastSkip(clean, data record.Parser, cleanPos, dataPos, length int64) (bool, error) {
	if err := clean.Seek(cleanPos); err != nil {
		return false, err
	}
	cleanBuf := make([]byte, length)
	if _, err := clean.ReadRaw(cleanBuf); err != nil {
		return false, err
	}

	if err := data.Seek(dataPos); err != nil {
		return false, err
	}
	dataBuf := make([]byte, length)
	if _, err := data.ReadRaw(dataBuf); err != nil {
		return false, err
	}

	return bytes.Equal(cleanBuf, dataBuf), nil
}

// attributeDelta sorts both entries' attributes by descriptor and performs a
// three-way merge: attr only in clean -> Delete, attr only in data -> Add,
// attr in both with a different ordered value list -> Replace (§4.6 step 4;
// the ordered-list-vs-multiset choice is the Open Question resolved in
// SPEC_FULL.md §9).
func attributeDelta(clean, data *model.Entry) []model.LdapMod {
	clean.SortAttributes()
	data.SortAttributes()

	var mods []model.LdapMod
	i, j := 0, 0
	for i < len(clean.Attributes) && j < len(data.Attributes) {
		c, d := clean.Attributes[i], data.Attributes[j]
		switch {
		case c.AD < d.AD:
			mods = append(mods, model.LdapMod{Op: model.ModDelete, Attr: c.AD, Values: c.Values})
			i++
		case c.AD > d.AD:
			mods = append(mods, model.LdapMod{Op: model.ModAdd, Attr: d.AD, Values: d.Values})
			j++
		default:
			if !sameValueList(c.Values, d.Values) {
				mods = append(mods, model.LdapMod{Op: model.ModReplace, Attr: d.AD, Values: d.Values})
			}
			i++
			j++
		}
	}
	for ; i < len(clean.Attributes); i++ {
		c := clean.Attributes[i]
		mods = append(mods, model.LdapMod{Op: model.ModDelete, Attr: c.AD, Values: c.Values})
	}
	for ; j < len(data.Attributes); j++ {
		d := data.Attributes[j]
		mods = append(mods, model.LdapMod{Op: model.ModAdd, Attr: d.AD, Values: d.Values})
	}
	return mods
}

func sameValueList(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
