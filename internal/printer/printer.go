// Package printer renders entries and change records in both native ldapvi
// and LDIF format (§4.3 of SPEC_FULL.md), and annotates native-format output
// with schema MUST/MAY commentary when a schema.Entroid is supplied.
package printer

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/h2non/filetype"

	"github.com/ldapvi/ldapvi/internal/codec"
	"github.com/ldapvi/ldapvi/internal/model"
	"github.com/ldapvi/ldapvi/internal/schema"
)

// BinaryMode controls how a value is classified as "readable" text versus
// something that must be base64-encoded.
type BinaryMode int

const (
	// ModeUTF8 treats any valid UTF-8 with no NUL byte as readable (default).
	ModeUTF8 BinaryMode = iota
	// ModeASCII only accepts bytes 32..=126 plus \n and \t.
	ModeASCII
	// ModeJunk treats everything as readable, never base64-encoding.
	ModeJunk
)

// utf8StringP reports whether data is valid UTF-8 containing no NUL byte.
func utf8StringP(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(data)
}

// readableStringP reports whether every byte is printable ASCII, \n, or \t.
// Mirrors the C original's signed-char comparison: bytes >= 128 never pass.
func readableStringP(data []byte) bool {
	for _, c := range data {
		if c >= 127 || (c < 32 && c != '\n' && c != '\t') {
			return false
		}
	}
	return true
}

// safeStringP reports whether data can be printed as an LDIF SAFE-STRING: no
// leading space/colon/less-than, and no NUL/CR/LF/non-ASCII byte anywhere.
func safeStringP(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	switch data[0] {
	case ' ', ':', '<':
		return false
	}
	for _, c := range data {
		if c == 0 || c == '\r' || c == '\n' || c >= 0x80 {
			return false
		}
	}
	return true
}

// IsReadable reports whether data is "readable" under mode.
func IsReadable(data []byte, mode BinaryMode) bool {
	switch mode {
	case ModeASCII:
		return readableStringP(data)
	case ModeJunk:
		return true
	default:
		return utf8StringP(data)
	}
}

// ---------------------------------------------------------------------------
// Low-level value encoders
// ---------------------------------------------------------------------------

func writeBackslashed(w io.Writer, data []byte) error {
	buf := make([]byte, 0, len(data)+8)
	for _, c := range data {
		if c == '\n' || c == '\\' {
			buf = append(buf, '\\')
		}
		buf = append(buf, c)
	}
	_, err := w.Write(buf)
	return err
}

// printAttrVal writes an attribute value in native-format encoding.
// preferNoColon is set for DN values that follow a keyword ("add cn=x,..."),
// which use a bare space prefix instead of a colon.
func printAttrVal(w io.Writer, data []byte, preferNoColon bool, mode BinaryMode) error {
	switch {
	case !IsReadable(data, mode):
		if _, err := io.WriteString(w, ":: "); err != nil {
			return err
		}
		_, err := io.WriteString(w, codec.EncodeBase64(data))
		return err
	case preferNoColon:
		if _, err := io.WriteString(w, " "); err != nil {
			return err
		}
		return writeBackslashed(w, data)
	case !safeStringP(data):
		if _, err := io.WriteString(w, ":; "); err != nil {
			return err
		}
		return writeBackslashed(w, data)
	default:
		if _, err := io.WriteString(w, ": "); err != nil {
			return err
		}
		_, err := w.Write(data)
		return err
	}
}

// printLDIFLine writes one RFC2849 attribute line: "ad: value\n" or
// "ad:: base64\n". LDIF has no backslash-escaped form.
func printLDIFLine(w io.Writer, ad string, data []byte) error {
	if _, err := io.WriteString(w, ad); err != nil {
		return err
	}
	if safeStringP(data) {
		if _, err := io.WriteString(w, ": "); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	} else {
		if _, err := io.WriteString(w, ":: "); err != nil {
			return err
		}
		if _, err := io.WriteString(w, codec.EncodeBase64(data)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// ---------------------------------------------------------------------------
// DN splitting, for modrdn's newsuperior reconstruction
// ---------------------------------------------------------------------------

// explodeDN splits dn into RDN components, honoring backslash-escaped commas.
func explodeDN(dn string) []string {
	if dn == "" {
		return nil
	}
	var parts []string
	start := 0
	i := 0
	for i < len(dn) {
		if dn[i] == '\\' && i+1 < len(dn) {
			i += 2
			continue
		}
		if dn[i] == ',' {
			parts = append(parts, dn[start:i])
			start = i + 1
			i++
			continue
		}
		i++
	}
	parts = append(parts, dn[start:])
	return parts
}

func rdnsToDN(rdns []string) string {
	out := ""
	for i, r := range rdns {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out
}

// ---------------------------------------------------------------------------
// Content sniffing
// ---------------------------------------------------------------------------

// SniffContentType guesses the MIME type of a binary attribute value for the
// schema-annotated comment; returns "" when filetype can't classify it. Used
// instead of a bare "binary data" placeholder so a jpegPhoto or certificate
// value gets a recognisable label in annotated output.
func SniffContentType(value []byte) string {
	kind, err := filetype.Match(value)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}

// ---------------------------------------------------------------------------
// ldapvi (native) format printers
// ---------------------------------------------------------------------------

// PrintEntry writes entry in native format: "\n<key or \"entry\"> <dn>\n"
// followed by one "<ad><enc> <value>\n" line per value.
func PrintEntry(w io.Writer, entry *model.Entry, key string, mode BinaryMode) error {
	if key == "" {
		key = "entry"
	}
	if _, err := io.WriteString(w, "\n"+key); err != nil {
		return err
	}
	if err := printAttrVal(w, []byte(entry.DN), true, mode); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	for _, attr := range entry.Attributes {
		for _, value := range attr.Values {
			if _, err := io.WriteString(w, attr.AD); err != nil {
				return err
			}
			if err := printAttrVal(w, value, false, mode); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

// PrintEntryAnnotated writes entry in native format the way PrintEntry does,
// but also emits entroid.Comment/Error after the DN line, a "# WARNING: ..."
// line for every attribute the schema disallows (entroid.RemoveAD), and
// trailing placeholder lines for MUST attributes the entry is missing and MAY
// attributes it could carry. Binary MAY/MUST values that can't be classified
// from the schema alone get a best-effort MIME comment instead of a bare
// base64 blob when mode would otherwise force base64 encoding.
func PrintEntryAnnotated(w io.Writer, entry *model.Entry, key string, mode BinaryMode, entroid *schema.Entroid) error {
	if key == "" {
		key = "entry"
	}
	if _, err := io.WriteString(w, "\n"+key); err != nil {
		return err
	}
	if err := printAttrVal(w, []byte(entry.DN), true, mode); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}

	if entroid.Comment != "" {
		if _, err := io.WriteString(w, entroid.Comment); err != nil {
			return err
		}
	}
	if entroid.Error != "" {
		if _, err := io.WriteString(w, entroid.Error); err != nil {
			return err
		}
	}

	for _, attr := range entry.Attributes {
		if !entroid.RemoveAD(attr.AD) {
			if _, err := fmt.Fprintf(w, "# WARNING: %s not allowed by schema\n", attr.AD); err != nil {
				return err
			}
		}
		for _, value := range attr.Values {
			if !IsReadable(value, mode) {
				if mime := SniffContentType(value); mime != "" {
					if _, err := fmt.Fprintf(w, "# %s: %s, %d bytes\n", attr.AD, mime, len(value)); err != nil {
						return err
					}
				}
			}
			if _, err := io.WriteString(w, attr.AD); err != nil {
				return err
			}
			if err := printAttrVal(w, value, false, mode); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
	}

	for _, at := range entroid.Must {
		if _, err := fmt.Fprintf(w, "# required attribute not shown: %s\n", at.Name()); err != nil {
			return err
		}
	}
	for _, at := range entroid.May {
		if _, err := fmt.Fprintf(w, "#%s: \n", at.Name()); err != nil {
			return err
		}
	}

	return nil
}

func printLdapviLdapMod(w io.Writer, m model.LdapMod, mode BinaryMode) error {
	if _, err := io.WriteString(w, m.Op.String()); err != nil {
		return err
	}
	if err := printAttrVal(w, []byte(m.Attr), false, mode); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	for _, value := range m.Values {
		if err := printAttrVal(w, value, false, mode); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// PrintModify writes a modify record in native format.
func PrintModify(w io.Writer, dn string, mods []model.LdapMod, mode BinaryMode) error {
	if _, err := io.WriteString(w, "\nmodify"); err != nil {
		return err
	}
	if err := printAttrVal(w, []byte(dn), true, mode); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	for _, m := range mods {
		if err := printLdapviLdapMod(w, m, mode); err != nil {
			return err
		}
	}
	return nil
}

// PrintRename writes a rename record in native format: "rename" + old DN,
// then "add"/"replace" (per deleteOldRDN) + new DN.
func PrintRename(w io.Writer, oldDN, newDN string, deleteOldRDN bool, mode BinaryMode) error {
	if _, err := io.WriteString(w, "\nrename"); err != nil {
		return err
	}
	if err := printAttrVal(w, []byte(oldDN), true, mode); err != nil {
		return err
	}
	verb := "\nadd"
	if deleteOldRDN {
		verb = "\nreplace"
	}
	if _, err := io.WriteString(w, verb); err != nil {
		return err
	}
	if err := printAttrVal(w, []byte(newDN), true, mode); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// PrintModRDN is PrintRename for a bare RDN change: it reconstructs the full
// new DN from oldDN's superior components and newRDN.
func PrintModRDN(w io.Writer, oldDN, newRDN string, deleteOldRDN bool, mode BinaryMode) error {
	rdns := explodeDN(oldDN)
	newDN := newRDN
	if len(rdns) > 1 {
		parts := append([]string{newRDN}, rdns[1:]...)
		newDN = rdnsToDN(parts)
	}
	return PrintRename(w, oldDN, newDN, deleteOldRDN, mode)
}

// PrintAdd writes an add record in native format.
func PrintAdd(w io.Writer, dn string, mods []model.Mod, mode BinaryMode) error {
	if _, err := io.WriteString(w, "\nadd"); err != nil {
		return err
	}
	if err := printAttrVal(w, []byte(dn), true, mode); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	for _, m := range mods {
		for _, value := range m.Values {
			if _, err := io.WriteString(w, m.Attr); err != nil {
				return err
			}
			if err := printAttrVal(w, value, false, mode); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

// PrintDelete writes a delete record in native format.
func PrintDelete(w io.Writer, dn string, mode BinaryMode) error {
	if _, err := io.WriteString(w, "\ndelete"); err != nil {
		return err
	}
	if err := printAttrVal(w, []byte(dn), true, mode); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// ---------------------------------------------------------------------------
// LDIF format printers
// ---------------------------------------------------------------------------

// PrintLDIFEntry writes entry in LDIF format, with an optional ldapvi-key
// pseudo-attribute line.
func PrintLDIFEntry(w io.Writer, entry *model.Entry, key string) error {
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if err := printLDIFLine(w, "dn", []byte(entry.DN)); err != nil {
		return err
	}
	if key != "" {
		if _, err := fmt.Fprintf(w, "ldapvi-key: %s\n", key); err != nil {
			return err
		}
	}
	for _, attr := range entry.Attributes {
		for _, value := range attr.Values {
			if err := printLDIFLine(w, attr.AD, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// PrintLDIFModify writes a modify record in LDIF format.
func PrintLDIFModify(w io.Writer, dn string, mods []model.LdapMod) error {
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if err := printLDIFLine(w, "dn", []byte(dn)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "changetype: modify\n"); err != nil {
		return err
	}
	for _, m := range mods {
		if _, err := fmt.Fprintf(w, "%s: %s\n", m.Op.String(), m.Attr); err != nil {
			return err
		}
		for _, value := range m.Values {
			if err := printLDIFLine(w, m.Attr, value); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "-\n"); err != nil {
			return err
		}
	}
	return nil
}

// PrintLDIFRename writes a rename record in LDIF format, including
// newsuperior (possibly empty, meaning the root).
func PrintLDIFRename(w io.Writer, oldDN, newDN string, deleteOldRDN bool) error {
	rdns := explodeDN(newDN)

	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if err := printLDIFLine(w, "dn", []byte(oldDN)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "changetype: modrdn\n"); err != nil {
		return err
	}

	if len(rdns) == 0 {
		if err := printLDIFLine(w, "newrdn", nil); err != nil {
			return err
		}
	} else {
		if err := printLDIFLine(w, "newrdn", []byte(rdns[0])); err != nil {
			return err
		}
	}

	deleteOldRDNInt := 0
	if deleteOldRDN {
		deleteOldRDNInt = 1
	}
	if _, err := fmt.Fprintf(w, "deleteoldrdn: %d\n", deleteOldRDNInt); err != nil {
		return err
	}

	if len(rdns) <= 1 {
		_, err := io.WriteString(w, "newsuperior:\n")
		return err
	}
	sup := rdnsToDN(rdns[1:])
	return printLDIFLine(w, "newsuperior", []byte(sup))
}

// PrintLDIFModRDN writes a bare modrdn record in LDIF format (no
// newsuperior).
func PrintLDIFModRDN(w io.Writer, oldDN, newRDN string, deleteOldRDN bool) error {
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if err := printLDIFLine(w, "dn", []byte(oldDN)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "changetype: modrdn\n"); err != nil {
		return err
	}
	if err := printLDIFLine(w, "newrdn", []byte(newRDN)); err != nil {
		return err
	}
	deleteOldRDNInt := 0
	if deleteOldRDN {
		deleteOldRDNInt = 1
	}
	_, err := fmt.Fprintf(w, "deleteoldrdn: %d\n", deleteOldRDNInt)
	return err
}

// PrintLDIFAdd writes an add record in LDIF format.
func PrintLDIFAdd(w io.Writer, dn string, mods []model.Mod) error {
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if err := printLDIFLine(w, "dn", []byte(dn)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "changetype: add\n"); err != nil {
		return err
	}
	for _, m := range mods {
		for _, value := range m.Values {
			if err := printLDIFLine(w, m.Attr, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// PrintLDIFDelete writes a delete record in LDIF format.
func PrintLDIFDelete(w io.Writer, dn string) error {
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if err := printLDIFLine(w, "dn", []byte(dn)); err != nil {
		return err
	}
	_, err := io.WriteString(w, "changetype: delete\n")
	return err
}
