// Package wire is the directory transport: a thin adapter from the core's
// abstract bind/search/add/modify/delete/modifydn/read-schema surface
// (§6.1 of SPEC_FULL.md) onto github.com/go-ldap/ldap/v3.
package wire

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"

	"github.com/ldapvi/ldapvi/internal/model"
	"github.com/ldapvi/ldapvi/internal/rdn"
	"github.com/ldapvi/ldapvi/internal/schema"
)

// Scope mirrors the three search scopes the core cares about.
type Scope int

const (
	ScopeBase Scope = iota
	ScopeOne
	ScopeSub
)

func (s Scope) ldapScope() int {
	switch s {
	case ScopeOne:
		return ldap.ScopeSingleLevel
	case ScopeSub:
		return ldap.ScopeWholeSubtree
	default:
		return ldap.ScopeBaseObject
	}
}

// Conn is a live connection to a directory server. It satisfies both
// diff.Directory and action.Transport.
type Conn struct {
	uri  string
	conn *ldap.Conn
}

// Dial opens a connection to uri (ldap:// or ldaps://) without binding.
func Dial(uri string) (*Conn, error) {
	c, err := ldap.DialURL(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "wire: dialing %s", uri)
	}
	return &Conn{uri: uri, conn: c}, nil
}

// Close releases the underlying connection.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Bind authenticates as dn with password. An empty dn performs an anonymous
// bind.
func (c *Conn) Bind(dn, password string) error {
	if err := c.conn.Bind(dn, password); err != nil {
		return errors.Wrapf(err, "wire: bind as %q", dn)
	}
	return nil
}

// Reconnect drops the current connection (if any) and dials a fresh one to
// the same URI, used by the action loop's 'r' key.
func (c *Conn) Reconnect() error {
	if c.conn != nil {
		c.conn.Close()
	}
	conn, err := ldap.DialURL(c.uri)
	if err != nil {
		return errors.Wrapf(err, "wire: reconnecting to %s", c.uri)
	}
	c.conn = conn
	return nil
}

// Search runs a search and returns plain SearchEntry values, decoupled from
// the go-ldap result type.
func (c *Conn) Search(base string, scope Scope, filter string, attrs []string) ([]*model.SearchEntry, error) {
	req := ldap.NewSearchRequest(
		base,
		scope.ldapScope(),
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		attrs,
		nil,
	)
	res, err := c.conn.Search(req)
	if err != nil {
		return nil, errors.Wrapf(err, "wire: searching %s", base)
	}
	out := make([]*model.SearchEntry, len(res.Entries))
	for i, e := range res.Entries {
		se := &model.SearchEntry{DN: e.DN}
		for _, a := range e.Attributes {
			se.Attributes = append(se.Attributes, model.SearchAttribute{
				Name:   a.Name,
				Values: a.ByteValues,
			})
		}
		out[i] = se
	}
	return out, nil
}

func toStringValues(values [][]byte) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// Add implements diff.Directory.
func (c *Conn) Add(dn string, mods []model.LdapMod) error {
	req := ldap.NewAddRequest(dn, nil)
	for _, m := range mods {
		req.Attribute(m.Attr, toStringValues(m.Values))
	}
	if err := c.conn.Add(req); err != nil {
		return errors.Wrapf(err, "wire: adding %q", dn)
	}
	return nil
}

// Delete implements diff.Directory.
func (c *Conn) Delete(dn string) error {
	req := ldap.NewDelRequest(dn, nil)
	if err := c.conn.Del(req); err != nil {
		return errors.Wrapf(err, "wire: deleting %q", dn)
	}
	return nil
}

// Modify implements diff.Directory.
func (c *Conn) Modify(dn string, mods []model.LdapMod) error {
	req := ldap.NewModifyRequest(dn, nil)
	for _, m := range mods {
		vals := toStringValues(m.Values)
		switch m.Op {
		case model.ModAdd:
			req.Add(m.Attr, vals)
		case model.ModDelete:
			req.Delete(m.Attr, vals)
		case model.ModReplace:
			req.Replace(m.Attr, vals)
		}
	}
	if err := c.conn.Modify(req); err != nil {
		return errors.Wrapf(err, "wire: modifying %q", dn)
	}
	return nil
}

// ModifyDN implements diff.Directory. newDN carries the full target DN; it
// is split into the newrdn/newsuperior pair ldap.NewModifyDNRequest expects.
// An explicit newSuperior overrides the one derived from newDN (used when a
// caller already knows it, e.g. a modrdn-only CLI invocation).
func (c *Conn) ModifyDN(oldDN, newDN string, deleteOldRDN bool, newSuperior string) error {
	newRDN, derivedSuperior := rdn.SplitDN(newDN)
	if newSuperior == "" {
		newSuperior = derivedSuperior
	}
	req := ldap.NewModifyDNRequest(oldDN, newRDN, deleteOldRDN, newSuperior)
	if err := c.conn.ModifyDN(req); err != nil {
		return errors.Wrapf(err, "wire: renaming %q to %q", oldDN, newDN)
	}
	return nil
}

// ReadSchema fetches the server's subschema subentry (via the root DSE's
// subschemaSubentry attribute) and parses its objectClasses/attributeTypes
// into a schema.Schema (§6.1).
func (c *Conn) ReadSchema() (*schema.Schema, error) {
	rootDSE, err := c.conn.Search(ldap.NewSearchRequest(
		"", ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", []string{"subschemaSubentry"}, nil,
	))
	if err != nil {
		return nil, errors.Wrap(err, "wire: reading root DSE")
	}
	if len(rootDSE.Entries) == 0 {
		return nil, fmt.Errorf("wire: root DSE returned no entries")
	}
	subschemaDN := rootDSE.Entries[0].GetAttributeValue("subschemaSubentry")
	if subschemaDN == "" {
		return nil, fmt.Errorf("wire: root DSE has no subschemaSubentry")
	}

	res, err := c.conn.Search(ldap.NewSearchRequest(
		subschemaDN, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=subschema)", []string{"objectClasses", "attributeTypes"}, nil,
	))
	if err != nil {
		return nil, errors.Wrap(err, "wire: reading subschema subentry")
	}
	if len(res.Entries) == 0 {
		return nil, fmt.Errorf("wire: subschema subentry returned no entries")
	}

	sch := schema.New()
	entry := res.Entries[0]
	for _, def := range entry.GetAttributeValues("objectClasses") {
		cls, err := schema.ParseObjectClass(def)
		if err != nil {
			return nil, errors.Wrapf(err, "wire: parsing objectClasses value %q", def)
		}
		sch.AddObjectClass(cls)
	}
	for _, def := range entry.GetAttributeValues("attributeTypes") {
		at, err := schema.ParseAttributeType(def)
		if err != nil {
			return nil, errors.Wrapf(err, "wire: parsing attributeTypes value %q", def)
		}
		sch.AddAttributeType(at)
	}
	return sch, nil
}
