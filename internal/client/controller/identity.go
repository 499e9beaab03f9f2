package controller

import "fmt"

// IdentityKind enumerates how the in-memory document relates to the store.
type IdentityKind int

const (
	// IdentityNone means no document is selected at all.
	IdentityNone IdentityKind = iota
	// IdentityNew means the document has never been persisted remotely.
	IdentityNew
	// IdentityExisting means the document exists in the store under ID.
	IdentityExisting
	// IdentityTemplate means the document was seeded from template ID and
	// has not been persisted as its own document yet.
	IdentityTemplate
)

// Identity is the tagged document identity. It replaces the historical
// single string token ("new" / "existing doc N" / "template N") so callers
// never parse prefixes.
type Identity struct {
	Kind IdentityKind
	ID   string
}

func NoneIdentity() Identity              { return Identity{Kind: IdentityNone} }
func NewIdentity() Identity               { return Identity{Kind: IdentityNew} }
func ExistingIdentity(id string) Identity { return Identity{Kind: IdentityExisting, ID: id} }
func TemplateIdentity(id string) Identity { return Identity{Kind: IdentityTemplate, ID: id} }

func (i Identity) String() string {
	switch i.Kind {
	case IdentityNew:
		return "new"
	case IdentityExisting:
		return fmt.Sprintf("existing:%s", i.ID)
	case IdentityTemplate:
		return fmt.Sprintf("template:%s", i.ID)
	default:
		return "none"
	}
}
