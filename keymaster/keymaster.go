// Package keymaster resolves keymaster references to shared folder names and
// artifact filenames. Every function is pure.
package keymaster

import (
	"fmt"
	"strings"

	"github.com/ruteri/sealed-keymaster/interfaces"
)

const (
	// DiscriminatorSeparator splits a party id from its shard discriminator.
	DiscriminatorSeparator = "#"

	// FolderJoiner joins the two party ids of a shared folder.
	FolderJoiner = ","
)

// Ref names one keymaster slot: a party and an optional discriminator that
// tells apart several shards held by the same party.
type Ref struct {
	Party         string
	Discriminator string
}

// ParseRef parses "party" or "party#discriminator".
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	party, disc, _ := strings.Cut(s, DiscriminatorSeparator)
	if party == "" {
		return Ref{}, fmt.Errorf("%w: empty keymaster in %q", interfaces.ErrInvalidArgument, s)
	}
	if strings.ContainsAny(party, "/\\"+FolderJoiner) || strings.ContainsAny(disc, "/\\#"+FolderJoiner) {
		return Ref{}, fmt.Errorf("%w: invalid keymaster %q", interfaces.ErrInvalidArgument, s)
	}
	return Ref{Party: party, Discriminator: disc}, nil
}

// ParseList parses a comma separated keymaster list such as "alice,bob#2,carol".
func ParseList(s string) ([]Ref, error) {
	parts := strings.Split(s, FolderJoiner)
	refs := make([]Ref, 0, len(parts))
	for _, part := range parts {
		ref, err := ParseRef(part)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// String renders the ref in its parseable form.
func (r Ref) String() string {
	if r.Discriminator == "" {
		return r.Party
	}
	return r.Party + DiscriminatorSeparator + r.Discriminator
}

// IsSelf reports whether the ref names the acting party.
func (r Ref) IsSelf(me string) bool {
	return r.Party == me
}

// Folder returns the shared folder between me and the ref's party: me alone
// when the ref is self, otherwise both ids in ascending order. Both sides of
// a pair compute the same name.
func (r Ref) Folder(me string) string {
	return Folder(me, r.Party)
}

// Suffix returns the filename suffix for the discriminator, or "" when none.
func (r Ref) Suffix() string {
	return Suffix(r.Discriminator)
}

// Folder returns the canonical folder name shared by me and other.
func Folder(me, other string) string {
	if me == other {
		return me
	}
	if other < me {
		me, other = other, me
	}
	return me + FolderJoiner + other
}

// Suffix returns "." + discriminator, or "" for an empty discriminator.
func Suffix(discriminator string) string {
	if discriminator == "" {
		return ""
	}
	return "." + discriminator
}

// FileName returns {keyname}{suffix}.{extension}.
func FileName(keyname, suffix string, kind interfaces.ArtifactKind) string {
	return keyname + suffix + "." + kind.Extension()
}

// Unique reports the first ref that appears twice, if any.
func Unique(refs []Ref) error {
	seen := make(map[Ref]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			return fmt.Errorf("%w: keymaster %s listed twice", interfaces.ErrInvalidArgument, ref)
		}
		seen[ref] = struct{}{}
	}
	return nil
}

// Folders returns the distinct folders the refs resolve to, in first-seen order.
func Folders(me string, refs []Ref) []string {
	seen := make(map[string]struct{}, len(refs))
	folders := make([]string, 0, len(refs))
	for _, ref := range refs {
		folder := ref.Folder(me)
		if _, ok := seen[folder]; ok {
			continue
		}
		seen[folder] = struct{}{}
		folders = append(folders, folder)
	}
	return folders
}
