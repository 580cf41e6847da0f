// Package testutil holds fixtures shared by package tests: the photo-sharing
// schema and rules, op constructors, and deterministic id generators.
package testutil

import (
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/rules"
	"github.com/roach88/livegraph/internal/schema"
)

// PhotoRegistry is the photo-sharing schema:
//
//	$users    email (unique)
//	$files    path (unique), url
//	profiles  handle (unique), fullName, archetype (optional)
//	posts     content (optional)
//
// profiles.owner -> $users (one, profile cascades with its user),
// profiles.photo -> $files (file cascades with its profile),
// posts.author -> profiles (post cascades with its author),
// posts.photo -> $files (file cascades with its post),
// posts.hearters <-> profiles.heartedPosts (many to many).
func PhotoRegistry() *schema.Registry {
	return schema.New().
		MustDefineEntity("$users", schema.Attr{Name: "email", Type: schema.TypeString, Unique: true}).
		MustDefineEntity("$files",
			schema.Attr{Name: "path", Type: schema.TypeString, Unique: true},
			schema.Attr{Name: "url", Type: schema.TypeString}).
		MustDefineEntity("profiles",
			schema.Attr{Name: "handle", Type: schema.TypeString, Unique: true},
			schema.Attr{Name: "fullName", Type: schema.TypeString},
			schema.Attr{Name: "archetype", Type: schema.TypeString, Optional: true}).
		MustDefineEntity("posts", schema.Attr{Name: "content", Type: schema.TypeString, Optional: true}).
		MustDefineLink("profilesOwner",
			schema.Role{On: "profiles", Has: schema.One, Label: "owner", OnDelete: schema.Cascade},
			schema.Role{On: "$users", Has: schema.One, Label: "profile"}).
		MustDefineLink("profilePhoto",
			schema.Role{On: "profiles", Has: schema.One, Label: "photo"},
			schema.Role{On: "$files", Has: schema.One, Label: "profile", OnDelete: schema.Cascade}).
		MustDefineLink("postAuthor",
			schema.Role{On: "posts", Has: schema.One, Label: "author", OnDelete: schema.Cascade},
			schema.Role{On: "profiles", Has: schema.Many, Label: "authoredPosts"}).
		MustDefineLink("postPhoto",
			schema.Role{On: "posts", Has: schema.One, Label: "photo"},
			schema.Role{On: "$files", Has: schema.One, Label: "post", OnDelete: schema.Cascade}).
		MustDefineLink("postHearters",
			schema.Role{On: "posts", Has: schema.Many, Label: "hearters"},
			schema.Role{On: "profiles", Has: schema.Many, Label: "heartedPosts"})
}

// PhotoRules lets everyone view profiles and posts, users view only
// themselves, and owners write what they own. Profiles are created and
// deleted by the admin only. Files live under "/<user id>/".
func PhotoRules() *rules.RuleSet {
	ownsProfile := rules.LinkTraverse{Path: []string{"owner"}, Attr: "id", Value: rules.AuthID()}
	return rules.NewRuleSet().
		Set("$users", rules.Default, rules.DenyAll).
		Set("$users", rules.View, rules.AttrEq{Attr: "id", Value: rules.AuthID()}).
		Set("profiles", rules.View, rules.AllowAll).
		Set("profiles", rules.Create, rules.DenyAll).
		Set("profiles", rules.Delete, rules.DenyAll).
		Set("profiles", rules.Default, ownsProfile).
		Set("posts", rules.View, rules.AllowAll).
		Set("posts", rules.Default, rules.LinkTraverse{Path: []string{"author", "owner"}, Attr: "id", Value: rules.AuthID()}).
		Set("$files", rules.Default, rules.AttrPrefix{Attr: "path", Parts: []rules.Operand{rules.Str("/"), rules.AuthID(), rules.Str("/")}})
}

// User returns the identity of a signed-in user.
func User(id string) ir.Identity {
	return ir.Identity{ID: id, Email: id + "@example.com"}
}

// Create builds a create op.
func Create(typ, id string, attrs ir.IRObject) ir.Op {
	return ir.Op{Kind: ir.OpCreate, Type: typ, ID: id, Attrs: attrs}
}

// Update builds an update op.
func Update(typ, id string, attrs ir.IRObject) ir.Op {
	return ir.Op{Kind: ir.OpUpdate, Type: typ, ID: id, Attrs: attrs}
}

// Delete builds a delete op.
func Delete(typ, id string) ir.Op {
	return ir.Op{Kind: ir.OpDelete, Type: typ, ID: id}
}

// Link builds a link op from typ[id] through label to peer.
func Link(typ, id, label, peer string) ir.Op {
	return ir.Op{Kind: ir.OpLink, Type: typ, ID: id, Link: label, PeerID: peer}
}

// Unlink builds an unlink op.
func Unlink(typ, id, label, peer string) ir.Op {
	return ir.Op{Kind: ir.OpUnlink, Type: typ, ID: id, Link: label, PeerID: peer}
}

// Tx wraps ops in a transaction.
func Tx(ops ...ir.Op) ir.Transaction {
	return ir.Transaction{Ops: ops}
}

// Handle is the attrs of a profile. The full name is the handle.
func Handle(h string) ir.IRObject {
	return ir.IRObject{"handle": ir.IRString(h), "fullName": ir.IRString(h)}
}

// Email is the attrs of a user.
func Email(e string) ir.IRObject {
	return ir.IRObject{"email": ir.IRString(e)}
}

// Content is the attrs of a post.
func Content(c string) ir.IRObject {
	return ir.IRObject{"content": ir.IRString(c)}
}

// Path is the attrs of a file served from a fixed test host.
func Path(p string) ir.IRObject {
	return ir.IRObject{"path": ir.IRString(p), "url": ir.IRString("https://files.test" + p)}
}
