// Package acl is the access-control collaborator consulted before any
// read or mutating side effect runs.
package acl

import "github.com/filevault/filevault/internal/config"

// Action is the kind of access being requested on an account.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionOwner Action = "owner"
)

// Checker decides whether an actor may perform an action on an
// account's subtree. A false return maps to a permission error before
// any side effect runs.
type Checker interface {
	Allow(actor, account string, action Action) bool
}

// allowAll permits everything. Used when access control is disabled,
// typically behind an authenticating proxy that scopes requests
// upstream.
type allowAll struct{}

func (allowAll) Allow(actor, account string, action Action) bool {
	return true
}

// accountOwner grants the account itself full control and everyone
// else read-only access.
type accountOwner struct{}

func (accountOwner) Allow(actor, account string, action Action) bool {
	if action == ActionRead {
		return true
	}
	return actor == account
}

// NewChecker builds the checker selected by configuration.
func NewChecker(cfg config.ACLConfig) Checker {
	if cfg.Enable {
		return accountOwner{}
	}
	return allowAll{}
}
