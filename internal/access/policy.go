// Package access decides whether a session may perform an operation on a
// table, and on whose rows.
package access

import (
	"errors"

	"client-portal/internal/auth"
)

type Action string

const (
	ActionList   Action = "list"
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) Mutates() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Grant is the outcome of a successful authorization: the owner whose rows
// the operation is confined to.
type Grant struct {
	Owner string
}

type Policy interface {
	Authorize(sess auth.Session, action Action, table string) (Grant, error)
}

// RoleViewer marks read-only sessions.
const RoleViewer = "viewer"

// OwnerPolicy confines every operation to the session subject's own rows and
// denies mutations to viewer sessions.
type OwnerPolicy struct{}

func (OwnerPolicy) Authorize(sess auth.Session, action Action, table string) (Grant, error) {
	if sess.Subject == "" {
		return Grant{}, ErrUnauthenticated
	}
	if action.Mutates() && sess.Claim("role") == RoleViewer {
		return Grant{}, ErrForbidden
	}
	return Grant{Owner: sess.Subject}, nil
}
