package auth

import (
	"fmt"

	"skillswap/internal/domain"
)

// Role is the part an actor plays in one swap.
type Role string

const (
	RoleNone      Role = ""
	RoleRequester Role = "requester"
	RoleResponder Role = "responder"
)

// Operation names a permission-checked action on a swap. The four lifecycle
// actions plus deletion.
type Operation string

const (
	OpAccept             = Operation(domain.ActionAccept)
	OpReject             = Operation(domain.ActionReject)
	OpCancel             = Operation(domain.ActionCancel)
	OpComplete           = Operation(domain.ActionComplete)
	OpDelete   Operation = "delete"
)

// ForbiddenError indicates the actor's role may not perform the operation.
type ForbiddenError struct {
	Role      Role
	Operation Operation
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s may not %s this swap", e.Role, e.Operation)
}

var permissions = map[Operation][]Role{
	OpAccept:   {RoleResponder},
	OpReject:   {RoleResponder},
	OpCancel:   {RoleRequester, RoleResponder},
	OpComplete: {RoleRequester, RoleResponder},
	OpDelete:   {RoleRequester},
}

// RoleOf resolves the actor's role in s. RoleNone means not a party.
func RoleOf(s domain.Swap, actorID string) Role {
	switch {
	case actorID == "":
		return RoleNone
	case actorID == s.RequesterID:
		return RoleRequester
	case actorID == s.ResponderID:
		return RoleResponder
	}
	return RoleNone
}

func Allowed(role Role, op Operation) bool {
	for _, r := range permissions[op] {
		if r == role {
			return true
		}
	}
	return false
}

// Ensure returns a ForbiddenError unless role may perform op.
func Ensure(role Role, op Operation) error {
	if Allowed(role, op) {
		return nil
	}
	return ForbiddenError{Role: role, Operation: op}
}
