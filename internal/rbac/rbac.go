// Package rbac is the default capability oracle: role-based permissions
// scoped to "own" (records the user owns) or "any" (all records).
package rbac

type Role string
type Action string
type Entity string
type Scope string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionReview Action = "review"
)

const (
	EntityDestination Entity = "destination"
	EntityGrenade     Entity = "grenade"
)

const (
	ScopeOwn Scope = "own"
	ScopeAny Scope = "any"
)

// Can reports whether role may perform action on entity at the given scope.
// A grant at "any" scope satisfies an "own"-scoped check. Regular users have
// no update grant at all, so their edits are captured as change requests.
func Can(role Role, action Action, entity Entity, scope Scope) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		switch action {
		case ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionReview:
			return true
		}
		return false
	case RoleUser:
		switch action {
		case ActionRead:
			return true
		case ActionCreate:
			return scope == ScopeOwn
		}
		return false
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
