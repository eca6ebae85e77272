package authz

import "github.com/openconf/authhub/internal/model"

// noMembership keys the rule table row for callers without a
// RoomMembership entry.
const noMembership = model.PersonRole("")

// roomGrants is the declarative permission table for explicit room
// access by non-elevated callers, keyed by (managed mode, membership
// role). A missing row denies. Public rooms never consult membership,
// so an Admin membership in a Public room still grants member only.
var roomGrants = map[model.ManagedMode]map[model.PersonRole][]Role{
	model.ManagedModePublic: {
		noMembership:           {RoleRoomMember},
		model.PersonRoleMember: {RoleRoomMember},
		model.PersonRoleAdmin:  {RoleRoomMember},
	},
	model.ManagedModePrivate: {
		model.PersonRoleMember: {RoleRoomMember},
		model.PersonRoleAdmin:  {RoleRoomMember, RoleRoomAdmin},
	},
	model.ManagedModeManaged: {
		model.PersonRoleMember: {RoleRoomMember},
		model.PersonRoleAdmin:  {RoleRoomMember, RoleRoomAdmin},
	},
	model.ManagedModeDM: {
		model.PersonRoleMember: {RoleRoomMember},
		model.PersonRoleAdmin:  {RoleRoomMember, RoleRoomAdmin},
	},
}

// elevatedRoomGrants applies to scope-level moderators and organizers
// regardless of mode or membership.
var elevatedRoomGrants = []Role{RoleRoomMember, RoleRoomAdmin}

// roomGrant returns the roles granted for explicit-id access to a room,
// or nil to deny. membership is nil when no RoomMembership row exists.
func roomGrant(elevated bool, mode model.ManagedMode, membership *model.PersonRole) []Role {
	if elevated {
		return elevatedRoomGrants
	}

	byMembership, ok := roomGrants[mode]
	if !ok {
		return nil
	}

	role := noMembership
	if membership != nil {
		role = *membership
	}

	return byMembership[role]
}

// bulkEnumerable reports whether a room appears in bulk enumeration for
// a non-elevated caller. Public rooms are always listed; every other
// mode requires a membership row. Managed and DM rooms are additionally
// excluded from organizer-level enumeration (explicit id only), which
// keeps ephemeral DM rooms out of wide responses.
func bulkEnumerable(mode model.ManagedMode, hasMembership bool) bool {
	if mode == model.ManagedModePublic {
		return true
	}

	return hasMembership
}

// organizerBulkEnumerable restricts organizer-level bulk enumeration to
// Public and Private rooms.
func organizerBulkEnumerable(mode model.ManagedMode) bool {
	return mode == model.ManagedModePublic || mode == model.ManagedModePrivate
}
