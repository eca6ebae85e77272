package authz

// Role is an assertable role name, handed to the row-level-security
// engine as the session role.
type Role string

const (
	// RoleUser is the base role of any authenticated user.
	RoleUser Role = "user"
	// RoleUnauthenticated is the anonymous / invite-code role.
	RoleUnauthenticated Role = "unauthenticated"
	// RoleSubmitter is the magic-token role for content submission flows.
	RoleSubmitter Role = "submitter"
	// RoleAttendee is held by every registrant of the active conference.
	RoleAttendee Role = "attendee"
	// RoleModerator is scope-level moderation within the active scope.
	RoleModerator Role = "moderator"
	// RoleOrganizer is scope-level organization within the active scope.
	RoleOrganizer Role = "organizer"
	// RoleConferenceOrganizer is the conference-wide organizer role,
	// granted only through an Organizer conference role.
	RoleConferenceOrganizer Role = "conference-organizer"
	// RoleRoomMember permits participation in the active room.
	RoleRoomMember Role = "room-member"
	// RoleRoomAdmin permits managing the active room.
	RoleRoomAdmin Role = "room-admin"
	// RoleSuperuser delegates all checks to the row-level-security layer.
	RoleSuperuser Role = "superuser"
)

// organizerLevel reports whether the role carries organizer rights and
// therefore restricts bulk room enumeration to Public/Private rooms.
func (r Role) organizerLevel() bool {
	return r == RoleOrganizer || r == RoleConferenceOrganizer
}

// RoleSet is the accumulated set of roles the caller may assert.
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	set.Add(roles...)

	return set
}

func (s RoleSet) Add(roles ...Role) {
	for _, role := range roles {
		s[role] = struct{}{}
	}
}

func (s RoleSet) Has(role Role) bool {
	_, ok := s[role]
	return ok
}
