// Package model defines the entity snapshots the authorization layer
// works with. These are cached projections of the source of truth, not
// the row-level-security engine's own schema.
package model

// VisibilityLevel controls whether anonymous or cross-scope callers may
// see a conference or subconference.
type VisibilityLevel string

const (
	VisibilityPublic   VisibilityLevel = "PUBLIC"
	VisibilityExternal VisibilityLevel = "EXTERNAL"
	VisibilityPrivate  VisibilityLevel = "PRIVATE"
)

// Anonymous reports whether anonymous callers may see the scope.
// External visibility is deliberately not anonymous: it widens access for
// authenticated cross-scope callers only.
func (v VisibilityLevel) Anonymous() bool {
	return v == VisibilityPublic
}

// Listable reports whether the scope is visible to registrants without an
// explicit membership (attendee-level enumeration).
func (v VisibilityLevel) Listable() bool {
	return v == VisibilityPublic || v == VisibilityExternal
}

// ConferenceRole is a registrant's role within a conference or a
// subconference membership.
type ConferenceRole string

const (
	ConferenceRoleAttendee  ConferenceRole = "ATTENDEE"
	ConferenceRoleModerator ConferenceRole = "MODERATOR"
	ConferenceRoleOrganizer ConferenceRole = "ORGANIZER"
)

// ManagedMode is the per-room access policy.
type ManagedMode string

const (
	ManagedModePublic  ManagedMode = "PUBLIC"
	ManagedModePrivate ManagedMode = "PRIVATE"
	ManagedModeManaged ManagedMode = "MANAGED"
	ManagedModeDM      ManagedMode = "DM"
)

// PersonRole is a registrant's role within a single room.
type PersonRole string

const (
	PersonRoleMember PersonRole = "MEMBER"
	PersonRoleAdmin  PersonRole = "ADMIN"
)

type Conference struct {
	ID               string          `json:"id"`
	CreatedByUserID  string          `json:"createdByUserId"`
	Visibility       VisibilityLevel `json:"visibility"`
	SubconferenceIDs []string        `json:"subconferenceIds"`
}

type Subconference struct {
	ID           string          `json:"id"`
	ConferenceID string          `json:"conferenceId"`
	Visibility   VisibilityLevel `json:"visibility"`
}

// SubconferenceMembership records a registrant's role within one
// subconference of their conference.
type SubconferenceMembership struct {
	SubconferenceID string         `json:"subconferenceId"`
	Role            ConferenceRole `json:"role"`
}

// Registrant is a user's membership record within one conference.
type Registrant struct {
	ID                       string                    `json:"id"`
	ConferenceID             string                    `json:"conferenceId"`
	UserID                   string                    `json:"userId"`
	Role                     ConferenceRole            `json:"role"`
	SubconferenceMemberships []SubconferenceMembership `json:"subconferenceMemberships"`
}

// Membership returns the registrant's membership in the given
// subconference, if any.
func (r *Registrant) Membership(subconferenceID string) (SubconferenceMembership, bool) {
	for _, m := range r.SubconferenceMemberships {
		if m.SubconferenceID == subconferenceID {
			return m, true
		}
	}

	return SubconferenceMembership{}, false
}

// UserRegistrant anchors a user to one of their registrants.
type UserRegistrant struct {
	RegistrantID string `json:"registrantId"`
	ConferenceID string `json:"conferenceId"`
}

// User is the cross-conference identity anchor.
type User struct {
	ID          string           `json:"id"`
	Registrants []UserRegistrant `json:"registrants"`
}

// RegistrantIn returns the user's registrant id within the given
// conference, if any.
func (u *User) RegistrantIn(conferenceID string) (string, bool) {
	for _, r := range u.Registrants {
		if r.ConferenceID == conferenceID {
			return r.RegistrantID, true
		}
	}

	return "", false
}

// Room belongs either to a conference directly or to exactly one of its
// subconferences, never both.
type Room struct {
	ID              string      `json:"id"`
	ConferenceID    string      `json:"conferenceId"`
	SubconferenceID *string     `json:"subconferenceId,omitempty"`
	ManagedMode     ManagedMode `json:"managedMode"`
}
