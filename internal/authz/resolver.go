package authz

import (
	"context"
	"sort"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/openconf/authhub/internal/caches"
	"github.com/openconf/authhub/internal/log"
	"github.com/openconf/authhub/internal/model"
)

// lookupFanOut bounds concurrent per-item cache reads during bulk
// enumeration.
const lookupFanOut = 8

// Resolver computes the session a caller may assert, reading entity
// snapshots through the cache set. It is side-effect free apart from
// the caches' own lazy population.
type Resolver struct {
	caches *caches.Set
}

func NewResolver(set *caches.Set) *Resolver {
	return &Resolver{caches: set}
}

// Resolve evaluates the decision procedure in strict priority order.
// (nil, nil) denies; an error is an infrastructure failure and must not
// be treated as a deny by callers.
func (r *Resolver) Resolve(ctx context.Context, verified Verified, rc RequestContext) (*Session, error) {
	session, err := r.resolve(ctx, verified, rc)
	if err != nil {
		return nil, err
	}

	decision := "deny"
	role := Role("")

	if session != nil {
		decision = "allow"
		role = session.Role
	}

	log.Debug(ctx, "authz: resolve decision",
		log.String("decision", decision),
		log.String("role", string(role)),
		log.String("conference_id", rc.ConferenceID),
		log.Bool("authenticated", verified.UserID != ""),
	)

	return session, nil
}

func (r *Resolver) resolve(ctx context.Context, verified Verified, rc RequestContext) (*Session, error) {
	// Superuser is only reachable by explicit request with a verified
	// identity; all finer checks are delegated downstream.
	if rc.RequestedRole == RoleSuperuser {
		if verified.UserID == "" {
			return nil, nil
		}

		return &Session{Role: RoleSuperuser, UserID: verified.UserID}, nil
	}

	// A magic token is a capability credential: it grants submitter
	// verbatim and is validated downstream.
	if rc.MagicToken != "" {
		return &Session{Role: RoleSubmitter, MagicToken: rc.MagicToken}, nil
	}

	if rc.InviteCode != "" {
		return &Session{Role: RoleUnauthenticated, InviteCode: rc.InviteCode}, nil
	}

	if verified.UserID == "" || rc.RequestedRole == RoleUnauthenticated {
		session, err := r.resolveAnonymous(ctx, rc.ConferenceID)
		if err != nil {
			return nil, err
		}

		session.UserID = verified.UserID

		return finish(session, NewRoleSet(RoleUnauthenticated), rc.RequestedRole, RoleUnauthenticated)
	}

	return r.resolveUser(ctx, verified.UserID, rc)
}

// resolveAnonymous computes what an unauthenticated caller may see: the
// requested conference when it is Public, and its Public subconferences.
// Room ids are never exposed anonymously.
func (r *Resolver) resolveAnonymous(ctx context.Context, conferenceID string) (*Session, error) {
	session := &Session{
		ConferenceIDs:    []string{},
		SubconferenceIDs: []string{},
	}

	if conferenceID == "" {
		return session, nil
	}

	conference, err := r.caches.Conferences.Get(ctx, conferenceID)
	if err != nil {
		return nil, err
	}

	if conference == nil || !conference.Visibility.Anonymous() {
		return session, nil
	}

	session.ConferenceIDs = []string{conference.ID}

	session.SubconferenceIDs, err = r.filterSubconferences(ctx, conference.SubconferenceIDs,
		model.VisibilityLevel.Anonymous)
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (r *Resolver) resolveUser(ctx context.Context, userID string, rc RequestContext) (*Session, error) {
	user, err := r.caches.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, nil
	}

	allowed := NewRoleSet(RoleUser)
	session := &Session{UserID: userID}

	// Without a target conference, expose the "my memberships" view and
	// stop; subconference and room resolution need a conference scope.
	if rc.ConferenceID == "" {
		session.RegistrantIDs = make([]string, 0, len(user.Registrants))
		session.ConferenceIDs = make([]string, 0, len(user.Registrants))

		for _, registrant := range user.Registrants {
			session.RegistrantIDs = append(session.RegistrantIDs, registrant.RegistrantID)
			session.ConferenceIDs = append(session.ConferenceIDs, registrant.ConferenceID)
		}

		return finish(session, allowed, rc.RequestedRole, RoleUser)
	}

	conference, err := r.caches.Conferences.Get(ctx, rc.ConferenceID)
	if err != nil {
		return nil, err
	}

	if conference == nil {
		return nil, nil
	}

	registrantID, hasRegistrant := user.RegistrantIn(conference.ID)
	if !hasRegistrant {
		// The creator keeps organizer rights before registering;
		// everyone else gets the pre-registration preview.
		if conference.CreatedByUserID == userID {
			return r.resolveConference(ctx, session, allowed, conference, nil, rc)
		}

		preview, err := r.resolveAnonymous(ctx, conference.ID)
		if err != nil {
			return nil, err
		}

		preview.UserID = userID

		return finish(preview, NewRoleSet(RoleUnauthenticated), rc.RequestedRole, RoleUnauthenticated)
	}

	registrant, err := r.caches.Registrants.Get(ctx, registrantID)
	if err != nil {
		return nil, err
	}

	if registrant == nil {
		return nil, nil
	}

	return r.resolveConference(ctx, session, allowed, conference, registrant, rc)
}

// resolveConference resolves the conference-scoped (and optionally
// subconference- and room-scoped) part of the session. A nil registrant
// means the caller is the conference creator acting with organizer
// rights but no registrant record.
func (r *Resolver) resolveConference(
	ctx context.Context,
	session *Session,
	allowed RoleSet,
	conference *model.Conference,
	registrant *model.Registrant,
	rc RequestContext,
) (*Session, error) {
	conferenceRole := model.ConferenceRoleOrganizer
	registrantID := ""

	if registrant != nil {
		conferenceRole = registrant.Role
		registrantID = registrant.ID
	}

	allowed.Add(RoleAttendee)
	session.ConferenceIDs = []string{conference.ID}
	session.RoomIDs = []string{}

	session.RegistrantIDs = []string{}
	if registrantID != "" {
		session.RegistrantIDs = []string{registrantID}
	}

	defaultRole := RoleAttendee

	switch conferenceRole {
	case model.ConferenceRoleModerator:
		allowed.Add(RoleModerator)
	case model.ConferenceRoleOrganizer:
		allowed.Add(RoleModerator, RoleOrganizer, RoleConferenceOrganizer)

		if registrant == nil {
			defaultRole = RoleOrganizer
		}
	case model.ConferenceRoleAttendee:
	}

	// Organizers see every subconference; everyone else only the
	// Public/External ones.
	var err error

	if conferenceRole == model.ConferenceRoleOrganizer {
		session.SubconferenceIDs = append([]string{}, conference.SubconferenceIDs...)
	} else {
		session.SubconferenceIDs, err = r.filterSubconferences(ctx, conference.SubconferenceIDs,
			model.VisibilityLevel.Listable)
		if err != nil {
			return nil, err
		}
	}

	elevated := conferenceRole != model.ConferenceRoleAttendee
	activeSubconferenceID := ""

	if rc.SubconferenceID != "" {
		subconference, err := r.caches.Subconferences.Get(ctx, rc.SubconferenceID)
		if err != nil {
			return nil, err
		}

		if subconference == nil || subconference.ConferenceID != conference.ID {
			return nil, nil
		}

		var membership *model.SubconferenceMembership

		if registrant != nil {
			if m, ok := registrant.Membership(subconference.ID); ok {
				membership = &m
			}
		}

		// A conference organizer holds moderator rights at every
		// subconference; anyone else needs an explicit membership.
		isOrganizer := conferenceRole == model.ConferenceRoleOrganizer
		if membership == nil && !isOrganizer {
			return nil, nil
		}

		elevated = isOrganizer

		if isOrganizer {
			allowed.Add(RoleModerator)
		}

		if membership != nil {
			switch membership.Role {
			case model.ConferenceRoleModerator:
				allowed.Add(RoleModerator)

				elevated = true
			case model.ConferenceRoleOrganizer:
				allowed.Add(RoleModerator, RoleOrganizer)

				elevated = true
			case model.ConferenceRoleAttendee:
			}
		}

		activeSubconferenceID = subconference.ID

		if !lo.Contains(session.SubconferenceIDs, subconference.ID) {
			session.SubconferenceIDs = append(session.SubconferenceIDs, subconference.ID)
		}
	}

	switch {
	case rc.RoomID != "":
		grants, err := r.resolveRoom(ctx, conference.ID, activeSubconferenceID, registrantID, elevated, rc.RoomID)
		if err != nil {
			return nil, err
		}

		if grants == nil {
			return nil, nil
		}

		allowed.Add(grants...)
		session.RoomIDs = []string{rc.RoomID}
	case rc.IncludeRoomIDs:
		session.RoomIDs, err = r.enumerateRooms(ctx, conference.ID, activeSubconferenceID, registrantID, allowed, rc.RequestedRole)
		if err != nil {
			return nil, err
		}

		if session.RoomIDs == nil {
			return nil, nil
		}
	}

	return finish(session, allowed, rc.RequestedRole, defaultRole)
}

// resolveRoom evaluates explicit-id room access. The room must belong
// to the active scope exactly. Returns the granted roles or nil to deny.
func (r *Resolver) resolveRoom(
	ctx context.Context,
	conferenceID, activeSubconferenceID, registrantID string,
	elevated bool,
	roomID string,
) ([]Role, error) {
	room, err := r.caches.Rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if room == nil || room.ConferenceID != conferenceID {
		return nil, nil
	}

	if activeSubconferenceID == "" {
		if room.SubconferenceID != nil {
			return nil, nil
		}
	} else if room.SubconferenceID == nil || *room.SubconferenceID != activeSubconferenceID {
		return nil, nil
	}

	var membership *model.PersonRole

	if !elevated && room.ManagedMode != model.ManagedModePublic {
		membership, err = r.caches.RoomMemberships.GetField(ctx, room.ID, registrantID)
		if err != nil {
			return nil, err
		}
	}

	return roomGrant(elevated, room.ManagedMode, membership), nil
}

// enumerateRooms computes the bulk room-id set for the active scope.
// Returns nil to deny (only possible for organizer-level requests the
// caller doesn't hold).
func (r *Resolver) enumerateRooms(
	ctx context.Context,
	conferenceID, activeSubconferenceID, registrantID string,
	allowed RoleSet,
	requestedRole Role,
) ([]string, error) {
	var (
		bulk map[string]model.ManagedMode
		err  error
	)

	if activeSubconferenceID != "" {
		bulk, err = r.caches.SubconferenceRooms.GetAll(ctx, activeSubconferenceID)
	} else {
		bulk, err = r.caches.ConferenceRooms.GetAll(ctx, conferenceID)
	}

	if err != nil {
		return nil, err
	}

	roomIDs := []string{}

	if requestedRole.organizerLevel() {
		if !allowed.Has(requestedRole) {
			return nil, nil
		}

		for roomID, mode := range bulk {
			if organizerBulkEnumerable(mode) {
				roomIDs = append(roomIDs, roomID)
			}
		}

		sort.Strings(roomIDs)

		return roomIDs, nil
	}

	// Membership lookups for non-public rooms are independent reads;
	// issue them concurrently to keep tail latency off the fan-out width.
	type lookup struct {
		roomID string
		mode   model.ManagedMode
		member bool
	}

	lookups := make([]lookup, 0, len(bulk))
	for roomID, mode := range bulk {
		lookups = append(lookups, lookup{roomID: roomID, mode: mode})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupFanOut)

	for i := range lookups {
		g.Go(func() error {
			if lookups[i].mode == model.ManagedModePublic {
				lookups[i].member = true
				return nil
			}

			membership, err := r.caches.RoomMemberships.GetField(gctx, lookups[i].roomID, registrantID)
			if err != nil {
				return err
			}

			lookups[i].member = membership != nil

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, l := range lookups {
		if bulkEnumerable(l.mode, l.member) {
			roomIDs = append(roomIDs, l.roomID)
		}
	}

	sort.Strings(roomIDs)

	return roomIDs, nil
}

// filterSubconferences keeps the ids whose visibility satisfies the
// predicate, fetching concurrently since the reads are independent.
func (r *Resolver) filterSubconferences(
	ctx context.Context,
	ids []string,
	visible func(model.VisibilityLevel) bool,
) ([]string, error) {
	results := make([]*model.Subconference, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupFanOut)

	for i, id := range ids {
		g.Go(func() error {
			subconference, err := r.caches.Subconferences.Get(gctx, id)
			if err != nil {
				return err
			}

			results[i] = subconference

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	visibleIDs := []string{}

	for _, subconference := range results {
		if subconference != nil && visible(subconference.Visibility) {
			visibleIDs = append(visibleIDs, subconference.ID)
		}
	}

	return visibleIDs, nil
}

// finish applies the final gate: the requested role must be in the
// accumulated allowed set, with the computed default standing in for an
// unspecified request.
func finish(session *Session, allowed RoleSet, requested, fallback Role) (*Session, error) {
	role := requested
	if role == "" {
		role = fallback
	}

	if !allowed.Has(role) {
		return nil, nil
	}

	session.Role = role

	return session, nil
}
