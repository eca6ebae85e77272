package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openconf/authhub/internal/caches"
	"github.com/openconf/authhub/internal/model"
	"github.com/openconf/authhub/internal/pkg/xcache"
	"github.com/openconf/authhub/internal/store/storetest"
)

// The fixture world:
//
//	c-pub (PUBLIC, created by u-creator): subconferences s-pub (PUBLIC),
//	  s-priv (PRIVATE); conference-level rooms r-open (PUBLIC),
//	  r-closed (PRIVATE), r-managed (MANAGED); s-priv room r-sub (PRIVATE).
//	c-priv (PRIVATE): no subconferences, room r-other (PUBLIC).
//
//	u-att   -> reg-att, ATTENDEE in c-pub, s-priv membership MODERATOR,
//	           member of r-closed, admin of r-sub.
//	u-org   -> reg-org, ORGANIZER in c-pub.
//	u-other -> reg-other, ATTENDEE in c-priv.
//	u-creator has no registrant anywhere.
func newTestResolver(t *testing.T) (*Resolver, *storetest.Fake) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	source := storetest.New()

	source.Conferences["c-pub"] = &model.Conference{
		ID:               "c-pub",
		CreatedByUserID:  "u-creator",
		Visibility:       model.VisibilityPublic,
		SubconferenceIDs: []string{"s-pub", "s-priv"},
	}
	source.Conferences["c-priv"] = &model.Conference{
		ID:              "c-priv",
		CreatedByUserID: "u-other",
		Visibility:      model.VisibilityPrivate,
	}

	source.Subconferences["s-pub"] = &model.Subconference{
		ID:           "s-pub",
		ConferenceID: "c-pub",
		Visibility:   model.VisibilityPublic,
	}
	source.Subconferences["s-priv"] = &model.Subconference{
		ID:           "s-priv",
		ConferenceID: "c-pub",
		Visibility:   model.VisibilityPrivate,
	}

	source.Rooms["r-open"] = &model.Room{
		ID:           "r-open",
		ConferenceID: "c-pub",
		ManagedMode:  model.ManagedModePublic,
	}
	source.Rooms["r-closed"] = &model.Room{
		ID:           "r-closed",
		ConferenceID: "c-pub",
		ManagedMode:  model.ManagedModePrivate,
	}
	source.Rooms["r-managed"] = &model.Room{
		ID:           "r-managed",
		ConferenceID: "c-pub",
		ManagedMode:  model.ManagedModeManaged,
	}
	source.Rooms["r-sub"] = &model.Room{
		ID:              "r-sub",
		ConferenceID:    "c-pub",
		SubconferenceID: lo.ToPtr("s-priv"),
		ManagedMode:     model.ManagedModePrivate,
	}
	source.Rooms["r-other"] = &model.Room{
		ID:           "r-other",
		ConferenceID: "c-priv",
		ManagedMode:  model.ManagedModePublic,
	}

	source.Memberships["r-closed"] = map[string]model.PersonRole{
		"reg-att": model.PersonRoleMember,
	}
	source.Memberships["r-sub"] = map[string]model.PersonRole{
		"reg-att": model.PersonRoleAdmin,
	}

	source.Registrants["reg-att"] = &model.Registrant{
		ID:           "reg-att",
		ConferenceID: "c-pub",
		UserID:       "u-att",
		Role:         model.ConferenceRoleAttendee,
		SubconferenceMemberships: []model.SubconferenceMembership{
			{SubconferenceID: "s-priv", Role: model.ConferenceRoleModerator},
		},
	}
	source.Registrants["reg-org"] = &model.Registrant{
		ID:           "reg-org",
		ConferenceID: "c-pub",
		UserID:       "u-org",
		Role:         model.ConferenceRoleOrganizer,
	}
	source.Registrants["reg-other"] = &model.Registrant{
		ID:           "reg-other",
		ConferenceID: "c-priv",
		UserID:       "u-other",
		Role:         model.ConferenceRoleAttendee,
	}

	source.Users["u-att"] = &model.User{
		ID: "u-att",
		Registrants: []model.UserRegistrant{
			{RegistrantID: "reg-att", ConferenceID: "c-pub"},
		},
	}
	source.Users["u-org"] = &model.User{
		ID: "u-org",
		Registrants: []model.UserRegistrant{
			{RegistrantID: "reg-org", ConferenceID: "c-pub"},
		},
	}
	source.Users["u-other"] = &model.User{
		ID: "u-other",
		Registrants: []model.UserRegistrant{
			{RegistrantID: "reg-other", ConferenceID: "c-priv"},
		},
	}
	source.Users["u-creator"] = &model.User{ID: "u-creator"}

	return NewResolver(caches.NewSet(client, source, xcache.Config{})), source
}

func TestResolveSuperuser(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	t.Run("verified caller", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			RequestedRole: RoleSuperuser,
		})
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, RoleSuperuser, session.Role)
		assert.Equal(t, "u-att", session.UserID)
		assert.Nil(t, session.ConferenceIDs)
	})

	t.Run("anonymous caller denied", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{}, RequestContext{
			RequestedRole: RoleSuperuser,
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestResolveMagicToken(t *testing.T) {
	resolver, _ := newTestResolver(t)

	// The token short-circuits everything else, even a conference scope.
	session, err := resolver.Resolve(context.Background(), Verified{}, RequestContext{
		ConferenceID: "c-pub",
		MagicToken:   "abc123",
	})
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, &Session{Role: RoleSubmitter, MagicToken: "abc123"}, session)
	assert.Equal(t, map[string]string{
		HeaderRole:       "submitter",
		HeaderMagicToken: "abc123",
	}, session.Headers())
}

func TestResolveInviteCode(t *testing.T) {
	resolver, _ := newTestResolver(t)

	session, err := resolver.Resolve(context.Background(), Verified{}, RequestContext{
		InviteCode: "join-me",
	})
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, &Session{Role: RoleUnauthenticated, InviteCode: "join-me"}, session)
}

func TestResolveAnonymous(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	t.Run("public conference", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{}, RequestContext{ConferenceID: "c-pub"})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, RoleUnauthenticated, session.Role)
		assert.Equal(t, []string{"c-pub"}, session.ConferenceIDs)
		assert.Equal(t, []string{"s-pub"}, session.SubconferenceIDs)
		assert.Nil(t, session.RoomIDs)
		assert.NotContains(t, session.Headers(), HeaderRoomIDs)
	})

	t.Run("private conference yields empty sets", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{}, RequestContext{ConferenceID: "c-priv"})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, RoleUnauthenticated, session.Role)
		assert.Empty(t, session.ConferenceIDs)
		assert.Equal(t, "{}", session.Headers()[HeaderConferenceIDs])
	})

	t.Run("unknown conference yields empty sets", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{}, RequestContext{ConferenceID: "nope"})
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Empty(t, session.ConferenceIDs)
	})

	t.Run("no conference scope", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{}, RequestContext{})
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, RoleUnauthenticated, session.Role)
		assert.Empty(t, session.ConferenceIDs)
	})

	t.Run("requesting an authenticated role denied", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{}, RequestContext{
			ConferenceID:  "c-pub",
			RequestedRole: RoleAttendee,
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestResolveExplicitUnauthenticated(t *testing.T) {
	resolver, _ := newTestResolver(t)

	// A verified caller may downgrade itself to the anonymous view.
	session, err := resolver.Resolve(context.Background(), Verified{UserID: "u-att"}, RequestContext{
		ConferenceID:  "c-pub",
		RequestedRole: RoleUnauthenticated,
	})
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, RoleUnauthenticated, session.Role)
	assert.Equal(t, "u-att", session.UserID)
	assert.Equal(t, []string{"c-pub"}, session.ConferenceIDs)
	assert.Nil(t, session.RegistrantIDs)
}

func TestResolveMyMemberships(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	t.Run("lists registrants across conferences", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, RoleUser, session.Role)
		assert.Equal(t, []string{"reg-att"}, session.RegistrantIDs)
		assert.Equal(t, []string{"c-pub"}, session.ConferenceIDs)
		assert.Nil(t, session.SubconferenceIDs)
		assert.Nil(t, session.RoomIDs)
	})

	t.Run("no registrants", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-creator"}, RequestContext{})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, RoleUser, session.Role)
		assert.Equal(t, "{}", session.Headers()[HeaderRegistrantIDs])
	})

	t.Run("scoped roles need a conference", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			RequestedRole: RoleAttendee,
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("unknown verified user denied", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "ghost"}, RequestContext{})
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestResolveConferenceScope(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	t.Run("attendee", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID: "c-pub",
		})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, RoleAttendee, session.Role)
		assert.Equal(t, []string{"reg-att"}, session.RegistrantIDs)
		assert.Equal(t, []string{"c-pub"}, session.ConferenceIDs)
		assert.Equal(t, []string{"s-pub"}, session.SubconferenceIDs)
		assert.Equal(t, []string{}, session.RoomIDs)
	})

	t.Run("organizer sees every subconference", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-org"}, RequestContext{
			ConferenceID:  "c-pub",
			RequestedRole: RoleConferenceOrganizer,
		})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, RoleConferenceOrganizer, session.Role)
		assert.Equal(t, []string{"s-pub", "s-priv"}, session.SubconferenceIDs)
	})

	t.Run("organizer defaults to attendee", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-org"}, RequestContext{
			ConferenceID: "c-pub",
		})
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, RoleAttendee, session.Role)
	})

	t.Run("attendee requesting organizer denied", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:  "c-pub",
			RequestedRole: RoleOrganizer,
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("unknown conference denied", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID: "nope",
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestResolveUnregisteredPreview(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	t.Run("public conference preview", func(t *testing.T) {
		// u-other has no registrant in c-pub; it gets the anonymous view
		// with its identity attached.
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-other"}, RequestContext{
			ConferenceID: "c-pub",
		})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, RoleUnauthenticated, session.Role)
		assert.Equal(t, "u-other", session.UserID)
		assert.Equal(t, []string{"c-pub"}, session.ConferenceIDs)
	})

	t.Run("attendee role not grantable without registrant", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:  "c-priv",
			RequestedRole: RoleAttendee,
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestResolveCreator(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	t.Run("creator keeps organizer rights", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-creator"}, RequestContext{
			ConferenceID: "c-pub",
		})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, RoleOrganizer, session.Role)
		assert.Equal(t, []string{}, session.RegistrantIDs)
		assert.Equal(t, []string{"c-pub"}, session.ConferenceIDs)
		assert.Equal(t, []string{"s-pub", "s-priv"}, session.SubconferenceIDs)
	})

	t.Run("creator may request conference-organizer", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-creator"}, RequestContext{
			ConferenceID:  "c-pub",
			RequestedRole: RoleConferenceOrganizer,
		})
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, RoleConferenceOrganizer, session.Role)
	})
}

func TestResolveSubconferenceScope(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	t.Run("membership grants access to a private subconference", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:    "c-pub",
			SubconferenceID: "s-priv",
			RequestedRole:   RoleModerator,
		})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, RoleModerator, session.Role)
		assert.Contains(t, session.SubconferenceIDs, "s-priv")
	})

	t.Run("no membership denies even a public subconference", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:    "c-pub",
			SubconferenceID: "s-pub",
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("conference organizer moderates everywhere", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-org"}, RequestContext{
			ConferenceID:    "c-pub",
			SubconferenceID: "s-pub",
			RequestedRole:   RoleModerator,
		})
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, RoleModerator, session.Role)
	})

	t.Run("subconference of another conference denied", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-other"}, RequestContext{
			ConferenceID:    "c-priv",
			SubconferenceID: "s-pub",
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestResolveRoomScope(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	t.Run("public room", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:  "c-pub",
			RoomID:        "r-open",
			RequestedRole: RoleRoomMember,
		})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, RoleRoomMember, session.Role)
		assert.Equal(t, []string{"r-open"}, session.RoomIDs)
	})

	t.Run("public room grants member only", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:  "c-pub",
			RoomID:        "r-open",
			RequestedRole: RoleRoomAdmin,
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("private room requires membership", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:  "c-pub",
			RoomID:        "r-closed",
			RequestedRole: RoleRoomMember,
		})
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, []string{"r-closed"}, session.RoomIDs)
	})

	t.Run("managed room without membership denied", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID: "c-pub",
			RoomID:       "r-managed",
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("elevated caller enters managed rooms as admin", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-org"}, RequestContext{
			ConferenceID:  "c-pub",
			RoomID:        "r-managed",
			RequestedRole: RoleRoomAdmin,
		})
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, RoleRoomAdmin, session.Role)
	})

	t.Run("admin membership in a subconference room", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:    "c-pub",
			SubconferenceID: "s-priv",
			RoomID:          "r-sub",
			RequestedRole:   RoleRoomAdmin,
		})
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, RoleRoomAdmin, session.Role)
	})

	t.Run("subconference room needs its scope", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID: "c-pub",
			RoomID:       "r-sub",
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("conference room rejected under a subconference scope", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:    "c-pub",
			SubconferenceID: "s-priv",
			RoomID:          "r-open",
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("room of another conference denied", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID: "c-pub",
			RoomID:       "r-other",
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestResolveIncludeRoomIDs(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	t.Run("attendee sees public rooms and own memberships", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:   "c-pub",
			IncludeRoomIDs: true,
		})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, []string{"r-closed", "r-open"}, session.RoomIDs)
	})

	t.Run("organizer-level request enumerates public and private", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-org"}, RequestContext{
			ConferenceID:   "c-pub",
			RequestedRole:  RoleOrganizer,
			IncludeRoomIDs: true,
		})
		require.NoError(t, err)
		require.NotNil(t, session)

		// Managed and DM rooms stay out of bulk enumeration even for
		// organizers.
		assert.Equal(t, []string{"r-closed", "r-open"}, session.RoomIDs)
	})

	t.Run("organizer-level request by an attendee denied", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:   "c-pub",
			RequestedRole:  RoleOrganizer,
			IncludeRoomIDs: true,
		})
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("subconference scope narrows the set", func(t *testing.T) {
		session, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, RequestContext{
			ConferenceID:    "c-pub",
			SubconferenceID: "s-priv",
			IncludeRoomIDs:  true,
		})
		require.NoError(t, err)
		require.NotNil(t, session)

		assert.Equal(t, []string{"r-sub"}, session.RoomIDs)
	})
}

func TestResolveIdempotent(t *testing.T) {
	resolver, source := newTestResolver(t)
	ctx := context.Background()

	rc := RequestContext{ConferenceID: "c-pub", IncludeRoomIDs: true}

	first, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, rc)
	require.NoError(t, err)
	require.NotNil(t, first)

	warm := source.Fetches.Load()

	second, err := resolver.Resolve(ctx, Verified{UserID: "u-att"}, rc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, warm, source.Fetches.Load(), "warm resolution must not hit the source")
}

func TestResolveFetchErrorPropagates(t *testing.T) {
	resolver, source := newTestResolver(t)

	source.Err = errors.New("source down")

	// An infrastructure failure must surface as an error, never as a
	// silent deny.
	session, err := resolver.Resolve(context.Background(), Verified{UserID: "u-att"}, RequestContext{
		ConferenceID: "c-pub",
	})
	require.Error(t, err)
	assert.Nil(t, session)
}
