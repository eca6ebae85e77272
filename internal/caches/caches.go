// Package caches wires the typed entity caches the resolver reads from.
package caches

import (
	"github.com/redis/go-redis/v9"

	"github.com/openconf/authhub/internal/model"
	"github.com/openconf/authhub/internal/pkg/xcache"
	"github.com/openconf/authhub/internal/pkg/xlock"
	"github.com/openconf/authhub/internal/store"
)

// Cache name prefixes double as the redis key namespaces.
const (
	nameConference         = "conference"
	nameSubconference      = "subconference"
	nameRegistrant         = "registrant"
	nameUser               = "user"
	nameRoom               = "room"
	nameRoomMembership     = "roomMembership"
	nameConferenceRooms    = "conferenceRooms"
	nameSubconferenceRooms = "subconferenceRooms"
)

// Set bundles every entity cache. All caches share one redis client and
// one lock manager, so the per-key population locks hold across process
// instances.
type Set struct {
	Conferences        *xcache.Cache[model.Conference]
	Subconferences     *xcache.Cache[model.Subconference]
	Registrants        *xcache.Cache[model.Registrant]
	Users              *xcache.Cache[model.User]
	Rooms              *xcache.Cache[model.Room]
	RoomMemberships    *xcache.FieldCache[model.PersonRole]
	ConferenceRooms    *xcache.FieldCache[model.ManagedMode]
	SubconferenceRooms *xcache.FieldCache[model.ManagedMode]
}

func NewSet(client redis.UniversalClient, source store.Source, cfg xcache.Config) *Set {
	locker := xlock.NewLocker(client, cfg.Lock)

	return &Set{
		Conferences:        xcache.New(nameConference, client, locker, source.ConferenceByID, cfg),
		Subconferences:     xcache.New(nameSubconference, client, locker, source.SubconferenceByID, cfg),
		Registrants:        xcache.New(nameRegistrant, client, locker, source.RegistrantByID, cfg),
		Users:              xcache.New(nameUser, client, locker, source.UserByID, cfg),
		Rooms:              xcache.New(nameRoom, client, locker, source.RoomByID, cfg),
		RoomMemberships:    xcache.NewField(nameRoomMembership, client, locker, source.RoomMemberships, cfg),
		ConferenceRooms:    xcache.NewField(nameConferenceRooms, client, locker, source.ConferenceRooms, cfg),
		SubconferenceRooms: xcache.NewField(nameSubconferenceRooms, client, locker, source.SubconferenceRooms, cfg),
	}
}
