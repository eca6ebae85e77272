// Package storetest provides an in-memory store.Source for tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/openconf/authhub/internal/model"
)

// Fake is an in-memory store.Source. Zero value is usable; all maps are
// lazily initialized. Fetches counts every query so tests can assert
// read-through behavior.
type Fake struct {
	mu sync.Mutex

	Conferences    map[string]*model.Conference
	Subconferences map[string]*model.Subconference
	Registrants    map[string]*model.Registrant
	Users          map[string]*model.User
	Rooms          map[string]*model.Room
	Memberships    map[string]map[string]model.PersonRole

	Err error

	Fetches atomic.Int64
}

func New() *Fake {
	return &Fake{
		Conferences:    map[string]*model.Conference{},
		Subconferences: map[string]*model.Subconference{},
		Registrants:    map[string]*model.Registrant{},
		Users:          map[string]*model.User{},
		Rooms:          map[string]*model.Room{},
		Memberships:    map[string]map[string]model.PersonRole{},
	}
}

func (f *Fake) ConferenceByID(ctx context.Context, id string) (*model.Conference, error) {
	f.Fetches.Add(1)

	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Conferences[id], nil
}

func (f *Fake) SubconferenceByID(ctx context.Context, id string) (*model.Subconference, error) {
	f.Fetches.Add(1)

	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Subconferences[id], nil
}

func (f *Fake) RegistrantByID(ctx context.Context, id string) (*model.Registrant, error) {
	f.Fetches.Add(1)

	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Registrants[id], nil
}

func (f *Fake) UserByID(ctx context.Context, id string) (*model.User, error) {
	f.Fetches.Add(1)

	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Users[id], nil
}

func (f *Fake) RoomByID(ctx context.Context, id string) (*model.Room, error) {
	f.Fetches.Add(1)

	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Rooms[id], nil
}

func (f *Fake) RoomMemberships(ctx context.Context, roomID string) (map[string]model.PersonRole, error) {
	f.Fetches.Add(1)

	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	memberships := make(map[string]model.PersonRole, len(f.Memberships[roomID]))
	for registrantID, role := range f.Memberships[roomID] {
		memberships[registrantID] = role
	}

	return memberships, nil
}

func (f *Fake) ConferenceRooms(ctx context.Context, conferenceID string) (map[string]model.ManagedMode, error) {
	f.Fetches.Add(1)

	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	rooms := make(map[string]model.ManagedMode)

	for id, room := range f.Rooms {
		if room.ConferenceID == conferenceID && room.SubconferenceID == nil {
			rooms[id] = room.ManagedMode
		}
	}

	return rooms, nil
}

func (f *Fake) SubconferenceRooms(ctx context.Context, subconferenceID string) (map[string]model.ManagedMode, error) {
	f.Fetches.Add(1)

	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	rooms := make(map[string]model.ManagedMode)

	for id, room := range f.Rooms {
		if room.SubconferenceID != nil && *room.SubconferenceID == subconferenceID {
			rooms[id] = room.ManagedMode
		}
	}

	return rooms, nil
}
