package sync

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/fx"

	"github.com/openconf/authhub/internal/caches"
	"github.com/openconf/authhub/internal/log"
	"github.com/openconf/authhub/internal/model"
	"github.com/openconf/authhub/internal/pkg/xcache"
	"github.com/openconf/authhub/internal/server/middleware"
)

type HandlersParams struct {
	fx.In

	Caches *caches.Set
}

func NewHandlers(params HandlersParams) *Handlers {
	return &Handlers{Caches: params.Caches}
}

// Handlers maps row-change events onto cache operations. Scalar updates
// patch entries in place when they are cached; aggregate changes and
// deletions invalidate, letting the next read repopulate.
type Handlers struct {
	Caches *caches.Set
}

// Row shapes mirror the trigger payload's column names.

type conferenceRow struct {
	ID              string                `json:"id"`
	CreatedByUserID string                `json:"created_by_user_id"`
	Visibility      model.VisibilityLevel `json:"visibility"`
}

type subconferenceRow struct {
	ID           string                `json:"id"`
	ConferenceID string                `json:"conference_id"`
	Visibility   model.VisibilityLevel `json:"visibility"`
}

type registrantRow struct {
	ID           string               `json:"id"`
	ConferenceID string               `json:"conference_id"`
	UserID       string               `json:"user_id"`
	Role         model.ConferenceRole `json:"role"`
}

type subconferenceMembershipRow struct {
	RegistrantID    string               `json:"registrant_id"`
	SubconferenceID string               `json:"subconference_id"`
	Role            model.ConferenceRole `json:"role"`
}

type userRow struct {
	ID string `json:"id"`
}

type roomRow struct {
	ID              string            `json:"id"`
	ConferenceID    string            `json:"conference_id"`
	SubconferenceID *string           `json:"subconference_id"`
	ManagedMode     model.ManagedMode `json:"managed_mode"`
}

type roomMembershipRow struct {
	RoomID       string           `json:"room_id"`
	RegistrantID string           `json:"registrant_id"`
	Role         model.PersonRole `json:"role"`
}

// Conference handles conference row changes. The subconference id list
// inside the cached entry is maintained by the subconference handler;
// this one only touches scalar fields.
func (h *Handlers) Conference(c *gin.Context) {
	event, err := bindEvent[conferenceRow](c)
	if err != nil {
		badPayload(c, err)
		return
	}

	ctx := c.Request.Context()

	err = h.apply(ctx, func() error {
		switch event.Op {
		case OpInsert:
			// Clears a possible negative entry for the new id.
			return h.Caches.Conferences.Delete(ctx, event.New.ID)
		case OpUpdate:
			return h.Caches.Conferences.Update(ctx, event.New.ID, func(cur *model.Conference) (*model.Conference, error) {
				cur.CreatedByUserID = event.New.CreatedByUserID
				cur.Visibility = event.New.Visibility

				return cur, nil
			}, false)
		default:
			return h.deleteEach(ctx, h.Caches.Conferences.Delete, rowIDs(event, func(r *conferenceRow) string { return r.ID })...)
		}
	})
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}

	ok(c)
}

// Subconference inserts append to the parent conference's cached id
// list; deletes and parent moves invalidate both entries.
func (h *Handlers) Subconference(c *gin.Context) {
	event, err := bindEvent[subconferenceRow](c)
	if err != nil {
		badPayload(c, err)
		return
	}

	ctx := c.Request.Context()

	err = h.apply(ctx, func() error {
		if event.Op == OpInsert {
			if err := h.Caches.Subconferences.Delete(ctx, event.New.ID); err != nil {
				return err
			}

			// Append to the parent's cached id list instead of throwing
			// the whole conference entry away.
			return h.Caches.Conferences.Update(ctx, event.New.ConferenceID, func(cur *model.Conference) (*model.Conference, error) {
				if !lo.Contains(cur.SubconferenceIDs, event.New.ID) {
					cur.SubconferenceIDs = append(cur.SubconferenceIDs, event.New.ID)
				}

				return cur, nil
			}, false)
		}

		if event.Op == OpUpdate && event.Old != nil && event.Old.ConferenceID == event.New.ConferenceID {
			err := h.Caches.Subconferences.Update(ctx, event.New.ID, func(cur *model.Subconference) (*model.Subconference, error) {
				cur.Visibility = event.New.Visibility
				return cur, nil
			}, false)
			if err != nil {
				return err
			}

			// Visibility changes do not alter the parent's id list.
			return nil
		}

		if err := h.deleteEach(ctx, h.Caches.Subconferences.Delete, rowIDs(event, func(r *subconferenceRow) string { return r.ID })...); err != nil {
			return err
		}

		if err := h.deleteEach(ctx, h.Caches.Conferences.Delete, rowIDs(event, func(r *subconferenceRow) string { return r.ConferenceID })...); err != nil {
			return err
		}

		if event.Op == OpDelete {
			return h.Caches.SubconferenceRooms.Invalidate(ctx, event.Old.ID)
		}

		return nil
	})
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}

	ok(c)
}

// Registrant row changes patch the registrant role in place and
// invalidate the owning user, whose registrant list embeds the row.
func (h *Handlers) Registrant(c *gin.Context) {
	event, err := bindEvent[registrantRow](c)
	if err != nil {
		badPayload(c, err)
		return
	}

	ctx := c.Request.Context()

	err = h.apply(ctx, func() error {
		if event.Op == OpUpdate && event.Old != nil && event.Old.UserID == event.New.UserID {
			return h.Caches.Registrants.Update(ctx, event.New.ID, func(cur *model.Registrant) (*model.Registrant, error) {
				cur.Role = event.New.Role
				return cur, nil
			}, false)
		}

		if err := h.deleteEach(ctx, h.Caches.Registrants.Delete, rowIDs(event, func(r *registrantRow) string { return r.ID })...); err != nil {
			return err
		}

		return h.deleteEach(ctx, h.Caches.Users.Delete, rowIDs(event, func(r *registrantRow) string { return r.UserID })...)
	})
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}

	ok(c)
}

// SubconferenceMembership rows live inside the registrant aggregate, so
// any change invalidates the registrant entry.
func (h *Handlers) SubconferenceMembership(c *gin.Context) {
	event, err := bindEvent[subconferenceMembershipRow](c)
	if err != nil {
		badPayload(c, err)
		return
	}

	ctx := c.Request.Context()

	err = h.apply(ctx, func() error {
		return h.deleteEach(ctx, h.Caches.Registrants.Delete,
			rowIDs(event, func(r *subconferenceMembershipRow) string { return r.RegistrantID })...)
	})
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}

	ok(c)
}

func (h *Handlers) User(c *gin.Context) {
	event, err := bindEvent[userRow](c)
	if err != nil {
		badPayload(c, err)
		return
	}

	ctx := c.Request.Context()

	err = h.apply(ctx, func() error {
		return h.deleteEach(ctx, h.Caches.Users.Delete, rowIDs(event, func(r *userRow) string { return r.ID })...)
	})
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}

	ok(c)
}

// Room row changes maintain both the room entry and the per-scope room
// maps, moving the room between maps when its scope changes.
func (h *Handlers) Room(c *gin.Context) {
	event, err := bindEvent[roomRow](c)
	if err != nil {
		badPayload(c, err)
		return
	}

	ctx := c.Request.Context()

	err = h.apply(ctx, func() error {
		switch event.Op {
		case OpInsert:
			if err := h.Caches.Rooms.Delete(ctx, event.New.ID); err != nil {
				return err
			}

			return h.setRoomScope(ctx, event.New)
		case OpUpdate:
			err := h.Caches.Rooms.Update(ctx, event.New.ID, func(cur *model.Room) (*model.Room, error) {
				cur.ConferenceID = event.New.ConferenceID
				cur.SubconferenceID = event.New.SubconferenceID
				cur.ManagedMode = event.New.ManagedMode

				return cur, nil
			}, false)
			if err != nil {
				return err
			}

			if event.Old != nil && !sameScope(event.Old, event.New) {
				if err := h.dropRoomScope(ctx, event.Old); err != nil {
					return err
				}
			}

			return h.setRoomScope(ctx, event.New)
		case OpDelete:
			if err := h.Caches.Rooms.Delete(ctx, event.Old.ID); err != nil {
				return err
			}

			if err := h.dropRoomScope(ctx, event.Old); err != nil {
				return err
			}

			return h.Caches.RoomMemberships.Invalidate(ctx, event.Old.ID)
		default:
			// Backfills remove the old row's scope entry but re-assert
			// the new row's, which may still exist in the source.
			if event.Old != nil {
				if err := h.Caches.Rooms.Delete(ctx, event.Old.ID); err != nil {
					return err
				}

				if err := h.dropRoomScope(ctx, event.Old); err != nil {
					return err
				}
			}

			if event.New != nil {
				if err := h.Caches.Rooms.Delete(ctx, event.New.ID); err != nil {
					return err
				}

				if err := h.setRoomScope(ctx, event.New); err != nil {
					return err
				}
			}

			return nil
		}
	})
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}

	ok(c)
}

func (h *Handlers) RoomMembership(c *gin.Context) {
	event, err := bindEvent[roomMembershipRow](c)
	if err != nil {
		badPayload(c, err)
		return
	}

	ctx := c.Request.Context()

	err = h.apply(ctx, func() error {
		switch event.Op {
		case OpInsert, OpUpdate:
			return h.Caches.RoomMemberships.SetField(ctx, event.New.RoomID, event.New.RegistrantID, event.New.Role)
		case OpDelete:
			return h.Caches.RoomMemberships.InvalidateField(ctx, event.Old.RoomID, event.Old.RegistrantID)
		default:
			for _, row := range []*roomMembershipRow{event.Old, event.New} {
				if row == nil {
					continue
				}

				if err := h.Caches.RoomMemberships.Invalidate(ctx, row.RoomID); err != nil {
					return err
				}
			}

			return nil
		}
	})
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}

	ok(c)
}

func (h *Handlers) setRoomScope(ctx context.Context, row *roomRow) error {
	if row.SubconferenceID != nil {
		return h.Caches.SubconferenceRooms.SetField(ctx, *row.SubconferenceID, row.ID, row.ManagedMode)
	}

	return h.Caches.ConferenceRooms.SetField(ctx, row.ConferenceID, row.ID, row.ManagedMode)
}

func (h *Handlers) dropRoomScope(ctx context.Context, row *roomRow) error {
	if row.SubconferenceID != nil {
		return h.Caches.SubconferenceRooms.InvalidateField(ctx, *row.SubconferenceID, row.ID)
	}

	return h.Caches.ConferenceRooms.InvalidateField(ctx, row.ConferenceID, row.ID)
}

func sameScope(a, b *roomRow) bool {
	if a.ConferenceID != b.ConferenceID {
		return false
	}

	if (a.SubconferenceID == nil) != (b.SubconferenceID == nil) {
		return false
	}

	return a.SubconferenceID == nil || *a.SubconferenceID == *b.SubconferenceID
}

// apply runs the cache mutation and logs the outcome; a failed
// invalidation is surfaced so the trigger retries the delivery.
func (h *Handlers) apply(ctx context.Context, fn func() error) error {
	if err := fn(); err != nil {
		log.Error(ctx, "sync: cache update failed", log.Cause(err))
		return err
	}

	return nil
}

// deleteEach deletes the given keys, skipping duplicates and empties.
func (h *Handlers) deleteEach(ctx context.Context, del func(context.Context, string, ...xcache.GetOption) error, ids ...string) error {
	seen := map[string]struct{}{}

	for _, id := range ids {
		if id == "" {
			continue
		}

		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}

		if err := del(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

// rowIDs extracts an id from whichever of old/new rows are present.
func rowIDs[R any](event *Event[R], id func(*R) string) []string {
	var ids []string

	if event.Old != nil {
		ids = append(ids, id(event.Old))
	}

	if event.New != nil {
		ids = append(ids, id(event.New))
	}

	return ids
}

func ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

var errMalformedPayload = errors.New("malformed event payload")

// badPayload logs the bind failure and answers with a generic message
// so row contents never leak back to the caller.
func badPayload(c *gin.Context, err error) {
	log.Error(c.Request.Context(), "sync: malformed event payload", log.Cause(err))
	middleware.AbortWithError(c, http.StatusInternalServerError, errMalformedPayload)
}
