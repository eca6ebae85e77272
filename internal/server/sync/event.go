// Package sync receives data-change events from the source of truth and
// patches or invalidates the affected cache entries.
package sync

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
)

// Trigger operation names, matching the event-trigger payload of the
// data layer.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
	OpManual = "MANUAL"
)

// Event is one row-change notification. Old is set for UPDATE and
// DELETE, New for INSERT and UPDATE. MANUAL events carry whatever the
// operator selected.
type Event[R any] struct {
	Op  string
	Old *R
	New *R
}

type eventPayload struct {
	Event struct {
		Op   string `json:"op"`
		Data struct {
			Old json.RawMessage `json:"old"`
			New json.RawMessage `json:"new"`
		} `json:"data"`
	} `json:"event"`
	Table struct {
		Schema string `json:"schema"`
		Name   string `json:"name"`
	} `json:"table"`
}

func bindEvent[R any](c *gin.Context) (*Event[R], error) {
	var payload eventPayload

	if err := c.ShouldBindJSON(&payload); err != nil {
		return nil, fmt.Errorf("invalid event payload: %w", err)
	}

	event := &Event[R]{Op: payload.Event.Op}

	if raw := payload.Event.Data.Old; len(raw) > 0 && string(raw) != "null" {
		event.Old = new(R)
		if err := json.Unmarshal(raw, event.Old); err != nil {
			return nil, fmt.Errorf("invalid old row: %w", err)
		}
	}

	if raw := payload.Event.Data.New; len(raw) > 0 && string(raw) != "null" {
		event.New = new(R)
		if err := json.Unmarshal(raw, event.New); err != nil {
			return nil, fmt.Errorf("invalid new row: %w", err)
		}
	}

	switch event.Op {
	case OpInsert, OpUpdate:
		if event.New == nil {
			return nil, fmt.Errorf("missing new row for %s", event.Op)
		}
	case OpDelete:
		if event.Old == nil {
			return nil, fmt.Errorf("missing old row for %s", event.Op)
		}
	case OpManual:
		if event.Old == nil && event.New == nil {
			return nil, fmt.Errorf("missing row for %s", event.Op)
		}
	default:
		return nil, fmt.Errorf("unknown event op %q", event.Op)
	}

	return event, nil
}
