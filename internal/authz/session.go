package authz

import (
	"fmt"
	"strings"
)

// Session-variable header names consumed by the row-level-security
// engine. Array-valued headers use the brace-delimited literal form it
// expects for set-typed session variables.
const (
	HeaderRole             = "X-Hasura-Role"
	HeaderUserID           = "X-Hasura-User-Id"
	HeaderRegistrantIDs    = "X-Hasura-Registrant-Ids"
	HeaderConferenceIDs    = "X-Hasura-Conference-Ids"
	HeaderSubconferenceIDs = "X-Hasura-Subconference-Ids"
	HeaderRoomIDs          = "X-Hasura-Room-Ids"
	HeaderMagicToken       = "X-Hasura-Magic-Token"
	HeaderInviteCode       = "X-Hasura-Invite-Code"
)

// Session is the set of claims a successful resolution may assert.
// Nil id slices mean the dimension was not resolved and its header is
// omitted; empty non-nil slices serialize as the empty set.
type Session struct {
	Role             Role
	UserID           string
	RegistrantIDs    []string
	ConferenceIDs    []string
	SubconferenceIDs []string
	RoomIDs          []string
	MagicToken       string
	InviteCode       string
}

// Headers serializes the session into the flat header map returned to
// the row-level-security layer.
func (s *Session) Headers() map[string]string {
	headers := map[string]string{
		HeaderRole: string(s.Role),
	}

	if s.UserID != "" {
		headers[HeaderUserID] = s.UserID
	}

	if s.MagicToken != "" {
		headers[HeaderMagicToken] = s.MagicToken
	}

	if s.InviteCode != "" {
		headers[HeaderInviteCode] = s.InviteCode
	}

	if s.RegistrantIDs != nil {
		headers[HeaderRegistrantIDs] = FormatIDArray(s.RegistrantIDs)
	}

	if s.ConferenceIDs != nil {
		headers[HeaderConferenceIDs] = FormatIDArray(s.ConferenceIDs)
	}

	if s.SubconferenceIDs != nil {
		headers[HeaderSubconferenceIDs] = FormatIDArray(s.SubconferenceIDs)
	}

	if s.RoomIDs != nil {
		headers[HeaderRoomIDs] = FormatIDArray(s.RoomIDs)
	}

	return headers
}

// FormatIDArray renders ids in the brace-delimited literal form, e.g.
// {"id1","id2"} and {} for the empty set.
func FormatIDArray(ids []string) string {
	if len(ids) == 0 {
		return "{}"
	}

	var sb strings.Builder

	sb.WriteByte('{')

	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}

		sb.WriteByte('"')
		sb.WriteString(id)
		sb.WriteByte('"')
	}

	sb.WriteByte('}')

	return sb.String()
}

// ParseIDArray parses the brace-delimited array literal. Elements may
// optionally be quoted. The exact textual form must round-trip through
// FormatIDArray since the downstream engine consumes it verbatim.
func ParseIDArray(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)

	if len(raw) < 2 || raw[0] != '{' || raw[len(raw)-1] != '}' {
		return nil, fmt.Errorf("malformed id array %q: missing braces", raw)
	}

	inner := raw[1 : len(raw)-1]
	if strings.TrimSpace(inner) == "" {
		return []string{}, nil
	}

	parts := strings.Split(inner, ",")
	ids := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)

		if strings.HasPrefix(part, `"`) {
			if len(part) < 2 || !strings.HasSuffix(part, `"`) {
				return nil, fmt.Errorf("malformed id array %q: unterminated quote", raw)
			}

			part = part[1 : len(part)-1]
		}

		if part == "" {
			return nil, fmt.Errorf("malformed id array %q: empty element", raw)
		}

		ids = append(ids, part)
	}

	return ids, nil
}
