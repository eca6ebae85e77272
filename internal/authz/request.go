package authz

// Context header names the resolver reads from the inbound request.
const (
	HeaderAuthConferenceID    = "X-Auth-Conference-Id"
	HeaderAuthSubconferenceID = "X-Auth-Subconference-Id"
	HeaderAuthRoomID          = "X-Auth-Room-Id"
	HeaderAuthMagicToken      = "X-Auth-Magic-Token"
	HeaderAuthInviteCode      = "X-Auth-Invite-Code"
	HeaderAuthRole            = "X-Auth-Role"
	HeaderAuthIncludeRoomIDs  = "X-Auth-Include-Room-Ids"
)

// Verified carries the identity established by token verification.
// Everything else about the request is unverified caller input.
type Verified struct {
	UserID string
}

// RequestContext is the unverified request context. An empty
// RequestedRole means "the effective role the resolution computes".
type RequestContext struct {
	ConferenceID    string
	SubconferenceID string
	RoomID          string
	MagicToken      string
	InviteCode      string
	RequestedRole   Role
	IncludeRoomIDs  bool
}

// RequestContextFromHeaders extracts the request context from the
// forwarded request headers. Lookup must be case-insensitive per HTTP
// semantics; pass http.Header.Get or an equivalent.
func RequestContextFromHeaders(get func(string) string) RequestContext {
	return RequestContext{
		ConferenceID:    get(HeaderAuthConferenceID),
		SubconferenceID: get(HeaderAuthSubconferenceID),
		RoomID:          get(HeaderAuthRoomID),
		MagicToken:      get(HeaderAuthMagicToken),
		InviteCode:      get(HeaderAuthInviteCode),
		RequestedRole:   Role(get(HeaderAuthRole)),
		IncludeRoomIDs:  get(HeaderAuthIncludeRoomIDs) == "true",
	}
}
