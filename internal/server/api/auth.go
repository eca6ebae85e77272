package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/openconf/authhub/internal/authz"
	"github.com/openconf/authhub/internal/contexts"
	"github.com/openconf/authhub/internal/jwks"
	"github.com/openconf/authhub/internal/log"
)

type AuthHandlersParams struct {
	fx.In

	Verifier *jwks.Verifier
	Resolver *authz.Resolver
}

func NewAuthHandlers(params AuthHandlersParams) *AuthHandlers {
	return &AuthHandlers{
		Verifier: params.Verifier,
		Resolver: params.Resolver,
	}
}

// AuthHandlers implements the auth webhook the row-level-security
// engine calls before executing a query.
type AuthHandlers struct {
	Verifier *jwks.Verifier
	Resolver *authz.Resolver
}

// AuthRequest is the webhook POST body: the original request's headers
// as a flat map.
type AuthRequest struct {
	Headers map[string]string `json:"headers"`
}

// Authenticate resolves the caller's session variables. 200 returns the
// variables, 401 means the caller may not act in the requested mode,
// and 500 is reserved for infrastructure failures so the engine can
// tell denial from outage.
func (h *AuthHandlers) Authenticate(c *gin.Context) {
	var (
		ctx = c.Request.Context()
		req AuthRequest
	)

	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusInternalServerError, errors.New("invalid request format"))
		return
	}

	headers := http.Header{}
	for name, value := range req.Headers {
		headers.Set(name, value)
	}

	var verified authz.Verified

	if authorization := headers.Get("Authorization"); authorization != "" {
		userID, err := h.Verifier.VerifyBearer(ctx, authorization)

		switch {
		case err == nil:
			verified.UserID = userID
			ctx = contexts.WithVerifiedUserID(ctx, userID)
		case errors.Is(err, jwks.ErrInvalidToken):
			// A bad token downgrades to anonymous instead of failing the
			// request; the final role gate still denies anything that
			// required the identity.
			log.Debug(ctx, "auth: rejecting bearer token", log.Cause(err))
		default:
			contexts.AddError(ctx, err)
			JSONError(c, http.StatusInternalServerError, errors.New("token verification unavailable"))

			return
		}
	}

	session, err := h.Resolver.Resolve(ctx, verified, authz.RequestContextFromHeaders(headers.Get))
	if err != nil {
		contexts.AddError(ctx, err)
		JSONError(c, http.StatusInternalServerError, errors.New("authorization unavailable"))

		return
	}

	// Deny is an empty 401; the engine only inspects the status.
	if session == nil {
		_ = c.Error(errors.New("permission denied"))
		c.AbortWithStatus(http.StatusUnauthorized)

		return
	}

	c.JSON(http.StatusOK, session.Headers())
}
