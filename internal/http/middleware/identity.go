package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/trendsift/trendsift-backend/internal/http/response"
	"github.com/trendsift/trendsift-backend/internal/platform/ctxutil"
)

const headerUserID = "X-User-Id"

// RequireUser attaches the gateway-resolved caller identity to the request
// context. Requests that reach this service without one are rejected; token
// verification itself is the gateway's job.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerUserID))
		if raw == "" {
			response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("missing %s header", headerUserID))
			c.Abort()
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusUnauthorized, "invalid_user", fmt.Errorf("malformed %s header", headerUserID))
			c.Abort()
			return
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestUserID returns the identity RequireUser attached.
func RequestUserID(c *gin.Context) (uuid.UUID, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		return uuid.Nil, false
	}
	return rd.UserID, true
}
