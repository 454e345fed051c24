package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/trendsift/trendsift-backend/internal/http/response"
)

const headerTaskSignature = "X-Task-Signature"

// VerifySchedulerSignature gates the task invocation endpoint on the shared
// secret configured for the external scheduler. With no secret configured the
// endpoint only trusts in-cluster callers, so the request is rejected.
func VerifySchedulerSignature() gin.HandlerFunc {
	secret := strings.TrimSpace(os.Getenv("TASK_SIGNING_SECRET"))
	return func(c *gin.Context) {
		if secret == "" {
			response.RespondError(c, http.StatusForbidden, "scheduler_disabled", fmt.Errorf("task signing secret not configured"))
			c.Abort()
			return
		}
		got := strings.TrimSpace(c.GetHeader(headerTaskSignature))
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			response.RespondError(c, http.StatusUnauthorized, "invalid_signature", fmt.Errorf("task signature mismatch"))
			c.Abort()
			return
		}
		c.Next()
	}
}
