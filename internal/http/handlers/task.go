package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/trendsift/trendsift-backend/internal/http/response"
	"github.com/trendsift/trendsift-backend/internal/platform/httpx"
	"github.com/trendsift/trendsift-backend/internal/services"
)

// TaskHandler receives the external scheduler's delivery callbacks. The
// contract is plain HTTP: 2xx settles the delivery, anything else makes the
// scheduler redeliver with its own backoff.
type TaskHandler struct {
	dispatcher *services.Dispatcher
}

func NewTaskHandler(dispatcher *services.Dispatcher) *TaskHandler {
	return &TaskHandler{dispatcher: dispatcher}
}

// POST /api/tasks/invoke
func (h *TaskHandler) Invoke(c *gin.Context) {
	var payload services.TaskPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		// Malformed bodies will never become valid; do not invite redelivery.
		response.RespondError(c, http.StatusBadRequest, "invalid_payload", err)
		return
	}

	if err := h.dispatcher.HandleTask(c.Request.Context(), payload); err != nil {
		if wait, ok := httpx.AdvisedWait(err); ok {
			c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())))
		}
		response.RespondError(c, http.StatusServiceUnavailable, "task_retry", err)
		return
	}
	response.RespondOK(c, gin.H{"status": "ok"})
}
