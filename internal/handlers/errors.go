package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"nkit/internal/fault"
	"nkit/internal/repositories"
	"nkit/internal/responses"
	"nkit/internal/services"
)

var errInvalidBody = errors.New("invalid request body")

func statusOf(err error) int {
	switch {
	case errors.Is(err, services.ErrUnknownEntity),
		errors.Is(err, repositories.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errInvalidBody),
		errors.Is(err, repositories.ErrUnknownColumn),
		errors.Is(err, repositories.ErrInvalidValue),
		errors.Is(err, repositories.ErrNoKey),
		errors.Is(err, services.ErrInvalidSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotInitialized):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail maps err to a status code. Server errors are reported to the fault
// handler and the client gets the incident ID.
func fail(c *gin.Context, faults *fault.Handler, err error, message string) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError && faults != nil {
		incident := faults.Report(c.Request.Context(), err, c.Request.Method+" "+c.FullPath())
		message = fmt.Sprintf("%s (incident %s)", message, incident.ID)
	}
	responses.Fail(c, status, err, message)
}
