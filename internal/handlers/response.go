package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"campus-chat/internal/apperr"
)

// errorWriter renders classified errors as {"success": false, "message": ...}.
// Internal details are appended only when verbose is set.
type errorWriter struct {
	verbose bool
}

func (w errorWriter) writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("route", c.FullPath()).Interface("request_id", c.Value(requestIDContextKey)).Msg("request failed")
	}
	c.JSON(status, gin.H{"success": false, "message": apperr.MessageOf(err, w.verbose)})
}

func pathID(c *gin.Context, name string) (int, error) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return v, nil
}

func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return apperr.Validation("invalid request body: %s", err.Error())
	}
	return nil
}
