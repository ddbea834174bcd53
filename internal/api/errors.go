package api

import (
	"errors"
	"io"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError renders err as {error, code, details?} with the status its kind maps to
func respondError(c *gin.Context, err error) {
	respondErrorStatus(c, apperr.HTTPStatus(err), err)
}

func respondErrorStatus(c *gin.Context, status int, err error) {
	if status >= 500 {
		util.LoggerFromContext(c.Request.Context()).Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}

	body := gin.H{
		"error": err.Error(),
		"code":  apperr.CodeOf(err),
	}
	if details := apperr.DetailsOf(err); details != nil {
		body["details"] = details
	}
	c.JSON(status, body)
}

// bindJSON decodes the request body into req, answering 400 on failure
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, apperr.InvalidRequest("invalid request body: %v", err))
		return false
	}
	return true
}

// bindOptionalJSON is bindJSON for endpoints whose body may be omitted
func bindOptionalJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, apperr.InvalidRequest("invalid request body: %v", err))
		return false
	}
	return true
}
