package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Accepted sends a 202 for work handed to a background worker.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Fail aborts with status and an error message.
func Fail(c *gin.Context, status int, err string) {
	c.AbortWithStatusJSON(status, Body{Success: false, Error: err})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) { Fail(c, http.StatusBadRequest, err) }

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) { Fail(c, http.StatusUnauthorized, err) }

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) { Fail(c, http.StatusForbidden, err) }

// NotFound sends 404.
func NotFound(c *gin.Context, err string) { Fail(c, http.StatusNotFound, err) }

// Conflict sends 409.
func Conflict(c *gin.Context, err string) { Fail(c, http.StatusConflict, err) }

// BadGateway sends 502 when a vendor call the request depends on fails.
func BadGateway(c *gin.Context, err string) { Fail(c, http.StatusBadGateway, err) }

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) { Fail(c, http.StatusServiceUnavailable, err) }

// Internal sends 500.
func Internal(c *gin.Context, err string) { Fail(c, http.StatusInternalServerError, err) }
