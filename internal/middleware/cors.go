package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSPolicy describes which browsers may call the API. An empty or "*" origin
// list allows any origin.
type CORSPolicy struct {
	Origins []string
	Methods []string
	Headers []string
	MaxAge  time.Duration
}

// CORS answers preflight requests and tags responses for allowed origins.
func CORS(p CORSPolicy) gin.HandlerFunc {
	origins := make(map[string]bool, len(p.Origins))
	for _, o := range p.Origins {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}
	methods := strings.Join(p.Methods, ", ")
	headers := strings.Join(p.Headers, ", ")
	maxAge := strconv.Itoa(int(p.MaxAge / time.Second))

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allow := ""
		switch {
		case len(origins) == 0 || origins["*"]:
			allow = "*"
		case origin != "" && origins[origin]:
			allow = origin
			c.Header("Vary", "Origin")
		}
		if allow != "" {
			c.Header("Access-Control-Allow-Origin", allow)
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Max-Age", maxAge)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
