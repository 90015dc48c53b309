package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// CORS allows the dashboard origins. An empty list falls back to the local
// development origins; "*" allows any origin without credentials.
func CORS(origins []string) gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Content-Length", "Authorization", "Accept", "X-Requested-With", "X-Request-ID"}
	config.MaxAge = 10 * time.Minute

	switch {
	case len(origins) == 1 && origins[0] == "*":
		config.AllowAllOrigins = true
	case len(origins) == 0:
		config.AllowOrigins = defaultOrigins
		config.AllowCredentials = true
	default:
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	return cors.New(config)
}
