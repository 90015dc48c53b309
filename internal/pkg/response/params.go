package response

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

// ParamID reads a positive int64 path parameter, writing a 400 when it is
// missing or malformed.
func ParamID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("Invalid %s", name))
		return 0, false
	}
	return id, true
}

// QueryInt64s accepts both repeated keys and comma separated values.
func QueryInt64s(c *gin.Context, key string) ([]int64, error) {
	var out []int64
	for _, s := range QueryList(c, key) {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", key, s)
		}
		out = append(out, v)
	}
	return out, nil
}

func QueryList(c *gin.Context, key string) []string {
	var out []string
	for _, raw := range c.QueryArray(key) {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func QueryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", key, raw)
	}
	return v, nil
}

// QueryDate parses YYYY-MM-DD. An absent key yields nil.
func QueryDate(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s date %q, want YYYY-MM-DD", key, raw)
	}
	return &t, nil
}

// BadQuery writes a 400 for a malformed query parameter.
func BadQuery(c *gin.Context, err error) {
	CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
}

// BadBody writes the 400 used for undecodable request bodies.
func BadBody(c *gin.Context) {
	CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
}
