package ginutil

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// QueryInt extracts an integer from query parameters with default value
func QueryInt(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// QueryFloat extracts a float from query parameters.
// ok is false when the key is missing or not a number
func QueryFloat(c *gin.Context, key string) (value float64, ok bool) {
	valueStr := c.Query(key)
	if valueStr == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// QueryBool extracts a bool from query parameters with default value
func QueryBool(c *gin.Context, key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(c.Query(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// ParamUint64 extracts a uint64 from path parameters
// Returns the parsed value and error if parsing fails
func ParamUint64(c *gin.Context, key string) (uint64, error) {
	valueStr := c.Param(key)
	return strconv.ParseUint(valueStr, 10, 64)
}

// Pagination page/limit 쿼리 파싱 (limit 최대 maxLimit)
func Pagination(c *gin.Context, defaultLimit, maxLimit int) (page, limit int) {
	page = QueryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit = QueryInt(c, "limit", defaultLimit)
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}
