package api

import (
	"net/http"
	"strconv"
)

// parseLimit reads ?limit=, falling back to defaultLimit when it is missing,
// unparseable or outside of (0, maxLimit].
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > maxLimit {
		return defaultLimit
	}

	return limit
}
