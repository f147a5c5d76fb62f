// Package httputil holds the small set of HTTP helpers shared by the
// coursetrail handlers.
//
// Responses:
//
//	httputil.WriteJSON(w, http.StatusOK, stats)
//	httputil.WriteBadRequest(w, "days must be positive")
//
// Request parsing:
//
//	var req RecordRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	from, err := httputil.ParseQueryTime(r, "from")
//
// Middleware:
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
