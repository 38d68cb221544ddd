package main

import (
	"net/http"

	"go.uber.org/zap"

	httphandlers "findash/internal/interfaces/http"
	"findash/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", httphandlers.HandleHealth)

	user := middleware.UserFromHeader

	mux.Handle("/api/accounts/refresh", user(http.HandlerFunc(deps.SyncHandler.HandleRefresh)))
	mux.Handle("/api/transactions/sync", user(http.HandlerFunc(deps.SyncHandler.HandleSync)))
	mux.Handle("/api/institutions/{id}/duplicates", user(http.HandlerFunc(deps.DuplicateHandler.HandleDetect)))
	mux.Handle("/api/institutions/{id}/duplicates/merge", user(http.HandlerFunc(deps.DuplicateHandler.HandleMerge)))

	return middleware.Tracing(middleware.Logging(logger)(mux))
}
