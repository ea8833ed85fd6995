package handler

import (
	"log/slog"
	"net/http"
)

// NewRouter registers every API route. Document and admin routes require a bearer token.
func NewRouter(documents *DocumentHandler, admin *AdminHandler, logger *slog.Logger) http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("POST /documents", documents.Upload)
	protected.HandleFunc("GET /documents/{id}", documents.GetDocument)
	protected.HandleFunc("PUT /documents/{id}", documents.UpdateDocument)
	protected.HandleFunc("DELETE /documents/{id}", documents.DeleteDocument)

	protected.HandleFunc("GET /admin/queue", admin.QueueStatus)
	protected.HandleFunc("GET /admin/dead-letters", admin.ListDeadLetters)
	protected.HandleFunc("GET /admin/dead-letters/export", admin.ExportDeadLetters)
	protected.HandleFunc("GET /admin/dead-letters/{id}", admin.GetDeadLetter)
	protected.HandleFunc("POST /admin/dead-letters/{id}/replay", admin.ReplayDeadLetter)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", admin.Health)
	mux.HandleFunc("GET /metrics", admin.GetMetrics)

	auth := RequireAuth(logger.With("component", "http"), protected)
	mux.Handle("/documents", auth)
	mux.Handle("/documents/", auth)
	mux.Handle("/admin/", auth)

	return cors(mux)
}

// cors sets permissive CORS headers and answers preflight requests
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
