package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"cryptofolio/pkg/utils"
)

// Recovery перехватывает panic в handler, логирует stack trace и отвечает 500.
// Детали паники клиенту не отдаются.
func Recovery(logger *utils.Logger) func(http.Handler) http.Handler {
	log := logger.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic in http handler",
						utils.String("panic", fmt.Sprint(rec)),
						utils.String("path", r.URL.Path),
						utils.RequestID(RequestIDFromContext(r.Context())),
						utils.String("stack", string(debug.Stack())),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
