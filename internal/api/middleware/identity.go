package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// UserIDHeader - заголовок с идентификатором пользователя.
// Аутентификацию выполняет gateway перед сервисом.
const UserIDHeader = "X-User-ID"

// RequestIDHeader - заголовок корреляции запроса
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const (
	userIDKey ctxKey = iota
	requestIDKey
)

// Identity извлекает X-User-ID и кладёт его в context.
// Отсутствующий или некорректный заголовок - 401.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserIDHeader)
		userID, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || userID <= 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing or invalid X-User-ID header","code":"UNAUTHORIZED"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID возвращает context с идентификатором пользователя
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext возвращает идентификатор, установленный Identity
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok && id > 0
}

// RequestID присваивает запросу идентификатор (входящий X-Request-ID или новый uuid)
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestIDFromContext возвращает идентификатор запроса или ""
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
