package middleware

import (
	"net/http"
	"strings"

	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/storage"
)

// ResolveRole дополняет контекст ролью вызывающего из его профиля, если auth-сервис её не вернул.
// Нет профиля -> 403, без роли нельзя выбрать сторону переписки.
func ResolveRole(profiles storage.ProfileStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r.Context())
			if userID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if GetRole(r.Context()).Valid() {
				next.ServeHTTP(w, r)
				return
			}
			list, err := profiles.GetByIDs(r.Context(), []string{userID})
			if err != nil {
				logger.Errorf("resolve role user=%s: %v", userID, err)
				http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				return
			}
			if len(list) == 0 || !list[0].Role.Valid() {
				http.Error(w, `{"error":"profile not found"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, list[0].Role)))
		})
	}
}

// DevIdentity только для -dev без AUTH_SERVICE_URL. Пользователь берётся из X-User-Id
// (или ?user_id=), роль только из заголовка X-User-Role: ?role= в API означает фильтр,
// а не заявку на роль. Без заголовка роль определяет ResolveRole по профилю.
func DevIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(headerOrQuery(r, "X-User-Id", "user_id"))
		if userID == "" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		role := model.Role(strings.ToLower(strings.TrimSpace(r.Header.Get("X-User-Role"))))
		if !role.Valid() {
			role = ""
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, role)))
	})
}
