package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/promatch/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, status, user и время выполнения
// (асинхронно, не блокирует). 5xx пишутся как ошибки, остальные на уровне debug.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		// user_id кладёт auth-middleware ниже по цепочке, в r.Context() его нет
		line := "http %s %s status=%d bytes=%d req=%s duration_ms=%d"
		args := []any{r.Method, r.URL.Path, status, ww.BytesWritten(), chimw.GetReqID(r.Context()), time.Since(start).Milliseconds()}
		if status >= http.StatusInternalServerError {
			logger.Errorf(line, args...)
			return
		}
		logger.Debugf(line, args...)
	})
}
