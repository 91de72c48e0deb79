package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/metrolabs/busstop-api/internal/log"
)

// Recover converts handler panics into 500 responses. The panic value and
// stack are logged through base; onPanic, when non-nil, is invoked after
// logging (metrics hook).
func Recover(base log.Logger, onPanic func(method, route string)) func(http.Handler) http.Handler {
	if base == nil {
		base = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// http.ErrAbortHandler is the sanctioned way to abort a
				// response; let it propagate.
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}

				base.Error(r.Context(), err, "httpserver panic recovered",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				if onPanic != nil {
					onPanic(r.Method, r.URL.Path)
				}

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
