package telemetry

import (
	"expvar"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

var (
	updateRunsTotal          = expvar.NewInt("update_runs_total")
	updateRunsCancelledTotal = expvar.NewInt("update_runs_cancelled_total")
	updateTasksTotal         = expvar.NewInt("update_tasks_total")
	updateTaskErrorsTotal    = expvar.NewInt("update_task_errors_total")
	dirtyFlushesTotal        = expvar.NewInt("dirty_flushes_total")
	lastRunDurationMs        = expvar.NewInt("update_last_run_duration_ms")
	apiRequestsTotal         = expvar.NewInt("api_requests_total")
	apiRequestsByRoute       = expvar.NewMap("api_requests_by_route")
)

func RunStarted()   { updateRunsTotal.Add(1) }
func RunCancelled() { updateRunsCancelledTotal.Add(1) }
func TaskDone()     { updateTasksTotal.Add(1) }
func DirtyFlushed() { dirtyFlushesTotal.Add(1) }

func TaskErrors(n int) { updateTaskErrorsTotal.Add(int64(n)) }

func RunFinished(d time.Duration) { lastRunDurationMs.Set(d.Milliseconds()) }

// Handler serves the expvar page.
func Handler() http.Handler { return expvar.Handler() }

// RequestCounter counts API requests per chi route pattern.
func RequestCounter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		apiRequestsTotal.Add(1)
		apiRequestsByRoute.Add(r.Method+" "+route, 1)
	})
}
