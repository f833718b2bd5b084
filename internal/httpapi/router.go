// Package httpapi exposes ConversationCore over HTTP (§6): session
// lifecycle endpoints and the message-send endpoint, in both buffered-JSON
// and SSE-streaming shapes, following the teacher's router.go mux layout.
package httpapi

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"clinicalcore/internal/conversation"
	"clinicalcore/internal/sessionmgr"
)

// App wires the HTTP surface to a ConversationCore and SessionManager. ready
// gates /healthz and /readyz until MarkReady is called, the Go expression of
// the teacher's readiness-gated bootstrap: a single flag set once startup
// has finished. The other routes are not gated by it.
type App struct {
	core     *conversation.Core
	sessions *sessionmgr.Manager
	ready    atomic.Bool
}

// New builds an App. Call MarkReady once startup has completed.
func New(core *conversation.Core, sessions *sessionmgr.Manager) *App {
	return &App{core: core, sessions: sessions}
}

// MarkReady flips the readiness gate; /healthz and /readyz return 200 only
// after this is called.
func (a *App) MarkReady() { a.ready.Store(true) }

// Router builds the *http.ServeMux exposing this app's endpoints, using the
// Go 1.22+ method+pattern mux syntax and r.PathValue extraction (§6),
// following the teacher's agentd/router.go registration style.
func (a *App) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.healthzHandler)
	mux.HandleFunc("/readyz", a.readyzHandler)

	mux.HandleFunc("POST /sessions", a.createSessionHandler)
	mux.HandleFunc("GET /sessions", a.listSessionsHandler)
	mux.HandleFunc("DELETE /sessions/{id}", a.deleteSessionHandler)
	mux.HandleFunc("POST /sessions/{id}/messages", a.sendMessageHandler)
	mux.HandleFunc("POST /sessions/{id}/switch-agent", a.switchAgentHandler)

	return mux
}

func (a *App) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if !a.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintln(w, "ok")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !a.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintln(w, "ready")
}
