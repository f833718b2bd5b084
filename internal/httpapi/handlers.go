package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"clinicalcore/internal/conversation"
	"clinicalcore/internal/coreerr"
	"clinicalcore/internal/observability"
	"clinicalcore/internal/session"
	"clinicalcore/internal/sessionmgr"
)

// createSessionRequest is the POST /sessions body.
type createSessionRequest struct {
	UserID               string `json:"userId"`
	Mode                 string `json:"mode"`
	Agent                string `json:"agent"`
	PatientID            string `json:"patientId"`
	SessionType          string `json:"sessionType"`
	ConfidentialityLevel string `json:"confidentialityLevel"`
}

func (a *App) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, coreerr.Wrap(coreerr.ErrInternal, err, "invalid request body"))
		return
	}
	var meta *sessionmgr.PatientMeta
	if req.PatientID != "" {
		meta = &sessionmgr.PatientMeta{
			PatientID:            req.PatientID,
			SessionType:          req.SessionType,
			ConfidentialityLevel: req.ConfidentialityLevel,
		}
	}
	sess, err := a.sessions.CreateSession(r.Context(), req.UserID, req.Mode, req.Agent, "", meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *App) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	page, err := a.sessionStore().ListByUser(r.Context(), userID, pageSize, r.URL.Query().Get("pageToken"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *App) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	if err := a.sessions.DeleteSession(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendMessageRequest is the POST /sessions/{id}/messages body.
type sendMessageRequest struct {
	UserID          string                  `json:"userId"`
	Mode            string                  `json:"mode"`
	Message         string                  `json:"message"`
	SuggestedAgent  string                  `json:"suggestedAgent"`
	Timezone        string                  `json:"timezone"`
	PendingFileRefs []string                `json:"pendingFileRefs"`
	Stream          bool                    `json:"stream"`
	PatientMeta     *sendMessagePatientMeta `json:"patientMeta"`
}

type sendMessagePatientMeta struct {
	PatientID            string `json:"patientId"`
	SessionType          string `json:"sessionType"`
	ConfidentialityLevel string `json:"confidentialityLevel"`
}

func (a *App) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	var body sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, coreerr.Wrap(coreerr.ErrInternal, err, "invalid request body"))
		return
	}

	useStreaming := body.Stream || r.Header.Get("Accept") == "text/event-stream"

	req := conversation.SendMessageRequest{
		SessionID:       sessionID,
		UserID:          body.UserID,
		Mode:            body.Mode,
		Message:         body.Message,
		UseStreaming:    useStreaming,
		SuggestedAgent:  body.SuggestedAgent,
		Timezone:        body.Timezone,
		PendingFileRefs: body.PendingFileRefs,
	}
	if body.PatientMeta != nil {
		req.SessionMeta = &conversation.PatientSessionMeta{
			PatientID:            body.PatientMeta.PatientID,
			SessionType:          body.PatientMeta.SessionType,
			ConfidentialityLevel: body.PatientMeta.ConfidentialityLevel,
		}
	}

	result, err := a.core.SendMessage(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !useStreaming {
		writeJSON(w, http.StatusOK, map[string]any{
			"response":     result.Response,
			"routingInfo":  result.RoutingInfo,
			"updatedState": result.UpdatedState,
		})
		return
	}

	streamSSE(w, r, result.StreamFrames)
}

func streamSSE(w http.ResponseWriter, r *http.Request, frames <-chan conversation.Frame) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var mu sync.Mutex
	writeSSE := func(eventType string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, b)
		fl.Flush()
	}

	ctx := r.Context()
	stopKeepalive := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopKeepalive:
				return
			case <-ticker.C:
				mu.Lock()
				fmt.Fprint(w, ": keepalive\n\n")
				fl.Flush()
				mu.Unlock()
			}
		}
	}()
	defer close(stopKeepalive)

	for frame := range frames {
		switch frame.Type {
		case conversation.FrameRouting:
			writeSSE("routing", frame.Routing)
		case conversation.FrameToken:
			writeSSE("token", map[string]string{"delta": frame.Token})
		case conversation.FrameGrounding:
			writeSSE("grounding", map[string]string{"url": frame.GroundingURL})
		case conversation.FrameBullet:
			writeSSE("bullet", map[string]string{"text": frame.Bullet})
		case conversation.FrameError:
			writeSSE("error", map[string]string{"message": frame.Err.Error()})
		case conversation.FrameEnd:
			writeSSE("end", frame.Usage)
		}
	}
}

// switchAgentRequest is the POST /sessions/{id}/switch-agent body — an
// explicit, out-of-band continuity transition (§4.8), distinct from the
// implicit switch ConversationCore performs mid-turn when routing selects a
// new agent.
type switchAgentRequest struct {
	Agent string `json:"agent"`
}

func (a *App) switchAgentHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	var req switchAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, coreerr.Wrap(coreerr.ErrInternal, err, "invalid request body"))
		return
	}
	release := a.sessions.Lock(sessionID)
	defer release()

	sess, err := a.sessionStore().Load(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess.ActiveAgent = req.Agent
	if err := a.sessionStore().Save(r.Context(), sess); err != nil {
		writeError(w, r, err)
		return
	}
	a.sessions.SwitchAgent(sessionID, req.Agent, nil)
	writeJSON(w, http.StatusOK, sess)
}

func (a *App) sessionStore() session.Store {
	return a.core.Store()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var ce *coreerr.CoreError
	if errors.As(err, &ce) {
		switch ce.Code {
		case coreerr.CodeNotFound:
			status = http.StatusNotFound
		case coreerr.CodeConflict:
			status = http.StatusConflict
		case coreerr.CodeInputTooLarge:
			status = http.StatusRequestEntityTooLarge
		case coreerr.CodeRateLimited:
			status = http.StatusTooManyRequests
		case coreerr.CodePolicyBlocked:
			status = http.StatusForbidden
		case coreerr.CodeCancelled:
			status = 499
		}
	}
	observability.LoggerWithTrace(r.Context()).Error().Err(err).Msg("httpapi_request_failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
