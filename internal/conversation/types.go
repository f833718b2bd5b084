// Package conversation implements ConversationCore (C10): the end-to-end
// sendMessage pipeline described in §4.10 — session load, file/context
// reconciliation, metadata assembly, edge-case precheck, agent routing,
// streamed generation, and idempotent post-stream persistence.
package conversation

import (
	"time"

	"clinicalcore/internal/clinical"
	"clinicalcore/internal/routing"
	"clinicalcore/internal/session"
)

// FrameType names one of the wire-protocol event types a streaming
// SendMessage emits (§6): "routing" is always emitted before the first
// "token"; "end" always terminates the sequence, carrying usage totals.
type FrameType string

const (
	FrameRouting   FrameType = "routing"
	FrameToken     FrameType = "token"
	FrameGrounding FrameType = "grounding"
	FrameBullet    FrameType = "bullet"
	FrameError     FrameType = "error"
	FrameEnd       FrameType = "end"
)

// Frame is one event of the lazy, finite, non-restartable stream SendMessage
// returns when UseStreaming is set (§6).
type Frame struct {
	Type FrameType
	// Token carries FrameToken's text delta.
	Token string
	// GroundingURL carries FrameGrounding's URL.
	GroundingURL string
	// Bullet carries FrameBullet's reasoning bullet text.
	Bullet string
	// Routing carries FrameRouting's decision.
	Routing *routing.RoutingDecision
	// Usage carries FrameEnd's totals.
	Usage *Usage
	// Err carries FrameError's cause.
	Err error
}

// Usage is the final usage total a stream's "end" frame carries (§6).
type Usage struct {
	TokensIn   int
	TokensOut  int
	TotalCost  float64
	Model      string
	Incomplete bool
}

// SendMessageRequest is ConversationCore's single entry point input (§4.10).
type SendMessageRequest struct {
	SessionID string
	// UserID and Mode seed a new session when SessionID does not yet exist.
	UserID string
	Mode   string

	Message        string
	UseStreaming   bool
	SuggestedAgent string

	// SessionMeta seeds/patches ClinicalContext on first creation (§4.11).
	SessionMeta *PatientSessionMeta

	// Timezone is an IANA zone name used for C7's temporal bucketing.
	Timezone string

	// PendingFileRefs are newly-uploaded file ids for this turn (external
	// file service, out of scope — §1). Empty means "reuse the last
	// message's file references" per §4.10 step 3.
	PendingFileRefs []string

	// SummaryText carries a caller-held patient summary (§4.10 step 5).
	// SendMessage does not read it.
	SummaryText string

	// BulletSink/AgentSelectedSink are optional bounded, drop-oldest sinks
	// (§9) a caller can supply to receive reasoning-bullet and
	// agent-selected side-channel updates during generation.
	BulletSink        *Sink[string]
	AgentSelectedSink *Sink[string]
}

// PatientSessionMeta mirrors §4.11's patientMeta input.
type PatientSessionMeta struct {
	PatientID             string
	SessionType           string
	ConfidentialityLevel  string
}

// SendMessageResult is SendMessage's non-streaming (or post-stream-summary)
// output (§4.10).
type SendMessageResult struct {
	Response         string
	Agent            string
	GroundingURLs    []string
	ReasoningBullets []string
	RoutingInfo      routing.RoutingDecision
	UpdatedState     session.Session
	Metrics          *InteractionMetrics
	// StreamFrames is set only when the caller requested streaming. On that
	// path Response, GroundingURLs, ReasoningBullets and Metrics stay empty
	// and the content arrives as frames instead; UpdatedState is the copy
	// taken when the stream starts, without the assistant reply, which is
	// persisted to the store before the channel closes.
	StreamFrames <-chan Frame
}

// InteractionMetrics reports the generation's cost/latency facts (§4.10 —
// returned as an optional interactionMetrics alongside response/updatedState).
type InteractionMetrics struct {
	TokensIn       int
	TokensOut      int
	Model          string
	Latency        time.Duration
	Retries        int
	CompressionHit bool
}

// turnContext bundles the per-turn working state threaded through the
// pipeline stages so stage functions stay narrow and testable.
type turnContext struct {
	now               time.Time
	sess              session.Session
	compressedHistory []session.Message
	metadata          clinical.OperationalMetadata
	recentSwitches    int
	forceStandard     bool
	decision          routing.RoutingDecision
}
