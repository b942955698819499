// Package wire exposes the scheduler engine over HTTP+JSON: a single
// POST /v1/mutate endpoint for every admin operation (reset, insert,
// kill, purge, spawn-and-die, hold), a GET /v1/status for the current
// task summaries, and GET /health.
//
// Grounded on services/orchestrator/main.go's mux-of-handlers shape
// (encoding/json request/response, http.Error for 4xx, a single
// ServeMux) generalized from that service's workflow-run API to this
// engine's mutate/status verbs.
package wire

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/cyclesched/internal/cycling"
	"github.com/swarmguard/cyclesched/internal/errs"
	"github.com/swarmguard/cyclesched/internal/sched"
	"github.com/swarmguard/cyclesched/internal/taskstate"
)

// Server wraps a running Engine with its HTTP surface.
type Server struct {
	Engine         *sched.Engine
	Family         cycling.Family
	MetricsHandler http.Handler

	mux *http.ServeMux
}

// MutateRequest is the envelope for every admin operation /v1/mutate
// accepts. Only the fields the chosen Action needs are read.
type MutateRequest struct {
	RequestID string   `json:"request_id,omitempty"`
	Action    string   `json:"action"`
	ID        string   `json:"id,omitempty"`
	IDs       []string `json:"ids,omitempty"`
	Name      string   `json:"name,omitempty"`
	Point     string   `json:"point,omitempty"`
	Stop      string   `json:"stop,omitempty"`
	ResetKind string   `json:"reset_kind,omitempty"`

	// Outputs/Flow support the set_outputs action; Mode supports stop.
	Outputs []string `json:"outputs,omitempty"`
	Flow    *int     `json:"flow,omitempty"`
	Mode    string   `json:"mode,omitempty"`
}

// MessageRequest is the /v1/message envelope: a job-status report against
// one task instance's inbox, distinct from an admin mutation.
type MessageRequest struct {
	ID       string `json:"id"`
	Priority string `json:"priority,omitempty"`
	Text     string `json:"text"`
}

// MessageResponse reports the outcome of a /v1/message call.
type MessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// MutateResponse reports the outcome of a /v1/mutate call.
type MutateResponse struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// StatusResponse is the /v1/status payload.
type StatusResponse struct {
	WorkflowDirty bool               `json:"workflow_dirty"`
	Tasks         []taskstate.Summary `json:"tasks"`
}

// NewServer builds the HTTP mux for engine.
func NewServer(engine *sched.Engine, family cycling.Family, metricsHandler http.Handler) *Server {
	s := &Server{Engine: engine, Family: family, MetricsHandler: metricsHandler}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/mutate", s.handleMutate)
	mux.HandleFunc("/v1/message", s.handleMessage)
	mux.HandleFunc("/v1/status", s.handleStatus)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	s.mux = mux
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{WorkflowDirty: s.Engine.Registry.TakeDirty()}
	for _, inst := range s.Engine.Instances {
		resp.Tasks = append(resp.Tasks, inst.GetSummary())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req MutateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	err := s.dispatch(ctx, req)
	resp := MutateResponse{RequestID: req.RequestID, Action: req.Action, OK: err == nil}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = statusFor(err)
		slog.Warn("mutate failed", "request_id", req.RequestID, "action", req.Action, "error", err)
	} else {
		slog.Info("mutate applied", "request_id", req.RequestID, "action", req.Action)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleMessage is the job-status report endpoint: an external job or
// agent posts (id, priority, text) and it is queued to that instance's
// inbox, applied at the start of the engine's next tick — not an admin
// mutation, so it gets its own endpoint rather than a /v1/mutate action.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	err := s.Engine.Report(req.ID, req.Priority, req.Text)
	resp := MessageResponse{OK: err == nil}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = statusFor(err)
		slog.Warn("message rejected", "id", req.ID, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func statusFor(err error) int {
	var kinder interface{ Kind() string }
	if !asKinder(err, &kinder) {
		return http.StatusInternalServerError
	}
	switch kinder.Kind() {
	case string(errs.KindTaskNotFound):
		return http.StatusNotFound
	case string(errs.KindDuplicateTask), string(errs.KindConfigError):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func asKinder(err error, target *interface{ Kind() string }) bool {
	type kindErr interface{ Kind() string }
	for err != nil {
		if k, ok := err.(kindErr); ok {
			*target = k
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (s *Server) dispatch(ctx context.Context, req MutateRequest) error {
	switch req.Action {
	case "reset":
		kind, err := parseResetKind(req.ResetKind)
		if err != nil {
			return err
		}
		return s.Engine.Reset(ctx, req.ID, kind)
	case "insert":
		point, err := cycling.ParsePoint(s.Family, req.Point)
		if err != nil {
			return err
		}
		return s.Engine.Insert(ctx, req.Name, point)
	case "kill":
		return s.Engine.Kill(ctx, req.IDs)
	case "kill_cycle":
		point, err := cycling.ParsePoint(s.Family, req.Point)
		if err != nil {
			return err
		}
		return s.Engine.KillCycle(ctx, point)
	case "purge":
		stop, err := cycling.ParsePoint(s.Family, req.Stop)
		if err != nil {
			return err
		}
		return s.Engine.Purge(ctx, req.ID, stop)
	case "spawn_and_die":
		return s.Engine.SpawnAndDie(ctx, req.ID)
	case "spawn_and_die_cycle":
		point, err := cycling.ParsePoint(s.Family, req.Point)
		if err != nil {
			return err
		}
		return s.Engine.SpawnAndDieCycle(ctx, point)
	case "hold":
		return s.Engine.SetSystemHold(ctx)
	case "unhold":
		return s.Engine.UnsetSystemHold(ctx)
	case "will_pause_at":
		point, err := cycling.ParsePoint(s.Family, req.Point)
		if err != nil {
			return err
		}
		return s.Engine.WillPauseAt(ctx, point)
	case "set_outputs":
		return s.Engine.SetOutputs(ctx, req.IDs, req.Outputs, req.Flow)
	case "pause":
		return s.Engine.Pause(ctx)
	case "resume":
		return s.Engine.Resume(ctx)
	case "stop":
		mode, err := parseStopMode(req.Mode)
		if err != nil {
			return err
		}
		return s.Engine.Stop(ctx, mode)
	default:
		return errs.New(errs.KindConfigError, req.Action).WithHint("unknown mutate action")
	}
}

func parseStopMode(m string) (sched.StopMode, error) {
	switch m {
	case "", "clean":
		return sched.StopModeClean, nil
	case "now":
		return sched.StopModeNow, nil
	default:
		return "", errs.New(errs.KindConfigError, m).WithHint("mode must be clean or now")
	}
}

func parseResetKind(s string) (sched.ResetKind, error) {
	switch s {
	case "", "waiting":
		return sched.ResetToWaiting, nil
	case "ready":
		return sched.ResetToReady, nil
	case "finished":
		return sched.ResetToFinished, nil
	default:
		return 0, errs.New(errs.KindConfigError, s).WithHint("reset_kind must be one of waiting, ready, finished")
	}
}
