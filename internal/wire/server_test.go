package wire

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/cyclesched/internal/broker"
	"github.com/swarmguard/cyclesched/internal/cycling"
	"github.com/swarmguard/cyclesched/internal/sched"
	"github.com/swarmguard/cyclesched/internal/taskstate"
)

func newTestServer(t *testing.T) (*Server, *taskstate.Definition) {
	t.Helper()
	def := &taskstate.Definition{Name: "foo"}
	engine := &sched.Engine{
		Family:   cycling.IntegerFamily,
		Defs:     map[string]*taskstate.Definition{"foo": def},
		Registry: taskstate.NewRegistry(),
		Broker:   broker.New(),
	}
	return NewServer(engine, cycling.IntegerFamily, nil), def
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMutateInsertThenStatus(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postJSON(t, h, "/v1/mutate", MutateRequest{Action: "insert", Name: "foo", Point: "1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var mr MutateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mr))
	require.True(t, mr.OK)
	require.NotEmpty(t, mr.RequestID)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	statusRec := httptest.NewRecorder()
	h.ServeHTTP(statusRec, req)
	require.Equal(t, http.StatusOK, statusRec.Code)
	var sr StatusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &sr))
	require.Len(t, sr.Tasks, 1)
	require.Equal(t, "foo%1", sr.Tasks[0].ID)
}

func TestMutateUnknownTaskReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	rec := postJSON(t, h, "/v1/mutate", MutateRequest{Action: "kill", IDs: []string{"foo%9"}})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMutateUnknownActionReturnsConflict(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	rec := postJSON(t, h, "/v1/mutate", MutateRequest{Action: "nonsense"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestMutateSetOutputsMarksFinished(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postJSON(t, h, "/v1/mutate", MutateRequest{Action: "insert", Name: "foo", Point: "1"})
	require.Equal(t, http.StatusOK, rec.Code)

	flow := 3
	rec = postJSON(t, h, "/v1/mutate", MutateRequest{
		Action:  "set_outputs",
		IDs:     []string{"foo%1"},
		Outputs: []string{"started", "completed", "finished"},
		Flow:    &flow,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var mr MutateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mr))
	require.True(t, mr.OK)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	statusRec := httptest.NewRecorder()
	h.ServeHTTP(statusRec, req)
	var sr StatusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &sr))
	require.Equal(t, taskstate.Finished, sr.Tasks[0].State)
}

func TestMutatePauseResume(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postJSON(t, h, "/v1/mutate", MutateRequest{Action: "pause"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, s.Engine.IsPaused())

	rec = postJSON(t, h, "/v1/mutate", MutateRequest{Action: "resume"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, s.Engine.IsPaused())
}

func TestMutateStopNow(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postJSON(t, h, "/v1/mutate", MutateRequest{Action: "stop", Mode: "now"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, s.Engine.ShouldStop())
}

func TestMessageEndpointQueuesAgainstInbox(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postJSON(t, h, "/v1/mutate", MutateRequest{Action: "insert", Name: "foo", Point: "1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, h, "/v1/message", MessageRequest{ID: "foo%1", Priority: "NORMAL", Text: "foo%1 some custom note"})
	require.Equal(t, http.StatusOK, rec.Code)
	var mr MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mr))
	require.True(t, mr.OK)
}

func TestMessageEndpointUnknownIDReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := postJSON(t, s.Handler(), "/v1/message", MessageRequest{ID: "foo%9", Text: "foo%9 started"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
