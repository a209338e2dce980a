package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/state-handoff/internal/events"
	"github.com/rflorenc/state-handoff/internal/handoff"
	"github.com/rflorenc/state-handoff/internal/models"
)

// CreateInstanceRequest is the body of POST /api/instances.
type CreateInstanceRequest struct {
	Kind  string          `json:"kind"`
	Label string          `json:"label"`
	Msg   json.RawMessage `json:"msg"`
}

// MigrateRequest is the body of POST /api/instances/{addr}/migrate.
type MigrateRequest struct {
	Target models.Addr `json:"target"`
}

func (s *Server) ListCodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		handoff.SourceKind: s.Codes.Source,
		handoff.TargetKind: s.Codes.Target,
	})
}

func (s *Server) ListInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Host.Instances())
}

func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.Host.Lookup(chi.URLParam(r, "addr"))
	if !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	inst, err := s.Host.Instantiate(r.Context(), senderFrom(r.Context()), req.Kind, req.Label, req.Msg)
	if err != nil {
		s.writeHostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) ExecuteInstance(w http.ResponseWriter, r *http.Request) {
	msg, ok := readBody(w, r)
	if !ok {
		return
	}
	s.execute(w, r, s.instanceAddr(r), msg)
}

func (s *Server) QueryInstance(w http.ResponseWriter, r *http.Request) {
	msg, ok := readBody(w, r)
	if !ok {
		return
	}
	res, err := s.Host.Query(r.Context(), s.instanceAddr(r), msg)
	if err != nil {
		s.writeHostError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, res)
}

// MigrateInstance asks a source to hand off to the target instance named in
// the body, resolving the target's code hash from the registry.
func (s *Server) MigrateInstance(w http.ResponseWriter, r *http.Request) {
	addr := s.instanceAddr(r)
	if !s.requireKind(w, addr, handoff.SourceKind) {
		return
	}
	var req MigrateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	target, ok := s.Host.Lookup(string(req.Target))
	if !ok {
		writeError(w, http.StatusNotFound, "target instance not found")
		return
	}
	msg := handoff.Encode(handoff.SourceExecuteMsg{
		RequestMigration: &handoff.RequestMigration{Address: target.Address, CodeHash: target.CodeHash},
	})
	s.execute(w, r, addr, msg)
}

// PullInstance triggers the pull step on a target.
func (s *Server) PullInstance(w http.ResponseWriter, r *http.Request) {
	addr := s.instanceAddr(r)
	if !s.requireKind(w, addr, handoff.TargetKind) {
		return
	}
	s.execute(w, r, addr, handoff.Encode(handoff.TargetExecuteMsg{PullMigration: &struct{}{}}))
}

// ListEvents returns committed events of an instance, starting at the
// optional ?offset.
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	addr := s.instanceAddr(r)
	if _, ok := s.Host.Instance(addr); !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}
	evs := s.Feed.Since(addr, offset)
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, addr models.Addr, msg json.RawMessage) {
	resp, err := s.Host.Execute(r.Context(), senderFrom(r.Context()), addr, msg)
	if err != nil {
		s.writeHostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// instanceAddr resolves the {addr} path parameter, which may also be a
// label. Unknown references are passed through so the host reports them.
func (s *Server) instanceAddr(r *http.Request) models.Addr {
	ref := chi.URLParam(r, "addr")
	if inst, ok := s.Host.Lookup(ref); ok {
		return inst.Address
	}
	return models.Addr(ref)
}

func (s *Server) requireKind(w http.ResponseWriter, addr models.Addr, kind string) bool {
	inst, ok := s.Host.Instance(addr)
	if !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return false
	}
	if inst.Kind != kind {
		writeError(w, http.StatusBadRequest, "instance is a "+inst.Kind+", not a "+kind)
		return false
	}
	return true
}
