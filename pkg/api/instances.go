package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

var knownStatuses = map[types.InstanceStatus]bool{
	types.InstanceStatusPending:      true,
	types.InstanceStatusProvisioning: true,
	types.InstanceStatusRunning:      true,
	types.InstanceStatusFailed:       true,
	types.InstanceStatusSuspending:   true,
	types.InstanceStatusSuspended:    true,
	types.InstanceStatusResuming:     true,
	types.InstanceStatusDestroying:   true,
	types.InstanceStatusDestroyed:    true,
}

var knownPipelines = map[types.PipelineKind]bool{
	types.PipelineProvision: true,
	types.PipelineDestroy:   true,
	types.PipelineSuspend:   true,
	types.PipelineResume:    true,
}

type instanceListResponse struct {
	Instances []*types.ManagedInstance `json:"instances"`
	Count     int                      `json:"count"`
}

// instanceDetail is one instance plus the read-side context an operator
// asks for first. Infrastructure is deliberately absent: that row
// carries credentials.
type instanceDetail struct {
	Instance *types.ManagedInstance `json:"instance"`
	Billing  *types.InstanceBilling `json:"billing,omitempty"`
	Claimed  bool                   `json:"claimed"`
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		instances []*types.ManagedInstance
		err       error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := types.InstanceStatus(raw)
		if !knownStatuses[status] {
			respondError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
		instances, err = s.deps.Store.ListInstancesByStatus(ctx, status)
	} else {
		instances, err = s.deps.Store.ListInstances(ctx)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "listing instances failed")
		return
	}

	respondJSON(w, http.StatusOK, instanceListResponse{
		Instances: instances,
		Count:     len(instances),
	})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "instance id must be an integer")
		return
	}

	inst, err := s.deps.Store.GetInstance(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "instance not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "loading instance failed")
		return
	}

	detail := instanceDetail{
		Instance: inst,
		Claimed:  s.deps.Queue.Claimed(inst.ID),
	}
	if billing, err := s.deps.Store.GetBilling(ctx, inst.ID); err == nil {
		detail.Billing = billing
	}

	respondJSON(w, http.StatusOK, detail)
}

// handleInstanceEvents serves the step event log, the audit trail that
// explains what a pipeline did and where a Failed instance stopped.
func (s *Server) handleInstanceEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "instance id must be an integer")
		return
	}

	if _, err := s.deps.Store.GetInstance(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "instance not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "loading instance failed")
		return
	}

	kind := types.PipelineProvision
	if raw := r.URL.Query().Get("pipeline"); raw != "" {
		kind = types.PipelineKind(raw)
		if !knownPipelines[kind] {
			respondError(w, http.StatusBadRequest, "unknown pipeline "+strconv.Quote(raw))
			return
		}
	}

	rows, err := s.deps.Store.ListEvents(ctx, id, kind)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "listing events failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"pipeline": kind,
		"events":   rows,
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reading queue stats failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"queues": stats})
}
