package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/api/request"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/api/response"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/onboarding"
)

type Provisioner interface {
	Provision(ctx context.Context, name string) (*onboarding.ProvisionResult, error)
}

type InstancePublisher interface {
	PublishInstanceRequest(ctx context.Context, r model.InstanceRequest) error
}

type Decommissioner interface {
	Decommission(ctx context.Context, name string)
}

// QueuedInstances is returned when an instance request has been accepted
// onto the fan-out topic.
type QueuedInstances struct {
	StackSet string   `json:"stackset"`
	Accounts []string `json:"target_accounts"`
	Regions  []string `json:"target_regions"`
}

type StackSet struct {
	provisioner    Provisioner
	publisher      InstancePublisher
	decommissioner Decommissioner

	// background tracks decommission runs that outlive their request.
	background sync.WaitGroup
}

func NewStackSet(p Provisioner, pub InstancePublisher, d Decommissioner) *StackSet {
	return &StackSet{provisioner: p, publisher: pub, decommissioner: d}
}

// Provision creates the stack set if it does not exist and seeds it.
// It answers 201 when the stack set was created and 200 when it existed.
func (h *StackSet) Provision(w http.ResponseWriter, r *http.Request) {
	name, err := request.StackSetName(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.provisioner.Provision(r.Context(), name)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("stackset", name).Msg("provision failed")
		response.WriteOperationError(w, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	response.WriteJSON(w, status, res)
}

// RequestInstances queues an instance request for the dispatcher.
func (h *StackSet) RequestInstances(w http.ResponseWriter, r *http.Request) {
	name, err := request.StackSetName(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body request.Instances
	if err := request.Decode(r, &body); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := model.InstanceRequest{
		ResourceName: name,
		Accounts:     model.Dedup(body.Accounts),
		Regions:      model.Dedup(body.Regions),
	}
	if err := h.publisher.PublishInstanceRequest(r.Context(), req); err != nil {
		response.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusAccepted, QueuedInstances{
		StackSet: name,
		Accounts: req.Accounts,
		Regions:  req.Regions,
	})
}

// Decommission starts removing the stack set and its instances. The run
// continues after the response is written.
func (h *StackSet) Decommission(w http.ResponseWriter, r *http.Request) {
	name, err := request.StackSetName(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.background.Go(func() {
		h.decommissioner.Decommission(ctx, name)
	})

	response.WriteJSON(w, http.StatusAccepted, map[string]string{
		"stackset": name,
		"status":   "decommissioning",
	})
}

// Wait blocks until every started decommission run has returned.
func (h *StackSet) Wait() {
	h.background.Wait()
}
