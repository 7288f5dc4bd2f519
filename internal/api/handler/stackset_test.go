package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/controlplane"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/onboarding"
)

func newStackSetHandler() (*StackSet, *mockProvisioner, *mockPublisher, *mockDecommissioner) {
	p := &mockProvisioner{}
	pub := &mockPublisher{}
	d := &mockDecommissioner{}
	return NewStackSet(p, pub, d), p, pub, d
}

// --- Provision ---

func TestStackSetProvision_Created(t *testing.T) {
	h, p, _, _ := newStackSetHandler()
	p.On("Provision", mock.Anything, testStackSet).
		Return(&onboarding.ProvisionResult{ResourceName: testStackSet, Created: true, OperationID: "op-1"}, nil)

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/stacksets/"+testStackSet+"/provision", nil), "name", testStackSet)
	h.Provision(rec, r)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var body onboarding.ProvisionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "op-1", body.OperationID)
	assert.True(t, body.Created)
}

func TestStackSetProvision_AlreadyExists(t *testing.T) {
	h, p, _, _ := newStackSetHandler()
	p.On("Provision", mock.Anything, testStackSet).Return(&onboarding.ProvisionResult{ResourceName: testStackSet}, nil)

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/", nil), "name", testStackSet)
	h.Provision(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStackSetProvision_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"launch failure", fmt.Errorf("provision: %w", onboarding.ErrResourceLaunch), http.StatusBadGateway},
		{"throttled", fmt.Errorf("provision: %w", controlplane.ErrThrottled), http.StatusServiceUnavailable},
		{"other", errors.New("AccessDenied"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, p, _, _ := newStackSetHandler()
			p.On("Provision", mock.Anything, testStackSet).Return(nil, tt.err)

			rec := httptest.NewRecorder()
			r := withChiURLParam(newRequest(http.MethodPost, "/", nil), "name", testStackSet)
			h.Provision(rec, r)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decodeErrorResponse(rec)["error"], tt.err.Error())
		})
	}
}

func TestStackSetProvision_InvalidName(t *testing.T) {
	h, p, _, _ := newStackSetHandler()

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/", nil), "name", "bad_name")
	h.Provision(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	p.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
}

// --- RequestInstances ---

func TestStackSetRequestInstances(t *testing.T) {
	h, _, pub, _ := newStackSetHandler()
	want := model.InstanceRequest{
		ResourceName: testStackSet,
		Accounts:     []string{"111111111111", "222222222222"},
		Regions:      []string{"us-east-1"},
	}
	pub.On("PublishInstanceRequest", mock.Anything, want).Return(nil)

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/", map[string]any{
		"target_accounts": []string{"111111111111", "222222222222", "111111111111"},
		"target_regions":  []string{"us-east-1"},
	}), "name", testStackSet)
	h.RequestInstances(rec, r)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var body QueuedInstances
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, QueuedInstances{StackSet: testStackSet, Accounts: want.Accounts, Regions: want.Regions}, body)
	pub.AssertExpectations(t)
}

func TestStackSetRequestInstances_InvalidBody(t *testing.T) {
	h, _, pub, _ := newStackSetHandler()

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequestRaw(http.MethodPost, "/", `{"target_accounts":["123"],"target_regions":["us-east-1"]}`), "name", testStackSet)
	h.RequestInstances(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "validation error")
	pub.AssertNotCalled(t, "PublishInstanceRequest", mock.Anything, mock.Anything)
}

func TestStackSetRequestInstances_PublishFails(t *testing.T) {
	h, _, pub, _ := newStackSetHandler()
	pub.On("PublishInstanceRequest", mock.Anything, mock.Anything).Return(errors.New("topic not found"))

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequestRaw(http.MethodPost, "/", `{"target_accounts":["111111111111"],"target_regions":["us-east-1"]}`), "name", testStackSet)
	h.RequestInstances(rec, r)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// --- Decommission ---

func TestStackSetDecommission(t *testing.T) {
	h, _, _, d := newStackSetHandler()
	d.On("Decommission", mock.Anything, testStackSet).Return()

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodDelete, "/", nil).WithContext(ctx), "name", testStackSet)
	h.Decommission(rec, r)
	cancel()
	h.Wait()

	assert.Equal(t, http.StatusAccepted, rec.Code)
	d.AssertExpectations(t)
	runCtx := d.Calls[0].Arguments.Get(0).(context.Context)
	assert.NoError(t, runCtx.Err())
}

func TestStackSetDecommission_InvalidName(t *testing.T) {
	h, _, _, d := newStackSetHandler()

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodDelete, "/", nil), "name", "")
	h.Decommission(rec, r)
	h.Wait()

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	d.AssertNotCalled(t, "Decommission", mock.Anything, mock.Anything)
}
