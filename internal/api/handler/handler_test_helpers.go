package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/onboarding"
)

// newRequest creates a new HTTP request with an optional JSON body.
func newRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withChiURLParam adds a chi URL parameter to the request context.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeErrorResponse parses the JSON error response body into a map.
func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

type mockProvisioner struct{ mock.Mock }

func (m *mockProvisioner) Provision(ctx context.Context, name string) (*onboarding.ProvisionResult, error) {
	args := m.Called(ctx, name)
	res, _ := args.Get(0).(*onboarding.ProvisionResult)
	return res, args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishInstanceRequest(ctx context.Context, r model.InstanceRequest) error {
	return m.Called(ctx, r).Error(0)
}

type mockDecommissioner struct{ mock.Mock }

func (m *mockDecommissioner) Decommission(ctx context.Context, name string) {
	m.Called(ctx, name)
}

const testStackSet = "NewRelic-Integration"
