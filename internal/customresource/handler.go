// Package customresource serves the CloudFormation custom resource that
// installs the onboarding stack set. Create and Update provision it,
// Delete decommissions it, and the outcome is reported back through the
// pre-signed response URL of the event.
package customresource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/metrics"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/onboarding"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/transport"
)

const (
	RequestCreate = "Create"
	RequestUpdate = "Update"
	RequestDelete = "Delete"

	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// maxReasonLen keeps the response document well under the 4 KiB limit.
const maxReasonLen = 1024

// Event is the request CloudFormation sends for a custom resource.
type Event struct {
	RequestType        string         `json:"RequestType" validate:"required,oneof=Create Update Delete"`
	ResponseURL        string         `json:"ResponseURL" validate:"required,url"`
	StackID            string         `json:"StackId" validate:"required"`
	RequestID          string         `json:"RequestId" validate:"required"`
	LogicalResourceID  string         `json:"LogicalResourceId" validate:"required"`
	PhysicalResourceID string         `json:"PhysicalResourceId,omitempty"`
	ResourceType       string         `json:"ResourceType,omitempty"`
	ResourceProperties map[string]any `json:"ResourceProperties,omitempty"`
}

// Response is the document PUT to Event.ResponseURL.
type Response struct {
	Status             string            `json:"Status"`
	Reason             string            `json:"Reason,omitempty"`
	PhysicalResourceID string            `json:"PhysicalResourceId"`
	StackID            string            `json:"StackId"`
	RequestID          string            `json:"RequestId"`
	LogicalResourceID  string            `json:"LogicalResourceId"`
	Data               map[string]string `json:"Data,omitempty"`
}

type Provisioner interface {
	Provision(ctx context.Context, name string) (*onboarding.ProvisionResult, error)
}

type Decommissioner interface {
	Decommission(ctx context.Context, name string)
}

// Handler turns custom resource events into provision and decommission
// runs against one stack set.
type Handler struct {
	provisioner    Provisioner
	decommissioner Decommissioner
	stackSetName   string
	client         *http.Client
	logger         zerolog.Logger
}

// NewHandler creates a Handler. stackSetName is used unless the event's
// ResourceProperties carry a StackSetName.
func NewHandler(p Provisioner, d Decommissioner, stackSetName string, logger zerolog.Logger) *Handler {
	return &Handler{
		provisioner:    p,
		decommissioner: d,
		stackSetName:   stackSetName,
		client:         &http.Client{Timeout: 30 * time.Second},
		logger:         logger.With().Str("component", "custom-resource").Logger(),
	}
}

// Handle runs the event and sends its response. FAILED is reported only
// when provisioning returns an error; Delete always reports SUCCESS. The
// returned error is a failure to deliver the response.
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	name := h.resourceName(ev)
	log := h.logger.With().
		Str("request_type", ev.RequestType).
		Str("request_id", ev.RequestID).
		Str("stackset", name).
		Logger()

	resp := Response{
		Status:             StatusSuccess,
		PhysicalResourceID: ev.PhysicalResourceID,
		StackID:            ev.StackID,
		RequestID:          ev.RequestID,
		LogicalResourceID:  ev.LogicalResourceID,
	}
	if resp.PhysicalResourceID == "" {
		resp.PhysicalResourceID = name
	}

	switch ev.RequestType {
	case RequestCreate, RequestUpdate:
		res, err := h.provisioner.Provision(ctx, name)
		if err != nil {
			log.Error().Err(err).Msg("provisioning failed")
			resp.Status = StatusFailed
			resp.Reason = truncate(fmt.Sprintf("onboarding failed, no result recorded: %v", err), maxReasonLen)
			break
		}
		resp.Data = map[string]string{"result": res.ResourceName}
		if res.OperationID != "" {
			resp.Data["operation_id"] = res.OperationID
		}
	case RequestDelete:
		h.decommissioner.Decommission(ctx, name)
	default:
		resp.Status = StatusFailed
		resp.Reason = fmt.Sprintf("unsupported request type %q", ev.RequestType)
	}
	metrics.CustomResourceTotal.WithLabelValues(ev.RequestType, resp.Status).Inc()

	if err := h.respond(ctx, ev.ResponseURL, resp); err != nil {
		return fmt.Errorf("respond to %s %s: %w", ev.RequestType, ev.RequestID, err)
	}
	log.Info().Str("status", resp.Status).Msg("custom resource response sent")
	return nil
}

func (h *Handler) resourceName(ev Event) string {
	if v, ok := ev.ResourceProperties["StackSetName"].(string); ok && v != "" {
		return v
	}
	return h.stackSetName
}

// respond PUTs the response to the pre-signed URL. The URL is signed
// without a content type, so none is sent.
func (h *Handler) respond(ctx context.Context, url string, resp Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create response request: %w", err)
	}

	res, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("PUT response: %w", err)
	}
	defer func() { io.Copy(io.Discard, res.Body); res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("response URL returned %d", res.StatusCode)
	}
	return nil
}

// HandleBatch is the custom resource queue handler. Undecodable events are
// dropped. An undelivered response fails the batch so the event is
// redelivered; provisioning and decommissioning are safe to repeat.
func (h *Handler) HandleBatch(ctx context.Context, msgs []transport.Message) error {
	start := time.Now()
	defer func() { metrics.BatchDuration.WithLabelValues("custom_resource").Observe(time.Since(start).Seconds()) }()

	var errs []error
	for _, m := range msgs {
		var ev Event
		if err := json.Unmarshal(m.Body, &ev); err != nil {
			h.logger.Error().Err(err).Str("message_id", m.ID).Msg("dropping undecodable custom resource event")
			continue
		}
		if err := model.Validate(&ev); err != nil {
			h.logger.Error().Err(err).Str("message_id", m.ID).Msg("dropping invalid custom resource event")
			continue
		}
		if err := h.Handle(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
