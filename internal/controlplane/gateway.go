// Package controlplane manages stack sets, their instances and the
// operations the control plane runs against them.
package controlplane

import (
	"context"
	"errors"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
)

var (
	// ErrResourceNotFound is returned when the stack set does not exist.
	ErrResourceNotFound = errors.New("stack set not found")
	// ErrResourceExists is returned when creating a stack set that already exists.
	ErrResourceExists = errors.New("stack set already exists")
	// ErrOperationInProgress is returned when another operation holds the stack set.
	ErrOperationInProgress = errors.New("stack set operation in progress")
	// ErrOperationExists is returned when an operation id has already been used.
	ErrOperationExists = errors.New("stack set operation id already exists")
	// ErrOperationNotFound is returned when describing an unknown operation.
	ErrOperationNotFound = errors.New("stack set operation not found")
	// ErrThrottled is returned when the control plane rate limits the caller.
	ErrThrottled = errors.New("control plane throttled")
)

// IsTransient reports whether err should be handled by requeueing.
func IsTransient(err error) bool {
	return errors.Is(err, ErrOperationInProgress) || errors.Is(err, ErrThrottled)
}

// Gateway is the narrow view of the control plane the onboarding flows use.
// List operations return every page.
type Gateway interface {
	DescribeResource(ctx context.Context, name string) (*model.Resource, error)
	CreateResource(ctx context.Context, r model.Resource) error
	DeleteResource(ctx context.Context, name string) error

	// CreateInstances launches instance creation. operationID is an
	// optional idempotency token; the id of the launched operation is
	// returned.
	CreateInstances(ctx context.Context, name string, accounts, regions []string, operationID string) (string, error)
	DeleteInstances(ctx context.Context, name string, accounts, regions []string, retain bool) (string, error)

	DescribeOperation(ctx context.Context, name, operationID string) (model.OperationStatus, error)
	ListOperationResults(ctx context.Context, name, operationID string) ([]model.OperationResult, error)
	ListInstances(ctx context.Context, name string) ([]model.Instance, error)
	ListOperations(ctx context.Context, name string) ([]model.Operation, error)
}
