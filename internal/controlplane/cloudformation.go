package controlplane

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
)

// CloudFormationAPI is the subset of *cloudformation.Client used here.
type CloudFormationAPI interface {
	DescribeStackSet(ctx context.Context, params *cloudformation.DescribeStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackSetOutput, error)
	CreateStackSet(ctx context.Context, params *cloudformation.CreateStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackSetOutput, error)
	DeleteStackSet(ctx context.Context, params *cloudformation.DeleteStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackSetOutput, error)
	CreateStackInstances(ctx context.Context, params *cloudformation.CreateStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackInstancesOutput, error)
	DeleteStackInstances(ctx context.Context, params *cloudformation.DeleteStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackInstancesOutput, error)
	DescribeStackSetOperation(ctx context.Context, params *cloudformation.DescribeStackSetOperationInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackSetOperationOutput, error)
	cloudformation.ListStackSetOperationResultsAPIClient
	cloudformation.ListStackInstancesAPIClient
	cloudformation.ListStackSetOperationsAPIClient
}

// CloudFormation implements Gateway with CloudFormation StackSets.
type CloudFormation struct {
	api    CloudFormationAPI
	logger zerolog.Logger
}

// NewCloudFormation creates a new CloudFormation gateway.
func NewCloudFormation(api CloudFormationAPI, logger zerolog.Logger) *CloudFormation {
	return &CloudFormation{
		api:    api,
		logger: logger.With().Str("component", "cloudformation").Logger(),
	}
}

var _ Gateway = (*CloudFormation)(nil)

func (c *CloudFormation) DescribeResource(ctx context.Context, name string) (*model.Resource, error) {
	out, err := c.api.DescribeStackSet(ctx, &cloudformation.DescribeStackSetInput{
		StackSetName: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("describe stack set %s: %w", name, classify(err))
	}
	if out.StackSet == nil {
		return nil, fmt.Errorf("describe stack set %s: %w", name, ErrResourceNotFound)
	}

	ss := out.StackSet
	r := &model.Resource{
		Name:                  aws.ToString(ss.StackSetName),
		Description:           aws.ToString(ss.Description),
		AdministrationRoleARN: aws.ToString(ss.AdministrationRoleARN),
		ExecutionRoleName:     aws.ToString(ss.ExecutionRoleName),
		Status:                string(ss.Status),
	}
	if len(ss.Parameters) > 0 {
		r.Parameters = make(map[string]string, len(ss.Parameters))
		for _, p := range ss.Parameters {
			r.Parameters[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
		}
	}
	for _, capability := range ss.Capabilities {
		r.Capabilities = append(r.Capabilities, string(capability))
	}
	return r, nil
}

func (c *CloudFormation) CreateResource(ctx context.Context, r model.Resource) error {
	input := &cloudformation.CreateStackSetInput{
		StackSetName: aws.String(r.Name),
		TemplateURL:  aws.String(r.TemplateURL),
		Parameters:   toParameters(r.Parameters),
	}
	if r.Description != "" {
		input.Description = aws.String(r.Description)
	}
	if r.AdministrationRoleARN != "" {
		input.AdministrationRoleARN = aws.String(r.AdministrationRoleARN)
	}
	if r.ExecutionRoleName != "" {
		input.ExecutionRoleName = aws.String(r.ExecutionRoleName)
	}
	for _, capability := range r.Capabilities {
		input.Capabilities = append(input.Capabilities, cfntypes.Capability(capability))
	}

	out, err := c.api.CreateStackSet(ctx, input)
	if err != nil {
		return fmt.Errorf("create stack set %s: %w", r.Name, classify(err))
	}
	c.logger.Info().Str("stackset", r.Name).Str("stackset_id", aws.ToString(out.StackSetId)).Msg("stack set created")
	return nil
}

func (c *CloudFormation) DeleteResource(ctx context.Context, name string) error {
	if _, err := c.api.DeleteStackSet(ctx, &cloudformation.DeleteStackSetInput{
		StackSetName: aws.String(name),
	}); err != nil {
		return fmt.Errorf("delete stack set %s: %w", name, classify(err))
	}
	return nil
}

func (c *CloudFormation) CreateInstances(ctx context.Context, name string, accounts, regions []string, operationID string) (string, error) {
	input := &cloudformation.CreateStackInstancesInput{
		StackSetName: aws.String(name),
		Accounts:     accounts,
		Regions:      regions,
	}
	if operationID != "" {
		input.OperationId = aws.String(operationID)
	}

	out, err := c.api.CreateStackInstances(ctx, input)
	if err != nil {
		return "", fmt.Errorf("create stack instances for %s: %w", name, classify(err))
	}
	return aws.ToString(out.OperationId), nil
}

func (c *CloudFormation) DeleteInstances(ctx context.Context, name string, accounts, regions []string, retain bool) (string, error) {
	out, err := c.api.DeleteStackInstances(ctx, &cloudformation.DeleteStackInstancesInput{
		StackSetName: aws.String(name),
		Accounts:     accounts,
		Regions:      regions,
		RetainStacks: aws.Bool(retain),
	})
	if err != nil {
		return "", fmt.Errorf("delete stack instances for %s: %w", name, classify(err))
	}
	return aws.ToString(out.OperationId), nil
}

func (c *CloudFormation) DescribeOperation(ctx context.Context, name, operationID string) (model.OperationStatus, error) {
	out, err := c.api.DescribeStackSetOperation(ctx, &cloudformation.DescribeStackSetOperationInput{
		StackSetName: aws.String(name),
		OperationId:  aws.String(operationID),
	})
	if err != nil {
		return "", fmt.Errorf("describe operation %s on %s: %w", operationID, name, classify(err))
	}
	if out.StackSetOperation == nil {
		return "", fmt.Errorf("describe operation %s on %s: %w", operationID, name, ErrOperationNotFound)
	}
	status, err := model.ParseOperationStatus(string(out.StackSetOperation.Status))
	if err != nil {
		return "", fmt.Errorf("describe operation %s on %s: %w", operationID, name, err)
	}
	return status, nil
}

func (c *CloudFormation) ListOperationResults(ctx context.Context, name, operationID string) ([]model.OperationResult, error) {
	p := cloudformation.NewListStackSetOperationResultsPaginator(c.api, &cloudformation.ListStackSetOperationResultsInput{
		StackSetName: aws.String(name),
		OperationId:  aws.String(operationID),
	})

	var results []model.OperationResult
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list operation results %s on %s: %w", operationID, name, classify(err))
		}
		for _, s := range page.Summaries {
			results = append(results, model.OperationResult{
				Account:      aws.ToString(s.Account),
				Region:       aws.ToString(s.Region),
				Status:       string(s.Status),
				StatusReason: aws.ToString(s.StatusReason),
			})
		}
	}
	return results, nil
}

func (c *CloudFormation) ListInstances(ctx context.Context, name string) ([]model.Instance, error) {
	p := cloudformation.NewListStackInstancesPaginator(c.api, &cloudformation.ListStackInstancesInput{
		StackSetName: aws.String(name),
	})

	var instances []model.Instance
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list stack instances for %s: %w", name, classify(err))
		}
		for _, s := range page.Summaries {
			instances = append(instances, model.Instance{
				Account: aws.ToString(s.Account),
				Region:  aws.ToString(s.Region),
			})
		}
	}
	return instances, nil
}

func (c *CloudFormation) ListOperations(ctx context.Context, name string) ([]model.Operation, error) {
	p := cloudformation.NewListStackSetOperationsPaginator(c.api, &cloudformation.ListStackSetOperationsInput{
		StackSetName: aws.String(name),
	})

	var ops []model.Operation
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list operations for %s: %w", name, classify(err))
		}
		for _, s := range page.Summaries {
			ops = append(ops, model.Operation{
				ResourceName: name,
				OperationID:  aws.ToString(s.OperationId),
				Status:       model.OperationStatus(s.Status),
			})
		}
	}
	return ops, nil
}

func toParameters(params map[string]string) []cfntypes.Parameter {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]cfntypes.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, cfntypes.Parameter{
			ParameterKey:     aws.String(k),
			ParameterValue:   aws.String(params[k]),
			UsePreviousValue: aws.Bool(false),
		})
	}
	return out
}

var throttlingCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
}

// classify tags CloudFormation errors with the package's sentinel errors
// while keeping the original error in the chain.
func classify(err error) error {
	var (
		notFound   *cfntypes.StackSetNotFoundException
		nameExists *cfntypes.NameAlreadyExistsException
		inProgress *cfntypes.OperationInProgressException
		idExists   *cfntypes.OperationIdAlreadyExistsException
		opNotFound *cfntypes.OperationNotFoundException
		apiErr     smithy.APIError
	)
	switch {
	case errors.As(err, &notFound):
		return fmt.Errorf("%w: %w", ErrResourceNotFound, err)
	case errors.As(err, &nameExists):
		return fmt.Errorf("%w: %w", ErrResourceExists, err)
	case errors.As(err, &inProgress):
		return fmt.Errorf("%w: %w", ErrOperationInProgress, err)
	case errors.As(err, &idExists):
		return fmt.Errorf("%w: %w", ErrOperationExists, err)
	case errors.As(err, &opNotFound):
		return fmt.Errorf("%w: %w", ErrOperationNotFound, err)
	case errors.As(err, &apiErr) && throttlingCodes[apiErr.ErrorCode()]:
		return fmt.Errorf("%w: %w", ErrThrottled, err)
	}
	return err
}
