package onboarding

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/config"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/controlplane"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
)

const testStackSet = "NewRelic-Integration"

type fakeVerifier struct {
	err  error
	urls []string
}

func (v *fakeVerifier) Verify(_ context.Context, templateURL string) error {
	v.urls = append(v.urls, templateURL)
	return v.err
}

func testTriggerConfig(seeds ...string) TriggerConfig {
	return TriggerConfig{
		Resource: model.Resource{
			TemplateURL:           "https://templates.s3.amazonaws.com/newrelic-stack-set.yml",
			Description:           "Adds in New Relic integration to your aws accounts.",
			Parameters:            map[string]string{"NewRelicAccountNumber": "1234567"},
			Capabilities:          []string{model.CapabilityNamedIAM},
			AdministrationRoleARN: "arn:aws:iam::000000000000:role/service-role/AWSControlTowerStackSetRole",
			ExecutionRoleName:     "AWSControlTowerExecution",
		},
		SeedAccounts: seeds,
		HomeRegion:   "us-east-1",
		SeedDispatch: config.SeedDispatchDirect,
		PollDelay:    20 * time.Second,
	}
}

func TestProvision_ExistingStackSetIsIdempotent(t *testing.T) {
	cp := newFakeControlPlane()
	cp.addResource(testStackSet)
	pub := &fakePublisher{}
	trigger := NewTrigger(cp, pub, nil, testTriggerConfig("111111111111"), zerolog.Nop())

	for range 2 {
		res, err := trigger.Provision(context.Background(), testStackSet)
		require.NoError(t, err)
		assert.Equal(t, testStackSet, res.ResourceName)
		assert.False(t, res.Created)
	}

	assert.Empty(t, cp.createResourceCalls)
	assert.Empty(t, cp.createInstanceCalls)
	assert.Empty(t, pub.polls)
	assert.Empty(t, pub.published)
}

func TestProvision_CreatesAndSeedsDirectly(t *testing.T) {
	cp := newFakeControlPlane()
	pub := &fakePublisher{}
	verifier := &fakeVerifier{}
	trigger := NewTrigger(cp, pub, verifier, testTriggerConfig("111111111111", "222222222222"), zerolog.Nop())

	res, err := trigger.Provision(context.Background(), testStackSet)
	require.NoError(t, err)
	assert.True(t, res.Created)

	require.Len(t, cp.createResourceCalls, 1)
	created := cp.createResourceCalls[0]
	assert.Equal(t, testStackSet, created.Name)
	assert.Equal(t, []string{model.CapabilityNamedIAM}, created.Capabilities)
	assert.Equal(t, "1234567", created.Parameters["NewRelicAccountNumber"])
	assert.Equal(t, "AWSControlTowerExecution", created.ExecutionRoleName)
	assert.Equal(t, []string{created.TemplateURL}, verifier.urls)

	require.Len(t, cp.createInstanceCalls, 1)
	call := cp.createInstanceCalls[0]
	assert.Equal(t, []string{"111111111111", "222222222222"}, call.Accounts)
	assert.Equal(t, []string{"us-east-1"}, call.Regions)

	require.Len(t, pub.polls, 1)
	assert.Equal(t, testStackSet, pub.polls[0].Message.ResourceName)
	assert.Equal(t, res.OperationID, pub.polls[0].Message.OperationID)
	assert.NotEmpty(t, res.OperationID)
	assert.Equal(t, 20*time.Second, pub.polls[0].Delay)
	assert.Empty(t, pub.published)
}

func TestProvision_SeedsThroughFanout(t *testing.T) {
	cp := newFakeControlPlane()
	pub := &fakePublisher{}
	cfg := testTriggerConfig("111111111111", "222222222222", "111111111111")
	cfg.SeedDispatch = config.SeedDispatchFanout
	trigger := NewTrigger(cp, pub, nil, cfg, zerolog.Nop())

	res, err := trigger.Provision(context.Background(), testStackSet)
	require.NoError(t, err)
	assert.True(t, res.SeedQueued)

	assert.Empty(t, cp.createInstanceCalls)
	require.Len(t, pub.published, 1)
	assert.Equal(t, model.InstanceRequest{
		ResourceName: testStackSet,
		Accounts:     []string{"111111111111", "222222222222"},
		Regions:      []string{"us-east-1"},
	}, pub.published[0])
}

func TestProvision_NoSeedAccounts(t *testing.T) {
	cp := newFakeControlPlane()
	pub := &fakePublisher{}
	trigger := NewTrigger(cp, pub, nil, testTriggerConfig(), zerolog.Nop())

	res, err := trigger.Provision(context.Background(), testStackSet)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Len(t, cp.createResourceCalls, 1)
	assert.Empty(t, cp.createInstanceCalls)
	assert.Empty(t, pub.polls)
}

func TestProvision_LaunchFailure(t *testing.T) {
	cp := newFakeControlPlane()
	cp.hideCreated = true
	trigger := NewTrigger(cp, &fakePublisher{}, nil, testTriggerConfig("111111111111"), zerolog.Nop())

	_, err := trigger.Provision(context.Background(), testStackSet)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResourceLaunch)
	assert.Empty(t, cp.createInstanceCalls)
}

func TestProvision_DescribeErrorIsReturned(t *testing.T) {
	cp := newFakeControlPlane()
	cp.describeErr = fmt.Errorf("describe: %w", controlplane.ErrThrottled)
	trigger := NewTrigger(cp, &fakePublisher{}, nil, testTriggerConfig(), zerolog.Nop())

	_, err := trigger.Provision(context.Background(), testStackSet)
	require.Error(t, err)
	assert.ErrorIs(t, err, controlplane.ErrThrottled)
	assert.Empty(t, cp.createResourceCalls)
}

func TestProvision_TemplateVerificationFails(t *testing.T) {
	cp := newFakeControlPlane()
	verifier := &fakeVerifier{err: errors.New("NotFound")}
	trigger := NewTrigger(cp, &fakePublisher{}, verifier, testTriggerConfig(), zerolog.Nop())

	_, err := trigger.Provision(context.Background(), testStackSet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotFound")
	assert.Empty(t, cp.createResourceCalls)
}

func TestProvision_SeedOperationAlreadyLaunched(t *testing.T) {
	cp := newFakeControlPlane()
	cp.createInstancesErr = fmt.Errorf("create: %w", controlplane.ErrOperationExists)
	pub := &fakePublisher{}
	trigger := NewTrigger(cp, pub, nil, testTriggerConfig("111111111111"), zerolog.Nop())

	res, err := trigger.Provision(context.Background(), testStackSet)
	require.NoError(t, err)

	require.Len(t, cp.createInstanceCalls, 1)
	token := cp.createInstanceCalls[0].OperationID
	assert.NotEmpty(t, token)
	assert.Equal(t, token, res.OperationID)
	require.Len(t, pub.polls, 1)
	assert.Equal(t, token, pub.polls[0].Message.OperationID)
}

func TestProvision_SeedLaunchErrorIsReturned(t *testing.T) {
	cp := newFakeControlPlane()
	cp.createInstancesErr = errors.New("AccessDenied")
	pub := &fakePublisher{}
	trigger := NewTrigger(cp, pub, nil, testTriggerConfig("111111111111"), zerolog.Nop())

	_, err := trigger.Provision(context.Background(), testStackSet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
	assert.Empty(t, pub.polls)
}

func TestOperationToken(t *testing.T) {
	a := operationToken(testStackSet, []string{"m-2", "m-1"})
	b := operationToken(testStackSet, []string{"m-1", "m-2"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, operationToken(testStackSet, []string{"m-1"}))
	assert.NotEqual(t, a, operationToken("Other", []string{"m-1", "m-2"}))
	assert.Empty(t, operationToken(testStackSet, nil))
}
