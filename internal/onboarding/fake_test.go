package onboarding

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/controlplane"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/model"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/nerdgraph"
)

type instanceCall struct {
	Name        string
	Accounts    []string
	Regions     []string
	OperationID string
	Retain      bool
}

// fakeControlPlane is an in-memory control plane that tracks operation
// lifecycles per stack set and rejects a launch while another operation
// on the same stack set is not terminal.
type fakeControlPlane struct {
	mu sync.Mutex

	resources map[string]model.Resource
	ops       map[string][]*model.Operation
	results   map[string][]model.OperationResult
	instances map[string][]model.Instance
	nextOp    int

	createResourceCalls  []model.Resource
	deleteResourceCalls  []string
	createInstanceCalls  []instanceCall
	deleteInstanceCalls  []instanceCall
	describeOpCalls      int
	launchWhileBusyCalls int

	// hideCreated makes CreateResource succeed without the stack set
	// becoming visible.
	hideCreated        bool
	describeErr        error
	listOperationsErr  error
	createInstancesErr error
	describeOpErr      error
	listResultsErr     error
	// statusSequence, when set for an operation, is returned by successive
	// DescribeOperation calls. The last entry repeats.
	statusSequence map[string][]model.OperationStatus
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		resources:      map[string]model.Resource{},
		ops:            map[string][]*model.Operation{},
		results:        map[string][]model.OperationResult{},
		instances:      map[string][]model.Instance{},
		statusSequence: map[string][]model.OperationStatus{},
	}
}

var _ controlplane.Gateway = (*fakeControlPlane)(nil)

func (f *fakeControlPlane) addResource(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[name] = model.Resource{Name: name}
}

// addOperation registers an operation as if it had been launched earlier.
func (f *fakeControlPlane) addOperation(name, opID string, status model.OperationStatus, results ...model.OperationResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops[name] = append(f.ops[name], &model.Operation{ResourceName: name, OperationID: opID, Status: status})
	f.results[opID] = results
}

// complete moves an operation to a terminal status.
func (f *fakeControlPlane) complete(opID string, status model.OperationStatus, results ...model.OperationResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ops := range f.ops {
		for _, op := range ops {
			if op.OperationID == opID {
				op.Status = status
			}
		}
	}
	if results != nil {
		f.results[opID] = results
	}
}

func (f *fakeControlPlane) busy(name string) bool {
	for _, op := range f.ops[name] {
		if !op.Status.IsTerminal() {
			return true
		}
	}
	return false
}

func (f *fakeControlPlane) DescribeResource(_ context.Context, name string) (*model.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	r, ok := f.resources[name]
	if !ok {
		return nil, fmt.Errorf("describe stack set %s: %w", name, controlplane.ErrResourceNotFound)
	}
	return &r, nil
}

func (f *fakeControlPlane) CreateResource(_ context.Context, r model.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createResourceCalls = append(f.createResourceCalls, r)
	if _, ok := f.resources[r.Name]; ok {
		return fmt.Errorf("create stack set %s: %w", r.Name, controlplane.ErrResourceExists)
	}
	if !f.hideCreated {
		f.resources[r.Name] = r
	}
	return nil
}

func (f *fakeControlPlane) DeleteResource(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteResourceCalls = append(f.deleteResourceCalls, name)
	if _, ok := f.resources[name]; !ok {
		return fmt.Errorf("delete stack set %s: %w", name, controlplane.ErrResourceNotFound)
	}
	if len(f.instances[name]) > 0 {
		return fmt.Errorf("delete stack set %s: stack set is not empty", name)
	}
	delete(f.resources, name)
	return nil
}

func (f *fakeControlPlane) CreateInstances(_ context.Context, name string, accounts, regions []string, operationID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createInstanceCalls = append(f.createInstanceCalls, instanceCall{
		Name:        name,
		Accounts:    slices.Clone(accounts),
		Regions:     slices.Clone(regions),
		OperationID: operationID,
	})
	if f.createInstancesErr != nil {
		return "", f.createInstancesErr
	}
	if _, ok := f.resources[name]; !ok {
		return "", fmt.Errorf("create stack instances for %s: %w", name, controlplane.ErrResourceNotFound)
	}
	if operationID != "" {
		for _, op := range f.ops[name] {
			if op.OperationID == operationID {
				return "", fmt.Errorf("create stack instances for %s: %w", name, controlplane.ErrOperationExists)
			}
		}
	}
	if f.busy(name) {
		f.launchWhileBusyCalls++
		return "", fmt.Errorf("create stack instances for %s: %w", name, controlplane.ErrOperationInProgress)
	}

	f.nextOp++
	opID := operationID
	if opID == "" {
		opID = fmt.Sprintf("op-%d", f.nextOp)
	}
	f.ops[name] = append(f.ops[name], &model.Operation{ResourceName: name, OperationID: opID, Status: model.OperationRunning})
	for _, a := range accounts {
		for _, r := range regions {
			f.instances[name] = append(f.instances[name], model.Instance{Account: a, Region: r})
		}
	}
	return opID, nil
}

func (f *fakeControlPlane) DeleteInstances(_ context.Context, name string, accounts, regions []string, retain bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteInstanceCalls = append(f.deleteInstanceCalls, instanceCall{
		Name:     name,
		Accounts: slices.Clone(accounts),
		Regions:  slices.Clone(regions),
		Retain:   retain,
	})
	f.nextOp++
	opID := fmt.Sprintf("del-%d", f.nextOp)
	f.ops[name] = append(f.ops[name], &model.Operation{ResourceName: name, OperationID: opID, Status: model.OperationRunning})
	return opID, nil
}

func (f *fakeControlPlane) DescribeOperation(_ context.Context, name, operationID string) (model.OperationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeOpCalls++
	if f.describeOpErr != nil {
		return "", f.describeOpErr
	}
	if seq := f.statusSequence[operationID]; len(seq) > 0 {
		status := seq[0]
		if len(seq) > 1 {
			f.statusSequence[operationID] = seq[1:]
		}
		if status.IsTerminal() && name != "" {
			f.instances[name] = nil
		}
		return status, nil
	}
	for _, op := range f.ops[name] {
		if op.OperationID == operationID {
			return op.Status, nil
		}
	}
	return "", fmt.Errorf("describe operation %s: %w", operationID, controlplane.ErrOperationNotFound)
}

func (f *fakeControlPlane) ListOperationResults(_ context.Context, _, operationID string) ([]model.OperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listResultsErr != nil {
		return nil, f.listResultsErr
	}
	return slices.Clone(f.results[operationID]), nil
}

func (f *fakeControlPlane) ListInstances(_ context.Context, name string) ([]model.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.instances[name]), nil
}

func (f *fakeControlPlane) ListOperations(_ context.Context, name string) ([]model.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listOperationsErr != nil {
		return nil, f.listOperationsErr
	}
	out := make([]model.Operation, 0, len(f.ops[name]))
	for _, op := range f.ops[name] {
		out = append(out, *op)
	}
	return out, nil
}

type sentRequest struct {
	Request model.InstanceRequest
	Delay   time.Duration
}

type sentPoll struct {
	Message model.PollMessage
	Delay   time.Duration
}

// fakePublisher records messages after checking they encode.
type fakePublisher struct {
	mu sync.Mutex

	published   []model.InstanceRequest
	requests    []sentRequest
	polls       []sentPoll
	deadLetters []model.DeadLetterRecord
	err         error
}

func (p *fakePublisher) PublishInstanceRequest(_ context.Context, r model.InstanceRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if _, err := model.EncodeInstanceRequest(r); err != nil {
		return err
	}
	p.published = append(p.published, r)
	return nil
}

func (p *fakePublisher) SendInstanceRequest(_ context.Context, r model.InstanceRequest, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if _, err := model.EncodeInstanceRequest(r); err != nil {
		return err
	}
	p.requests = append(p.requests, sentRequest{Request: r, Delay: delay})
	return nil
}

func (p *fakePublisher) SendPoll(_ context.Context, m model.PollMessage, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if _, err := model.EncodePollMessage(m); err != nil {
		return err
	}
	p.polls = append(p.polls, sentPoll{Message: m, Delay: delay})
	return nil
}

func (p *fakePublisher) SendDeadLetter(_ context.Context, r model.DeadLetterRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if _, err := model.EncodeDeadLetter(r); err != nil {
		return err
	}
	p.deadLetters = append(p.deadLetters, r)
	return nil
}

type configureCall struct {
	AccountID       int64
	LinkedAccountID int64
	Capabilities    []string
}

// fakeRegistry links each account at most once; later attempts get the
// already-linked error the real service returns.
type fakeRegistry struct {
	mu sync.Mutex

	capabilities []string
	services     []string
	catalogErr   error
	linkErr      map[string]error
	configureErr error

	linked         map[string]int64
	linkCalls      []string
	roleARNs       []string
	configureCalls []configureCall
	catalogCalls   int
}

func newFakeRegistry(capabilities ...string) *fakeRegistry {
	return &fakeRegistry{
		capabilities: capabilities,
		linkErr:      map[string]error{},
		linked:       map[string]int64{},
	}
}

func (r *fakeRegistry) IntrospectCapabilities(context.Context, string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogCalls++
	return slices.Clone(r.capabilities), r.catalogErr
}

func (r *fakeRegistry) ListProviderServices(context.Context, string, int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogCalls++
	return slices.Clone(r.services), r.catalogErr
}

func (r *fakeRegistry) LinkAccount(_ context.Context, _ string, _ int64, name, roleARN string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linkCalls = append(r.linkCalls, name)
	r.roleARNs = append(r.roleARNs, roleARN)
	if err := r.linkErr[name]; err != nil {
		return 0, err
	}
	if _, ok := r.linked[name]; ok {
		return 0, fmt.Errorf("link aws account %s: %w: AWS account is already linked", name, nerdgraph.ErrAlreadyLinked)
	}
	id := int64(1000 + len(r.linked))
	r.linked[name] = id
	return id, nil
}

func (r *fakeRegistry) ConfigureIntegration(_ context.Context, _ string, accountID, linkedAccountID int64, capabilities []string) (*nerdgraph.ConfigureResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configureCalls = append(r.configureCalls, configureCall{
		AccountID:       accountID,
		LinkedAccountID: linkedAccountID,
		Capabilities:    slices.Clone(capabilities),
	})
	if r.configureErr != nil {
		return nil, r.configureErr
	}
	return &nerdgraph.ConfigureResult{}, nil
}

type fakeSecrets struct {
	key   string
	err   error
	calls int
}

func (s *fakeSecrets) GetAccessKey(context.Context, string) (string, error) {
	s.calls++
	return s.key, s.err
}
