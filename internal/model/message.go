package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Queue message bodies are JSON objects keyed by stack set name:
//
//	{"NewRelic-Integration": {"target_accounts": [...], "target_regions": [...]}}
//	{"NewRelic-Integration": {"OperationId": "..."}}
//
// "attempt" is optional and counts redeliveries under the retry policy.

// InstanceRequest asks for stack instances in the given accounts and regions.
type InstanceRequest struct {
	ResourceName string   `json:"-" validate:"required"`
	Accounts     []string `json:"target_accounts" validate:"required,min=1,dive,awsaccount"`
	Regions      []string `json:"target_regions" validate:"required,min=1,dive,required"`
	Attempt      int      `json:"attempt,omitempty" validate:"gte=0"`

	// MessageIDs are the transport ids the request was received under.
	// They are not serialized.
	MessageIDs []string `json:"-"`
}

// PollMessage tracks a launched operation until it is terminal.
type PollMessage struct {
	ResourceName string `json:"-" validate:"required"`
	OperationID  string `json:"OperationId" validate:"required"`
	Attempt      int    `json:"attempt,omitempty" validate:"gte=0"`
}

// DeadLetterRecord is written once for every operation that cannot make
// further progress. It requires manual remediation.
type DeadLetterRecord struct {
	ResourceName string `json:"-" validate:"required"`
	OperationID  string `json:"OperationId,omitempty"`
	Reason       string `json:"reason"`
}

// EncodeInstanceRequest renders the request as a keyed message body.
func EncodeInstanceRequest(r InstanceRequest) ([]byte, error) {
	return encodeKeyed(r.ResourceName, r)
}

// DecodeInstanceRequests parses a body that may carry requests for several
// stack sets. Results are ordered by stack set name.
func DecodeInstanceRequests(data []byte) ([]InstanceRequest, error) {
	return decodeKeyed(data, func(name string, r *InstanceRequest) { r.ResourceName = name })
}

// EncodePollMessage renders the poll message as a keyed message body.
func EncodePollMessage(m PollMessage) ([]byte, error) {
	return encodeKeyed(m.ResourceName, m)
}

// DecodePollMessages parses a poll message body.
func DecodePollMessages(data []byte) ([]PollMessage, error) {
	return decodeKeyed(data, func(name string, m *PollMessage) { m.ResourceName = name })
}

// EncodeDeadLetter renders the record as a keyed message body.
func EncodeDeadLetter(r DeadLetterRecord) ([]byte, error) {
	return encodeKeyed(r.ResourceName, r)
}

// DecodeDeadLetters parses a dead-letter body.
func DecodeDeadLetters(data []byte) ([]DeadLetterRecord, error) {
	return decodeKeyed(data, func(name string, r *DeadLetterRecord) { r.ResourceName = name })
}

func encodeKeyed(name string, v any) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("encode message: missing stack set name")
	}
	if err := Validate(v); err != nil {
		return nil, fmt.Errorf("encode message for %s: %w", name, err)
	}
	return json.Marshal(map[string]any{name: v})
}

func decodeKeyed[T any](data []byte, setName func(string, *T)) ([]T, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]T, 0, len(names))
	for _, name := range names {
		var v T
		if err := json.Unmarshal(raw[name], &v); err != nil {
			return nil, fmt.Errorf("decode message for %s: %w", name, err)
		}
		setName(name, &v)
		if err := Validate(&v); err != nil {
			return nil, fmt.Errorf("decode message for %s: %w", name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// MergeInstanceRequests folds requests for the same stack set into one,
// taking the union of accounts and regions. Order of first appearance is
// kept for both stack sets and their members. The merged attempt is the
// highest attempt seen.
func MergeInstanceRequests(reqs []InstanceRequest) []InstanceRequest {
	index := map[string]int{}
	var out []InstanceRequest
	for _, r := range reqs {
		i, ok := index[r.ResourceName]
		if !ok {
			index[r.ResourceName] = len(out)
			out = append(out, InstanceRequest{
				ResourceName: r.ResourceName,
				Accounts:     Dedup(r.Accounts),
				Regions:      Dedup(r.Regions),
				Attempt:      r.Attempt,
				MessageIDs:   append([]string(nil), r.MessageIDs...),
			})
			continue
		}
		m := &out[i]
		m.Accounts = Dedup(append(m.Accounts, r.Accounts...))
		m.Regions = Dedup(append(m.Regions, r.Regions...))
		m.Attempt = max(m.Attempt, r.Attempt)
		m.MessageIDs = append(m.MessageIDs, r.MessageIDs...)
	}
	return out
}
