// Package checkpoint implements the workflow engine's crash-safe state
// store: atomic file writes keyed by (workflow name, checkpoint id), plus a
// volatile in-memory implementation for tests.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// StepResult is the slice of a workflow step's outcome a checkpoint retains.
type StepResult struct {
	Name   string `json:"name"`
	Output any    `json:"output"`
}

// Data is the persisted record a checkpoint save writes and a resume reads.
type Data struct {
	CheckpointID string       `json:"checkpoint_id"`
	WorkflowName string       `json:"workflow_name"`
	InputsHash   string       `json:"inputs_hash"`
	StepResults  []StepResult `json:"step_results"`
	SavedAt      time.Time    `json:"saved_at"`
}

// Store is the checkpoint persistence contract.
type Store interface {
	Save(workflowName string, data Data) error
	Load(workflowName, checkpointID string) (Data, bool, error)
	LoadLatest(workflowName string) (Data, bool, error)
	Clear(workflowName string) error
	List(workflowName string) ([]string, error)
}

// HashInputs computes the resume key: the hex prefix of a stable hash over
// the canonical JSON serialisation (sorted keys, no whitespace) of the
// run's inputs, truncated to 16 hex chars.
func HashInputs(inputs map[string]any) (string, error) {
	canon, err := canonicalJSON(inputs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])[:16], nil
}

// canonicalJSON marshals v with map keys sorted and no insignificant
// whitespace, recursively, so the same logical input always hashes the same.
func canonicalJSON(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			nv, err := normalize(t[k])
			if err != nil {
				return nil, err
			}
			out = append(out, kv{k, nv})
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			nv, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return t, nil
	}
}

type kv struct {
	K string
	V any
}

// orderedMap marshals as a JSON object preserving insertion order (which
// normalize already sorted), since encoding/json sorts map[string]any keys
// itself but we want an explicit, auditable encode path.
type orderedMap []kv

func (o orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(e.K)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(e.V)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}
