package router

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Matrix is the specialization table: task type to ranked candidate agents
// (primary first). It is static configuration, consumed only by the router,
// and only ever affects placement efficiency, never safety.
type Matrix struct {
	rules map[string]Rule
}

// Rule is one matrix row.
type Rule struct {
	Candidates []string `yaml:"candidates"`          // ranked: primary, secondary, tertiary
	Rationale  string   `yaml:"rationale,omitempty"` // why this ranking exists
}

// LoadMatrix reads the routing YAML. A missing file yields an empty matrix:
// every agent is then eligible for every task type.
func LoadMatrix(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Matrix{rules: map[string]Rule{}}, nil
		}
		return nil, fmt.Errorf("read routing matrix: %w", err)
	}
	var rules map[string]Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse routing matrix: %w", err)
	}
	if rules == nil {
		rules = map[string]Rule{}
	}
	return &Matrix{rules: rules}, nil
}

// NewMatrix builds a matrix from in-memory rules. Tests and embedders.
func NewMatrix(rules map[string]Rule) *Matrix {
	if rules == nil {
		rules = map[string]Rule{}
	}
	return &Matrix{rules: rules}
}

// Candidates returns the ranked candidate agents for a task type, or nil if
// the type has no rule.
func (m *Matrix) Candidates(taskType string) []string {
	return m.rules[taskType].Candidates
}

// Eligible reports whether the agent may claim tasks of the given type.
// Types without a rule are open to every agent so unknown work never
// strands in the queue.
func (m *Matrix) Eligible(taskType, agentID string) bool {
	rule, ok := m.rules[taskType]
	if !ok || len(rule.Candidates) == 0 {
		return true
	}
	return slices.Contains(rule.Candidates, agentID)
}
