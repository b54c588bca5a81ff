package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onboardingYAML = `
name: onboarding
nodes:
  - id: start
    type: START
  - id: it
    type: approval
    approval:
      approvers:
        kind: static_user
        users: [alice, bob]
      requires_all: true
      timeout: 24h
      escalation:
        action: auto_approve
  - id: tag
    type: action
    action:
      name: set
      params:
        path: provisioned
        value: true
  - id: finish
    type: end
edges:
  - from: start
    to: it
  - from: it
    to: tag
  - from: tag
    to: finish
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(onboardingYAML))
	require.NoError(t, err)

	assert.Equal(t, "onboarding", def.Name)
	assert.Equal(t, NodeStart, def.Nodes[0].Type)
	assert.Equal(t, []string{"alice", "bob"}, def.Nodes[1].Approval.Approvers.Users)
	assert.Equal(t, 24*time.Hour, def.Nodes[1].Approval.Timeout)
	assert.Equal(t, EscalateAutoApprove, def.Nodes[1].Approval.Escalation.Action)
	assert.Equal(t, true, def.Nodes[2].Action.Params["value"])
	assert.Equal(t, StateCompleted, def.Nodes[3].Outcome)

	_, err = Validate(def)
	assert.NoError(t, err)
}

func TestParseDefinition_JSON(t *testing.T) {
	doc := `{"name":"tiny","nodes":[{"id":"s","type":"start"},{"id":"e","type":"end","outcome":"rejected"}],"edges":[{"from":"s","to":"e"}]}`

	def, err := ParseDefinition([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, StateRejected, def.Nodes[1].Outcome)
}

func TestParseDefinition_UnknownField(t *testing.T) {
	_, err := ParseDefinition([]byte("name: x\nnodes: []\nedges: []\nowner: me\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse workflow definition")
}

// A definition that validates must reload into the same graph after being
// serialized.
func TestDefinition_RoundTrip(t *testing.T) {
	for _, def := range []*Definition{leaveRequest(), mustParse(t, onboardingYAML)} {
		t.Run(def.Name, func(t *testing.T) {
			_, err := Validate(def)
			require.NoError(t, err)

			data, err := MarshalDefinition(def)
			require.NoError(t, err)

			reloaded, err := ParseDefinition(data)
			require.NoError(t, err)
			assert.Equal(t, def, reloaded)

			report, err := Validate(reloaded)
			require.NoError(t, err)
			original, _ := Validate(def)
			assert.Equal(t, original.Order, report.Order)
		})
	}
}

func mustParse(t *testing.T, doc string) *Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(doc))
	require.NoError(t, err)
	return def
}
