package entity

import (
	"time"

	"github.com/Ashour158/People-sub002/internal/domain/workflow"
)

// Instance is one execution of a workflow definition version against a
// business entity.
type Instance struct {
	ID                string `json:"id"`
	DefinitionID      string `json:"definition_id"`
	DefinitionName    string `json:"definition_name"`
	DefinitionVersion int    `json:"definition_version"`

	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`

	// TriggerKey makes starts idempotent per entity, empty when unused
	TriggerKey string `json:"trigger_key,omitempty"`

	CurrentNodeID string                 `json:"current_node_id"`
	Status        workflow.State         `json:"status"`
	Context       map[string]interface{} `json:"context"`

	// Reason explains an end that did not come from an end node: an
	// evaluation failure, a rejection at an approval node, or a cancellation
	Reason string `json:"reason,omitempty"`

	// Revision is bumped on every update and guards concurrent advancement
	Revision int64 `json:"revision"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsTerminal returns true once the instance can no longer advance
func (i *Instance) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// Vars returns the variable bag conditions and resolvers evaluate against:
// the accumulated context plus the entity identity under "entity".
func (i *Instance) Vars() map[string]interface{} {
	vars := make(map[string]interface{}, len(i.Context)+1)
	for k, v := range i.Context {
		vars[k] = v
	}

	entity := map[string]interface{}{}
	if existing, ok := i.Context["entity"].(map[string]interface{}); ok {
		for k, v := range existing {
			entity[k] = v
		}
	}
	entity["type"] = i.EntityType
	entity["id"] = i.EntityID
	vars["entity"] = entity
	return vars
}

// InstanceFilter narrows instance listings. Zero values match everything.
type InstanceFilter struct {
	Status     workflow.State
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}
