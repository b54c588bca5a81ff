package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/application/workflow"
	"github.com/Ashour158/People-sub002/internal/domain/entity"
	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ValidationResult is the outcome of validating a definition
type ValidationResult struct {
	Order    []string `json:"order"`
	Warnings []string `json:"warnings"`
}

// DefinitionService manages versioned workflow definitions
type DefinitionService interface {
	// Validate checks a definition and dry-runs approver resolution against
	// a sample context. Fatal problems are returned as errors.
	Validate(ctx context.Context, def *domainwf.Definition, sample map[string]interface{}) (*ValidationResult, error)

	// Create validates and stores a definition as the next version of its
	// name. The new version becomes the active one.
	Create(ctx context.Context, def *domainwf.Definition, sample map[string]interface{}) (*domainwf.Definition, *ValidationResult, error)

	Get(ctx context.Context, id string) (*domainwf.Definition, error)
	GetActive(ctx context.Context, name string) (*domainwf.Definition, error)
	List(ctx context.Context, limit, offset int) ([]*domainwf.Definition, error)
}

type definitionServiceImpl struct {
	defs      port.DefinitionRepository
	txManager port.TransactionManager
	directory port.Directory
	actions   *workflow.ActionRegistry
	logger    Logger
}

// NewDefinitionService creates a new DefinitionService
func NewDefinitionService(
	defs port.DefinitionRepository,
	txManager port.TransactionManager,
	directory port.Directory,
	actions *workflow.ActionRegistry,
	logger Logger,
) DefinitionService {
	if actions == nil {
		actions = workflow.NewActionRegistry()
	}
	return &definitionServiceImpl{
		defs:      defs,
		txManager: txManager,
		directory: directory,
		actions:   actions,
		logger:    logger,
	}
}

func (s *definitionServiceImpl) Validate(ctx context.Context, def *domainwf.Definition, sample map[string]interface{}) (*ValidationResult, error) {
	def.Normalize()
	report, err := domainwf.Validate(def)
	if err != nil {
		return nil, err
	}

	if problems := s.unknownActions(def); len(problems) > 0 {
		return nil, &domainwf.ValidationError{Problems: problems}
	}

	result := &ValidationResult{Order: report.Order, Warnings: report.Warnings}
	result.Warnings = append(result.Warnings, s.dryRun(ctx, def, sample)...)
	if result.Warnings == nil {
		result.Warnings = []string{}
	}
	return result, nil
}

func (s *definitionServiceImpl) Create(ctx context.Context, def *domainwf.Definition, sample map[string]interface{}) (*domainwf.Definition, *ValidationResult, error) {
	result, err := s.Validate(ctx, def, sample)
	if err != nil {
		return nil, nil, err
	}

	stored := def.Clone()
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		latest, err := s.defs.LatestVersion(txCtx, stored.Name)
		if err != nil {
			return fmt.Errorf("get latest version: %w", err)
		}
		if err := s.defs.DeactivateAll(txCtx, stored.Name); err != nil {
			return fmt.Errorf("deactivate versions: %w", err)
		}

		stored.ID = uuid.NewString()
		stored.Version = latest + 1
		stored.IsActive = true
		stored.CreatedAt = time.Now().UTC()
		if err := s.defs.Create(txCtx, stored); err != nil {
			return fmt.Errorf("create definition: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to store definition", "name", def.Name, "error", err)
		return nil, nil, err
	}

	s.logger.Info("Workflow definition stored",
		"id", stored.ID,
		"name", stored.Name,
		"version", stored.Version,
		"warnings", len(result.Warnings),
	)
	return stored, result, nil
}

func (s *definitionServiceImpl) Get(ctx context.Context, id string) (*domainwf.Definition, error) {
	def, err := s.defs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("definition %s: %w", id, workflow.ErrNotFound)
	}
	return def, nil
}

func (s *definitionServiceImpl) GetActive(ctx context.Context, name string) (*domainwf.Definition, error) {
	def, err := s.defs.GetActiveByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("definition %s: %w", name, workflow.ErrNotFound)
	}
	return def, nil
}

func (s *definitionServiceImpl) List(ctx context.Context, limit, offset int) ([]*domainwf.Definition, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.defs.List(ctx, limit, offset)
}

func (s *definitionServiceImpl) unknownActions(def *domainwf.Definition) []string {
	known := make(map[string]bool)
	for _, name := range s.actions.Names() {
		known[name] = true
	}
	var problems []string
	for _, n := range def.Nodes {
		if n.Type == domainwf.NodeAction && n.Action != nil && !known[n.Action.Name] {
			problems = append(problems, fmt.Sprintf("action node %q uses unknown action %q", n.ID, n.Action.Name))
		}
	}
	return problems
}

// dryRun resolves every approval node and escalation target against the
// sample context and reports the ones that would resolve nobody.
func (s *definitionServiceImpl) dryRun(ctx context.Context, def *domainwf.Definition, sample map[string]interface{}) []string {
	if sample == nil {
		sample = map[string]interface{}{}
	}
	vars := (&entity.Instance{Context: sample}).Vars()

	var warnings []string
	check := func(nodeID, what string, res domainwf.ApproverResolution) {
		users, err := workflow.ResolveApprovers(ctx, res, s.directory, vars)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("approval node %q %s cannot be resolved for the sample context: %v", nodeID, what, err))
		case len(users) == 0:
			warnings = append(warnings, fmt.Sprintf("approval node %q %s resolves no approvers for the sample context", nodeID, what))
		}
	}

	for _, n := range def.Nodes {
		if n.Type != domainwf.NodeApproval || n.Approval == nil {
			continue
		}
		check(n.ID, "approvers", n.Approval.Approvers)
		if esc := n.Approval.Escalation; esc != nil && esc.Target != nil {
			check(n.ID, "escalation target", *esc.Target)
		}
	}
	return warnings
}
