package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/expr"
	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
)

// ApproverResolver turns instance variables into candidate approver ids
type ApproverResolver interface {
	Resolve(ctx context.Context, vars map[string]interface{}) ([]string, error)
}

// StaticUser always resolves to a fixed list of users
type StaticUser struct {
	Users []string
}

func (r StaticUser) Resolve(ctx context.Context, vars map[string]interface{}) ([]string, error) {
	return r.Users, nil
}

// RoleLookup resolves every holder of a role in the directory
type RoleLookup struct {
	Role      string
	Directory port.Directory
}

func (r RoleLookup) Resolve(ctx context.Context, vars map[string]interface{}) ([]string, error) {
	users, err := r.Directory.UsersInRole(ctx, r.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to look up role %s: %w", r.Role, err)
	}
	return users, nil
}

// ReportingManager resolves the manager of the user found at Subject
type ReportingManager struct {
	Subject   expr.Lookup
	Directory port.Directory
}

func (r ReportingManager) Resolve(ctx context.Context, vars map[string]interface{}) ([]string, error) {
	v, err := expr.Eval(r.Subject, vars)
	if err != nil {
		return nil, err
	}
	user, ok := v.(string)
	if !ok || user == "" {
		return nil, &expr.EvaluationError{Expression: r.Subject.String(), Reason: fmt.Sprintf("subject is %v, want a user id", v)}
	}

	manager, err := r.Directory.ReportingManager(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to look up manager of %s: %w", user, err)
	}
	if manager == "" {
		return nil, nil
	}
	return []string{manager}, nil
}

// ExpressionBased evaluates an expression yielding a user id or a list of ids
type ExpressionBased struct {
	Expr expr.Expr
}

func (r ExpressionBased) Resolve(ctx context.Context, vars map[string]interface{}) ([]string, error) {
	v, err := expr.Eval(r.Expr, vars)
	if err != nil {
		return nil, err
	}

	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{val}, nil
	case []string:
		return val, nil
	case []interface{}:
		users := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, &expr.EvaluationError{Expression: r.Expr.String(), Reason: fmt.Sprintf("non-string approver %v", item)}
			}
			users = append(users, s)
		}
		return users, nil
	default:
		return nil, &expr.EvaluationError{Expression: r.Expr.String(), Reason: fmt.Sprintf("yielded %T, want a user id or list", v)}
	}
}

// NewResolver builds the resolver for a configured approver resolution
func NewResolver(res domainwf.ApproverResolution, dir port.Directory) (ApproverResolver, error) {
	switch res.Kind {
	case domainwf.ResolveStaticUser:
		return StaticUser{Users: res.Users}, nil
	case domainwf.ResolveRole:
		if dir == nil {
			return nil, fmt.Errorf("role resolution requires a directory")
		}
		return RoleLookup{Role: res.Role, Directory: dir}, nil
	case domainwf.ResolveReportingManager:
		if dir == nil {
			return nil, fmt.Errorf("reporting manager resolution requires a directory")
		}
		subject := res.Subject
		if subject == "" {
			subject = domainwf.DefaultSubjectPath
		}
		return ReportingManager{Subject: expr.Lookup{Path: strings.Split(subject, ".")}, Directory: dir}, nil
	case domainwf.ResolveExpression:
		e, err := expr.Parse(res.Expression)
		if err != nil {
			return nil, err
		}
		return ExpressionBased{Expr: e}, nil
	}
	return nil, fmt.Errorf("unknown resolver kind %q", res.Kind)
}

// ResolveApprovers resolves a configuration to a de-duplicated, ordered list
// of non-empty approver ids.
func ResolveApprovers(ctx context.Context, res domainwf.ApproverResolution, dir port.Directory, vars map[string]interface{}) ([]string, error) {
	resolver, err := NewResolver(res, dir)
	if err != nil {
		return nil, err
	}
	users, err := resolver.Resolve(ctx, vars)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out, nil
}
