package engine

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"collab-sync/backend/internal/session/domain"
)

const policyQuery = "data.collab.session_access"

//go:embed policies/session_access.rego
var defaultRegoPolicy string

// OPAEvaluator evaluates the session access policy with an in-process OPA Rego engine.
// The query is prepared once; evaluation is safe for concurrent use.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles the embedded session access policy.
func NewOPAEvaluator(ctx context.Context) (*OPAEvaluator, error) {
	return NewOPAEvaluatorWithPolicy(ctx, defaultRegoPolicy)
}

// LoadOPAEvaluator compiles the Rego module at path, or the embedded policy when path is empty.
func LoadOPAEvaluator(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session access policy: %w", err)
	}
	return NewOPAEvaluatorWithPolicy(ctx, string(b))
}

// NewOPAEvaluatorWithPolicy compiles a replacement policy. It must define package collab.session_access
// with an allow rule and may define reason.
func NewOPAEvaluatorWithPolicy(ctx context.Context, policy string) (*OPAEvaluator, error) {
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Module("session_access.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile session access policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// Authorize evaluates the policy for action by userID on s. An evaluation failure denies access and
// returns the error.
func (e *OPAEvaluator) Authorize(ctx context.Context, action Action, userID string, s *domain.Session) (Decision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(action, userID, s)))
	if err != nil {
		return Decision{}, fmt.Errorf("eval session access policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("session access policy returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("session access policy returned %T", rs[0].Expressions[0].Value)
	}
	d := Decision{}
	d.Allowed, _ = doc["allow"].(bool)
	if !d.Allowed {
		d.Reason, _ = doc["reason"].(string)
		if d.Reason == "" {
			d.Reason = "access denied"
		}
	}
	return d, nil
}

// HealthCheck verifies that the prepared policy evaluates. Used by the readiness probe.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	probe := &domain.Session{HostID: "health", Status: domain.StatusActive}
	d, err := e.Authorize(ctx, ActionUpdate, "health", probe)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("session access policy denied the host probe: %s", d.Reason)
	}
	return nil
}

func buildInput(action Action, userID string, s *domain.Session) map[string]interface{} {
	session := map[string]interface{}{"id": "", "host_id": "", "status": ""}
	if s != nil {
		session["id"] = s.ID
		session["host_id"] = s.HostID
		session["status"] = string(s.Status)
	}
	return map[string]interface{}{
		"action":  string(action),
		"user":    map[string]interface{}{"id": userID},
		"session": session,
	}
}
