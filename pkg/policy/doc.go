// Package policy evaluates execution plans against Open Policy Agent (OPA)
// Rego policies before they are applied.
//
// A policy is a Rego module defining a "deny" set. Each entry is either a
// message string or an object with "message", "severity", "resource" and
// "remediation" fields. Policies see the document
//
//	{
//	    "plan":    {"id": ..., "units": [{"path": ..., "operation": ..., "changes": [...]}]},
//	    "context": {"allow_rebuild": false, "protected": ["main.db"], ...}
//	}
//
// Violations with error or critical severity deny the plan; the rest are
// reported as warnings.
//
// # Built-in policies
//
//   - rebuild_guard: denies recreates unless the context allows rebuilds
//   - delete_guard: warns about every deleted resource
//   - protected_resources: denies deleting or recreating protected paths
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	result, err := eng.EvaluatePlan(ctx, plan, policy.PolicyContext{AllowRebuild: true})
//	if err != nil {
//	    return err
//	}
//	if err := result.Err(); err != nil {
//	    return err
//	}
//
// Custom policies are read from .rego files, named after the file, or from
// .json files holding a serialized Policy. Engine.Watch recompiles them
// when they change on disk.
package policy
