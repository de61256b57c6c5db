package policy

import (
	"time"
)

// Names of the built-in policies.
const (
	RebuildGuard       = "rebuild_guard"
	DeleteGuard        = "delete_guard"
	ProtectedResources = "protected_resources"
)

// BuiltinPolicies returns all built-in policies.
func BuiltinPolicies() []Policy {
	return []Policy{
		rebuildGuardPolicy(),
		deleteGuardPolicy(),
		protectedResourcesPolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, rego string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
		Rego:        rego,
	}
}

// rebuildGuardPolicy blocks recreates unless rebuilds were allowed.
func rebuildGuardPolicy() Policy {
	return builtin(RebuildGuard,
		"Blocks plans that recreate resources unless rebuilds are allowed",
		SeverityError,
		[]string{"safety", "rebuild"},
		`package stackzilla.policies.rebuild_guard

import rego.v1

deny contains violation if {
	not input.context.allow_rebuild
	some unit in input.plan.units
	unit.operation == "recreate"
	violation := {
		"message": sprintf("resource %s must be rebuilt to apply its changes", [unit.path]),
		"severity": "error",
		"resource": unit.path,
		"remediation": "allow rebuilds or revert the rebuild attributes",
	}
}
`)
}

// deleteGuardPolicy warns about every deleted resource.
func deleteGuardPolicy() Policy {
	return builtin(DeleteGuard,
		"Warns about every resource the plan deletes",
		SeverityWarning,
		[]string{"safety", "delete"},
		`package stackzilla.policies.delete_guard

import rego.v1

deny contains violation if {
	some unit in input.plan.units
	unit.operation == "delete"
	violation := {
		"message": sprintf("resource %s will be deleted", [unit.path]),
		"severity": "warning",
		"resource": unit.path,
	}
}
`)
}

// protectedResourcesPolicy blocks deleting or recreating protected paths.
func protectedResourcesPolicy() Policy {
	return builtin(ProtectedResources,
		"Blocks plans that delete or recreate protected resources",
		SeverityCritical,
		[]string{"safety", "protection"},
		`package stackzilla.policies.protected_resources

import rego.v1

destructive := {"delete", "recreate"}

deny contains violation if {
	some unit in input.plan.units
	unit.operation in destructive
	unit.path in input.context.protected
	violation := {
		"message": sprintf("protected resource %s would be %sd", [unit.path, unit.operation]),
		"severity": "critical",
		"resource": unit.path,
		"remediation": "remove the resource from the protected list first",
	}
}
`)
}
