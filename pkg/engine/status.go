package engine

import (
	"encoding/json"
	"fmt"
)

// OperationType represents the type of operation to perform on a resource.
type OperationType string

const (
	// OperationCreate indicates a new resource should be created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing resource should be modified in
	// place.
	OperationUpdate OperationType = "update"

	// OperationRecreate indicates a resource must be deleted and created
	// again because a rebuild attribute changed.
	OperationRecreate OperationType = "recreate"

	// OperationDelete indicates an existing resource should be deleted.
	OperationDelete OperationType = "delete"

	// OperationNoop indicates the resource is already in the desired state.
	OperationNoop OperationType = "noop"
)

// IsDestructive returns true if the operation destroys resources.
func (o OperationType) IsDestructive() bool {
	return o == OperationDelete || o == OperationRecreate
}

// IsMutating returns true if the operation changes resource state.
func (o OperationType) IsMutating() bool {
	return o != OperationNoop
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationRecreate, OperationDelete, OperationNoop:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// UnitStatus represents the status of a plan unit during apply.
type UnitStatus string

const (
	// UnitStatusPending indicates the unit has not started.
	UnitStatusPending UnitStatus = "pending"

	// UnitStatusSucceeded indicates the unit completed successfully.
	UnitStatusSucceeded UnitStatus = "succeeded"

	// UnitStatusFailed indicates the unit failed.
	UnitStatusFailed UnitStatus = "failed"

	// UnitStatusSkipped indicates the unit never ran because an earlier
	// unit failed or the run was cancelled.
	UnitStatusSkipped UnitStatus = "skipped"
)

// IsTerminal returns true if the status represents a final state.
func (s UnitStatus) IsTerminal() bool {
	return s != UnitStatusPending
}

// Validate checks if the unit status is valid.
func (s UnitStatus) Validate() error {
	switch s {
	case UnitStatusPending, UnitStatusSucceeded, UnitStatusFailed, UnitStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid unit status: %s", s)
	}
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (o *OperationType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*o = OperationType(str)
	return o.Validate()
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *UnitStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = UnitStatus(str)
	return s.Validate()
}
