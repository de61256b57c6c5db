package stores

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a resource, attribute, metadata key,
	// blueprint module or run does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating something that exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotInitialized is returned when the store is used before Init.
	ErrNotInitialized = errors.New("database not initialized")
)

// RunStatus represents the status of an apply run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// ResourceRecord is the persisted row of a resource. Attribute values are
// stored separately.
type ResourceRecord struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Type         string    `json:"type"`
	VersionMajor int       `json:"version_major"`
	VersionMinor int       `json:"version_minor"`
	VersionBuild int       `json:"version_build"`
	VersionName  string    `json:"version_name,omitempty"`
	DependsOn    []string  `json:"depends_on,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BlueprintModule is the source of one blueprint module as it was applied.
type BlueprintModule struct {
	Path string `json:"path"`
	Data string `json:"data"`
}

// Run records one apply or delete of a blueprint.
type Run struct {
	ID          string         `json:"id"`
	Status      RunStatus      `json:"status"`
	Blueprint   string         `json:"blueprint"`
	Summary     map[string]int `json:"summary,omitempty"`
	Error       *string        `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Store defines the persistence operations used by the engine and CLI.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Resource operations
	CreateResource(ctx context.Context, rec *ResourceRecord) error
	GetResource(ctx context.Context, path string) (*ResourceRecord, error)
	ListResources(ctx context.Context) ([]*ResourceRecord, error)
	DeleteResource(ctx context.Context, path string) error
	UpdateResourceVersion(ctx context.Context, path string, major, minor, build int, name string) error
	SaveResource(ctx context.Context, rec *ResourceRecord, attrs map[string]any) error

	// Attribute operations
	SetAttribute(ctx context.Context, path, name string, value any) error
	GetAttribute(ctx context.Context, path, name string) (any, error)
	ListAttributes(ctx context.Context, path string) (map[string]any, error)
	DeleteAttribute(ctx context.Context, path, name string) error

	// Metadata operations
	SetMetadata(ctx context.Context, key string, value any) error
	GetMetadata(ctx context.Context, key string) (any, error)
	DeleteMetadata(ctx context.Context, key string) error
	HasMetadata(ctx context.Context, key string) (bool, error)

	// Blueprint module operations
	ReplaceBlueprintModules(ctx context.Context, modules []BlueprintModule) error
	ListBlueprintModules(ctx context.Context) ([]BlueprintModule, error)
	DeleteBlueprintModules(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
}
