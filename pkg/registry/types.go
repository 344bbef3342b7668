package registry

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a model version
type Status string

const (
	// StatusRegistered marks a freshly registered, undeployed version
	StatusRegistered Status = "registered"
	// StatusProduction marks the single live version of a model
	StatusProduction Status = "production"
	// StatusArchived marks a demoted or retired version
	StatusArchived Status = "archived"
)

// ModelVersion is an immutable versioned artifact record. VersionID is
// globally unique and sorts in creation order.
type ModelVersion struct {
	VersionID        string                 `json:"version_id"`
	ModelName        string                 `json:"model_name"`
	ModelType        string                 `json:"model_type"`
	Metrics          map[string]float64     `json:"metrics"`
	Hyperparameters  map[string]interface{} `json:"hyperparameters"`
	DatasetVersion   string                 `json:"dataset_version"`
	Status           Status                 `json:"status"`
	ArtifactLocation string                 `json:"artifact_location"`
	CreatedAt        time.Time              `json:"created_at"`
	DeployedAt       *time.Time             `json:"deployed_at,omitempty"`
}

// Deployment records one promotion event, newest last
type Deployment struct {
	VersionID  string    `json:"version_id"`
	DeployedAt time.Time `json:"deployed_at"`
}

// RegisterRequest carries the inputs for registering a new version
type RegisterRequest struct {
	ModelName       string                 `json:"model_name"`
	ModelType       string                 `json:"model_type"`
	Metrics         map[string]float64     `json:"metrics"`
	Hyperparameters map[string]interface{} `json:"hyperparameters"`
	DatasetVersion  string                 `json:"dataset_version"`
	Artifact        []byte                 `json:"-"`
}

// RegistryError reports a misused registry operation
type RegistryError struct {
	Op        string
	ModelName string
	VersionID string
	Reason    string
}

func (e *RegistryError) Error() string {
	if e.VersionID != "" {
		return fmt.Sprintf("registry %s %s/%s: %s", e.Op, e.ModelName, e.VersionID, e.Reason)
	}
	return fmt.Sprintf("registry %s %s: %s", e.Op, e.ModelName, e.Reason)
}
