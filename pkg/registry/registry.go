package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TAS/modelguard/pkg/logger"
)

// Registry manages immutable versioned model artifacts through the
// registered -> production -> archived lifecycle. At most one version per
// model is in production at any instant; promotion swaps the pointer
// atomically under the registry lock so concurrent readers never observe
// two production versions or a gap.
type Registry struct {
	artifacts ArtifactStore
	log       *logger.Logger
	tracer    trace.Tracer

	mu         sync.RWMutex
	versions   map[string]*ModelVersion // by version id
	byModel    map[string][]string      // version ids in creation order
	production map[string]string        // model name -> version id
	history    map[string][]Deployment  // promotion log, newest last
	lastNano   int64                    // monotonic guard for version ids
}

// NewRegistry creates a model registry backed by the given artifact store
func NewRegistry(artifacts ArtifactStore, log *logger.Logger) *Registry {
	return &Registry{
		artifacts:  artifacts,
		log:        log,
		tracer:     otel.Tracer("model-registry"),
		versions:   make(map[string]*ModelVersion),
		byModel:    make(map[string][]string),
		production: make(map[string]string),
		history:    make(map[string][]Deployment),
	}
}

// Register persists the artifact and metadata as a new version with
// status registered, returning the new version id
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (string, error) {
	ctx, span := r.tracer.Start(ctx, "model_registry.register")
	defer span.End()

	if req.ModelName == "" {
		return "", &RegistryError{Op: "register", Reason: "model name is required"}
	}

	versionID := r.newVersionID(req.ModelName)

	location, err := r.artifacts.Save(ctx, versionID, req.Artifact)
	if err != nil {
		return "", fmt.Errorf("failed to persist artifact for %s: %w", versionID, err)
	}

	version := &ModelVersion{
		VersionID:        versionID,
		ModelName:        req.ModelName,
		ModelType:        req.ModelType,
		Metrics:          copyMetrics(req.Metrics),
		Hyperparameters:  copyParams(req.Hyperparameters),
		DatasetVersion:   req.DatasetVersion,
		Status:           StatusRegistered,
		ArtifactLocation: location,
		CreatedAt:        time.Now().UTC(),
	}

	r.mu.Lock()
	r.versions[versionID] = version
	r.byModel[req.ModelName] = append(r.byModel[req.ModelName], versionID)
	r.mu.Unlock()

	span.SetAttributes(
		attribute.String("model_name", req.ModelName),
		attribute.String("version_id", versionID),
	)

	r.log.WithModel(req.ModelName).Info("registered model version %s", versionID)
	return versionID, nil
}

// Promote atomically demotes the current production version (if any) to
// archived and promotes the target to production
func (r *Registry) Promote(ctx context.Context, modelName, versionID string) error {
	_, span := r.tracer.Start(ctx, "model_registry.promote")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.versions[versionID]
	if !ok {
		return &RegistryError{Op: "promote", ModelName: modelName, VersionID: versionID, Reason: "unknown version id"}
	}
	if target.ModelName != modelName {
		return &RegistryError{Op: "promote", ModelName: modelName, VersionID: versionID,
			Reason: fmt.Sprintf("version belongs to model %s", target.ModelName)}
	}

	now := time.Now().UTC()

	if currentID, ok := r.production[modelName]; ok && currentID != versionID {
		r.versions[currentID].Status = StatusArchived
	}

	target.Status = StatusProduction
	target.DeployedAt = &now
	r.production[modelName] = versionID
	r.history[modelName] = append(r.history[modelName], Deployment{VersionID: versionID, DeployedAt: now})

	span.SetAttributes(
		attribute.String("model_name", modelName),
		attribute.String("version_id", versionID),
	)

	r.log.WithModel(modelName).Info("promoted version %s to production", versionID)
	return nil
}

// Rollback promotes a currently archived version back to production. It is
// the only path from archived back to production.
func (r *Registry) Rollback(ctx context.Context, modelName, versionID string) error {
	r.mu.RLock()
	target, ok := r.versions[versionID]
	var status Status
	if ok {
		status = target.Status
	}
	r.mu.RUnlock()

	if !ok {
		return &RegistryError{Op: "rollback", ModelName: modelName, VersionID: versionID, Reason: "unknown version id"}
	}
	if status != StatusArchived {
		return &RegistryError{Op: "rollback", ModelName: modelName, VersionID: versionID,
			Reason: fmt.Sprintf("version has status %s, only archived versions can be rolled back to", status)}
	}

	return r.Promote(ctx, modelName, versionID)
}

// GetProduction returns the current production version of a model
func (r *Registry) GetProduction(ctx context.Context, modelName string) (*ModelVersion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versionID, ok := r.production[modelName]
	if !ok {
		return nil, false
	}
	return cloneVersion(r.versions[versionID]), true
}

// Get returns a version by id
func (r *Registry) Get(ctx context.Context, versionID string) (*ModelVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, ok := r.versions[versionID]
	if !ok {
		return nil, &RegistryError{Op: "get", VersionID: versionID, Reason: "unknown version id"}
	}
	return cloneVersion(version), nil
}

// List returns all versions of a model in creation order
func (r *Registry) List(ctx context.Context, modelName string) []*ModelVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byModel[modelName]
	versions := make([]*ModelVersion, 0, len(ids))
	for _, id := range ids {
		versions = append(versions, cloneVersion(r.versions[id]))
	}
	return versions
}

// Compare returns all versions of a model sorted descending by the given
// metric. Versions missing the metric sort last.
func (r *Registry) Compare(ctx context.Context, modelName, metric string) []*ModelVersion {
	versions := r.List(ctx, modelName)

	sort.SliceStable(versions, func(i, j int) bool {
		vi, oki := versions[i].Metrics[metric]
		vj, okj := versions[j].Metrics[metric]
		if oki != okj {
			return oki
		}
		return vi > vj
	})

	return versions
}

// Delete permanently removes a version's artifact and metadata. Production
// versions must be demoted first.
func (r *Registry) Delete(ctx context.Context, versionID string) error {
	_, span := r.tracer.Start(ctx, "model_registry.delete")
	defer span.End()

	r.mu.Lock()
	version, ok := r.versions[versionID]
	if !ok {
		r.mu.Unlock()
		return &RegistryError{Op: "delete", VersionID: versionID, Reason: "unknown version id"}
	}
	if version.Status == StatusProduction {
		r.mu.Unlock()
		return &RegistryError{Op: "delete", ModelName: version.ModelName, VersionID: versionID,
			Reason: "cannot delete the production version, promote a replacement first"}
	}

	delete(r.versions, versionID)
	ids := r.byModel[version.ModelName]
	for i, id := range ids {
		if id == versionID {
			r.byModel[version.ModelName] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	location := version.ArtifactLocation
	r.mu.Unlock()

	if err := r.artifacts.Delete(ctx, location); err != nil {
		return fmt.Errorf("metadata removed but artifact deletion failed: %w", err)
	}

	r.log.WithModel(version.ModelName).Info("deleted model version %s", versionID)
	return nil
}

// PreviousProduction returns the version that was in production
// immediately before the current one, from the deployment history
func (r *Registry) PreviousProduction(ctx context.Context, modelName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deployments := r.history[modelName]
	if len(deployments) < 2 {
		return "", false
	}

	current := r.production[modelName]
	// Walk the history backwards past the current version to find the
	// most recent distinct predecessor.
	for i := len(deployments) - 1; i >= 0; i-- {
		if deployments[i].VersionID != current {
			return deployments[i].VersionID, true
		}
	}
	return "", false
}

// LastTrainedAt returns the creation time of the newest version of a
// model. Used by the retraining trigger engine as the last-training
// timestamp.
func (r *Registry) LastTrainedAt(ctx context.Context, modelName string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byModel[modelName]
	if len(ids) == 0 {
		return time.Time{}, false
	}
	return r.versions[ids[len(ids)-1]].CreatedAt, true
}

// newVersionID builds a globally unique, creation-order-sortable version
// id from a monotonic timestamp plus a random suffix
func (r *Registry) newVersionID(modelName string) string {
	r.mu.Lock()
	nano := time.Now().UTC().UnixNano()
	if nano <= r.lastNano {
		nano = r.lastNano + 1
	}
	r.lastNano = nano
	r.mu.Unlock()

	return fmt.Sprintf("%s_%019d_%s", modelName, nano, uuid.NewString()[:8])
}

// cloneVersion returns a defensive copy so callers cannot mutate registry
// state through returned records
func cloneVersion(v *ModelVersion) *ModelVersion {
	clone := *v
	clone.Metrics = copyMetrics(v.Metrics)
	clone.Hyperparameters = copyParams(v.Hyperparameters)
	if v.DeployedAt != nil {
		deployedAt := *v.DeployedAt
		clone.DeployedAt = &deployedAt
	}
	return &clone
}

func copyMetrics(metrics map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		out[k] = v
	}
	return out
}

func copyParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
