// Package reconciler creates Metabase objects, or reuses the existing ones with the same name.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/flovouin/metabase-provisioner/internal/registry"
	"github.com/flovouin/metabase-provisioner/metabase"
)

// The message returned by Metabase when two objects are created concurrently and the database sequence conflicts.
const duplicateKeyMessage = "duplicate key"

// Returned when an object could not be created, even after retrying.
var ErrCreateFailed = errors.New("failed to create object")

// Creates or reuses objects of any type, based on the names indexed in the registry.
type Reconciler struct {
	api      metabase.API       // The client used to create, update and delete objects.
	registry *registry.Registry // The index of existing objects, used to decide whether an object should be created.
	logger   *slog.Logger       // The logger reporting progress.
}

// Creates a new reconciler.
func New(api metabase.API, registry *registry.Registry, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		api:      api,
		registry: registry,
		logger:   logger,
	}
}

// Returns whether the response reports a conflict in the Metabase database keys.
func isDuplicateKey(resp *metabase.Response) bool {
	return resp != nil && !resp.OK() && strings.Contains(resp.ErrorMessage(), duplicateKeyMessage)
}

// Creates an object and returns its ID. A `duplicate key` conflict is retried exactly once.
func (r *Reconciler) create(ctx context.Context, t registry.ObjectType, name string, attrs map[string]any) (int, error) {
	body := make(map[string]any, len(attrs)+1)
	maps.Copy(body, attrs)
	body["name"] = name

	operation := fmt.Sprintf("create %s '%s'", t, name)

	resp, err := r.api.Post(ctx, t.Endpoint(), body)
	if err == nil && isDuplicateKey(resp) {
		r.logger.InfoContext(ctx, fmt.Sprintf("Retrying after \"%s\" error", duplicateKeyMessage), slog.String("type", string(t)), slog.String("name", name))
		resp, err = r.api.Post(ctx, t.Endpoint(), body)
	}
	if err := metabase.CheckOK(resp, err, operation); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	id, err := metabase.ParseId(resp)
	if err != nil {
		return 0, fmt.Errorf("failed to read the ID of the created %s '%s': %w", t, name, err)
	}

	return id, nil
}

// Updates an existing object with the given attributes, or fetches it if there are none.
func (r *Reconciler) reuse(ctx context.Context, t registry.ObjectType, id int, name string, attrs map[string]any) error {
	path, err := metabase.ObjectPath(t.Endpoint(), id)
	if err != nil {
		return err
	}

	var resp *metabase.Response
	if len(attrs) > 0 {
		resp, err = r.api.Put(ctx, path, attrs)
	} else {
		resp, err = r.api.Get(ctx, path)
	}

	return metabase.CheckOK(resp, err, fmt.Sprintf("update %s '%s'", t, name))
}

// Deletes an existing object. An object that no longer exists is not an error.
func (r *Reconciler) delete(ctx context.Context, t registry.ObjectType, id int, name string) error {
	path, err := metabase.ObjectPath(t.Endpoint(), id)
	if err != nil {
		return err
	}

	resp, err := r.api.Delete(ctx, path)
	return metabase.CheckResponse(resp, err, []int{200, 204, 404}, fmt.Sprintf("delete %s '%s'", t, name))
}

// Ensures an object of the given type and name exists, and returns its ID.
// If the object exists and `reuse` is true, it is updated with the given attributes. If `reuse` is false, it is deleted
// and created again from scratch. The registry is not updated, such that a subsequent call with the same name will
// still see the state of the instance when the registry was first listed.
func (r *Reconciler) CreateOrReuse(ctx context.Context, t registry.ObjectType, name string, attrs map[string]any, reuse bool) (int, error) {
	id, exists, err := r.registry.Find(ctx, t, name)
	if err != nil {
		return 0, err
	}

	if exists && reuse {
		r.logger.InfoContext(ctx, fmt.Sprintf("Keeping existing %s '%s'", t, name), slog.Int("id", id))

		if err := r.reuse(ctx, t, id, name, attrs); err != nil {
			return 0, err
		}

		return id, nil
	}

	if exists {
		r.logger.InfoContext(ctx, fmt.Sprintf("Deleting existing %s '%s'", t, name), slog.Int("id", id))

		if err := r.delete(ctx, t, id, name); err != nil {
			return 0, err
		}
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("Adding %s '%s'", t, name))

	return r.create(ctx, t, name, attrs)
}
