package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/aseanmotorclub/roadwatch/internal/model"
)

// Reconciler drives one declarative world-state domain toward its file.
// Each tick it reads the declaration, and when the parsed content differs
// from what was last applied it despawns the previously applied objects
// and spawns the declared set, persisting the new remote tags.
//
// A missing or unparseable file is never treated as an empty declaration;
// the previously applied objects stay in the world.
type Reconciler[T any] struct {
	name    string
	path    string
	store   *Store
	parse   func([]byte) ([]T, error)
	spawn   func(context.Context, []T) ([]string, error)
	despawn func(context.Context, []string) error
	log     *slog.Logger
}

// New creates a reconciler for one domain.
func New[T any](
	name string,
	path string,
	store *Store,
	parse func([]byte) ([]T, error),
	spawn func(context.Context, []T) ([]string, error),
	despawn func(context.Context, []string) error,
	log *slog.Logger,
) *Reconciler[T] {
	return &Reconciler[T]{
		name:    name,
		path:    path,
		store:   store,
		parse:   parse,
		spawn:   spawn,
		despawn: despawn,
		log:     log,
	}
}

// contentHash hashes the parsed declaration in canonical form, so
// formatting-only edits to the file do not trigger a reapply.
func contentHash[T any](items []T) (string, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Tick runs one reconciliation pass. All failures leave the stored state
// untouched so the next tick retries the same transition.
func (r *Reconciler[T]) Tick(ctx context.Context, now time.Time) error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Debug("declaration file absent", "domain", r.name, "path", r.path)
			return nil
		}
		return err
	}

	items, err := r.parse(raw)
	if err != nil {
		r.log.Error("declaration file unparseable, keeping applied state",
			"domain", r.name, "path", r.path, "error", err)
		return nil
	}

	hash, err := contentHash(items)
	if err != nil {
		return err
	}

	prevTags, prevHash, found, err := r.store.Get(r.name)
	if err != nil {
		return err
	}
	if found && prevHash == hash {
		return nil
	}

	r.log.Info("applying declaration",
		"domain", r.name, "declared", len(items), "previousTags", len(prevTags))

	// Tear down before building up: the previously applied objects are
	// replaced wholesale, not diffed.
	if len(prevTags) > 0 {
		if err := r.despawn(ctx, prevTags); err != nil {
			return err
		}
	}

	var tags []string
	if len(items) > 0 {
		tags, err = r.spawn(ctx, items)
		if err != nil {
			// The old objects are already gone. Record that so a failed
			// spawn is not despawned twice on retry.
			if perr := r.store.Put(r.name, nil, "", now); perr != nil {
				r.log.Error("failed recording torn-down state", "domain", r.name, "error", perr)
			}
			return err
		}
	}

	return r.store.Put(r.name, tags, hash, now)
}

// ParseAssets decodes a map-modifications declaration.
func ParseAssets(raw []byte) ([]model.AssetPlacement, error) {
	var items []model.AssetPlacement
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ParseDealerVehicles decodes a dealership-modifications declaration.
func ParseDealerVehicles(raw []byte) ([]model.DealerVehicle, error) {
	var items []model.DealerVehicle
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}
