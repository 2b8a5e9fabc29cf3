// Package seed loads facilities and resources from a TOML file at startup.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/example/emergency-dispatch/internal/facility"
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
)

type File struct {
	Facilities []models.Facility `toml:"facility"`
	Resources  []Resource        `toml:"resource"`
}

// Resource is the seed form of a resource. Resources start available unless marked otherwise.
type Resource struct {
	ID        string       `toml:"id"`
	Loc       models.Coord `toml:"loc"`
	Tier      models.Tier  `toml:"tier"`
	Rating    float64      `toml:"rating"`
	Available *bool        `toml:"available"`
}

func (r Resource) model() models.Resource {
	available := true
	if r.Available != nil {
		available = *r.Available
	}
	return models.Resource{ID: r.ID, Loc: r.Loc, Tier: r.Tier, Rating: r.Rating, Available: available}
}

func Load(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read seed %s: %w", path, err)
	}
	return Parse(b)
}

func Parse(b []byte) (File, error) {
	var f File
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return File{}, fmt.Errorf("seed line %d column %d: %w", row, col, err)
		}
		return File{}, fmt.Errorf("decode seed: %w", err)
	}
	return f, nil
}

// Apply registers every facility and upserts every resource, reporting all failures together.
func Apply(ctx context.Context, f File, reg *facility.Registry, fleet geo.Fleet) error {
	var errs []error
	for _, fac := range f.Facilities {
		if err := reg.Register(fac); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range f.Resources {
		if r.ID == "" || !r.Loc.Valid() || r.Tier == 0 {
			errs = append(errs, fmt.Errorf("seed resource %q: id, valid loc and tier are required", r.ID))
			continue
		}
		if err := fleet.Upsert(ctx, r.model()); err != nil {
			errs = append(errs, fmt.Errorf("seed resource %s: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}
