package platform

import (
	"context"
	"errors"

	"github.com/aretw0/placard/pkg/core"
)

// Service bundles a store with the registry of controllers sharing it.
type Service struct {
	*core.Registry
	Store core.Store
}

// svc, err := placard.New("./places", placard.WithVersioning(false))
// The URI argument is adapter-specific (e.g., directory for 'fs', database file for 'sqlite').
func New(uri string, opts ...Option) (*Service, error) {
	o := newOptions(opts)

	store, err := initStore(uri, o)
	if err != nil {
		return nil, err
	}

	return &Service{
		Registry: core.NewRegistry(store, o.controllerOptions()...),
		Store:    store,
	}, nil
}

// NewController opens the store and returns a loaded controller for key.
// The caller owns both: Close the controller, then the store if it is a core.Closer.
func NewController(ctx context.Context, uri, key string, opts ...Option) (*core.Controller, error) {
	o := newOptions(opts)

	store, err := initStore(uri, o)
	if err != nil {
		return nil, err
	}
	ctrl := core.NewController(store, key, o.controllerOptions()...)
	if err := ctrl.Load(ctx); err != nil {
		return nil, errors.Join(err, closeStore(store))
	}
	return ctrl, nil
}

// Close closes every controller, then the store.
func (s *Service) Close(ctx context.Context) error {
	return errors.Join(s.Registry.Close(ctx), closeStore(s.Store))
}

func closeStore(store core.Store) error {
	if c, ok := store.(core.Closer); ok {
		return c.Close()
	}
	return nil
}
