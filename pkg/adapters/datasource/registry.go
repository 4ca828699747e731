package datasource

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// OpenFunc builds a store from driver-specific settings.
type OpenFunc func(ctx context.Context, settings map[string]any) (Store, error)

// Driver describes a store backend linked into the binary.
type Driver struct {
	Name        string // value of store.driver in config
	DisplayName string
	Description string
	Open        OpenFunc `json:"-"`
}

var drivers sync.Map // name -> Driver

// Register makes a driver available to Open. Adapter packages call it from
// init, so linking one in with a blank import is enough.
func Register(d Driver) {
	drivers.Store(d.Name, d)
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Driver, bool) {
	v, ok := drivers.Load(name)
	if !ok {
		return Driver{}, false
	}
	return v.(Driver), true
}

// Drivers lists the registered drivers by name.
func Drivers() []Driver {
	var out []Driver
	drivers.Range(func(_, v any) bool {
		out = append(out, v.(Driver))
		return true
	})
	slices.SortFunc(out, func(a, b Driver) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Open builds a store with the named driver.
func Open(ctx context.Context, name string, settings map[string]any) (Store, error) {
	d, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q (compiled in: %s)", name, driverNames())
	}
	store, err := d.Open(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", name, err)
	}
	return store, nil
}

func driverNames() string {
	var names []string
	for _, d := range Drivers() {
		names = append(names, d.Name)
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
