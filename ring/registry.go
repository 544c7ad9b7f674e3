package ring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"
)

// The process-wide ring registry. Monitoring code attaches to pipeline
// rings by name or pattern without threading handles through the graph.
var registry = struct {
	mu    sync.Mutex
	rings map[string]*Ring
}{
	rings: make(map[string]*Ring),
}

func register(r *Ring) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.rings[r.name]; ok {
		return fmt.Errorf("%w: ring %q already exists", ErrInvalidArgument, r.name)
	}
	registry.rings[r.name] = r
	return nil
}

func unregister(name string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.rings, name)
}

// Lookup returns the live ring registered under name.
func Lookup(name string) (*Ring, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	r, ok := registry.rings[name]
	return r, ok
}

// Match returns the live rings whose names match the glob pattern, sorted
// by name.
func Match(pattern string) ([]*Ring, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ring pattern %q: %v", ErrInvalidArgument, pattern, err)
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	var out []*Ring
	for name, r := range registry.rings {
		if g.Match(name) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}
