// internal/layout/registry.go
package layout

type key struct {
	dir Direction
	fn  FunctionCode
}

// Builder collects layouts at startup. It is not safe for concurrent use.
type Builder struct {
	layouts map[key]*Layout
}

func NewBuilder() *Builder {
	return &Builder{layouts: make(map[key]*Layout)}
}

// Add registers a layout. A second layout for the same direction and
// function code is rejected.
func (b *Builder) Add(l *Layout) error {
	k := key{dir: l.direction, fn: l.function}
	if _, exists := b.layouts[k]; exists {
		return &LayoutError{Function: l.function, Direction: l.direction, Err: ErrDuplicateLayout}
	}
	b.layouts[k] = l
	return nil
}

// AddAll registers layouts in order and stops at the first failure.
func (b *Builder) AddAll(ls ...*Layout) error {
	for _, l := range ls {
		if err := b.Add(l); err != nil {
			return err
		}
	}
	return nil
}

// Build freezes the collected layouts. The builder must not be reused.
func (b *Builder) Build() *Registry {
	r := &Registry{layouts: make(map[key]*Layout, len(b.layouts))}
	for k, l := range b.layouts {
		r.layouts[k] = l
	}
	return r
}

// Registry is read-only after Build and safe to share between goroutines.
type Registry struct {
	layouts map[key]*Layout
}

func (r *Registry) Lookup(dir Direction, fn FunctionCode) (*Layout, bool) {
	if r == nil {
		return nil, false
	}
	l, ok := r.layouts[key{dir: dir, fn: fn}]
	return l, ok
}

// Len is the number of registered layouts.
func (r *Registry) Len() int { return len(r.layouts) }
