// Package tools holds the operations the realtime model may call during a
// phone call. Each operation is declared with an explicit signature; the
// registry derives the function-calling schema from those declarations and
// dispatches calls by name.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/soyeahso/dialtask/internal/logging"
)

var (
	// ErrUnknownOperation is returned by Invoke for names never registered.
	ErrUnknownOperation = errors.New("tools: unknown operation")

	// ErrSealed is returned by Register once the schema has been built.
	ErrSealed = errors.New("tools: registry sealed")
)

// Result is the structured value an operation returns, e.g.
// {"status": "completed"}. It is passed back to the caller unmodified.
type Result map[string]any

// Handler implements one operation. Business-rule failures belong in the
// Result ({"status": "failed", "message": ...}); a returned error means the
// call itself could not be carried out.
type Handler func(ctx context.Context, args Args) (Result, error)

// Spec declares one callable operation.
type Spec struct {
	Name        string
	Description string

	// Signature lists the accepted parameters. A nil Signature keeps the
	// operation callable but leaves it out of the advertised schema.
	Signature *Signature

	Handler Handler
}

// Registry is an ordered, append-only set of operations. It is safe for
// concurrent use; the schema is computed once on first request.
type Registry struct {
	log *logging.Logger

	mu     sync.RWMutex
	order  []string
	specs  map[string]Spec
	sealed bool

	schemaOnce sync.Once
	schema     []Function
	schemaJSON string
	schemaErr  error
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		log:   log.Sub("tools"),
		specs: make(map[string]Spec),
	}
}

// Register appends operations in declaration order. Duplicate names, empty
// names and missing handlers are rejected.
func (r *Registry) Register(specs ...Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	for _, s := range specs {
		switch {
		case s.Name == "":
			return errors.New("tools: operation name is required")
		case s.Handler == nil:
			return fmt.Errorf("tools: %s has no handler", s.Name)
		}
		if _, dup := r.specs[s.Name]; dup {
			return fmt.Errorf("tools: %s registered twice", s.Name)
		}
		r.specs[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return nil
}

// Has reports whether name is a registered operation.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.specs[name]
	return ok
}

// Names returns the registered operation names in declaration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Schema returns the function-calling schema for every resolvable
// operation. The first call seals the registry. The result is a copy;
// changing it does not affect the cached schema.
func (r *Registry) Schema() []Function {
	r.build()
	out := make([]Function, len(r.schema))
	for i, fn := range r.schema {
		out[i] = fn.clone()
	}
	return out
}

// SchemaJSON returns Schema serialized as a JSON array.
func (r *Registry) SchemaJSON() (string, error) {
	r.build()
	return r.schemaJSON, r.schemaErr
}

func (r *Registry) build() {
	r.schemaOnce.Do(func() {
		r.mu.Lock()
		r.sealed = true
		specs := make([]Spec, 0, len(r.order))
		for _, name := range r.order {
			specs = append(specs, r.specs[name])
		}
		r.mu.Unlock()

		r.schema = make([]Function, 0, len(specs))
		for _, s := range specs {
			fn, err := resolve(s)
			if err != nil {
				r.log.Warn().Err(err).Str("tool", s.Name).Msg("leaving tool out of schema")
				continue
			}
			r.schema = append(r.schema, fn)
		}

		data, err := json.Marshal(r.schema)
		if err != nil {
			r.schemaErr = fmt.Errorf("tools: encoding schema: %w", err)
			return
		}
		r.schemaJSON = string(data)
		r.log.Debug().Int("count", len(r.schema)).Msg("tool schema built")
	})
}

// Invoke calls the named operation. Unknown names fail with
// ErrUnknownOperation before anything runs; arguments that do not fit the
// declared signature fail with an *ArgumentError.
func (r *Registry) Invoke(ctx context.Context, name string, raw map[string]any) (Result, error) {
	r.mu.RLock()
	spec, ok := r.specs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}

	args, err := bind(spec, raw)
	if err != nil {
		return nil, err
	}
	return spec.Handler(ctx, args)
}
