// Package rowedit drives the per-row edit lifecycle of a list view. A row is
// Viewing or Editing; entering edit mode captures the record as the original,
// field edits stay local until save, and save hands the collected candidate
// to the mutation engine. Cancel never touches the engine.
package rowedit

import (
	"context"
	"reflect"
	"sync"

	"github.com/iotfleet/fleetadmin/entities"
	"github.com/iotfleet/fleetadmin/mutation"
	"github.com/pkg/errors"
)

// State is the row's edit mode.
type State int

const (
	Viewing State = iota
	Editing
)

func (s State) String() string {
	if s == Editing {
		return "editing"
	}
	return "viewing"
}

// NeedsConfirmFunc decides whether the difference between the original and
// the candidate warrants an explicit user confirmation (e.g. an ownership or
// role change). Supplied per entity type by the list view.
type NeedsConfirmFunc[T entities.Keyed] func(original, candidate T) bool

// Row tracks one record's edit state. A second edit cannot start while a save
// is in flight; the edit control is disabled until the save settles.
type Row[T entities.Keyed, I any] struct {
	engine       *mutation.Engine[T, I]
	needsConfirm NeedsConfirmFunc[T]
	equal        func(a, b T) bool

	lock     sync.Mutex
	key      string
	state    State
	busy     bool
	original T
	working  T
}

// RowOption defines a function type to modify the Row instance.
type RowOption[T entities.Keyed, I any] func(*Row[T, I])

// WithRowEqualFunc replaces the did-anything-change comparison (default
// reflect.DeepEqual).
func WithRowEqualFunc[T entities.Keyed, I any](equal func(a, b T) bool) RowOption[T, I] {
	return func(r *Row[T, I]) {
		r.equal = equal
	}
}

func NewRow[T entities.Keyed, I any](key string, engine *mutation.Engine[T, I], needsConfirm NeedsConfirmFunc[T], options ...RowOption[T, I]) (*Row[T, I], error) {
	if key == "" {
		return nil, errors.New("[NewRow] key is required")
	}
	if engine == nil {
		return nil, errors.New("[NewRow] engine is required")
	}
	if needsConfirm == nil {
		needsConfirm = func(T, T) bool { return false }
	}

	r := &Row[T, I]{
		engine:       engine,
		needsConfirm: needsConfirm,
		equal:        func(a, b T) bool { return reflect.DeepEqual(a, b) },
		key:          key,
		state:        Viewing,
	}

	for _, opt := range options {
		opt(r)
	}

	return r, nil
}

func (r *Row[T, I]) State() State {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.state
}

// Begin enters edit mode, capturing the record's current value as the
// original against which the save comparison is made.
func (r *Row[T, I]) Begin() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.busy {
		return errors.Wrapf(ErrRowBusy, "[Row.Begin] %q", r.key)
	}

	item, ok := r.engine.Cache().Get(r.key)
	if !ok {
		return errors.Wrapf(entities.ErrNotFound, "[Row.Begin] %q", r.key)
	}

	r.original = item
	r.working = item
	r.state = Editing
	return nil
}

// Set applies a local field edit to the working copy. Nothing reaches the
// cache or the network until Save.
func (r *Row[T, I]) Set(edit func(*T)) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state != Editing {
		return errors.Wrapf(ErrNotEditing, "[Row.Set] %q", r.key)
	}
	edit(&r.working)
	return nil
}

// Working returns the current working copy.
func (r *Row[T, I]) Working() (T, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state != Editing {
		var zero T
		return zero, errors.Wrapf(ErrNotEditing, "[Row.Working] %q", r.key)
	}
	return r.working, nil
}

// Cancel discards local edits and returns to Viewing without invoking the
// mutation engine.
func (r *Row[T, I]) Cancel() {
	r.lock.Lock()
	defer r.lock.Unlock()

	var zero T
	r.original, r.working = zero, zero
	r.state = Viewing
}

// Save compares the working copy with the original and hands a changed
// candidate to the mutation engine. An unchanged candidate exits edit mode
// with zero network calls. On a server validation failure the row stays in
// edit mode so the user can correct and resubmit.
func (r *Row[T, I]) Save(ctx context.Context) (mutation.Result[T], error) {
	r.lock.Lock()
	if r.state != Editing {
		r.lock.Unlock()
		return mutation.Result[T]{}, errors.Wrapf(ErrNotEditing, "[Row.Save] %q", r.key)
	}
	if r.busy {
		r.lock.Unlock()
		return mutation.Result[T]{}, errors.Wrapf(ErrRowBusy, "[Row.Save] %q", r.key)
	}

	original, candidate := r.original, r.working

	if r.equal(original, candidate) {
		r.state = Viewing
		r.lock.Unlock()
		return mutation.Result[T]{Phase: mutation.PhaseCommitted, Item: original}, nil
	}

	r.busy = true
	confirm := r.needsConfirm(original, candidate)
	r.lock.Unlock()

	var opts []mutation.EditOption
	if confirm {
		opts = append(opts, mutation.WithConfirmation())
	}
	result, err := r.engine.Edit(ctx, candidate, opts...)

	r.lock.Lock()
	r.busy = false
	switch {
	case err == nil:
		r.state = Viewing
	case errors.Is(err, mutation.ErrConfirmationDeclined):
		r.state = Viewing
	default:
		// Server rejection: remain editable for correction and resubmit.
	}
	r.lock.Unlock()

	return result, err
}

// Delete removes the row through the engine's always-confirmed delete path.
// Independent of edit mode.
func (r *Row[T, I]) Delete(ctx context.Context) (mutation.Result[T], error) {
	r.lock.Lock()
	if r.busy {
		r.lock.Unlock()
		return mutation.Result[T]{}, errors.Wrapf(ErrRowBusy, "[Row.Delete] %q", r.key)
	}
	r.busy = true
	r.lock.Unlock()

	result, err := r.engine.Delete(ctx, r.key)

	r.lock.Lock()
	r.busy = false
	if err == nil {
		r.state = Viewing
	}
	r.lock.Unlock()

	return result, err
}
