package mutation

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/iotfleet/fleetadmin/entities"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Phase is where a mutation invocation ended up.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSpeculating
	PhaseAwaitingConfirmation
	PhaseInFlight
	PhaseCommitted
	PhaseRolledBack
)

func (p Phase) String() string {
	switch p {
	case PhaseSpeculating:
		return "speculating"
	case PhaseAwaitingConfirmation:
		return "awaiting_confirmation"
	case PhaseInFlight:
		return "in_flight"
	case PhaseCommitted:
		return "committed"
	case PhaseRolledBack:
		return "rolled_back"
	}
	return "idle"
}

// Ops are the three network operations a mutation engine drives, supplied per
// entity type by the API client. Each goes through the session gateway.
type Ops[T entities.Keyed, I any] interface {
	Edit(ctx context.Context, item T) (T, error)
	Remove(ctx context.Context, item T) error
	Add(ctx context.Context, input I) (T, error)
}

// Result reports the phase a mutation reached and, on commit, the
// server-authoritative record.
type Result[T entities.Keyed] struct {
	Phase Phase
	Item  T
}

// Engine is the optimistic mutation state machine, implemented once and
// parameterized over entity type so devices, sensors, dealers and users all
// share one set of commit/rollback semantics. Each invocation runs
// Speculating -> [AwaitingConfirmation] -> InFlight -> Committed|RolledBack:
// the cache is patched before the server has agreed, risky changes pause for
// a user yes/no, and any failure restores the pre-mutation snapshot before
// the error is surfaced.
type Engine[T entities.Keyed, I any] struct {
	cache     *entities.Cache[T]
	ops       Ops[T, I]
	confirmer Confirmer
	notifier  Notifier
	describe  func(T) string
	equal     func(a, b T) bool
	log       zerolog.Logger
}

// EngineOption defines a function type to modify the Engine instance.
type EngineOption[T entities.Keyed, I any] func(*Engine[T, I])

// WithEqualFunc replaces the change-detection comparison (default
// reflect.DeepEqual).
func WithEqualFunc[T entities.Keyed, I any](equal func(a, b T) bool) EngineOption[T, I] {
	return func(e *Engine[T, I]) {
		e.equal = equal
	}
}

// WithDescribeFunc sets how a record is named in prompts and notifications.
func WithDescribeFunc[T entities.Keyed, I any](describe func(T) string) EngineOption[T, I] {
	return func(e *Engine[T, I]) {
		e.describe = describe
	}
}

// WithEngineLogger sets the logger for phase transitions.
func WithEngineLogger[T entities.Keyed, I any](log zerolog.Logger) EngineOption[T, I] {
	return func(e *Engine[T, I]) {
		e.log = log
	}
}

func NewEngine[T entities.Keyed, I any](
	cache *entities.Cache[T],
	ops Ops[T, I],
	confirmer Confirmer,
	notifier Notifier,
	options ...EngineOption[T, I],
) (*Engine[T, I], error) {
	if cache == nil {
		return nil, errors.New("[NewEngine] cache is required")
	}
	if ops == nil {
		return nil, errors.New("[NewEngine] ops are required")
	}
	if confirmer == nil {
		return nil, errors.New("[NewEngine] confirmer is required")
	}
	if notifier == nil {
		return nil, errors.New("[NewEngine] notifier is required")
	}

	e := &Engine[T, I]{
		cache:     cache,
		ops:       ops,
		confirmer: confirmer,
		notifier:  notifier,
		describe:  func(item T) string { return item.Key() },
		equal:     func(a, b T) bool { return reflect.DeepEqual(a, b) },
		log:       zerolog.Nop(),
	}

	for _, opt := range options {
		opt(e)
	}

	return e, nil
}

// Cache exposes the engine's cache for read-only consumers (list views, the
// row-edit layer).
func (e *Engine[T, I]) Cache() *entities.Cache[T] {
	return e.cache
}

// Equal reports whether two records are observably identical, using the
// engine's comparison.
func (e *Engine[T, I]) Equal(a, b T) bool {
	return e.equal(a, b)
}

// editConfig carries per-invocation edit options.
type editConfig struct {
	needsConfirmation bool
}

// EditOption defines a function type to modify one Edit invocation.
type EditOption func(*editConfig)

// WithConfirmation gates the edit behind an explicit user yes/no. The caller
// flags changes that warrant it, e.g. moving a device to another company or
// changing a user's role.
func WithConfirmation() EditOption {
	return func(c *editConfig) {
		c.needsConfirmation = true
	}
}

// Edit applies a candidate record speculatively, optionally pauses for
// confirmation, then issues the network edit and commits the server's
// returned record. A candidate identical to the original is a no-op commit:
// zero network calls, cache untouched.
func (e *Engine[T, I]) Edit(ctx context.Context, candidate T, options ...EditOption) (Result[T], error) {
	var cfg editConfig
	for _, opt := range options {
		opt(&cfg)
	}

	key := candidate.Key()
	original, ok := e.cache.Get(key)
	if !ok {
		return Result[T]{}, errors.Wrapf(entities.ErrNotFound, "[Engine.Edit] %q", key)
	}

	if e.equal(original, candidate) {
		return Result[T]{Phase: PhaseCommitted, Item: original}, nil
	}

	snap := e.cache.Snapshot()
	if err := e.cache.ApplyPatch(key, func(T) T { return candidate }); err != nil {
		return Result[T]{}, errors.Wrap(err, "[Engine.Edit] speculative apply")
	}
	e.log.Debug().Str("key", key).Str("phase", PhaseSpeculating.String()).Msg("edit")

	if cfg.needsConfirmation {
		ok, err := e.confirmer.Confirm(ctx, Prompt{
			Title:     fmt.Sprintf("Save changes to %s?", e.describe(original)),
			Original:  original,
			Candidate: candidate,
		})
		if err != nil || !ok {
			e.cache.Restore(snap)
			if err != nil {
				return Result[T]{Phase: PhaseRolledBack, Item: original}, errors.Wrap(err, "[Engine.Edit] confirmation")
			}
			return Result[T]{Phase: PhaseRolledBack, Item: original}, ErrConfirmationDeclined
		}
	}

	updated, err := e.ops.Edit(ctx, candidate)
	if err != nil {
		e.cache.Restore(snap)
		e.notifier.Notify(Message(err), SeverityError)
		e.log.Warn().Str("key", key).Err(err).Msg("edit rolled back")
		return Result[T]{Phase: PhaseRolledBack, Item: original}, errors.Wrap(err, "[Engine.Edit] network edit")
	}

	// The server's returned record wins over the speculative guess.
	if err := e.cache.Reconcile(key, updated); err != nil {
		return Result[T]{}, errors.Wrap(err, "[Engine.Edit] reconcile")
	}

	e.notifier.Notify(fmt.Sprintf("%s saved", e.describe(updated)), SeveritySuccess)
	return Result[T]{Phase: PhaseCommitted, Item: updated}, nil
}

// Delete removes a record speculatively and always pauses for confirmation.
// A decline restores the cache untouched with zero network calls.
func (e *Engine[T, I]) Delete(ctx context.Context, key string) (Result[T], error) {
	item, ok := e.cache.Get(key)
	if !ok {
		return Result[T]{}, errors.Wrapf(entities.ErrNotFound, "[Engine.Delete] %q", key)
	}

	snap := e.cache.Snapshot()
	if err := e.cache.ApplyRemoval(key); err != nil {
		return Result[T]{}, errors.Wrap(err, "[Engine.Delete] speculative removal")
	}
	e.log.Debug().Str("key", key).Str("phase", PhaseSpeculating.String()).Msg("delete")

	ok, err := e.confirmer.Confirm(ctx, Prompt{
		Title:    fmt.Sprintf("Delete %s? This cannot be undone.", e.describe(item)),
		Original: item,
	})
	if err != nil || !ok {
		e.cache.Restore(snap)
		if err != nil {
			return Result[T]{Phase: PhaseRolledBack, Item: item}, errors.Wrap(err, "[Engine.Delete] confirmation")
		}
		return Result[T]{Phase: PhaseRolledBack, Item: item}, ErrConfirmationDeclined
	}

	if err := e.ops.Remove(ctx, item); err != nil {
		e.cache.Restore(snap)
		e.notifier.Notify(Message(err), SeverityError)
		e.log.Warn().Str("key", key).Err(err).Msg("delete rolled back")
		return Result[T]{Phase: PhaseRolledBack, Item: item}, errors.Wrap(err, "[Engine.Delete] network remove")
	}

	e.notifier.Notify(fmt.Sprintf("%s deleted", e.describe(item)), SeveritySuccess)
	return Result[T]{Phase: PhaseCommitted, Item: item}, nil
}

// TempKey generates a temporary record key for a speculative insert,
// reconciled to the server-assigned key on commit.
func TempKey() string {
	return "tmp-" + uuid.New().String()
}

// Add inserts a speculative record built from the input under a temporary
// key, then issues the network create and reconciles the temp key to the
// server-assigned one.
func (e *Engine[T, I]) Add(ctx context.Context, input I, build func(I) T) (Result[T], error) {
	temp := build(input)
	tempKey := temp.Key()

	snap := e.cache.Snapshot()
	if err := e.cache.ApplyInsertion(temp); err != nil {
		return Result[T]{}, errors.Wrap(err, "[Engine.Add] speculative insert")
	}
	e.log.Debug().Str("key", tempKey).Str("phase", PhaseSpeculating.String()).Msg("add")

	created, err := e.ops.Add(ctx, input)
	if err != nil {
		e.cache.Restore(snap)
		e.notifier.Notify(Message(err), SeverityError)
		e.log.Warn().Str("key", tempKey).Err(err).Msg("add rolled back")
		return Result[T]{Phase: PhaseRolledBack}, errors.Wrap(err, "[Engine.Add] network add")
	}

	if err := e.cache.Reconcile(tempKey, created); err != nil {
		return Result[T]{}, errors.Wrap(err, "[Engine.Add] reconcile")
	}

	e.notifier.Notify(fmt.Sprintf("%s created", e.describe(created)), SeveritySuccess)
	return Result[T]{Phase: PhaseCommitted, Item: created}, nil
}
