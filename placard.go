package placard

import (
	"context"
	"log/slog"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/placard/internal/platform"
	lifecycleadapter "github.com/aretw0/placard/pkg/adapters/lifecycle"
	"github.com/aretw0/placard/pkg/core"
	"github.com/aretw0/placard/pkg/geocode"
)

// --- Types ---

type (
	Place         = core.Place
	Snapshot      = core.Snapshot
	Field         = core.Field
	FieldSet      = core.FieldSet
	Event         = core.Event
	Store         = core.Store
	Controller    = core.Controller
	Transaction   = core.Transaction
	Draft         = core.Draft
	Mode          = core.Mode
	Observer      = core.Observer
	ObserverFuncs = core.ObserverFuncs
	Subscription  = core.Subscription

	// Service bundles a store with the registry of controllers sharing it.
	Service = platform.Service
)

// Transaction modes.
const (
	ModeSynchronous  = core.ModeSynchronous
	ModeAsynchronous = core.ModeAsynchronous
	ModeDetached     = core.ModeDetached
)

// Errors.
var (
	ErrNotFound         = core.ErrNotFound
	ErrStoreWriteFailed = core.ErrStoreWriteFailed
	ErrLookupFailed     = geocode.ErrLookupFailed
	ErrReadOnly         = core.ErrReadOnly
)

// --- Configuration ---

// Option defines a functional option for configuring Placard.
type Option = platform.Option

// WithAutoInit enables automatic initialization of the store (creates directory and git init).
func WithAutoInit(auto bool) Option {
	return platform.WithAutoInit(auto)
}

// WithVersioning enables or disables version control (e.g. Git).
func WithVersioning(enabled bool) Option {
	return platform.WithVersioning(enabled)
}

// WithForceTemp forces the use of a temporary directory (useful for testing).
func WithForceTemp(force bool) Option {
	return platform.WithForceTemp(force)
}

// WithMustExist ensures the store directory must already exist.
func WithMustExist(must bool) Option {
	return platform.WithMustExist(must)
}

// WithLogger sets the logger for the store and its controllers.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithMetrics reports commit and notification activity to m.
func WithMetrics(m core.MetricsRecorder) Option {
	return platform.WithMetrics(m)
}

// WithStore allows injecting a custom store.
func WithStore(store Store) Option {
	return platform.WithStore(store)
}

// WithAdapter selects the storage adapter by name: "fs", "sqlite" or "memory".
func WithAdapter(name string) Option {
	return platform.WithAdapter(name)
}

// WithFormat sets the file format of new fs records ("yaml" or "json").
func WithFormat(format string) Option {
	return platform.WithFormat(format)
}

// WithSystemDir allows specifying the hidden directory name (e.g. ".placard").
func WithSystemDir(name string) Option {
	return platform.WithSystemDir(name)
}

// WithEventBuffer sets the buffer of Watch streams.
func WithEventBuffer(size int) Option {
	return platform.WithEventBuffer(size)
}

// WithReadOnly rejects every commit with ErrReadOnly.
func WithReadOnly(enabled bool) Option {
	return platform.WithReadOnly(enabled)
}

// WithDevSafety controls the temporary-directory sandbox used under `go run`.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// --- Factory ---

// New opens the store at uri and returns a Service handing out shared controllers.
func New(uri string, opts ...Option) (*Service, error) {
	return platform.New(uri, opts...)
}

// Init opens and initializes a store explicitly.
func Init(uri string, opts ...Option) (Store, error) {
	return platform.Init(uri, opts...)
}

// Open returns a loaded controller for key on the store at uri.
func Open(ctx context.Context, uri, key string, opts ...Option) (*Controller, error) {
	return platform.NewController(ctx, uri, key, opts...)
}

// NewGeocoder creates a workflow naming the place of ctrl after its coordinate.
func NewGeocoder(ctrl *Controller, lookup geocode.Lookup, opts ...geocode.Option) *geocode.Workflow {
	return geocode.NewWorkflow(ctrl, lookup, opts...)
}

// NewSource exposes the committed changes of ctrl as a lifecycle.Source.
// Modifications touching none of fields are skipped; with no fields every event passes.
func NewSource(ctrl *Controller, fields ...Field) lifecycle.Source {
	return lifecycleadapter.NewSource(ctrl, fields...)
}

// --- Safety & Utils ---

// ResolveVaultPath determines the actual store path based on safety rules.
func ResolveVaultPath(userPath string, forceTemp bool) string {
	return platform.ResolveVaultPath(userPath, forceTemp)
}

// IsDevRun checks if the current process is running via `go run` or `go test`.
func IsDevRun() bool {
	return platform.IsDevRun()
}

// FindRoot looks upwards for a store root indicator.
func FindRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}

// --- Change reasons ---

const (
	ChangeTypeFeat     = platform.ChangeTypeFeat
	ChangeTypeFix      = platform.ChangeTypeFix
	ChangeTypeDocs     = platform.ChangeTypeDocs
	ChangeTypeRefactor = platform.ChangeTypeRefactor
	ChangeTypeChore    = platform.ChangeTypeChore
)

// FormatChangeReason builds a Conventional Commit message.
func FormatChangeReason(ctype, scope, subject, body string) string {
	return platform.FormatChangeReason(ctype, scope, subject, body)
}

// AppendFooter appends the Placard footer to an arbitrary message.
func AppendFooter(msg string) string {
	return platform.AppendFooter(msg)
}

// WithChangeReason attaches a change reason to ctx; versioned stores use it as
// the commit message of transactions begun with the returned context.
func WithChangeReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, core.ChangeReasonKey, reason)
}
