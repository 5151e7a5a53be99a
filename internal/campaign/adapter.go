package campaign

import "context"

// Adapter is the durable side of a Store. Implementations decide whether
// state lives in one serialized snapshot or in per-record rows fed to other
// participants through Subscribe.
type Adapter interface {
	LoadSnapshot(ctx context.Context) (Collections, error)

	// Subscribe delivers full snapshots of the given collection whenever
	// another writer changes it. Only the field matching kind is meaningful.
	// The channel is closed when ctx ends.
	Subscribe(ctx context.Context, kind Kind) (<-chan Collections, error)

	WriteRecord(ctx context.Context, kind Kind, id string, record any) error
	DeleteRecord(ctx context.Context, kind Kind, id string) error

	UploadBlob(ctx context.Context, kind string, data []byte, contentType string) (string, error)
	DeleteBlob(ctx context.Context, url string) error
}

// Mutation is a single record write (Record != nil) or delete (Record == nil).
// Prev holds the record being replaced, nil when the record is new.
type Mutation struct {
	Kind   Kind
	ID     string
	Record any
	Prev   any
}

// BatchWriter is implemented by adapters that can commit a mutation set
// atomically. Stores prefer it over record-by-record writes.
type BatchWriter interface {
	WriteBatch(ctx context.Context, muts []Mutation) error
}

type originKey struct{}

// WithOrigin tags ctx with the identity of the writer issuing adapter calls,
// so adapters can avoid echoing a writer's own changes back to it.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the writer identity attached by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	if v, ok := ctx.Value(originKey{}).(string); ok {
		return v
	}
	return ""
}
