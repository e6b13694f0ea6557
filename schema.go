package keystone

import (
	"github.com/keystonedb/keystone/internal/index"
	"github.com/keystonedb/keystone/internal/stream"
)

// IndexKind mirrors internal/index.Kind at the public API boundary.
type IndexKind int

const (
	LSI IndexKind = iota
	GSI
)

// Projection mirrors internal/index.Projection at the public API
// boundary.
type Projection int

const (
	ProjectionAll Projection = iota
	ProjectionKeysOnly
	ProjectionInclude
)

// IndexDescriptor declares one secondary index a schema maintains
// inline with every base-table write.
type IndexDescriptor struct {
	Name            string
	Kind            IndexKind
	PKAttr          string // GSI only
	SKAttr          string // LSI: required; GSI: optional
	Projection      Projection
	ProjectionAttrs []string // used only when Projection == ProjectionInclude
}

// StreamView selects which before/after images ReadStream projects,
// mirroring internal/stream.ViewType.
type StreamView int

const (
	StreamKeysOnly StreamView = iota
	StreamNewImage
	StreamOldImage
	StreamNewAndOldImages
)

// StreamConfig enables the change stream for a schema.
type StreamConfig struct {
	View StreamView
}

// Schema declares a database's secondary indexes, TTL attribute, and
// change-stream configuration, passed to CreateWithSchema.
type Schema struct {
	Indexes      []IndexDescriptor
	TTLAttribute string
	Stream       *StreamConfig
}

func (s Schema) indexDescriptors() []index.Descriptor {
	out := make([]index.Descriptor, len(s.Indexes))
	for i, d := range s.Indexes {
		out[i] = index.Descriptor{
			Name:            d.Name,
			Kind:            index.Kind(d.Kind),
			PKAttr:          d.PKAttr,
			SKAttr:          d.SKAttr,
			Projection:      index.Projection(d.Projection),
			ProjectionAttrs: d.ProjectionAttrs,
		}
	}
	return out
}

func (s Schema) streamView() stream.ViewType {
	if s.Stream == nil {
		return stream.ViewKeysOnly
	}
	return stream.ViewType(s.Stream.View)
}
