package keystone

// StreamRecord is one entry returned by ReadStream, projected
// according to the schema's configured StreamView.
type StreamRecord struct {
	Seq             uint64
	PK, SK          []byte
	TimestampMillis int64
	NewImage        Item // nil unless the stream view includes it
	OldImage        Item // nil unless the stream view includes it
}

// ReadStream returns every change-stream record with Seq > afterSeq,
// oldest first, up to the ring buffer's retained capacity. Pass 0 to read everything still buffered.
// A database whose schema sets no StreamConfig has no change stream,
// and ReadStream returns no records for it.
func (db *DB) ReadStream(afterSeq uint64) ([]StreamRecord, error) {
	if db.schema.Stream == nil {
		return nil, nil
	}
	raw := db.engine.StreamBuffer().Read(afterSeq, db.streamView)
	out := make([]StreamRecord, len(raw))
	for i, r := range raw {
		out[i] = StreamRecord{
			Seq:             r.Seq,
			PK:              r.PK,
			SK:              r.SK,
			TimestampMillis: r.TimestampMillis,
			NewImage:        r.NewImage,
			OldImage:        r.OldImage,
		}
	}
	return out, nil
}
