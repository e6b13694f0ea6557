package wal

import (
	"encoding/binary"
	"math"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/keyerr"
)

// EncodeRecord serializes a base.Record into the payload carried by a
// WAL frame: a compact hand-rolled binary form, length-prefixed and
// CRC-checked.
func EncodeRecord(r base.Record) []byte {
	keyBuf := r.Key.Encode()
	buf := make([]byte, 0, len(keyBuf)+16)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Seq))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(keyBuf)))
	buf = append(buf, keyBuf...)
	if r.Value == nil {
		buf = append(buf, 0) // tombstone marker
		return buf
	}
	buf = append(buf, 1)
	buf = appendItem(buf, r.Value)
	return buf
}

// DecodeRecord reverses EncodeRecord.
func DecodeRecord(buf []byte) (base.Record, error) {
	if len(buf) < 12 {
		return base.Record{}, keyerr.Corruptionf("record payload too short")
	}
	seq := base.SeqNum(binary.LittleEndian.Uint64(buf[0:8]))
	keyLen := binary.LittleEndian.Uint32(buf[8:12])
	buf = buf[12:]
	if uint32(len(buf)) < keyLen {
		return base.Record{}, keyerr.Corruptionf("record payload truncated (key)")
	}
	key, err := base.DecodeKey(buf[:keyLen])
	if err != nil {
		return base.Record{}, err
	}
	buf = buf[keyLen:]
	if len(buf) < 1 {
		return base.Record{}, keyerr.Corruptionf("record payload truncated (tombstone marker)")
	}
	isValue := buf[0]
	buf = buf[1:]
	if isValue == 0 {
		return base.Record{Key: key, Value: nil, Seq: seq}, nil
	}
	item, _, err := decodeItem(buf)
	if err != nil {
		return base.Record{}, err
	}
	return base.Record{Key: key, Value: item, Seq: seq}, nil
}

// appendItem/decodeItem implement a small self-describing encoding
// for Item/Value, reused by internal/sst for record payloads so both
// the WAL and SSTs share one on-disk Value representation.
func appendItem(buf []byte, it base.Item) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(it)))
	for _, name := range it.SortedAttrNames() {
		buf = appendString(buf, name)
		buf = appendValue(buf, it[name])
	}
	return buf
}

func decodeItem(buf []byte) (base.Item, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, keyerr.Corruptionf("item truncated (count)")
	}
	count := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	it := make(base.Item, count)
	for i := uint32(0); i < count; i++ {
		var name string
		var err error
		name, buf, err = decodeString(buf)
		if err != nil {
			return nil, nil, err
		}
		var v base.Value
		v, buf, err = decodeValue(buf)
		if err != nil {
			return nil, nil, err
		}
		it[name] = v
	}
	return it, buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func decodeString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, keyerr.Corruptionf("string truncated (len)")
	}
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return "", nil, keyerr.Corruptionf("string truncated (data)")
	}
	return string(buf[:n]), buf[n:], nil
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func decodeBytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, keyerr.Corruptionf("bytes truncated (len)")
	}
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, keyerr.Corruptionf("bytes truncated (data)")
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, buf[n:], nil
}

func appendValue(buf []byte, v base.Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case base.KindString, base.KindNumber:
		buf = appendString(buf, v.Str)
	case base.KindBinary:
		buf = appendBytes(buf, v.Bin)
	case base.KindBool:
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case base.KindNull:
		// no payload
	case base.KindList:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.List)))
		for _, e := range v.List {
			buf = appendValue(buf, e)
		}
	case base.KindMap:
		buf = appendItem(buf, base.Item(v.Map))
	case base.KindVectorF32:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Vector)))
		for _, f := range v.Vector {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	case base.KindTimestamp:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Ts))
	}
	return buf
}

func decodeValue(buf []byte) (base.Value, []byte, error) {
	if len(buf) < 1 {
		return base.Value{}, nil, keyerr.Corruptionf("value truncated (kind)")
	}
	kind := base.Kind(buf[0])
	buf = buf[1:]
	switch kind {
	case base.KindString, base.KindNumber:
		s, rest, err := decodeString(buf)
		if err != nil {
			return base.Value{}, nil, err
		}
		return base.Value{Kind: kind, Str: s}, rest, nil
	case base.KindBinary:
		b, rest, err := decodeBytes(buf)
		if err != nil {
			return base.Value{}, nil, err
		}
		return base.Value{Kind: kind, Bin: b}, rest, nil
	case base.KindBool:
		if len(buf) < 1 {
			return base.Value{}, nil, keyerr.Corruptionf("bool value truncated")
		}
		return base.Value{Kind: kind, B: buf[0] != 0}, buf[1:], nil
	case base.KindNull:
		return base.Value{Kind: kind}, buf, nil
	case base.KindList:
		if len(buf) < 4 {
			return base.Value{}, nil, keyerr.Corruptionf("list value truncated (count)")
		}
		n := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		list := make([]base.Value, n)
		for i := uint32(0); i < n; i++ {
			var err error
			list[i], buf, err = decodeValue(buf)
			if err != nil {
				return base.Value{}, nil, err
			}
		}
		return base.Value{Kind: kind, List: list}, buf, nil
	case base.KindMap:
		it, rest, err := decodeItem(buf)
		if err != nil {
			return base.Value{}, nil, err
		}
		return base.Value{Kind: kind, Map: map[string]base.Value(it)}, rest, nil
	case base.KindVectorF32:
		if len(buf) < 4 {
			return base.Value{}, nil, keyerr.Corruptionf("vector value truncated (count)")
		}
		n := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		if uint32(len(buf)) < n*4 {
			return base.Value{}, nil, keyerr.Corruptionf("vector value truncated (data)")
		}
		vec := make([]float32, n)
		for i := uint32(0); i < n; i++ {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return base.Value{Kind: kind, Vector: vec}, buf[n*4:], nil
	case base.KindTimestamp:
		if len(buf) < 8 {
			return base.Value{}, nil, keyerr.Corruptionf("timestamp value truncated")
		}
		ts := int64(binary.LittleEndian.Uint64(buf))
		return base.Value{Kind: kind, Ts: ts}, buf[8:], nil
	default:
		return base.Value{}, nil, keyerr.Corruptionf("unknown value kind %d", kind)
	}
}
