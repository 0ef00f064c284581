package snapshot

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/hitrate/internal/history"
)

// Snapshot payloads are protobuf wire format, one message per record.
//
// Pool info message:
//   field 1 (varint) store count
//   field 2 (varint) buffer count
//   field 3 (bytes)  transfer policy name
//   field 4 (varint) creation time, unix milliseconds
//
// Buffer message, one per pool entry in index order:
//   field 1 (bytes)  level words, packed fixed64
//   field 2 (bytes)  boundary state bytes
//   field 3 (varint) lifetime update count
//   field 4 (bytes)  series label, absent when unassigned
const (
	infoFieldStores  = 1
	infoFieldBuffers = 2
	infoFieldPolicy  = 3
	infoFieldCreated = 4

	bufFieldWords      = 1
	bufFieldBoundaries = 2
	bufFieldUpdates    = 3
	bufFieldLabel      = 4
)

// Info describes a snapshot without its buffer contents.
type Info struct {
	StoreCount  int
	BufferCount int
	Policy      string
	CreatedMs   int64
}

func appendInfo(buf []byte, info Info) []byte {
	buf = protowire.AppendTag(buf, infoFieldStores, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(info.StoreCount))
	buf = protowire.AppendTag(buf, infoFieldBuffers, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(info.BufferCount))
	buf = protowire.AppendTag(buf, infoFieldPolicy, protowire.BytesType)
	buf = protowire.AppendString(buf, info.Policy)
	buf = protowire.AppendTag(buf, infoFieldCreated, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(info.CreatedMs))
	return buf
}

func parseInfo(data []byte) (Info, error) {
	var info Info
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Info{}, fmt.Errorf("info tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == infoFieldStores && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Info{}, fmt.Errorf("store count: %w", protowire.ParseError(n))
			}
			info.StoreCount = int(v)
			data = data[n:]
		case num == infoFieldBuffers && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Info{}, fmt.Errorf("buffer count: %w", protowire.ParseError(n))
			}
			info.BufferCount = int(v)
			data = data[n:]
		case num == infoFieldPolicy && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return Info{}, fmt.Errorf("policy: %w", protowire.ParseError(n))
			}
			info.Policy = s
			data = data[n:]
		case num == infoFieldCreated && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Info{}, fmt.Errorf("created: %w", protowire.ParseError(n))
			}
			info.CreatedMs = int64(v)
			data = data[n:]
		default:
			// Skip unknown fields for forward compatibility.
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Info{}, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return info, nil
}

// bufferState is one pool entry's persistent state on the wire.
type bufferState struct {
	words      []uint64
	boundaries []uint8
	updates    uint64
	label      string
}

func appendBuffer(buf []byte, words []uint64, boundaries []uint8, updates uint64, label string) []byte {
	packed := make([]byte, 0, 8*len(words))
	for _, w := range words {
		packed = protowire.AppendFixed64(packed, w)
	}
	buf = protowire.AppendTag(buf, bufFieldWords, protowire.BytesType)
	buf = protowire.AppendBytes(buf, packed)
	buf = protowire.AppendTag(buf, bufFieldBoundaries, protowire.BytesType)
	buf = protowire.AppendBytes(buf, boundaries)
	buf = protowire.AppendTag(buf, bufFieldUpdates, protowire.VarintType)
	buf = protowire.AppendVarint(buf, updates)
	if label != "" {
		buf = protowire.AppendTag(buf, bufFieldLabel, protowire.BytesType)
		buf = protowire.AppendString(buf, label)
	}
	return buf
}

func parseBuffer(data []byte) (bufferState, error) {
	var bs bufferState
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return bufferState{}, fmt.Errorf("buffer tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == bufFieldWords && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return bufferState{}, fmt.Errorf("words: %w", protowire.ParseError(n))
			}
			if len(packed)%8 != 0 {
				return bufferState{}, fmt.Errorf("words: %d bytes is not a whole number of fixed64s", len(packed))
			}
			bs.words = make([]uint64, 0, len(packed)/8)
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return bufferState{}, fmt.Errorf("word: %w", protowire.ParseError(m))
				}
				bs.words = append(bs.words, v)
				packed = packed[m:]
			}
			data = data[n:]
		case num == bufFieldBoundaries && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return bufferState{}, fmt.Errorf("boundaries: %w", protowire.ParseError(n))
			}
			bs.boundaries = append([]uint8{}, b...)
			data = data[n:]
		case num == bufFieldUpdates && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return bufferState{}, fmt.Errorf("updates: %w", protowire.ParseError(n))
			}
			bs.updates = v
			data = data[n:]
		case num == bufFieldLabel && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return bufferState{}, fmt.Errorf("label: %w", protowire.ParseError(n))
			}
			bs.label = s
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return bufferState{}, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return bs, nil
}

// assemble stitches parsed buffer records back into a pool state.
func assemble(info Info, bufs []bufferState) (history.State, error) {
	st := history.State{
		StoreCount:  info.StoreCount,
		BufferCount: info.BufferCount,
		Policy:      info.Policy,
		Words:       make([]uint64, 0, info.StoreCount*info.BufferCount),
		Boundaries:  make([]uint8, 0, (info.StoreCount-1)*info.BufferCount),
		Updates:     make([]uint64, 0, info.BufferCount),
	}
	for i, bs := range bufs {
		if len(bs.words) != info.StoreCount {
			return history.State{}, fmt.Errorf("buffer %d: %d level words, want %d", i, len(bs.words), info.StoreCount)
		}
		if len(bs.boundaries) != info.StoreCount-1 {
			return history.State{}, fmt.Errorf("buffer %d: %d boundary bytes, want %d", i, len(bs.boundaries), info.StoreCount-1)
		}
		st.Words = append(st.Words, bs.words...)
		st.Boundaries = append(st.Boundaries, bs.boundaries...)
		st.Updates = append(st.Updates, bs.updates)
	}
	return st, nil
}
