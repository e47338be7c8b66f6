package relbuilder

import (
	"encoding/binary"
	"math"

	"github.com/colgraph/bulkload/internal/csvio"
	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/overflow"
	"github.com/colgraph/bulkload/internal/page"
	"github.com/colgraph/bulkload/internal/types"
)

// writeScalarRaw parses raw per dt and writes it at (pageIdx,byteOff)
// in f, routing String values through ovfl/cur. Shared by both
// single-side column writes and multi-side list writes, since both
// ultimately resolve to a concrete (page, byte-offset) address.
func writeScalarRaw(f *page.File, pageIdx, byteOff int, dt types.DataType, raw string, ovfl *overflow.CursorFile, cur *overflow.Cursor) error {
	switch dt {
	case types.Int64, types.Timestamp:
		v, err := csvio.ParseInt64(raw)
		if err != nil {
			return err
		}
		return writeLE(f, pageIdx, byteOff, uint64(v), 8)
	case types.Double:
		v, err := csvio.ParseDouble(raw)
		if err != nil {
			return err
		}
		return writeLE(f, pageIdx, byteOff, math.Float64bits(v), 8)
	case types.Bool:
		v, err := csvio.ParseBool(raw)
		if err != nil {
			return err
		}
		bv := byte(0)
		if v {
			bv = 1
		}
		return f.Write(pageIdx, byteOff, []byte{bv})
	case types.Date:
		v, err := csvio.ParseInt64(raw)
		if err != nil {
			return err
		}
		return writeLE(f, pageIdx, byteOff, uint64(uint32(v)), 4)
	case types.Interval:
		months, days, millis, err := csvio.ParseInterval(raw)
		if err != nil {
			return err
		}
		var buf [12]byte
		binary.LittleEndian.PutUint32(buf[0:4], months)
		binary.LittleEndian.PutUint32(buf[4:8], days)
		binary.LittleEndian.PutUint32(buf[8:12], millis)
		return f.Write(pageIdx, byteOff, buf[:])
	case types.String:
		is, err := ovfl.CopyString([]byte(raw), cur)
		if err != nil {
			return err
		}
		enc := is.Encode()
		return f.Write(pageIdx, byteOff, enc[:])
	default:
		return loaderr.Newf(loaderr.SchemaError, "unsupported rel property type %v", dt)
	}
}

func writeLE(f *page.File, pageIdx, off int, v uint64, width int) error {
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return f.Write(pageIdx, off, buf)
}
