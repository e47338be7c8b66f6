package catalog

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/types"
)

// DecodeCatalog reverses EncodeCatalog. There is no production reader
// in this module (the query engine lives elsewhere); this exists so
// the catalog's determinism and bijection are directly
// property-testable without standing up a full reader.
func DecodeCatalog(b []byte) ([]*types.NodeLabel, []*types.RelLabel, error) {
	r := &reader{r: bytes.NewReader(b)}

	if magic := r.u32(); magic != catalogMagic {
		return nil, nil, loaderr.Newf(loaderr.IO, "catalog: bad magic %#x", magic)
	}
	if v := r.u32(); v != catalogVersion {
		return nil, nil, loaderr.Newf(loaderr.IO, "catalog: unsupported version %d", v)
	}

	numNodeLabels := r.u64()
	nodeLabels := make([]*types.NodeLabel, 0, numNodeLabels)
	for i := uint64(0); i < numNodeLabels; i++ {
		nl := &types.NodeLabel{}
		nl.ID = types.LabelID(r.u16())
		nl.Name = r.str()
		nl.IDType = types.IDType(r.u8())
		nl.NumNodes = r.u64()
		numStructured := r.u32()
		if numStructured > 0 {
			nl.StructuredProps = make([]types.PropertyDef, numStructured)
		}
		for j := range nl.StructuredProps {
			nl.StructuredProps[j] = r.propertyDef()
		}
		numUnstr := r.u32()
		if numUnstr > 0 {
			nl.UnstructuredPropIDs = make(map[string]uint32, numUnstr)
		}
		for j := uint32(0); j < numUnstr; j++ {
			id := r.u32()
			name := r.str()
			nl.UnstructuredPropIDs[name] = id
		}
		nodeLabels = append(nodeLabels, nl)
	}

	numRelLabels := r.u64()
	relLabels := make([]*types.RelLabel, 0, numRelLabels)
	for i := uint64(0); i < numRelLabels; i++ {
		rl := &types.RelLabel{}
		rl.ID = types.LabelID(r.u16())
		rl.Name = r.str()
		rl.Multiplicity = types.Multiplicity(r.u8())
		rl.SrcLabels = r.labelIDs()
		rl.DstLabels = r.labelIDs()
		numProps := r.u32()
		if numProps > 0 {
			rl.Props = make([]types.PropertyDef, numProps)
		}
		for j := range rl.Props {
			rl.Props[j] = r.propertyDef()
		}
		rl.NumRelsPerDir[types.FWD] = r.relCounts()
		rl.NumRelsPerDir[types.BWD] = r.relCounts()
		relLabels = append(relLabels, rl)
	}

	if r.err != nil {
		return nil, nil, r.err
	}
	return nodeLabels, relLabels, nil
}

// DecodeStats reverses EncodeStats.
func DecodeStats(b []byte) (*Stats, error) {
	r := &reader{r: bytes.NewReader(b)}
	if magic := r.u32(); magic != statsMagic {
		return nil, loaderr.Newf(loaderr.IO, "graph stats: bad magic %#x", magic)
	}
	if v := r.u32(); v != statsVersion {
		return nil, loaderr.Newf(loaderr.IO, "graph stats: unsupported version %d", v)
	}
	s := &Stats{NodeCounts: map[types.LabelID]uint64{}, RelCounts: map[types.LabelID][2]uint64{}}

	numNodes := r.u64()
	for i := uint64(0); i < numNodes; i++ {
		id := types.LabelID(r.u16())
		s.NodeCounts[id] = r.u64()
	}
	numRels := r.u64()
	for i := uint64(0); i < numRels; i++ {
		id := types.LabelID(r.u16())
		fwd := r.u64()
		bwd := r.u64()
		s.RelCounts[id] = [2]uint64{fwd, bwd}
	}
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

type reader struct {
	r   *bytes.Reader
	err error
}

func (r *reader) raw(v any) {
	if r.err != nil {
		return
	}
	r.err = binary.Read(r.r, binary.LittleEndian, v)
}

func (r *reader) u8() (v byte)     { r.raw(&v); return }
func (r *reader) u16() (v uint16)  { r.raw(&v); return }
func (r *reader) u32() (v uint32)  { r.raw(&v); return }
func (r *reader) u64() (v uint64)  { r.raw(&v); return }

func (r *reader) str() string {
	n := r.u16()
	if r.err != nil {
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.err = loaderr.Wrap(loaderr.IO, err, "catalog: read string")
		return ""
	}
	return string(buf)
}

func (r *reader) propertyDef() types.PropertyDef {
	id := r.u32()
	dt := types.DataType(r.u8())
	name := r.str()
	return types.PropertyDef{ID: id, Type: dt, Name: name}
}

func (r *reader) labelIDs() []types.LabelID {
	n := r.u32()
	if n == 0 {
		return nil
	}
	out := make([]types.LabelID, n)
	for i := range out {
		out[i] = types.LabelID(r.u16())
	}
	return out
}

func (r *reader) relCounts() map[types.LabelID]uint64 {
	n := r.u32()
	if n == 0 {
		return nil
	}
	out := make(map[types.LabelID]uint64, n)
	for i := uint32(0); i < n; i++ {
		id := types.LabelID(r.u16())
		out[id] = r.u64()
	}
	return out
}
