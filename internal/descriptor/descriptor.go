// Package descriptor parses the JSON dataset descriptor
// naming every node/rel CSV file, its label, and its schema.
package descriptor

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/types"
)

// CSVOptions is the global CSV dialect; Load fills in the defaults
// for any field the descriptor omits.
type CSVOptions struct {
	Separator string `json:"separator"`
	Quote     string `json:"quote"`
	Escape    string `json:"escape"`
	ListBegin string `json:"listBegin"`
	ListEnd   string `json:"listEnd"`
}

// PropertyColumn is one "name:TYPE" structured property header entry.
type PropertyColumn struct {
	Name string
	Type types.DataType
}

// NodeFileDescription names one node label's CSV file and ID type.
type NodeFileDescription struct {
	Filename string `json:"filename"`
	Label    string `json:"label"`
	IDType   string `json:"IDType"`
}

// RelFileDescription names one rel label's CSV file, multiplicity,
// and allowed endpoint labels.
type RelFileDescription struct {
	Filename     string   `json:"filename"`
	Label        string   `json:"label"`
	Multiplicity string   `json:"multiplicity"`
	SrcLabels    []string `json:"srcNodeLabels"`
	DstLabels    []string `json:"dstNodeLabels"`
}

// Descriptor is the parsed contents of the dataset's metadata.json.
type Descriptor struct {
	CSV       CSVOptions            `json:"csvOptions"`
	NodeFiles []NodeFileDescription `json:"nodeFileDescriptions"`
	RelFiles  []RelFileDescription  `json:"relFileDescriptions"`
}

// Load reads and parses path, applying the CSV option defaults for
// any field left unset.
func Load(path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("read descriptor %s", path))
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("parse descriptor %s", path))
	}
	d.applyDefaults()
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Descriptor) applyDefaults() {
	if d.CSV.Separator == "" {
		d.CSV.Separator = ","
	}
	if d.CSV.Quote == "" {
		d.CSV.Quote = `"`
	}
	if d.CSV.Escape == "" {
		d.CSV.Escape = `\`
	}
	if d.CSV.ListBegin == "" {
		d.CSV.ListBegin = "["
	}
	if d.CSV.ListEnd == "" {
		d.CSV.ListEnd = "]"
	}
}

func (d *Descriptor) validate() error {
	seen := map[string]bool{}
	for _, nf := range d.NodeFiles {
		if nf.Label == "" || nf.Filename == "" {
			return loaderr.New(loaderr.SchemaError, "node file description missing label or filename")
		}
		if seen[nf.Label] {
			return loaderr.Newf(loaderr.SchemaError, "duplicate node label %q", nf.Label)
		}
		seen[nf.Label] = true
		if nf.IDType != "STRING" && nf.IDType != "INT64" {
			return loaderr.Newf(loaderr.SchemaError, "node label %q: unknown IDType %q", nf.Label, nf.IDType)
		}
	}
	for _, rf := range d.RelFiles {
		if rf.Label == "" || rf.Filename == "" {
			return loaderr.New(loaderr.SchemaError, "rel file description missing label or filename")
		}
		if _, err := types.ParseMultiplicity(rf.Multiplicity); err != nil {
			return loaderr.Wrap(loaderr.SchemaError, err, fmt.Sprintf("rel label %q", rf.Label))
		}
		for _, lbl := range append(append([]string{}, rf.SrcLabels...), rf.DstLabels...) {
			if !seen[lbl] {
				return loaderr.Newf(loaderr.SchemaError, "rel label %q references unknown node label %q", rf.Label, lbl)
			}
		}
	}
	return nil
}

// CSVByte returns the single-byte form of a one-character dialect
// field, erroring if the descriptor supplied something wider.
func CSVByte(field, name string) (byte, error) {
	if len(field) != 1 {
		return 0, loaderr.Newf(loaderr.SchemaError, "csv option %s must be exactly one character, got %q", name, field)
	}
	return field[0], nil
}
