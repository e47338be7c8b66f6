package csvio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/types"
)

// SplitFields splits one line into top-level fields by opts.Separator,
// honoring opts.Quote/opts.Escape and treating a list-begin/list-end
// pair as nested content immune to the top-level separator.
func SplitFields(line []byte, opts Options) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	listDepth := 0

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == opts.Escape && i+1 < len(line):
			cur.WriteByte(line[i+1])
			i++
		case c == opts.Quote:
			inQuotes = !inQuotes
		case inQuotes:
			cur.WriteByte(c)
		case c == opts.ListBegin:
			listDepth++
			cur.WriteByte(c)
		case c == opts.ListEnd:
			listDepth--
			if listDepth < 0 {
				return nil, loaderr.New(loaderr.ParseError, "list end without matching list begin")
			}
			cur.WriteByte(c)
		case c == opts.Separator && listDepth == 0:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuotes {
		return nil, loaderr.New(loaderr.ParseError, "unterminated quoted field")
	}
	if listDepth != 0 {
		return nil, loaderr.New(loaderr.ParseError, "unterminated list literal")
	}
	fields = append(fields, cur.String())
	return fields, nil
}

// UnstructuredToken is one trailing "key:TYPE:value" token from a node
// body line.
type UnstructuredToken struct {
	Key   string
	Type  types.DataType
	Value string
}

// ParseUnstructuredToken splits a trailing token into its key, type,
// and raw value parts.
func ParseUnstructuredToken(tok string) (UnstructuredToken, error) {
	parts := strings.SplitN(tok, ":", 3)
	if len(parts) != 3 {
		return UnstructuredToken{}, loaderr.Newf(loaderr.ParseError, "malformed unstructured token %q", tok)
	}
	dt, err := types.ParseDataType(parts[1])
	if err != nil {
		return UnstructuredToken{}, loaderr.Wrap(loaderr.ParseError, err, fmt.Sprintf("unstructured token %q", tok))
	}
	return UnstructuredToken{Key: parts[0], Type: dt, Value: parts[2]}, nil
}

// ParseListLiteral parses a list-begin/list-end-delimited field (e.g.
// "[1,2,3]" or "[[1,2],[3]]") into nested string elements, honoring
// the same delimiter set as SplitFields for nested commas.
func ParseListLiteral(raw string, opts Options) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 || raw[0] != opts.ListBegin || raw[len(raw)-1] != opts.ListEnd {
		return nil, loaderr.Newf(loaderr.ParseError, "malformed list literal %q", raw)
	}
	inner := raw[1 : len(raw)-1]
	if strings.TrimSpace(inner) == "" {
		return nil, nil
	}
	var elems []string
	var cur strings.Builder
	depth := 0
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case c == byte(opts.ListBegin):
			depth++
			cur.WriteByte(c)
		case c == byte(opts.ListEnd):
			depth--
			cur.WriteByte(c)
		case c == byte(opts.Separator) && depth == 0:
			elems = append(elems, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	elems = append(elems, strings.TrimSpace(cur.String()))
	return elems, nil
}

// IsNull reports whether a field's raw value is the null token (empty
// string).
func IsNull(raw string) bool { return raw == "" }

// ParseInt64 parses a structured INT64 field, wrapping strconv errors
// as fatal ParseErrors.
func ParseInt64(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, loaderr.Wrap(loaderr.ParseError, err, fmt.Sprintf("parse INT64 %q", raw))
	}
	return v, nil
}

// ParseDouble parses a structured DOUBLE field.
func ParseDouble(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, loaderr.Wrap(loaderr.ParseError, err, fmt.Sprintf("parse DOUBLE %q", raw))
	}
	return v, nil
}

// ParseInterval parses an INTERVAL field of the form
// "months:days:millis" into its three unsigned components.
func ParseInterval(raw string) (months, days, millis uint32, err error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return 0, 0, 0, loaderr.Newf(loaderr.ParseError, "malformed INTERVAL %q, want months:days:millis", raw)
	}
	vals := make([]uint32, 3)
	for i, p := range parts {
		v, perr := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if perr != nil {
			return 0, 0, 0, loaderr.Wrap(loaderr.ParseError, perr, fmt.Sprintf("parse INTERVAL %q", raw))
		}
		vals[i] = uint32(v)
	}
	return vals[0], vals[1], vals[2], nil
}

// ParseBool parses a structured BOOL field ("true"/"false", any case).
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, loaderr.Newf(loaderr.ParseError, "malformed BOOL %q", raw)
	}
}
