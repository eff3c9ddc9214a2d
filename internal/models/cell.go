package models

/*
LEARNING: OPEN CELL DOCUMENTS

A schema diagram is a flat list of cells. The editor (JointJS on the
frontend) owns the shape of a cell; the server only understands a few keys:

  id        - unique element id inside the schema
  type      - "table" or "link"
  attrs     - presentation attributes, replaced wholesale on update
  position  - {x, y}, overwritten on move
  labels    - link labels, the first one carries the editable text

Everything else is carried through untouched, which is why a Cell is a map
and not a struct.
*/

// Cell is one diagram element (table or link) of a schema document
type Cell map[string]any

const (
	CellTypeTable = "table"
	CellTypeLink  = "link"
)

// ID returns the cell id, or "" when the cell has none
func (c Cell) ID() string {
	id, _ := c["id"].(string)
	return id
}

// Type returns the cell type discriminator
func (c Cell) Type() string {
	t, _ := c["type"].(string)
	return t
}

// Clone returns a deep copy of the cell. Nested objects and arrays are
// copied; scalars are shared.
func (c Cell) Clone() Cell {
	if c == nil {
		return nil
	}
	return Cell(cloneMap(c))
}

// CloneCells deep-copies an ordered cell list
func CloneCells(cells []Cell) []Cell {
	out := make([]Cell, len(cells))
	for i, c := range cells {
		out[i] = c.Clone()
	}
	return out
}

// CloneValue deep-copies a decoded JSON value
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Cell:
		return Cell(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}
