package models

// OperationKind names the four document edits a client can send
type OperationKind string

const (
	OpCreate      OperationKind = "create"
	OpDelete      OperationKind = "delete"
	OpUpdateAttrs OperationKind = "update_attrs"
	OpMove        OperationKind = "move"
)

// Operation is a single edit to a schema document.
// The set of implementations is closed: CreateElement, DeleteElement,
// UpdateElement and MoveElement.
type Operation interface {
	Kind() OperationKind
	ElementID() string
	isOperation()
}

// CreateElement appends a table or link cell
type CreateElement struct {
	Cell Cell
}

// DeleteElement removes the cell with the given id
type DeleteElement struct {
	ID string
}

// UpdateElement replaces a cell's attrs, or, when Text is set, the text of
// its first link label
type UpdateElement struct {
	ID    string
	Attrs map[string]any
	Text  *string
}

// MoveElement overwrites a cell's position
type MoveElement struct {
	ID string
	X  float64
	Y  float64
}

func (o CreateElement) Kind() OperationKind { return OpCreate }
func (o DeleteElement) Kind() OperationKind { return OpDelete }
func (o UpdateElement) Kind() OperationKind { return OpUpdateAttrs }
func (o MoveElement) Kind() OperationKind   { return OpMove }

func (o CreateElement) ElementID() string { return o.Cell.ID() }
func (o DeleteElement) ElementID() string { return o.ID }
func (o UpdateElement) ElementID() string { return o.ID }
func (o MoveElement) ElementID() string   { return o.ID }

func (CreateElement) isOperation() {}
func (DeleteElement) isOperation() {}
func (UpdateElement) isOperation() {}
func (MoveElement) isOperation()   {}

// IsLabelText reports whether the update targets the link label text
func (o UpdateElement) IsLabelText() bool {
	return o.Text != nil && o.Attrs == nil
}
