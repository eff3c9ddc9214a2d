package collaboration

import (
	"context"
	"fmt"
	"sync"

	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

/*
LEARNING: OPTIMISTIC IN-MEMORY DOCUMENT

Every operation is applied to the room's in-memory cell list immediately, so
anyone who joins or receives a broadcast sees the latest state. Persistence
lags behind on purpose (see SaveScheduler).

Rules:
  create  -> append (a duplicate id yields two entries, nothing is deduped)
  delete  -> remove the first cell with that id, absent id is a no-op
  update  -> replace attrs wholesale, or set labels[0].attrs.text.text
  move    -> overwrite position.x / position.y

The version counter only moves when the list actually changes; the scheduler
uses it to tell a dirty room from a clean one.
*/

// Document is the live cell list of one room
type Document struct {
	mu      sync.RWMutex
	roomID  string
	cells   []models.Cell
	version uint64
}

func newDocument(roomID string, cells []models.Cell) *Document {
	return &Document{
		roomID: roomID,
		cells:  models.CloneCells(cells),
	}
}

// Apply mutates the document with one operation
func (d *Document) Apply(op models.Operation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := false

	switch o := op.(type) {
	case models.CreateElement:
		d.cells = append(d.cells, o.Cell.Clone())
		changed = true

	case models.DeleteElement:
		if i := d.indexOf(o.ID); i >= 0 {
			d.cells = append(d.cells[:i], d.cells[i+1:]...)
			changed = true
		}

	case models.UpdateElement:
		if i := d.indexOf(o.ID); i >= 0 {
			if o.IsLabelText() {
				setLabelText(d.cells[i], *o.Text)
			} else {
				d.cells[i]["attrs"] = models.CloneValue(o.Attrs)
			}
			changed = true
		}

	case models.MoveElement:
		if i := d.indexOf(o.ID); i >= 0 {
			pos, ok := d.cells[i]["position"].(map[string]any)
			if !ok {
				pos = make(map[string]any, 2)
				d.cells[i]["position"] = pos
			}
			pos["x"] = o.X
			pos["y"] = o.Y
			changed = true
		}

	default:
		return fmt.Errorf("%w: operation %T", ErrMalformedMessage, op)
	}

	if changed {
		d.version++
	}
	return nil
}

// Snapshot returns a deep copy of the cells and the version it reflects
func (d *Document) Snapshot() ([]models.Cell, uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return models.CloneCells(d.cells), d.version
}

// Version returns the number of mutations applied since hydration
func (d *Document) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.version
}

// Len returns the number of cells
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.cells)
}

func (d *Document) indexOf(id string) int {
	for i, c := range d.cells {
		if c.ID() == id {
			return i
		}
	}
	return -1
}

// setLabelText writes labels[0].attrs.text.text, creating whatever part of
// that path is missing
func setLabelText(cell models.Cell, text string) {
	labels, _ := cell["labels"].([]any)
	if len(labels) == 0 {
		labels = []any{map[string]any{}}
		cell["labels"] = labels
	}
	label, ok := labels[0].(map[string]any)
	if !ok {
		label = map[string]any{}
		labels[0] = label
	}
	attrs := childMap(label, "attrs")
	textAttrs := childMap(attrs, "text")
	textAttrs["text"] = text
}

func childMap(parent map[string]any, key string) map[string]any {
	child, ok := parent[key].(map[string]any)
	if !ok {
		child = map[string]any{}
		parent[key] = child
	}
	return child
}

// Documents owns the live documents of every hydrated room
type Documents struct {
	loader DocumentStore

	mu    sync.RWMutex
	rooms map[string]*Document

	hydrating singleflight.Group
}

// NewDocuments creates an empty registry backed by loader
func NewDocuments(loader DocumentStore) *Documents {
	return &Documents{
		loader: loader,
		rooms:  make(map[string]*Document),
	}
}

// Hydrate makes sure roomID has a live document, loading it from storage on
// first use. A failed or empty load yields an empty document; hydration
// itself never fails.
func (ds *Documents) Hydrate(ctx context.Context, roomID string) *Document {
	if doc := ds.Get(roomID); doc != nil {
		return doc
	}

	// Concurrent joiners of the same room share a single load
	v, _, _ := ds.hydrating.Do(roomID, func() (any, error) {
		if doc := ds.Get(roomID); doc != nil {
			return doc, nil
		}

		var cells []models.Cell
		if ds.loader != nil {
			loaded, found, err := ds.loader.Load(ctx, roomID)
			switch {
			case err != nil:
				log.Error("Hydrate: load failed, starting empty", "schema", roomID, "err", err)
			case !found:
				log.Info("Hydrate: no stored cells, starting empty", "schema", roomID)
			default:
				cells = loaded
			}
		}

		doc := newDocument(roomID, cells)

		ds.mu.Lock()
		ds.rooms[roomID] = doc
		ds.mu.Unlock()

		log.Info("Hydrate: room is live", "schema", roomID, "cells", len(cells))
		return doc, nil
	})

	return v.(*Document)
}

// Get returns the live document of roomID, or nil
func (ds *Documents) Get(roomID string) *Document {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	return ds.rooms[roomID]
}

// Live reports whether roomID has a hydrated document
func (ds *Documents) Live(roomID string) bool {
	return ds.Get(roomID) != nil
}

// Apply applies op to the live document of roomID
func (ds *Documents) Apply(roomID string, op models.Operation) error {
	doc := ds.Get(roomID)
	if doc == nil {
		return fmt.Errorf("%w: %s", ErrRoomNotLive, roomID)
	}
	return doc.Apply(op)
}

// Snapshot copies the live cells of roomID
func (ds *Documents) Snapshot(roomID string) ([]models.Cell, uint64, bool) {
	doc := ds.Get(roomID)
	if doc == nil {
		return nil, 0, false
	}
	cells, version := doc.Snapshot()
	return cells, version, true
}

// Evict drops the live document of roomID; the next Hydrate reloads it
func (ds *Documents) Evict(roomID string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	delete(ds.rooms, roomID)
}

// LiveRooms lists the ids of all hydrated rooms
func (ds *Documents) LiveRooms() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	ids := make([]string, 0, len(ds.rooms))
	for id := range ds.rooms {
		ids = append(ids, id)
	}
	return ids
}
