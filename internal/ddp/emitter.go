package ddp

type collectionEvent struct {
	Msg        string `json:"msg"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Fields     any    `json:"fields,omitempty"`
}

// Emitter pushes collection events for one connection.
type Emitter struct {
	engine *Engine
}

// Emitter returns an emitter bound to the engine.
func (e *Engine) Emitter() *Emitter { return &Emitter{engine: e} }

// Added announces a new document. Nil fields are sent as an empty object.
func (em *Emitter) Added(collection, id string, fields any) error {
	if fields == nil {
		fields = map[string]any{}
	}
	return em.engine.emitEvent(collectionEvent{Msg: "added", Collection: collection, ID: id, Fields: fields})
}

// Changed announces updated fields of a document.
func (em *Emitter) Changed(collection, id string, fields any) error {
	if fields == nil {
		fields = map[string]any{}
	}
	return em.engine.emitEvent(collectionEvent{Msg: "changed", Collection: collection, ID: id, Fields: fields})
}

// Removed announces a deleted document.
func (em *Emitter) Removed(collection, id string) error {
	return em.engine.emitEvent(collectionEvent{Msg: "removed", Collection: collection, ID: id})
}

// EmitAdded sends a single "added" frame.
func (e *Engine) EmitAdded(collection, id string, fields any) error {
	return e.Emitter().Added(collection, id, fields)
}

// EmitChanged sends a single "changed" frame.
func (e *Engine) EmitChanged(collection, id string, fields any) error {
	return e.Emitter().Changed(collection, id, fields)
}

// EmitRemoved sends a single "removed" frame.
func (e *Engine) EmitRemoved(collection, id string) error {
	return e.Emitter().Removed(collection, id)
}

func (e *Engine) emitEvent(ev collectionEvent) error {
	b, err := marshalJSON(ev)
	if err != nil {
		return err
	}
	return e.send(FrameEvent, []string{string(b)})
}
