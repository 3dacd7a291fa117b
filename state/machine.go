package state

import "github.com/c360/docfeed/source"

// Listener receives a side notification for every event a Machine processes.
// OnSnapshot runs before the state is emitted. Any callback may be nil.
type Listener[S any] struct {
	OnSnapshot func(S)
	OnError    func(error)
	OnComplete func()
}

// Reporter is the telemetry side-channel for feed errors. Decode failures arrive
// as *errors.DecodeError carrying the snapshot id.
type Reporter interface {
	Report(err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(err error)

// Report implements Reporter.
func (f ReporterFunc) Report(err error) { f(err) }

// Machine turns raw events of type R into states of type S. It holds no state of
// its own between events; the caller serialises calls for one subscription.
type Machine[R, S any] struct {
	transform  func(R) (S, error)
	errorState S
	listener   Listener[S]
	reporter   Reporter
}

// NewItemMachine builds the machine for single-document feeds.
func NewItemMachine[T any](decode Decoder[T], listener Listener[ItemState[T]], reporter Reporter) *Machine[source.ItemSnapshot, ItemState[T]] {
	return &Machine[source.ItemSnapshot, ItemState[T]]{
		transform: func(snap source.ItemSnapshot) (ItemState[T], error) {
			return TransformItem(snap, decode)
		},
		errorState: ErrorItem[T](),
		listener:   listener,
		reporter:   reporter,
	}
}

// NewCollectionMachine builds the machine for query feeds.
func NewCollectionMachine[T any](decode Decoder[T], listener Listener[CollectionState[T]], reporter Reporter) *Machine[source.CollectionSnapshot, CollectionState[T]] {
	return &Machine[source.CollectionSnapshot, CollectionState[T]]{
		transform: func(snap source.CollectionSnapshot) (CollectionState[T], error) {
			return TransformCollection(snap, decode)
		},
		errorState: ErrorCollection[T](),
		listener:   listener,
		reporter:   reporter,
	}
}

// Next transforms a raw snapshot and emits the resulting state.
func (m *Machine[R, S]) Next(raw R, emit func(S)) {
	st, err := m.transform(raw)
	if err != nil {
		m.Error(err, emit)
		return
	}

	var notify func()
	if m.listener.OnSnapshot != nil {
		notify = func() { m.listener.OnSnapshot(st) }
	}
	deliver(notify, func() { emit(st) })
}

// Error emits the error state. The subscription stays open, so a later snapshot
// can still resolve the feed.
func (m *Machine[R, S]) Error(err error, emit func(S)) {
	if m.reporter != nil {
		m.reporter.Report(err)
	}

	var notify func()
	if m.listener.OnError != nil {
		notify = func() { m.listener.OnError(err) }
	}
	deliver(notify, func() { emit(m.errorState) })
}

// Complete notifies the listener that the upstream finished.
func (m *Machine[R, S]) Complete() {
	if m.listener.OnComplete != nil {
		m.listener.OnComplete()
	}
}

// deliver runs notify and then emit. If notify panics, emit still runs before the
// panic continues to unwind: the listener cannot keep a state from its sinks.
func deliver(notify, emit func()) {
	if notify == nil {
		emit()
		return
	}

	emitted := false
	defer func() {
		if !emitted {
			emitted = true
			emit()
		}
	}()

	notify()
	emitted = true
	emit()
}
