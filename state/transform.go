package state

import (
	"encoding/json"
	"fmt"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/source"
)

// Decoder turns a raw document body into T.
type Decoder[T any] func(body []byte) (T, error)

// JSON returns a Decoder that unmarshals JSON bodies into T.
func JSON[T any]() Decoder[T] {
	return func(body []byte) (T, error) {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return v, err
		}
		return v, nil
	}
}

// TransformItem converts one item snapshot into a state. A missing document
// resolves with Exists false. A body that cannot be read or decoded yields the
// error state together with a *errors.DecodeError for the side-channel.
func TransformItem[T any](snap source.ItemSnapshot, decode Decoder[T]) (ItemState[T], error) {
	if snap == nil {
		return ErrorItem[T](), errors.NewDecodeError("", errors.ErrInvalidData)
	}
	if !snap.Exists() {
		return ItemState[T]{Status: StatusResolved, Snapshot: snap}, nil
	}

	data, err := decodeSnapshot(snap, decode)
	if err != nil {
		return ErrorItem[T](), err
	}
	return ItemState[T]{Status: StatusResolved, Exists: true, Data: data, Snapshot: snap}, nil
}

// TransformCollection converts one collection snapshot into a state. If any member
// fails to decode the whole emission becomes the error state; partial results are
// never surfaced.
func TransformCollection[T any](snap source.CollectionSnapshot, decode Decoder[T]) (CollectionState[T], error) {
	if snap == nil {
		return ErrorCollection[T](), errors.NewDecodeError("", errors.ErrInvalidData)
	}

	members := snap.Members()
	data := make([]T, 0, len(members))
	for _, member := range members {
		v, err := decodeSnapshot(member, decode)
		if err != nil {
			return ErrorCollection[T](), err
		}
		data = append(data, v)
	}

	return CollectionState[T]{
		Status:   StatusResolved,
		Size:     len(data),
		Empty:    len(data) == 0,
		Data:     data,
		Snapshot: snap,
	}, nil
}

// decodeSnapshot never panics; a panicking decoder is reported as a decode error.
func decodeSnapshot[T any](snap source.ItemSnapshot, decode Decoder[T]) (v T, err error) {
	if snap == nil {
		return v, errors.NewDecodeError("", errors.ErrInvalidData)
	}
	id := snap.ID()

	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = errors.NewDecodeError(id, fmt.Errorf("decoder panicked: %v", r))
		}
	}()

	body, err := snap.Data()
	if err != nil {
		return v, errors.NewDecodeError(id, err)
	}
	v, err = decode(body)
	if err != nil {
		var zero T
		return zero, errors.NewDecodeError(id, err)
	}
	return v, nil
}
