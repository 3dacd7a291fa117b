package stream

import (
	"encoding/json"

	"github.com/c360/docfeed/natsclient"
	"github.com/c360/docfeed/state"
)

// ItemMessage is the wire form of one document state.
type ItemMessage struct {
	Status   string          `json:"status"`
	Key      string          `json:"key,omitempty"`
	Exists   *bool           `json:"exists,omitempty"`
	Revision uint64          `json:"revision,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// CollectionMessage is the wire form of one query result state.
type CollectionMessage struct {
	Status string            `json:"status"`
	Size   int               `json:"size"`
	Keys   []string          `json:"keys,omitempty"`
	Data   []json.RawMessage `json:"data"`
}

// NewItemMessage renders st. Exists, Revision and Data are only set once the
// state is resolved.
func NewItemMessage(key string, st state.ItemState[json.RawMessage]) ItemMessage {
	msg := ItemMessage{Status: st.Status.String(), Key: key}
	if st.Status != state.StatusResolved {
		return msg
	}
	exists := st.Exists
	msg.Exists = &exists
	msg.Data = st.Data
	if doc, ok := st.Snapshot.(*natsclient.Document); ok {
		msg.Revision = doc.Revision()
	}
	return msg
}

// NewCollectionMessage renders st with the keys of the documents behind it.
func NewCollectionMessage(st state.CollectionState[json.RawMessage]) CollectionMessage {
	msg := CollectionMessage{Status: st.Status.String(), Size: st.Size, Data: st.Data}
	if msg.Data == nil {
		msg.Data = []json.RawMessage{}
	}
	if st.Snapshot != nil {
		for _, m := range st.Snapshot.Members() {
			if doc, ok := m.(*natsclient.Document); ok {
				msg.Keys = append(msg.Keys, doc.Key())
			}
		}
	}
	return msg
}
