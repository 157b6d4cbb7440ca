package domain

import "fmt"

// Mutation is one batch item. The concrete types are CreateMutation,
// UpdateMutation and DeleteMutation; the set is closed.
type Mutation interface {
	Kind() OperationKind
	Target() (collection, documentID string)
	isMutation()
}

type CreateMutation struct {
	OperationID string
	Collection  string
	DocumentID  string
	Data        map[string]any
}

type UpdateMutation struct {
	OperationID string
	Collection  string
	DocumentID  string
	BaseVersion int64
	Changes     map[string]any
}

type DeleteMutation struct {
	OperationID string
	Collection  string
	DocumentID  string
	BaseVersion int64
}

func (CreateMutation) Kind() OperationKind { return OperationCreate }
func (UpdateMutation) Kind() OperationKind { return OperationUpdate }
func (DeleteMutation) Kind() OperationKind { return OperationDelete }

func (m CreateMutation) Target() (string, string) { return m.Collection, m.DocumentID }
func (m UpdateMutation) Target() (string, string) { return m.Collection, m.DocumentID }
func (m DeleteMutation) Target() (string, string) { return m.Collection, m.DocumentID }

func (CreateMutation) isMutation() {}
func (UpdateMutation) isMutation() {}
func (DeleteMutation) isMutation() {}

// BatchItem is the wire shape of a mutation inside a batch request.
type BatchItem struct {
	OperationID string         `json:"operation_id,omitempty"`
	Kind        OperationKind  `json:"kind" validate:"required,oneof=create update delete"`
	Collection  string         `json:"collection" validate:"required"`
	DocumentID  string         `json:"document_id" validate:"required"`
	BaseVersion int64          `json:"base_version" validate:"gte=0"`
	Data        map[string]any `json:"data,omitempty"`
}

func (i BatchItem) ToMutation() (Mutation, error) {
	switch i.Kind {
	case OperationCreate:
		return CreateMutation{
			OperationID: i.OperationID,
			Collection:  i.Collection,
			DocumentID:  i.DocumentID,
			Data:        i.Data,
		}, nil
	case OperationUpdate:
		return UpdateMutation{
			OperationID: i.OperationID,
			Collection:  i.Collection,
			DocumentID:  i.DocumentID,
			BaseVersion: i.BaseVersion,
			Changes:     i.Data,
		}, nil
	case OperationDelete:
		return DeleteMutation{
			OperationID: i.OperationID,
			Collection:  i.Collection,
			DocumentID:  i.DocumentID,
			BaseVersion: i.BaseVersion,
		}, nil
	default:
		return nil, fmt.Errorf("unknown operation kind: %q", i.Kind)
	}
}

// MutationFromOperation rebuilds the typed mutation of a recorded operation.
func MutationFromOperation(op *Operation) (Mutation, error) {
	return BatchItem{
		OperationID: op.ID,
		Kind:        op.Kind,
		Collection:  op.Collection,
		DocumentID:  op.DocumentID,
		BaseVersion: op.BaseVersion,
		Data:        op.Changes,
	}.ToMutation()
}

// InputFromMutation converts a typed mutation into the operation log input.
func InputFromMutation(deviceID string, m Mutation) OperationInput {
	switch v := m.(type) {
	case CreateMutation:
		return OperationInput{
			ID:         v.OperationID,
			DeviceID:   deviceID,
			Collection: v.Collection,
			DocumentID: v.DocumentID,
			Kind:       OperationCreate,
			Changes:    v.Data,
		}
	case UpdateMutation:
		return OperationInput{
			ID:          v.OperationID,
			DeviceID:    deviceID,
			Collection:  v.Collection,
			DocumentID:  v.DocumentID,
			Kind:        OperationUpdate,
			BaseVersion: v.BaseVersion,
			Changes:     v.Changes,
		}
	case DeleteMutation:
		return OperationInput{
			ID:          v.OperationID,
			DeviceID:    deviceID,
			Collection:  v.Collection,
			DocumentID:  v.DocumentID,
			Kind:        OperationDelete,
			BaseVersion: v.BaseVersion,
		}
	}
	panic(fmt.Sprintf("unhandled mutation type %T", m))
}
