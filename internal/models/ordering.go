package models

import (
	"bytes"
	"encoding/json"
)

// OptionalID различает три состояния поля JSON: отсутствует, null и значение.
type OptionalID struct {
	Set bool
	ID  *string
}

func Keep() OptionalID              { return OptionalID{} }
func Null() OptionalID              { return OptionalID{Set: true} }
func Some(id string) OptionalID     { return OptionalID{Set: true, ID: &id} }
func FromPtr(id *string) OptionalID { return OptionalID{Set: true, ID: id} }

// UnmarshalJSON вызывается только если ключ присутствует.
func (o *OptionalID) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.ID = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.ID = &s
	return nil
}

func (o OptionalID) MarshalJSON() ([]byte, error) {
	if !o.Set || o.ID == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.ID)
}

type ReorderSectionRequest struct {
	SectionID   string     `json:"sectionId"`
	ServerID    string     `json:"serverId"`
	NewPosition int        `json:"newPosition"`
	NewParentID OptionalID `json:"newParentId"`
}

type BulkReorderSectionsRequest struct {
	SectionOrder []string `json:"sectionOrder"`
}

type BulkReorderChannelsRequest struct {
	SectionID    *string  `json:"sectionId"`
	ChannelOrder []string `json:"channelOrder"`
}

type BulkReorderResult struct {
	Success      bool `json:"success"`
	SectionCount int  `json:"sectionCount,omitempty"`
	ChannelCount int  `json:"channelCount,omitempty"`
}

type ChannelMove struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

type ReorderChannelsRequest struct {
	// ServerID берётся из пути запроса; пустой — сервер первого канала.
	ServerID     string        `json:"-"`
	Moves        []ChannelMove `json:"moves"`
	NewSectionID OptionalID    `json:"newSectionId"`
}

type CreateSectionParams struct {
	Name     string  `json:"name"`
	ServerID string  `json:"serverId"`
	ParentID *string `json:"parentId"`
}

type CreateChannelParams struct {
	Name      string      `json:"name"`
	ServerID  string      `json:"serverId"`
	SectionID *string     `json:"sectionId"`
	Type      ChannelType `json:"type"`
}

type RequestKind string

const (
	KindSingleMove  RequestKind = "single_move"
	KindBulkReplace RequestKind = "bulk_replace"
)

type EntityKind string

const (
	EntitySection EntityKind = "section"
	EntityChannel EntityKind = "channel"
)

// OrderingRequest — единый запрос на упорядочивание: одиночное перемещение
// или полная замена порядка одного списка соседей. Заполнено ровно одно из Move/Bulk.
type OrderingRequest struct {
	Kind   RequestKind         `json:"kind"`
	Entity EntityKind          `json:"entity"`
	Move   *SingleMoveRequest  `json:"move,omitempty"`
	Bulk   *BulkReplaceRequest `json:"bulk,omitempty"`
}

// SingleMoveRequest: NewParentID — родительская секция для секции или секция для канала.
type SingleMoveRequest struct {
	NodeID      string     `json:"nodeId"`
	NewPosition int        `json:"newPosition"`
	NewParentID OptionalID `json:"newParentId"`
}

// BulkReplaceRequest: ParentID задаёт список соседей (nil — корень / канал без секции).
type BulkReplaceRequest struct {
	ParentID   *string  `json:"parentId"`
	OrderedIDs []string `json:"orderedIds"`
}
