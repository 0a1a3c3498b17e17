package models

import "time"

type ChannelType string

// Пока поддерживаются только текстовые каналы.
const ChannelTypeText ChannelType = "TEXT"

type Server struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	DefaultSectionName string    `json:"defaultSectionName"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type Section struct {
	ID        string    `json:"id"`
	ServerID  string    `json:"serverId"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	ParentID  *string   `json:"parentId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Channel struct {
	ID        string      `json:"id"`
	ServerID  string      `json:"serverId"`
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`
	SectionID *string     `json:"sectionId"`
	Position  int         `json:"position"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Sibling — строка списка соседей: id и текущая позиция.
type Sibling struct {
	ID       string
	Position int
}

type SectionNode struct {
	Section  Section       `json:"section"`
	Channels []Channel     `json:"channels"`
	Children []SectionNode `json:"children"`
}

// ServerTree — навигационное дерево сервера.
type ServerTree struct {
	Server    Server        `json:"server"`
	Sections  []SectionNode `json:"sections"`
	Ungrouped []Channel     `json:"ungrouped"`
}
