// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data. The `json:"..."` tags control
// how they are serialised by the HTTP API.
package model

import (
	"strings"
	"time"
)

// Unknown is the sentinel stored in place of an unresolved company or role.
// It is never null and never omitted, so display code can compare against it.
const Unknown = "Unknown"

// Contact is a person who messaged the owning account.
//
// IDENTITY:
// ExternalID is the messaging platform's user id and is the dedup key. The
// store enforces at most one row per (AccountID, ExternalID). ID is our own
// xid, used in HTTP paths so the platform id never leaks into URLs.
type Contact struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"-"`
	ExternalID      int64     `json:"externalId"`
	Name            string    `json:"name"`
	Username        string    `json:"username"`
	Phone           string    `json:"phone"`
	Bio             string    `json:"bio"`
	Company         string    `json:"company"`
	Role            string    `json:"role"`
	Notes           string    `json:"notes"`
	Topics          []string  `json:"topics"`
	EventTag        string    `json:"eventTag"`
	Exported        bool      `json:"exported"`
	FirstSeen       time.Time `json:"firstSeen"`
	LastInteraction time.Time `json:"lastInteraction"`
}

// HasCompany reports whether the company field holds a real value.
func (c *Contact) HasCompany() bool {
	return c.Company != "" && c.Company != Unknown
}

// DisplayName joins first and last name the way the platform shows them.
func DisplayName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// Field is the closed set of contact attributes that may be edited by
// command. Storage matches on it with a switch; there is no column-name
// interpolation anywhere.
type Field int

const (
	FieldCompany Field = iota + 1
	FieldRole
	FieldNotes
	FieldEventTag
)

var fieldNames = map[Field]string{
	FieldCompany:  "company",
	FieldRole:     "role",
	FieldNotes:    "notes",
	FieldEventTag: "event_tag",
}

// ParseField maps a command token to a Field. Matching is case-insensitive.
func ParseField(s string) (Field, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range fieldNames {
		if name == s {
			return f, true
		}
	}
	return 0, false
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return "invalid"
}

// EditableFields lists the allow-list in display order.
func EditableFields() []Field {
	return []Field{FieldCompany, FieldRole, FieldNotes, FieldEventTag}
}

// EventCount is one row of the "by event" breakdown.
type EventCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats summarises an account's contacts.
type Stats struct {
	Total       int          `json:"total"`
	WithCompany int          `json:"withCompany"`
	Recent      int          `json:"recent"`
	Exported    int          `json:"exported"`
	ByEvent     []EventCount `json:"byEvent"`
}
