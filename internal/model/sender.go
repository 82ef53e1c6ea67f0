package model

import (
	"regexp"
	"strings"
	"time"
)

// UnknownSenderName is used when a sender exposes neither a name nor a handle.
const UnknownSenderName = "Unknown User"

var digitRun = regexp.MustCompile(`\d{3,4}`)

// Sender describes the originator of a private message. Name parts and the
// handle are optional; a value that is blank after trimming counts as absent.
type Sender struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
}

// IncomingMessage is a private message delivered by the messaging client.
type IncomingMessage struct {
	ID     int64
	Text   string
	Sender Sender
	Date   time.Time
}

func (s Sender) first() string    { return strings.TrimSpace(s.FirstName) }
func (s Sender) last() string     { return strings.TrimSpace(s.LastName) }
func (s Sender) username() string { return strings.TrimSpace(s.Username) }

// HasFullName reports whether both first and last name are present.
func (s Sender) HasFullName() bool {
	return s.first() != "" && s.last() != ""
}

// DisplayName builds "First Last (@handle)", "First Last", "@handle" or
// UnknownSenderName depending on which attributes are present.
func (s Sender) DisplayName() string {
	parts := make([]string, 0, 2)
	if f := s.first(); f != "" {
		parts = append(parts, f)
	}
	if l := s.last(); l != "" {
		parts = append(parts, l)
	}
	name := strings.Join(parts, " ")

	handle := s.username()
	switch {
	case name != "" && handle != "":
		return name + " (@" + handle + ")"
	case handle != "":
		return "@" + handle
	case name != "":
		return name
	default:
		return UnknownSenderName
	}
}

// HasDigitRun reports whether name contains a run of 3-4 consecutive digits.
// Longer runs match too since the pattern is a substring search.
func HasDigitRun(name string) bool {
	return digitRun.MatchString(name)
}
