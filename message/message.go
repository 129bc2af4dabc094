// Package message defines the messages the bot receives and sends,
// independent of the chat service that carries them.
package message

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Received is a message received from a service.
type Received struct {
	// ID is the unique ID of the message.
	ID string
	// Guild is the server in which the message was sent.
	// It is empty for direct messages.
	Guild string
	// To is the channel to which the message was sent.
	To string
	// Sender is the unique identifier of the message sender.
	Sender string
	// Name is the display name of the message sender.
	Name string
	// Text is the text of the message.
	Text string
	// Timestamp is the timestamp of the message as milliseconds since the
	// Unix epoch.
	Timestamp int64
	// Roles is the set of roles the sender holds in the guild.
	Roles []string
	// Attachments is the files attached to the message.
	Attachments []Attachment
}

// Attachment is a file attached to a received message.
type Attachment struct {
	// URL is where the file can be downloaded. Services may expire it,
	// particularly once the message is deleted.
	URL string
	// Name is the file name.
	Name string
	// ContentType is the media type of the file, if known.
	ContentType string
	// Size is the size of the file in bytes.
	Size int
}

func (m *Received) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// HasRole reports whether the sender holds any of the given roles.
func (m *Received) HasRole(roles ...string) bool {
	return slices.ContainsFunc(m.Roles, func(r string) bool { return slices.Contains(roles, r) })
}

// Sent is a message to be sent to a service.
type Sent struct {
	// Reply is a message to reply to. If empty, the message is not interpreted
	// as a reply.
	Reply string
	// To is the channel to which the message is sent.
	To string
	// Text is the message text.
	Text string
	// Private requests that only the recipient of a reply can see the
	// message, where the service supports it.
	Private bool
}

// formatString is a type to prevent misuse of format strings passed to [Format].
type formatString string

// Format constructs a message to send from a format string literal and
// formatting arguments.
func Format(reply, to string, f formatString, args ...any) Sent {
	return Sent{
		Reply: reply,
		To:    to,
		Text:  strings.TrimSpace(fmt.Sprintf(string(f), args...)),
	}
}

// AsPrivate returns a copy of the message which only its recipient can see.
func (m Sent) AsPrivate() Sent {
	m.Private = true
	return m
}
