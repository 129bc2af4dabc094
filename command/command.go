// Package command maps invocations from chat onto session operations and
// applies the results to announcements.
package command

import (
	"context"

	"github.com/vinns/concierge/guild"
	"github.com/vinns/concierge/message"
)

// Invocation is a command invocation. An Invocation and its fields must not
// be modified or retained by any command.
type Invocation struct {
	// Guild is the server where the invocation occurred.
	Guild *guild.Guild
	// Message is the message which triggered the invocation. It is always
	// non-nil, but not all fields are guaranteed to be populated. For
	// interactions, Text is empty and To is the channel of the interaction.
	Message *message.Received
	// Args is the parsed arguments to the command.
	Args map[string]string
	// Reply sends a response visible to the invoker.
	Reply func(ctx context.Context, msg message.Sent)
}

// Func executes a command.
type Func func(ctx context.Context, robo *Robot, call *Invocation)

// reply sends a response to the invoker, privately where possible.
func (call *Invocation) reply(ctx context.Context, text string) {
	if call.Reply == nil {
		return
	}
	call.Reply(ctx, message.Sent{Reply: call.Message.ID, To: call.Message.To, Text: text, Private: true})
}

// canManage reports whether the invoker holds the management capability.
func (call *Invocation) canManage() bool {
	return call.Guild.CanManage(call.Message.Sender, call.Message.Roles)
}
