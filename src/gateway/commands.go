package gateway

import (
	"context"

	"personal/discord_client/src/opcodes"
	"personal/discord_client/src/tasks"
)

// UpdatePresence queues a presence update. The future fails with
// ErrNotReady if the session is not ready when a worker picks it up.
func (c *Connection) UpdatePresence(presence PresenceUpdate) *tasks.Future[struct{}] {
	if presence.Activities == nil {
		presence.Activities = []Activity{}
	}
	return c.submitCommand("update_presence", opcodes.PresenceUpdate, presence)
}

// UpdateVoiceState joins, moves between or leaves (nil channel) voice channels.
func (c *Connection) UpdateVoiceState(update VoiceStateUpdate) *tasks.Future[struct{}] {
	return c.submitCommand("update_voice_state", opcodes.VoiceStateUpdate, update)
}

// RequestGuildMembers asks for member chunks; they arrive as
// GUILD_MEMBERS_CHUNK dispatches. Without a query or user ids it requests
// every member.
func (c *Connection) RequestGuildMembers(request RequestGuildMembers) *tasks.Future[struct{}] {
	if request.Query == nil && len(request.UserIDs) == 0 {
		all := ""
		request.Query = &all
		request.Limit = 0
	}
	return c.submitCommand("request_guild_members", opcodes.RequestGuildMembers, request)
}

// submitCommand hands a command to the task queue so callers, including
// handlers on the read loop, never wait on the socket.
func (c *Connection) submitCommand(name string, op opcodes.Opcode, data any) *tasks.Future[struct{}] {
	return tasks.Submit(c.cfg.Queue, name, func(ctx context.Context) (struct{}, error) {
		if c.State() != StateReady {
			return struct{}{}, ErrNotReady
		}
		if err := c.commands.Wait(ctx); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, c.send(op, data)
	})
}
