package services

import "chat-relay/protocol"

// Response texts sent back to clients.

func welcome(name string) string {
	return protocol.System("Hi %s, you have successfully connected to the chat", name)
}

func joined(name string) string { return protocol.System("%s has joined the chat", name) }

func left(name string) string { return protocol.System("%s has left the chat", name) }

func renamed(previous, name string) string {
	return protocol.System("%s is now known as %s", previous, name)
}

func removed(name string) string { return protocol.System("%s has been removed from the chat", name) }

func mustConnect(action string) string {
	return protocol.Failure("You must conn$<name> before %s", action)
}

func malformed(line string) string {
	return protocol.Failure("Malformed request (no %s): %s", protocol.Separator, line)
}

func unknownCommand(command string) string {
	return protocol.Failure("Unknown command '%s'", command)
}

func nameInUse(name string) string { return protocol.Failure("Name '%s' already in use", name) }

func clientNotFound(name string) string { return protocol.Failure("Client '%s' not found", name) }

var (
	msgNameEmpty      = protocol.Failure("Name cannot be empty")
	msgNameTooLong    = protocol.Failure("Name is too long")
	msgNameHasBlank   = protocol.Failure("Name cannot contain spaces")
	msgServerFull     = protocol.Failure("Server full")
	msgSayToUsage     = protocol.Failure("sayto requires a recipient name and a message")
	msgMuteUsage      = protocol.Failure("mute requires a client name")
	msgUnmuteUsage    = protocol.Failure("unmute requires a client name")
	msgRenameUsage    = protocol.Failure("rename requires a new name")
	msgKickUsage      = protocol.Failure("kick requires a client name")
	msgKickAdminOnly  = protocol.Failure("kick is admin-only")
	msgInternal       = protocol.Failure("Unable to process request")
	msgNotConnected   = protocol.System("You are not connected")
	msgBye            = protocol.System("Disconnected. Bye!")
	msgYouWereRemoved = protocol.System("You have been removed from the chat")
	msgActionSending  = "sending messages"
	msgActionMuting   = "muting users"
	msgActionUnmuting = "unmuting users"
	msgActionRenaming = "renaming"
)
