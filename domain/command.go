package domain

import (
	"net/netip"
	"time"
)

type Command string

const (
	CommandConnect    Command = "conn"
	CommandSay        Command = "say"
	CommandSayTo      Command = "sayto"
	CommandMute       Command = "mute"
	CommandUnmute     Command = "unmute"
	CommandRename     Command = "rename"
	CommandDisconnect Command = "disconn"
	CommandKick       Command = "kick"
	CommandPingReply  Command = "ret-ping"
)

// Request is one parsed request line.
type Request struct {
	Command Command
	Payload string
}

// Datagram is one raw inbound packet, copied out of the receive buffer.
type Datagram struct {
	From       netip.AddrPort
	Payload    []byte
	ReceivedAt time.Time
}
