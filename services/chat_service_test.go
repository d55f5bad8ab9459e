package services

import (
	"bufio"
	"bytes"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/moderation"
	"chat-relay/runtime"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const adminPort = 6666

var (
	aliceAddr = netip.MustParseAddrPort("127.0.0.1:40001")
	bobAddr   = netip.MustParseAddrPort("127.0.0.1:40002")
	carolAddr = netip.MustParseAddrPort("127.0.0.1:40003")
	adminAddr = netip.MustParseAddrPort("127.0.0.1:6666")
)

type fixture struct {
	service  *ChatService
	registry *runtime.Registry
	history  *runtime.History
	sender   *mocks.RecordingSender
}

func newFixture(maxClients int) *fixture {
	return newFixtureWithLogger(maxClients, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func newFixtureWithLogger(maxClients int, log *slog.Logger) *fixture {
	sender := mocks.NewRecordingSender()
	registry := runtime.NewRegistry(maxClients, 64)
	history := runtime.NewHistory(log, 15)
	broadcaster := runtime.NewBroadcaster(log, registry, history, sender)
	return &fixture{
		service:  NewChatService(log, registry, history, broadcaster, sender, adminPort, 63),
		registry: registry,
		history:  history,
		sender:   sender,
	}
}

func (f *fixture) send(from netip.AddrPort, line string) {
	f.service.Handle(context.Background(), domain.Datagram{
		From:       from,
		Payload:    []byte(line + "\n"),
		ReceivedAt: time.Now(),
	})
}

// connect registers name at address and forgets every line it produced.
func (f *fixture) connect(t *testing.T, address netip.AddrPort, name string) {
	t.Helper()
	f.send(address, "conn$"+name)
	_, ok := f.registry.FindByName(name)
	require.True(t, ok)
	f.sender.Reset()
}

func TestChatService_Concrete_Scenario(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)

	// Alice connects and gets a welcome with an empty history
	f.send(aliceAddr, "conn$Alice")
	req.Equal([]string{"SYS$Hi Alice, you have successfully connected to the chat"}, f.sender.Drain(aliceAddr))

	// Bob connects and gets Alice's join announcement replayed
	f.send(bobAddr, "conn$Bob")
	req.Equal([]string{
		"SYS$Hi Bob, you have successfully connected to the chat",
		"[History] SYS$Alice has joined the chat",
	}, f.sender.Drain(bobAddr))
	req.Equal([]string{"SYS$Bob has joined the chat"}, f.sender.Drain(aliceAddr))

	// Alice says hi and only Bob hears it
	f.send(aliceAddr, "say$hi")
	req.Equal([]string{"Alice: hi"}, f.sender.Drain(bobAddr))
	req.Empty(f.sender.Drain(aliceAddr))

	// Bob mutes Alice, her next message reaches nobody but is still recorded
	f.send(bobAddr, "mute$Alice")
	req.Equal([]string{"SYS$You have muted Alice"}, f.sender.Drain(bobAddr))
	f.send(aliceAddr, "say$yo")
	req.Empty(f.sender.Drain(bobAddr))
	req.Empty(f.sender.Drain(aliceAddr))

	// A third client sees yo in its replay
	f.send(carolAddr, "conn$Carol")
	req.Equal([]string{
		"SYS$Hi Carol, you have successfully connected to the chat",
		"[History] SYS$Alice has joined the chat",
		"[History] SYS$Bob has joined the chat",
		"[History] Alice: hi",
		"[History] Alice: yo",
	}, f.sender.Drain(carolAddr))
}

func TestChatService_Connect_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{name: "empty name", line: "conn$", expected: "ERR$Name cannot be empty"},
		{name: "blank name", line: "conn$   ", expected: "ERR$Name cannot be empty"},
		{name: "too long", line: "conn$" + strings.Repeat("a", 64), expected: "ERR$Name is too long"},
		{name: "inner space", line: "conn$Al ice", expected: "ERR$Name cannot contain spaces"},
		{name: "taken", line: "conn$Bob", expected: "ERR$Name 'Bob' already in use"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(128)
			f.connect(t, bobAddr, "Bob")

			f.send(aliceAddr, tt.line)

			require.Equal(t, []string{tt.expected}, f.sender.Lines(aliceAddr))
			require.Empty(t, f.sender.Lines(bobAddr))
			require.Equal(t, 1, f.registry.Len())
		})
	}
}

func TestChatService_Connect_Name_At_Max_Length(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	name := strings.Repeat("é", 63)

	f.send(aliceAddr, "conn$"+name)

	_, ok := f.registry.FindByName(name)
	req.True(ok)
}

func TestChatService_Connect_Server_Full(t *testing.T) {
	req := require.New(t)
	f := newFixture(1)
	f.connect(t, aliceAddr, "Alice")

	f.send(bobAddr, "conn$Bob")

	req.Equal([]string{"ERR$Server full"}, f.sender.Lines(bobAddr))
	req.Equal(1, f.registry.Len())
}

func TestChatService_Reconnect_From_Same_Address(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	f.connect(t, aliceAddr, "Alice")
	f.connect(t, bobAddr, "Bob")

	// Same name: welcome and replay again, nobody else is told
	f.send(aliceAddr, "conn$Alice")
	lines := f.sender.Drain(aliceAddr)
	req.Equal("SYS$Hi Alice, you have successfully connected to the chat", lines[0])
	req.Empty(f.sender.Drain(bobAddr))
	req.Equal(2, f.registry.Len())

	// New free name: identity update announced to the others
	f.send(aliceAddr, "conn$Alicia")
	lines = f.sender.Drain(aliceAddr)
	req.Equal("SYS$Hi Alicia, you have successfully connected to the chat", lines[0])
	req.Equal([]string{"SYS$Alice is now known as Alicia"}, f.sender.Drain(bobAddr))
	req.Equal(2, f.registry.Len())
	_, ok := f.registry.FindByName("Alice")
	req.False(ok)
}

func TestChatService_Requires_Registration(t *testing.T) {
	tests := []struct {
		line     string
		expected string
	}{
		{line: "say$hello", expected: "ERR$You must conn$<name> before sending messages"},
		{line: "sayto$Bob hello", expected: "ERR$You must conn$<name> before sending messages"},
		{line: "mute$Bob", expected: "ERR$You must conn$<name> before muting users"},
		{line: "unmute$Bob", expected: "ERR$You must conn$<name> before unmuting users"},
		{line: "rename$Alicia", expected: "ERR$You must conn$<name> before renaming"},
		{line: "disconn$", expected: "SYS$You are not connected"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			f := newFixture(128)
			f.connect(t, bobAddr, "Bob")
			recorded := f.history.Len()

			f.send(aliceAddr, tt.line)

			require.Equal(t, []string{tt.expected}, f.sender.Lines(aliceAddr))
			require.Empty(t, f.sender.Lines(bobAddr))
			require.Equal(t, recorded, f.history.Len())
		})
	}
}

func TestChatService_Malformed_And_Unknown(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{name: "no separator", line: "hello", expected: "ERR$Malformed request (no $): hello"},
		{name: "empty line", line: "", expected: "ERR$Malformed request (no $): "},
		{name: "unknown command", line: "dance$now", expected: "ERR$Unknown command 'dance'"},
		{name: "empty command", line: "$hello", expected: "ERR$Unknown command ''"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(128)
			f.send(aliceAddr, tt.line)
			require.Equal(t, []string{tt.expected}, f.sender.Lines(aliceAddr))
		})
	}
}

func TestChatService_Say(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	f.connect(t, aliceAddr, "Alice")
	f.connect(t, bobAddr, "Bob")

	// Empty messages are dropped silently
	f.send(aliceAddr, "say$")
	req.Empty(f.sender.Lines(aliceAddr))
	req.Empty(f.sender.Lines(bobAddr))

	// Surrounding blanks are trimmed, inner ones kept
	f.send(aliceAddr, "say$  hello   world \t")
	req.Equal([]string{"Alice: hello   world"}, f.sender.Lines(bobAddr))
	req.Equal([]string{"Alice: hello   world"}, f.history.Entries()[len(f.history.Entries())-1:])
}

func TestChatService_SayTo(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	f.connect(t, aliceAddr, "Alice")
	f.connect(t, bobAddr, "Bob")
	f.connect(t, carolAddr, "Carol")
	recorded := f.history.Len()

	f.send(aliceAddr, "sayto$Bob   see you  soon")

	req.Equal([]string{"Alice (private): see you  soon"}, f.sender.Drain(bobAddr))
	req.Equal([]string{"SYS$Message delivered to Bob"}, f.sender.Drain(aliceAddr))
	req.Empty(f.sender.Lines(carolAddr))
	// Private messages never enter the history
	req.Equal(recorded, f.history.Len())

	f.send(aliceAddr, "sayto$Dave hi")
	req.Equal([]string{"ERR$Recipient 'Dave' not found"}, f.sender.Drain(aliceAddr))

	f.send(aliceAddr, "sayto$Bob")
	req.Equal([]string{"ERR$sayto requires a recipient name and a message"}, f.sender.Drain(aliceAddr))

	// A recipient that muted the author does not get the message
	f.send(bobAddr, "mute$Alice")
	f.sender.Reset()
	f.send(aliceAddr, "sayto$Bob hi")
	req.Empty(f.sender.Lines(bobAddr))
	req.Equal([]string{"SYS$Your message could not be delivered (you are muted by Bob)"}, f.sender.Lines(aliceAddr))
}

func TestChatService_Mute_Unmute(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	f.connect(t, aliceAddr, "Alice")
	f.connect(t, bobAddr, "Bob")
	f.connect(t, carolAddr, "Carol")

	f.send(aliceAddr, "mute$Bob")
	req.Equal([]string{"SYS$You have muted Bob"}, f.sender.Drain(aliceAddr))

	f.send(bobAddr, "say$one")
	req.Empty(f.sender.Drain(aliceAddr))
	req.Equal([]string{"Bob: one"}, f.sender.Drain(carolAddr))

	f.send(aliceAddr, "unmute$Bob")
	req.Equal([]string{"SYS$You have unmuted Bob"}, f.sender.Drain(aliceAddr))

	f.send(bobAddr, "say$two")
	req.Equal([]string{"Bob: two"}, f.sender.Drain(aliceAddr))
	req.Equal([]string{"Bob: two"}, f.sender.Drain(carolAddr))

	f.send(aliceAddr, "unmute$Bob")
	req.Equal([]string{"ERR$Bob was not muted"}, f.sender.Drain(aliceAddr))

	f.send(aliceAddr, "mute$")
	req.Equal([]string{"ERR$mute requires a client name"}, f.sender.Drain(aliceAddr))
	f.send(aliceAddr, "unmute$")
	req.Equal([]string{"ERR$unmute requires a client name"}, f.sender.Drain(aliceAddr))
}

func TestChatService_Mute_List_Full(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	f.connect(t, aliceAddr, "Alice")

	for i := 0; i < 64; i++ {
		f.send(aliceAddr, fmt.Sprintf("mute$user-%d", i))
	}
	f.sender.Reset()

	f.send(aliceAddr, "mute$one-too-many")
	req.Equal([]string{"ERR$Unable to mute one-too-many (mute list full)"}, f.sender.Lines(aliceAddr))
}

func TestChatService_Rename(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	f.connect(t, aliceAddr, "Alice")
	f.connect(t, bobAddr, "Bob")

	f.send(aliceAddr, "rename$Alicia")
	req.Equal([]string{"SYS$You are now known as Alicia"}, f.sender.Drain(aliceAddr))
	req.Equal([]string{"SYS$Alice is now known as Alicia"}, f.sender.Drain(bobAddr))

	f.send(aliceAddr, "rename$Bob")
	req.Equal([]string{"ERR$Name 'Bob' already in use"}, f.sender.Drain(aliceAddr))

	f.send(aliceAddr, "rename$Alicia")
	req.Equal([]string{"ERR$Name 'Alicia' already in use"}, f.sender.Drain(aliceAddr))

	f.send(aliceAddr, "rename$")
	req.Equal([]string{"ERR$rename requires a new name"}, f.sender.Drain(aliceAddr))

	f.send(aliceAddr, "rename$A B")
	req.Equal([]string{"ERR$Name cannot contain spaces"}, f.sender.Drain(aliceAddr))
	req.Empty(f.sender.Drain(bobAddr))
}

func TestChatService_Disconnect(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	f.connect(t, aliceAddr, "Alice")
	f.connect(t, bobAddr, "Bob")

	f.send(aliceAddr, "disconn$")
	req.Equal([]string{"SYS$Disconnected. Bye!"}, f.sender.Drain(aliceAddr))
	req.Equal([]string{"SYS$Alice has left the chat"}, f.sender.Drain(bobAddr))
	req.Equal(1, f.registry.Len())

	// The address is no longer registered afterwards
	f.send(aliceAddr, "say$still here?")
	req.Equal([]string{"ERR$You must conn$<name> before sending messages"}, f.sender.Drain(aliceAddr))
	req.Empty(f.sender.Drain(bobAddr))

	// And the name is free again
	f.send(carolAddr, "conn$Alice")
	_, ok := f.registry.FindByName("Alice")
	req.True(ok)
}

func TestChatService_Kick(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	f.connect(t, aliceAddr, "Alice")
	f.connect(t, bobAddr, "Bob")

	// Only the administrator port may kick
	f.send(bobAddr, "kick$Alice")
	req.Equal([]string{"ERR$kick is admin-only"}, f.sender.Drain(bobAddr))
	req.Equal(2, f.registry.Len())

	f.send(adminAddr, "kick$Dave")
	req.Equal([]string{"ERR$Client 'Dave' not found"}, f.sender.Drain(adminAddr))

	f.send(adminAddr, "kick$")
	req.Equal([]string{"ERR$kick requires a client name"}, f.sender.Drain(adminAddr))

	f.send(adminAddr, "kick$Alice")
	req.Empty(f.sender.Drain(adminAddr))
	req.Equal([]string{"SYS$You have been removed from the chat"}, f.sender.Drain(aliceAddr))
	req.Equal([]string{"SYS$Alice has been removed from the chat"}, f.sender.Drain(bobAddr))
	req.Equal(1, f.registry.Len())
	_, ok := f.registry.FindByName("Alice")
	req.False(ok)
}

func TestChatService_Ping_Reply_Clears_Probe(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	f.connect(t, aliceAddr, "Alice")
	handle, _ := f.registry.FindByAddress(aliceAddr)
	sentAt, ok := f.registry.MarkPinged(handle)
	req.True(ok)

	f.send(aliceAddr, "ret-ping$")

	req.Empty(f.sender.Lines(aliceAddr))
	session, _ := f.registry.Get(handle)
	req.False(session.PingPending)
	_, evicted := f.registry.EvictUnanswered(handle, sentAt)
	req.False(evicted)

	// A stray reply from an unknown address is ignored
	f.send(bobAddr, "ret-ping$")
	req.Empty(f.sender.Lines(bobAddr))
}

func TestChatService_Moderation(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	moderator, err := moderation.NewModerator([]string{"spam"}, '*', logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)
	f.service.WithModerator(moderator)
	f.connect(t, aliceAddr, "Alice")
	f.connect(t, bobAddr, "Bob")

	f.send(aliceAddr, "say$no spam here")

	req.Equal([]string{"Alice: no **** here"}, f.sender.Lines(bobAddr))
}

func TestChatService_Cancelled_Context(t *testing.T) {
	f := newFixture(128)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.service.Handle(ctx, domain.Datagram{From: aliceAddr, Payload: []byte("conn$Alice")})

	require.Zero(t, f.registry.Len())
	require.Empty(t, f.sender.Lines(aliceAddr))
}

func TestChatService_Dispatch_Error_Taxonomy(t *testing.T) {
	tests := []struct {
		name     string
		from     netip.AddrPort
		line     string
		expected error
	}{
		{name: "no separator", from: aliceAddr, line: "hello", expected: errors.ErrMalformedRequest},
		{name: "unregistered sender", from: carolAddr, line: "say$hi", expected: errors.ErrNotRegistered},
		{name: "missing mute target", from: aliceAddr, line: "mute$", expected: errors.ErrValidation},
		{name: "blank in name", from: aliceAddr, line: "rename$Al ice", expected: errors.ErrValidation},
		{name: "name taken", from: aliceAddr, line: "rename$Bob", expected: errors.ErrNameConflict},
		{name: "registry full", from: carolAddr, line: "conn$Carol", expected: errors.ErrCapacityExceeded},
		{name: "unknown recipient", from: aliceAddr, line: "sayto$Dave hi", expected: errors.ErrNotFound},
		{name: "not muted", from: aliceAddr, line: "unmute$Bob", expected: errors.ErrNotMuted},
		{name: "kick from client port", from: bobAddr, line: "kick$Alice", expected: errors.ErrUnauthorized},
		{name: "unknown command", from: aliceAddr, line: "dance$now", expected: errors.ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(2)
			f.connect(t, aliceAddr, "Alice")
			f.connect(t, bobAddr, "Bob")

			err := f.service.dispatch(domain.Datagram{From: tt.from, Payload: []byte(tt.line)})

			req.ErrorIs(err, tt.expected)
			var replyErr *errors.ReplyError
			req.True(stderrors.As(err, &replyErr))
			req.NotEmpty(replyErr.Reply)
			// Nothing is sent until Handle maps the error
			req.Empty(f.sender.Lines(tt.from))
		})
	}
}

func TestChatService_Dispatch_Success_Returns_Nil(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	f.connect(t, aliceAddr, "Alice")

	req.NoError(f.service.dispatch(domain.Datagram{From: aliceAddr, Payload: []byte("say$hello")}))
	req.NoError(f.service.dispatch(domain.Datagram{From: aliceAddr, Payload: []byte("say$")}))
	req.NoError(f.service.dispatch(domain.Datagram{From: carolAddr, Payload: []byte("ret-ping$")}))
}

func TestChatService_Malformed_Request_Counts_As_Activity(t *testing.T) {
	req := require.New(t)
	f := newFixture(128)
	f.connect(t, aliceAddr, "Alice")
	handle, _ := f.registry.FindByAddress(aliceAddr)
	sentAt, ok := f.registry.MarkPinged(handle)
	req.True(ok)

	f.send(aliceAddr, "hello without separator")

	req.Equal([]string{"ERR$Malformed request (no $): hello without separator"}, f.sender.Lines(aliceAddr))
	session, _ := f.registry.Get(handle)
	req.False(session.PingPending)
	_, evicted := f.registry.EvictUnanswered(handle, sentAt)
	req.False(evicted)
}

func TestChatService_Logs_Session_ID(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	f := newFixtureWithLogger(128, slog.New(slog.NewJSONHandler(&buf, nil)))
	f.connect(t, aliceAddr, "Alice")
	f.connect(t, bobAddr, "Bob")
	alice, _ := f.registry.FindByName("Alice")
	aliceSession, _ := f.registry.Get(alice)
	bob, _ := f.registry.FindByName("Bob")
	bobSession, _ := f.registry.Get(bob)

	f.send(aliceAddr, "disconn$")
	f.send(adminAddr, "kick$Bob")

	sessionsByMessage := make(map[string][]string)
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var record map[string]any
		req.NoError(json.Unmarshal(scanner.Bytes(), &record))
		if id, ok := record["session"].(string); ok {
			msg := record["msg"].(string)
			sessionsByMessage[msg] = append(sessionsByMessage[msg], id)
		}
	}
	req.Equal([]string{aliceSession.ID.String(), bobSession.ID.String()}, sessionsByMessage["Client connected"])
	req.Equal([]string{aliceSession.ID.String()}, sessionsByMessage["Client disconnected"])
	req.Equal([]string{bobSession.ID.String()}, sessionsByMessage["Client kicked"])
}
