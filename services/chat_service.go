// Package services holds the command dispatcher of the relay: it resolves the
// sender of each request, checks the command's preconditions, applies it to
// the registry and the broadcaster, and answers the requester.
package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/moderation"
	"chat-relay/protocol"
	"chat-relay/runtime"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var _ contract.Dispatcher = (*ChatService)(nil)

type ChatService struct {
	log         *slog.Logger
	registry    *runtime.Registry
	history     *runtime.History
	broadcaster *runtime.Broadcaster
	sender      contract.Sender
	moderator   *moderation.Moderator
	validate    *validator.Validate
	nameRule    string
	adminPort   uint16
}

func NewChatService(
	log *slog.Logger,
	registry *runtime.Registry,
	history *runtime.History,
	broadcaster *runtime.Broadcaster,
	sender contract.Sender,
	adminPort uint16,
	maxNameLength int,
) *ChatService {
	return &ChatService{
		log:         log,
		registry:    registry,
		history:     history,
		broadcaster: broadcaster,
		sender:      sender,
		validate:    validator.New(),
		nameRule:    fmt.Sprintf("max=%d", maxNameLength),
		adminPort:   adminPort,
	}
}

// WithModerator censors the text of say and sayto with m before relaying it.
func (s *ChatService) WithModerator(m *moderation.Moderator) *ChatService {
	s.moderator = m
	return s
}

// Handle processes one datagram to completion. Every failure is answered to
// the requester with a single line and never escapes this call.
func (s *ChatService) Handle(ctx context.Context, datagram domain.Datagram) {
	if ctx.Err() != nil {
		return
	}
	if err := s.dispatch(datagram); err != nil {
		s.fail(datagram.From, err)
	}
}

// dispatch applies one datagram and returns the failure to report, if any.
// Failures meant for the requester are *errors.ReplyError values whose Kind
// belongs to the error taxonomy.
func (s *ChatService) dispatch(datagram domain.Datagram) error {
	from := datagram.From

	// Any datagram from a registered address counts as activity and answers a
	// pending probe, malformed ones included
	sender, registered := s.registry.FindByAddress(from)
	if registered {
		s.registry.Touch(sender)
	}

	request, err := protocol.Parse(datagram.Payload)
	if err != nil {
		return errors.NewReplyError(err, malformed(protocol.Line(datagram.Payload)))
	}
	s.log.Debug("Request received", "address", from, "command", request.Command, "registered", registered)

	switch request.Command {
	case domain.CommandConnect:
		return s.connect(from, request.Payload)
	case domain.CommandSay:
		return s.say(sender, registered, request.Payload)
	case domain.CommandSayTo:
		return s.sayTo(from, sender, registered, request.Payload)
	case domain.CommandMute:
		return s.mute(from, sender, registered, request.Payload)
	case domain.CommandUnmute:
		return s.unmute(from, sender, registered, request.Payload)
	case domain.CommandRename:
		return s.rename(from, sender, registered, request.Payload)
	case domain.CommandDisconnect:
		return s.disconnect(from, sender, registered)
	case domain.CommandKick:
		return s.kick(from, request.Payload)
	case domain.CommandPingReply:
		// Touch above already cleared the probe; unregistered replies are ignored
		return nil
	default:
		return errors.NewReplyError(errors.ErrUnknownCommand, unknownCommand(string(request.Command)))
	}
}

// fail is the single place where a failure becomes the line sent back.
func (s *ChatService) fail(to netip.AddrPort, err error) {
	var replyErr *errors.ReplyError
	if !stderrors.As(err, &replyErr) {
		s.log.Error("Request failed", "address", to, "error", err)
		s.reply(to, msgInternal)
		return
	}

	switch {
	case stderrors.Is(err, errors.ErrUnauthorized), stderrors.Is(err, errors.ErrCapacityExceeded):
		s.log.Warn("Request rejected", "address", to, "error", err)
	default:
		s.log.Debug("Request rejected", "address", to, "error", err)
	}
	s.reply(to, replyErr.Reply)
}

func (s *ChatService) connect(from netip.AddrPort, name string) error {
	if err := s.checkName(name); err != nil {
		return err
	}

	result, err := s.registry.Connect(name, from)
	switch {
	case stderrors.Is(err, errors.ErrNameConflict):
		return errors.NewReplyError(err, nameInUse(name))
	case stderrors.Is(err, errors.ErrRegistryFull):
		return errors.NewReplyError(err, msgServerFull)
	case err != nil:
		return fmt.Errorf("connect %s: %w", name, err)
	}

	s.reply(from, welcome(name))
	s.history.Replay(s.sender, from)

	switch {
	case !result.Existing:
		s.log.Info("Client connected", "session", result.ID, "address", from, "name", name)
		s.broadcaster.BroadcastAll(joined(name), &result.Handle)
	case result.Renamed(name):
		s.log.Info("Client renamed on reconnect", "session", result.ID, "address", from,
			"from", result.Previous, "to", name)
		s.broadcaster.BroadcastAll(renamed(result.Previous, name), &result.Handle)
	}
	return nil
}

func (s *ChatService) say(sender domain.Handle, registered bool, text string) error {
	if !registered {
		return notRegistered(msgActionSending)
	}
	if text == "" {
		return nil
	}
	author, ok := s.registry.Get(sender)
	if !ok {
		return errors.NewReplyError(errors.ErrSessionGone, mustConnect(msgActionSending))
	}
	s.broadcaster.BroadcastFrom(protocol.Broadcast(author.Name, s.moderate(author.Name, text)), sender)
	return nil
}

func (s *ChatService) sayTo(from netip.AddrPort, sender domain.Handle, registered bool, payload string) error {
	if !registered {
		return notRegistered(msgActionSending)
	}
	recipientName, text := protocol.SplitRecipient(payload)
	if recipientName == "" || text == "" {
		return errors.NewReplyError(errors.ErrValidation, msgSayToUsage)
	}

	author, ok := s.registry.Get(sender)
	if !ok {
		return errors.NewReplyError(errors.ErrSessionGone, mustConnect(msgActionSending))
	}
	recipient, ok := s.lookup(recipientName)
	if !ok {
		return errors.NewReplyError(errors.ErrNotFound, protocol.Failure("Recipient '%s' not found", recipientName))
	}
	if lo.Contains(recipient.Muted, author.Name) {
		s.reply(from, protocol.System("Your message could not be delivered (you are muted by %s)", recipientName))
		return nil
	}

	line := protocol.Private(author.Name, s.moderate(author.Name, text))
	if err := s.sender.Send(recipient.Address, line); err != nil {
		s.log.Warn("Private message send failed", "address", recipient.Address, "error", err)
		s.reply(from, protocol.Failure("Could not deliver message to %s", recipientName))
		return nil
	}
	s.reply(from, protocol.System("Message delivered to %s", recipientName))
	return nil
}

func (s *ChatService) mute(from netip.AddrPort, sender domain.Handle, registered bool, target string) error {
	if !registered {
		return notRegistered(msgActionMuting)
	}
	if target == "" {
		return errors.NewReplyError(errors.ErrValidation, msgMuteUsage)
	}
	switch err := s.registry.AddMute(sender, target); {
	case stderrors.Is(err, errors.ErrSessionGone):
		return errors.NewReplyError(err, mustConnect(msgActionMuting))
	case stderrors.Is(err, errors.ErrMuteListFull):
		return errors.NewReplyError(err, protocol.Failure("Unable to mute %s (mute list full)", target))
	case err != nil:
		return fmt.Errorf("mute %s: %w", target, err)
	}
	s.reply(from, protocol.System("You have muted %s", target))
	return nil
}

func (s *ChatService) unmute(from netip.AddrPort, sender domain.Handle, registered bool, target string) error {
	if !registered {
		return notRegistered(msgActionUnmuting)
	}
	if target == "" {
		return errors.NewReplyError(errors.ErrValidation, msgUnmuteUsage)
	}
	switch err := s.registry.RemoveMute(sender, target); {
	case stderrors.Is(err, errors.ErrSessionGone):
		return errors.NewReplyError(err, mustConnect(msgActionUnmuting))
	case stderrors.Is(err, errors.ErrNotMuted):
		return errors.NewReplyError(err, protocol.Failure("%s was not muted", target))
	case err != nil:
		return fmt.Errorf("unmute %s: %w", target, err)
	}
	s.reply(from, protocol.System("You have unmuted %s", target))
	return nil
}

func (s *ChatService) rename(from netip.AddrPort, sender domain.Handle, registered bool, name string) error {
	if !registered {
		return notRegistered(msgActionRenaming)
	}
	if name == "" {
		return errors.NewReplyError(errors.ErrValidation, msgRenameUsage)
	}
	if err := s.checkName(name); err != nil {
		return err
	}

	previous, err := s.registry.Rename(sender, name)
	switch {
	case stderrors.Is(err, errors.ErrNameConflict):
		return errors.NewReplyError(err, nameInUse(name))
	case stderrors.Is(err, errors.ErrSessionGone):
		return errors.NewReplyError(err, mustConnect(msgActionRenaming))
	case err != nil:
		return fmt.Errorf("rename to %s: %w", name, err)
	}

	s.log.Info("Client renamed", "address", from, "from", previous, "to", name)
	s.reply(from, protocol.System("You are now known as %s", name))
	s.broadcaster.BroadcastAll(renamed(previous, name), &sender)
	return nil
}

func (s *ChatService) disconnect(from netip.AddrPort, sender domain.Handle, registered bool) error {
	if !registered {
		return errors.NewReplyError(errors.ErrNotRegistered, msgNotConnected)
	}
	session, ok := s.registry.Remove(sender)
	if !ok {
		return errors.NewReplyError(errors.ErrSessionGone, msgNotConnected)
	}

	s.log.Info("Client disconnected", "session", session.ID, "address", from, "name", session.Name)
	s.reply(from, msgBye)
	s.broadcaster.BroadcastAll(left(session.Name), nil)
	return nil
}

// kick is only honoured from the administrator source port.
func (s *ChatService) kick(from netip.AddrPort, name string) error {
	if from.Port() != s.adminPort {
		return errors.NewReplyError(errors.ErrUnauthorized, msgKickAdminOnly)
	}
	if name == "" {
		return errors.NewReplyError(errors.ErrValidation, msgKickUsage)
	}
	target, ok := s.registry.FindByName(name)
	if !ok {
		return errors.NewReplyError(errors.ErrNotFound, clientNotFound(name))
	}
	session, ok := s.registry.Remove(target)
	if !ok {
		return errors.NewReplyError(errors.ErrNotFound, clientNotFound(name))
	}

	s.log.Info("Client kicked", "session", session.ID, "admin", from, "name", session.Name, "address", session.Address)
	s.reply(session.Address, msgYouWereRemoved)
	s.broadcaster.BroadcastAll(removed(session.Name), nil)
	return nil
}

// checkName rejects names that cannot be used as a display name.
func (s *ChatService) checkName(name string) error {
	if name == "" {
		return errors.NewReplyError(errors.ErrValidation, msgNameEmpty)
	}
	if err := s.validate.Var(name, s.nameRule); err != nil {
		return errors.NewReplyError(errors.ErrValidation, msgNameTooLong)
	}
	if strings.ContainsFunc(name, unicode.IsSpace) {
		return errors.NewReplyError(errors.ErrValidation, msgNameHasBlank)
	}
	return nil
}

func notRegistered(action string) error {
	return errors.NewReplyError(errors.ErrNotRegistered, mustConnect(action))
}

func (s *ChatService) lookup(name string) (domain.Session, bool) {
	handle, ok := s.registry.FindByName(name)
	if !ok {
		return domain.Session{}, false
	}
	return s.registry.Get(handle)
}

func (s *ChatService) moderate(author, text string) string {
	if s.moderator == nil {
		return text
	}
	censored, words := s.moderator.Censor(text)
	if len(words) > 0 {
		s.log.Info("Message censored", "author", author, "words", len(words), "lang", s.moderator.Language(text))
	}
	return censored
}

func (s *ChatService) reply(to netip.AddrPort, line string) {
	if err := s.sender.Send(to, line); err != nil {
		s.log.Warn("Reply send failed", "address", to, "error", err)
	}
}
