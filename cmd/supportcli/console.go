package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"supportchat/internal/app/account"
	"supportchat/internal/app/session"
	"supportchat/internal/app/user"
	"supportchat/internal/pkg/wire"
)

const (
	commandTimeout = 15 * time.Second
	timeLayout     = "15:04"
)

const helpText = `commands:
  /login <username> <password>   sign in
  /logout                        sign out and continue as guest
  /whoami                        show the current identity
  /list                          list conversations (operators)
  /select <key>                  select the conversation to reply to (operators)
  /remove <key>                  close a conversation (operators)
  /help                          show this help
  /quit                          exit
any other line is sent as a message`

// console renders engine state to out and executes typed commands.
type console struct {
	engine   *session.Engine
	provider *account.Provider

	mu           sync.Mutex
	out          io.Writer
	seenMessages int
	seenConv     map[string]int
	lastStatus   session.ConnectionState
}

func newConsole(engine *session.Engine, provider *account.Provider, out io.Writer) *console {
	return &console{
		engine:   engine,
		provider: provider,
		out:      out,
		seenConv: make(map[string]int),
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// watch subscribes the renderers and returns a function cancelling them.
func (c *console) watch() func() {
	cancels := []func(){
		c.engine.State().Subscribe(c.onState),
		c.engine.Messages().Subscribe(c.onMessages),
		c.engine.Router().List().Subscribe(c.onConversations),
		c.engine.Notices().Subscribe(func(n session.SessionNotice) {
			c.printf("! session expired (%s); you are now a guest", n.Reason)
		}),
		c.provider.Identity().Subscribe(func(id user.Identity) {
			c.printf("identity: %s", describeIdentity(id))
		}),
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func (c *console) greet() {
	c.printf("support chat - client id %s", c.engine.ClientID())
	c.printf("identity: %s", describeIdentity(c.provider.Identity().Get()))
	c.printf("type /help for commands")
}

func (c *console) onState(s session.ConnectionState) {
	c.mu.Lock()
	changed := s != c.lastStatus
	c.lastStatus = s
	c.mu.Unlock()

	if !changed {
		return
	}
	if s.Mode == "" {
		c.printf("connection: %s", s.Status)
		return
	}
	c.printf("connection: %s (%s)", s.Status, s.Mode)
}

func (c *console) onMessages(events []wire.ChatEvent) {
	me := c.provider.Identity().Get()
	clientID := c.engine.ClientID()

	c.mu.Lock()
	defer c.mu.Unlock()

	// The list restarts when the connection is rebuilt.
	if len(events) < c.seenMessages {
		c.seenMessages = 0
	}
	for _, ev := range events[c.seenMessages:] {
		fmt.Fprintln(c.out, formatEvent(ev, me, clientID))
	}
	c.seenMessages = len(events)
}

func (c *console) onConversations(convs []session.Conversation) {
	selected := c.engine.Router().Selected()

	c.mu.Lock()
	defer c.mu.Unlock()

	live := make(map[string]struct{}, len(convs))
	for _, conv := range convs {
		live[conv.Key] = struct{}{}
		seen := c.seenConv[conv.Key]
		if len(conv.Messages) < seen {
			seen = 0
		}
		for _, item := range conv.Messages[seen:] {
			fmt.Fprintln(c.out, formatItem(conv, item, conv.Key == selected))
		}
		c.seenConv[conv.Key] = len(conv.Messages)
	}
	for key := range c.seenConv {
		if _, ok := live[key]; !ok {
			delete(c.seenConv, key)
		}
	}
}

// loop reads lines from in until EOF, /quit or ctx is done.
func (c *console) loop(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !c.execute(ctx, line) {
				return
			}
		}
	}
}

// execute runs one input line. It returns false when the user asked to quit.
func (c *console) execute(ctx context.Context, line string) bool {
	name, args, isCommand := parseCommand(line)
	if !isCommand {
		if name != "" {
			c.send(name)
		}
		return true
	}

	switch name {
	case "quit", "exit":
		return false
	case "help":
		c.printf("%s", helpText)
	case "whoami":
		c.printf("identity: %s (client id %s)", describeIdentity(c.provider.Identity().Get()), c.engine.ClientID())
	case "login":
		if len(args) != 2 {
			c.printf("usage: /login <username> <password>")
			break
		}
		c.login(ctx, args[0], args[1])
	case "logout":
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		c.provider.Logout(cctx)
		cancel()
	case "list":
		c.list()
	case "select":
		if len(args) != 1 {
			c.printf("usage: /select <key>")
			break
		}
		if !c.engine.Select(args[0]) {
			c.printf("no conversation %q", args[0])
			break
		}
		c.printf("replying to %s", args[0])
	case "remove":
		if len(args) != 1 {
			c.printf("usage: /remove <key>")
			break
		}
		if !c.engine.Remove(args[0]) {
			c.printf("no conversation %q", args[0])
		}
	default:
		c.printf("unknown command /%s, type /help", name)
	}
	return true
}

func (c *console) login(ctx context.Context, username, password string) {
	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	err := c.provider.Login(cctx, username, password)
	var apiErr *account.APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr):
		c.printf("login failed: %s", apiErr.Message)
	default:
		c.printf("login failed: %v", err)
	}
}

func (c *console) send(text string) {
	if c.provider.Identity().Get().IsOperator() {
		if !c.engine.Reply(text) {
			c.printf("reply not sent: select a conversation with /select and wait for the connection")
		}
		return
	}
	if !c.engine.Send(text, wire.EventChat) {
		c.printf("message not sent: not connected")
	}
}

func (c *console) list() {
	convs := c.engine.Router().Conversations()
	if len(convs) == 0 {
		c.printf("no conversations")
		return
	}
	selected := c.engine.Router().Selected()
	for _, conv := range convs {
		c.printf("%s", formatConversation(conv, conv.Key == selected))
	}
}

// parseCommand splits a "/name arg..." line. Other lines are returned trimmed as name
// with isCommand false.
func parseCommand(line string) (name string, args []string, isCommand bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return line, nil, false
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return "", nil, true
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func describeIdentity(id user.Identity) string {
	if id.IsGuest() {
		return "guest"
	}
	return fmt.Sprintf("%s (%s)", id.Username, id.Role)
}

func formatEvent(ev wire.ChatEvent, me user.Identity, clientID string) string {
	name := session.DisplayName(ev, me, clientID)
	at := ev.Timestamp.Local().Format(timeLayout)

	switch ev.Type {
	case wire.EventJoin:
		return fmt.Sprintf("[%s] * %s joined", at, name)
	case wire.EventLeave:
		return fmt.Sprintf("[%s] * %s left", at, name)
	default:
		return fmt.Sprintf("[%s] %s: %s", at, name, ev.Content)
	}
}

func formatItem(conv session.Conversation, item session.MessageItem, selected bool) string {
	marker := " "
	if selected {
		marker = ">"
	}

	name := item.Sender
	switch {
	case item.Origin == session.OriginLocal:
		name = session.SelfLabel
	case item.FromOperator:
		if name == "" {
			name = "support"
		}
		name += " (support)"
	case name == "":
		name = session.GuestLabel(conv.ClientID)
	}

	at := item.At.Local().Format(timeLayout)
	switch item.Type {
	case wire.EventJoin:
		return fmt.Sprintf("%s%s [%s] * %s joined", marker, conv.Key, at, name)
	case wire.EventLeave:
		return fmt.Sprintf("%s%s [%s] * %s left", marker, conv.Key, at, name)
	default:
		return fmt.Sprintf("%s%s [%s] %s: %s", marker, conv.Key, at, name, item.Content)
	}
}

func formatConversation(conv session.Conversation, selected bool) string {
	marker := " "
	if selected {
		marker = ">"
	}
	line := fmt.Sprintf("%s %s  %s  last %s", marker, conv.Key, conv.DisplayName, conv.LastActivityAt.Local().Format(timeLayout))
	if conv.UnreadCount > 0 {
		line += fmt.Sprintf("  (%d unread)", conv.UnreadCount)
	}
	return line
}
