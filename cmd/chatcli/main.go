package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"pawchat/config"
	"pawchat/internal/auth"
	"pawchat/internal/connection"
	"pawchat/internal/domain"
	"pawchat/internal/session"
	"pawchat/internal/transport/wsconn"
	"pawchat/pkg/logger"
)

const usage = `
PawChat - terminal chat client

Usage:
  chatcli -other <userId> -subject <petId> [-user <userId>]

Lines typed are sent to the counterpart. Commands:
  /older   load the previous page of history
  /seen    mark everything visible as seen
  /quit    leave

Environment:
  CHAT_HUB_URL, CHAT_USER_ID, CHAT_JWT_SECRET and the other CHAT_* settings.
`

func main() {
	cfg := config.LoadConfig()

	user := flag.String("user", cfg.Client.UserID, "identity to sign in as")
	other := flag.String("other", "", "counterpart user id")
	subject := flag.String("subject", "", "pet listing the conversation is about")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *user == "" || *other == "" || *subject == "" {
		flag.Usage()
		os.Exit(2)
	}

	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	s := session.New(*user, session.Options{
		HubURL:    cfg.Client.HubURL,
		Transport: wsconn.Options{},
		Reconnect: connection.ReconnectPolicy{
			InitialInterval: cfg.Client.Reconnect.InitialInterval,
			MaxInterval:     cfg.Client.Reconnect.MaxInterval,
			MaxRetries:      cfg.Client.Reconnect.MaxRetries,
		},
		InvokeTimeout: cfg.Client.InvokeTimeout,
		PageSize:      cfg.Client.PageSize,
		CheckInterval: cfg.Client.CheckInterval,
		Logger:        l.Logger,
	})
	s.OnStateChange(func(_, next connection.State) {
		fmt.Printf("* %s\n", next)
	})

	issuer := auth.NewIssuer(cfg.Client.JWTSecret, cfg.Client.TokenTTL)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if state := s.Start(ctx, issuer.TokenSource(*user)); state != connection.StateConnected {
		log.Fatalf("Could not connect to %s", cfg.Client.HubURL)
	}
	defer s.Stop()

	view, err := openRoom(ctx, s, *other, *subject)
	if err != nil {
		log.Fatalf("Could not open the conversation: %v", err)
	}
	defer view.Close()

	printer := newPrinter(*user)
	view.OnMessages(printer.messages)
	view.OnPresence(func(p domain.PresenceSnapshot) {
		fmt.Printf("* %s is %s\n", *other, describePresence(p))
	})
	printer.messages(view.Messages())
	view.Focus(ctx)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(ctx, view, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// openRoom retries until the room opens, since it needs a usable connection.
func openRoom(ctx context.Context, s *session.Session, other, subject string) (*session.RoomView, error) {
	for {
		if err := s.AwaitConnected(ctx); err != nil {
			return nil, err
		}
		if view, ok := s.OpenRoom(ctx, other, subject); ok {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func handleLine(ctx context.Context, view *session.RoomView, line string) bool {
	switch line {
	case "":
	case "/quit":
		return false
	case "/older":
		if n, ok := view.LoadOlder(ctx); ok {
			fmt.Printf("* loaded %d older messages\n", n)
		} else {
			fmt.Println("* nothing older")
		}
	case "/seen":
		view.Focus(ctx)
	default:
		if !view.Send(ctx, line) {
			fmt.Println("* not sent, connection unavailable")
		}
	}
	return true
}

// printer prints each message once and then every status change it goes through.
type printer struct {
	self string
	mu   sync.Mutex
	last map[string]domain.MessageStatus
}

func newPrinter(self string) *printer {
	return &printer{self: self, last: make(map[string]domain.MessageStatus)}
}

func (p *printer) messages(messages []domain.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range messages {
		status := m.Status()
		prev, seen := p.last[m.ID]
		switch {
		case !seen:
			who := m.SenderID
			if who == p.self {
				who = "you"
			}
			fmt.Printf("[%s] %s: %s (%s)\n", m.SentAt.Local().Format("15:04:05"), who, m.Content, status)
		case prev != status && m.SenderID == p.self:
			fmt.Printf("* %q is now %s\n", m.Content, status)
		}
		p.last[m.ID] = status
	}
}

func describePresence(p domain.PresenceSnapshot) string {
	switch {
	case !p.Known:
		return "unknown"
	case p.IsOnline:
		return "online"
	case p.LastSeenAt != nil:
		return "offline, last seen " + p.LastSeenAt.Local().Format(time.RFC822)
	default:
		return "offline"
	}
}
