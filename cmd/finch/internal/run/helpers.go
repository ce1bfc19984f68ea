package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/finch-im/finch/cmd/finch/internal"
	"github.com/finch-im/finch/pkg/bus"
	"github.com/finch-im/finch/pkg/conversation"
	"github.com/finch-im/finch/pkg/credstore"
	"github.com/finch-im/finch/pkg/gateway"
	"github.com/finch-im/finch/pkg/logger"
	"github.com/finch-im/finch/pkg/model"
	"github.com/finch-im/finch/pkg/session"
	"github.com/finch-im/finch/pkg/transport"
)

func runCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	store := credstore.New(cfg.StatePath())
	gw := gateway.NewClient(cfg.API.BaseURL)
	view := conversation.NewView()
	renders := bus.NewRenderBus()

	coord := session.NewCoordinator(gw, store, view, renders, cfg.ProbeInterval())
	connector := transport.NewConnector(transport.Config{
		Host:           cfg.Broker.Host,
		PlainPort:      cfg.Broker.PlainPort,
		SecurePort:     cfg.Broker.SecurePort,
		SSLFirst:       cfg.Broker.SSLFirst,
		Keepalive:      cfg.Keepalive(),
		AutoReconnect:  cfg.App.AutoReconnect,
		ReconnectDelay: cfg.ReconnectDelay(),
	}, coord)
	coord.SetTransport(connector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initializing input: %w", err)
	}
	defer rl.Close()

	go renderLoop(ctx, rl.Stdout(), renders, coord)

	coord.Start(ctx)

	fmt.Fprintln(rl.Stdout(), "finch: type /help for commands")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		if err := dispatch(ctx, rl.Stdout(), coord, line); err != nil {
			fmt.Fprintf(rl.Stdout(), "! %v\n", err)
		}
	}

	cancel()
	connector.Stop()
	renders.Close()
	fmt.Println("bye")
	return nil
}

func dispatch(ctx context.Context, out io.Writer, coord *session.Coordinator, line string) error {
	if !strings.HasPrefix(line, "/") {
		return coord.Send(ctx, line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Fprint(out, helpText)
		return nil
	case "/login":
		if len(fields) != 3 {
			return errors.New("usage: /login <username> <password>")
		}
		return coord.Login(ctx, fields[1], fields[2])
	case "/register":
		if len(fields) != 3 {
			return errors.New("usage: /register <username> <password>")
		}
		return coord.Register(ctx, fields[1], fields[2])
	case "/users":
		coord.RefreshPeers(ctx)
		return nil
	case "/chat":
		if len(fields) != 2 {
			return errors.New("usage: /chat <username>")
		}
		return coord.SelectPeerByName(ctx, fields[1])
	case "/logout":
		coord.Logout(ctx)
		return nil
	default:
		return fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
}

const helpText = `  /login <username> <password>     log in
  /register <username> <password>  create an account
  /users                           refresh the user list
  /chat <username>                 open a conversation
  /logout                          log out and clear credentials
  /quit                            exit
  anything else is sent to the open conversation
`

// renderLoop draws render commands from the session core. It is the
// whole presentation layer: the core never touches the terminal.
func renderLoop(ctx context.Context, out io.Writer, renders *bus.RenderBus, coord *session.Coordinator) {
	for {
		cmd, ok := renders.Consume(ctx)
		if !ok {
			return
		}
		switch cmd.Kind {
		case bus.KindStatus:
			s := cmd.Status
			fmt.Fprintf(out, "* %s%s | backend %s | realtime %s\n",
				s.Session,
				userSuffix(s.Username),
				onoff(s.Connectivity.BackendOnline),
				onoff(s.Connectivity.TransportOnline))
		case bus.KindPeers:
			if len(cmd.Peers) == 0 {
				fmt.Fprintln(out, "* no other users yet")
				continue
			}
			names := make([]string, len(cmd.Peers))
			for i, p := range cmd.Peers {
				names[i] = p.Username
			}
			fmt.Fprintf(out, "* users: %s\n", strings.Join(names, ", "))
		case bus.KindConversation:
			fmt.Fprintf(out, "--- %s ---\n", cmd.Conversation.Peer.Username)
			self := coord.Session().UserID
			for _, m := range cmd.Conversation.Messages {
				printMessage(out, m, m.SenderID == self)
			}
		case bus.KindMessage:
			printMessage(out, cmd.Message.Message, cmd.Message.Outgoing)
		case bus.KindNotice:
			fmt.Fprintf(out, "* %s\n", cmd.Notice)
		}
	}
}

func printMessage(out io.Writer, m model.Message, outgoing bool) {
	arrow := "<-"
	if outgoing {
		arrow = "->"
	}
	ts := ""
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.Local().Format(time.Kitchen) + " "
	}
	fmt.Fprintf(out, "%s%s %s\n", ts, arrow, m.Content)
}

func userSuffix(username string) string {
	if username == "" {
		return ""
	}
	return " (" + username + ")"
}

func onoff(b bool) string {
	if b {
		return "online"
	}
	return "offline"
}
