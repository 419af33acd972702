package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/deeplink"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/tui/client"
	qrcode "github.com/skip2/go-qrcode"
)

const requestTimeout = 30 * time.Second

type ctl struct {
	profile string
	json    bool
	out     io.Writer
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &ctl{profile: name, json: *jsonFlag, out: os.Stdout}
	if err := c.run(args[0], args[1:]); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [-profile <name>] [-json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon status")
	fmt.Fprintln(os.Stderr, "  conversations [-unread] [-q s]  List conversations")
	fmt.Fprintln(os.Stderr, "  show <id>                       Show one conversation")
	fmt.Fprintln(os.Stderr, "  messages <id> [-before time]    Show messages (RFC3339 cursor for older pages)")
	fmt.Fprintln(os.Stderr, "  send <id> <text>                Send a message")
	fmt.Fprintln(os.Stderr, "  start <username>                Start a conversation")
	fmt.Fprintln(os.Stderr, "  open <username|link>            Open or start a conversation")
	fmt.Fprintln(os.Stderr, "  delete <id>                     Delete a conversation")
	fmt.Fprintln(os.Stderr, "  read <id>                       Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  draft <id> [text]               Set or clear a draft")
	fmt.Fprintln(os.Stderr, "  contacts [-all]                 List contacts")
	fmt.Fprintln(os.Stderr, "  search <query>                  Search the user directory")
	fmt.Fprintln(os.Stderr, "  refresh [resource] [id]         Refresh conversations, messages or contacts")
	fmt.Fprintln(os.Stderr, "  login                           Show the sign-in link")
	fmt.Fprintln(os.Stderr, "  link <username>                 Show a conversation link")
	fmt.Fprintln(os.Stderr, "  watch [namespace]               Stream daemon events")
	fmt.Fprintln(os.Stderr, "  profiles                        List profiles")
}

func (c *ctl) run(cmd string, args []string) error {
	// Commands that work without a daemon.
	switch cmd {
	case "login":
		return c.login()
	case "link":
		if len(args) != 1 {
			return usageError("link <username>")
		}
		return c.link(args[0])
	case "profiles":
		return c.profiles()
	}

	conn, err := client.Connect(context.Background(), c.profile, profile.SocketPath(c.profile), false, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if cmd == "watch" {
		ns := ""
		if len(args) > 0 {
			ns = args[0]
		}
		return c.watch(conn, ns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch cmd {
	case "status":
		return c.status(ctx, conn)
	case "conversations":
		return c.conversations(ctx, conn, args)
	case "show":
		id, err := idArg(args, "show <id>")
		if err != nil {
			return err
		}
		reply, err := conn.GetConversation(ctx, id)
		if err != nil {
			return err
		}
		return c.print(reply, func(w io.Writer) { printConversations(w, []api.ConversationView{reply.Conversation}) })
	case "messages":
		return c.messages(ctx, conn, args)
	case "send":
		if len(args) < 2 {
			return usageError("send <id> <text>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		reply, err := conn.Send(ctx, id, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		return c.print(reply, func(w io.Writer) { fmt.Fprintf(w, "sent message %d\n", reply.Message.ID) })
	case "start", "open":
		if len(args) != 1 {
			return usageError(cmd + " <username>")
		}
		var reply *api.ConversationReply
		if cmd == "start" {
			reply, err = conn.Start(ctx, args[0])
		} else {
			reply, err = conn.Resolve(ctx, args[0])
		}
		if err != nil {
			return err
		}
		return c.print(reply, func(w io.Writer) {
			verb := "started"
			if reply.Existing {
				verb = "opened"
			}
			fmt.Fprintf(w, "%s conversation %d with %s\n", verb, reply.Conversation.ID, reply.Conversation.DisplayTitle)
		})
	case "delete":
		id, err := idArg(args, "delete <id>")
		if err != nil {
			return err
		}
		return c.done(conn.Delete(ctx, id), fmt.Sprintf("deleted conversation %d", id))
	case "read":
		id, err := idArg(args, "read <id>")
		if err != nil {
			return err
		}
		return c.done(conn.MarkRead(ctx, id), fmt.Sprintf("marked conversation %d read", id))
	case "draft":
		if len(args) < 1 {
			return usageError("draft <id> [text]")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return c.done(conn.SetDraft(ctx, id, strings.Join(args[1:], " ")), "draft saved")
	case "contacts":
		return c.contacts(ctx, conn, args)
	case "search":
		if len(args) == 0 {
			return usageError("search <query>")
		}
		reply, err := conn.SearchUsers(ctx, strings.Join(args, " "), 0)
		if err != nil {
			return err
		}
		return c.print(reply, func(w io.Writer) {
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			for _, u := range reply.Users {
				fmt.Fprintf(tw, "%d\t@%s\t%s\n", u.ID, u.Username, u.FullName)
			}
			_ = tw.Flush()
		})
	case "refresh":
		var (
			resource string
			id       int64
		)
		if len(args) > 0 {
			resource = args[0]
		}
		if len(args) > 1 {
			if id, err = parseID(args[1]); err != nil {
				return err
			}
		}
		return c.done(conn.Refresh(ctx, resource, id), "refresh requested")
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (c *ctl) status(ctx context.Context, conn *api.Client) error {
	st, err := conn.Status(ctx)
	if err != nil {
		return err
	}
	return c.print(st, func(w io.Writer) {
		user := "-"
		if st.User != nil {
			user = "@" + st.User.Username
		}
		fmt.Fprintf(w, "Profile:       %s\n", st.Profile)
		fmt.Fprintf(w, "State:         %s (since %s)\n", st.State, st.Since.Local().Format(time.RFC3339))
		fmt.Fprintf(w, "User:          %s\n", user)
		fmt.Fprintf(w, "Conversations: %d (%d unread)\n", st.Conversations, st.Unread)
		if len(st.Refreshing) > 0 {
			fmt.Fprintf(w, "Refreshing:    %s\n", strings.Join(st.Refreshing, ", "))
		}
		if st.ConversationsError != "" {
			fmt.Fprintf(w, "Last error:    %s\n", st.ConversationsError)
		}
		if st.DroppedEvents > 0 {
			fmt.Fprintf(w, "Dropped:       %d events\n", st.DroppedEvents)
		}
	})
}

func (c *ctl) conversations(ctx context.Context, conn *api.Client, args []string) error {
	fs := flag.NewFlagSet("conversations", flag.ContinueOnError)
	unread := fs.Bool("unread", false, "only conversations with unread messages")
	query := fs.String("q", "", "filter by title")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := conn.ListConversations(ctx, api.ListConversationsRequest{Query: *query, UnreadOnly: *unread})
	if err != nil {
		return err
	}
	return c.print(list, func(w io.Writer) { printConversations(w, list) })
}

func printConversations(w io.Writer, list []api.ConversationView) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUNREAD\tLAST ACTIVITY\tLAST MESSAGE")
	for _, cv := range list {
		last := ""
		if cv.LastMessage != nil {
			last = oneLine(cv.LastMessage.Content, 50)
		}
		at := ""
		if t := cv.ActivityAt(); !t.IsZero() {
			at = t.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", cv.ID, cv.DisplayTitle, cv.UnreadCount, at, last)
	}
	_ = tw.Flush()
}

func (c *ctl) messages(ctx context.Context, conn *api.Client, args []string) error {
	if len(args) == 0 {
		return usageError("messages <id> [-before RFC3339]")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("messages", flag.ContinueOnError)
	before := fs.String("before", "", "fetch the page before this RFC3339 time")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	var reply *api.MessagesReply
	if *before != "" {
		t, perr := time.Parse(time.RFC3339, *before)
		if perr != nil {
			return fmt.Errorf("invalid -before: %w", perr)
		}
		reply, err = conn.FetchOlder(ctx, id, t)
	} else {
		reply, err = conn.Open(ctx, id, true)
	}
	if err != nil {
		return err
	}
	return c.print(reply, func(w io.Writer) {
		for _, m := range reply.Messages {
			content := m.Content
			if m.Deleted {
				content = "(deleted)"
			}
			fmt.Fprintf(w, "%s  %-16s %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Sender.Username, content)
		}
		if reply.Draft != "" {
			fmt.Fprintf(w, "\ndraft: %s\n", reply.Draft)
			if reply.DraftError != "" {
				fmt.Fprintf(w, "not sent: %s\n", reply.DraftError)
			}
		}
	})
}

func (c *ctl) contacts(ctx context.Context, conn *api.Client, args []string) error {
	fs := flag.NewFlagSet("contacts", flag.ContinueOnError)
	all := fs.Bool("all", false, "include people without a follow relation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reply, err := conn.ListContacts(ctx, *all)
	if err != nil {
		return err
	}
	return c.print(reply, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, ct := range reply.Contacts {
			fmt.Fprintf(tw, "%d\t@%s\t%s\tfollowing=%v\tfollower=%v\n", ct.ID, ct.Username, ct.FullName, ct.YouFollow, ct.FollowsYou)
		}
		_ = tw.Flush()
	})
}

func (c *ctl) watch(conn *api.Client, ns string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := conn.Watch(ctx, ns)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.out)
	for {
		evt, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if c.json {
			if err := enc.Encode(evt); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(c.out, "%s  %-28s %s\n", evt.Timestamp.Local().Format("15:04:05.000"), evt.Kind, string(evt.Payload))
	}
}

func (c *ctl) loadConfig() (*config.Config, error) {
	return config.Load(profile.Dir(c.profile))
}

func (c *ctl) login() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	u, err := chat.LoginURL(cfg.LoginURL, cfg.FrontendOrigin, "")
	if err != nil {
		return err
	}
	return c.printLink(u)
}

func (c *ctl) link(username string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	u, err := deeplink.URL(cfg.FrontendOrigin, username)
	if err != nil {
		return err
	}
	return c.printLink(u)
}

func (c *ctl) printLink(u string) error {
	if c.json {
		return c.print(map[string]string{"url": u}, nil)
	}
	qr, err := qrcode.New(u, qrcode.Low)
	if err != nil {
		return fmt.Errorf("qr code: %w", err)
	}
	fmt.Fprint(c.out, qr.ToSmallString(false))
	fmt.Fprintln(c.out, u)
	return nil
}

type profileEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
}

func (c *ctl) profiles() error {
	names, err := profile.List()
	if err != nil {
		return err
	}
	entries := make([]profileEntry, 0, len(names))
	for _, n := range names {
		held, _ := lock.Held(profile.Dir(n))
		entries = append(entries, profileEntry{Name: n, Path: profile.Dir(n), Running: held})
	}
	return c.print(entries, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No profiles found.")
			return
		}
		for _, e := range entries {
			state := "stopped"
			if e.Running {
				state = "running"
			}
			fmt.Fprintf(w, "%-20s %s (%s)\n", e.Name, e.Path, state)
		}
	})
}

// print writes v as indented JSON with -json, else calls text.
func (c *ctl) print(v any, text func(w io.Writer)) error {
	if c.json || text == nil {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(c.out)
	return nil
}

func (c *ctl) done(err error, msg string) error {
	if err != nil {
		return err
	}
	return c.print(map[string]bool{"ok": true}, func(w io.Writer) { fmt.Fprintln(w, msg) })
}

func usageError(usage string) error {
	return fmt.Errorf("usage: chatctl %s", usage)
}

func idArg(args []string, usage string) (int64, error) {
	if len(args) != 1 {
		return 0, usageError(usage)
	}
	return parseID(args[0])
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid conversation id %q", s)
	}
	return id, nil
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
