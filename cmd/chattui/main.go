package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/tui"
	"github.com/matheus3301/chatsync/internal/tui/client"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	noStart := flag.Bool("no-autostart", false, "fail instead of starting the daemon")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	c, err := client.Connect(context.Background(), name, profile.SocketPath(name), !*noStart, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	app := tui.NewApp(c, tui.Options{Profile: name, LoginURL: loginURL(name)})
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loginURL is empty when the profile's config cannot produce one; the UI
// then says so instead of showing a link.
func loginURL(name string) string {
	cfg, err := config.Load(profile.Dir(name))
	if err != nil {
		return ""
	}
	u, err := chat.LoginURL(cfg.LoginURL, cfg.FrontendOrigin, "")
	if err != nil {
		return ""
	}
	return u
}
