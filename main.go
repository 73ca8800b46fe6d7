package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/auxroom/auxroom/internal/app"
	"github.com/auxroom/auxroom/internal/config"
	"github.com/auxroom/auxroom/internal/room"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("auxroom v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "host":
		dir, title, err := parseHostArgs(args[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintln(os.Stderr, "Usage: auxroom host <peer-directory> [-title \"...\"]")
			os.Exit(1)
		}
		runPeer(dir, true, "", title)

	case "join":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: join command requires a peer directory and a room code")
			fmt.Fprintln(os.Stderr, "Usage: auxroom join <peer-directory> <room-code>")
			os.Exit(1)
		}
		code := strings.ToUpper(strings.TrimSpace(args[2]))
		if !room.ValidCode(code) {
			fmt.Fprintf(os.Stderr, "Error: %q is not a valid room code (6 characters, A-Z and 2-9, no I/O/0/1)\n", args[2])
			os.Exit(1)
		}
		runPeer(args[1], false, code, "")

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

// parseHostArgs handles the host subcommand's arguments. A dedicated
// FlagSet is needed because the top-level flag package stops at the first
// non-flag argument, which would silently drop a -title placed after the
// subcommand.
func parseHostArgs(args []string) (dir, title string, err error) {
	fs := flag.NewFlagSet("host", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	t := fs.String("title", "", "Room title")
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		// Flags may also lead: auxroom host -title "..." <dir>
		if err := fs.Parse(args); err != nil {
			return "", "", err
		}
		if fs.NArg() == 0 {
			return "", "", fmt.Errorf("host command requires a peer directory")
		}
		return fs.Arg(0), *t, nil
	}
	if err := fs.Parse(args[1:]); err != nil {
		return "", "", err
	}
	return args[0], *t, nil
}

func runPeer(peerDirArg string, host bool, code, title string) {
	absDir, err := filepath.Abs(peerDirArg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Create peer directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, "auxroom.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Wrote default config to %s", cfgPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		PeerDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
		Host:    host,
		Title:   title,
		Code:    code,
	}); err != nil {
		log.Fatalf("Peer failed: %v", err)
	}
}

func showUsage() {
	fmt.Printf(`auxroom v%s — synchronized listening rooms over p2p

Usage:
  auxroom host <peer-directory> [-title "Friday session"]
      Create a room and host it from the given directory. The room code
      is printed at startup; share it with listeners.

  auxroom join <peer-directory> <room-code>
      Join an existing room as a listener.

Flags:
  -title     Room title when hosting
  -version   Print version
  -h         Show this help

The peer directory holds auxroom.json (created on first run), the durable
store, the identity key, and a music/ folder. Drop .mp3 files into music/
while a session is live and they are announced to the whole room.
`, appVersion)
}
