package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/app"
	"lanlink/internal/client"
	"lanlink/internal/uiutil"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	name := flag.String("name", "", "display name")
	host := flag.Bool("host", false, "host a session (run the hub)")
	hubAddr := flag.String("hub", "", "hub address to join (host:port); empty = discover")
	saveDir := flag.String("save-dir", "", "directory for received files")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	cfg := app.Config{}
	if *configPath != "" {
		var err error
		cfg, err = loadConfig(*configPath, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lanlink: %v\n", err)
			os.Exit(1)
		}
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			cfg.Name = *name
		case "host":
			cfg.Host = *host
		case "hub":
			cfg.HubAddr = *hubAddr
		case "save-dir":
			cfg.SaveDir = *saveDir
		}
	})
	if cfg.Name == "" {
		fmt.Fprintln(os.Stderr, "lanlink: a name is required (-name or config)")
		os.Exit(1)
	}

	zcfg := zap.NewDevelopmentConfig()
	if !*debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lanlink: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	cfg.Logger = logger

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lanlink: %v\n", err)
		os.Exit(1)
	}
	if err := a.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "lanlink: %v\n", err)
		os.Exit(1)
	}
	defer a.Stop()

	if cfg.Host {
		fmt.Printf("Hosting as %q.\n", cfg.Name)
	} else {
		fmt.Printf("Joined as %q.\n", cfg.Name)
	}
	printHelp()

	go eventLoop(a)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

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
		case <-sigCh:
			fmt.Println("\nleaving...")
			return
		case <-a.Done():
			fmt.Println("connection to hub lost")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleCommand(a, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /msg <peer> <text>    - send a chat message")
	fmt.Println("  /send <peer> <path>   - send a file")
	fmt.Println("  /pause <id>           - pause a transfer")
	fmt.Println("  /resume <id>          - resume a transfer")
	fmt.Println("  /transfers            - list transfers")
	fmt.Println("  /hosts                - list discovered hosts")
	fmt.Println("  /peers                - list connected peers (host only)")
	fmt.Println("  /quit                 - exit")
	fmt.Println()
}

// handleCommand executes one input line; false means quit.
func handleCommand(a *app.App, line string) bool {
	switch {
	case line == "":
	case line == "/quit":
		fmt.Println("leaving...")
		return false

	case strings.HasPrefix(line, "/msg "):
		to, text, ok := splitArg(strings.TrimPrefix(line, "/msg "))
		if !ok {
			fmt.Println("usage: /msg <peer> <text>")
			break
		}
		if err := a.SendChat(to, text); err != nil {
			fmt.Printf("send failed: %v\n", err)
		}

	case strings.HasPrefix(line, "/send "):
		to, path, ok := splitArg(strings.TrimPrefix(line, "/send "))
		if !ok {
			fmt.Println("usage: /send <peer> <path>")
			break
		}
		id, err := a.SendFile(path, to)
		if err != nil {
			fmt.Printf("send failed: %v\n", err)
			break
		}
		fmt.Printf("[XFER %d] sending %s to %s\n", id, path, to)

	case strings.HasPrefix(line, "/pause "):
		withID(strings.TrimPrefix(line, "/pause "), a.Pause)

	case strings.HasPrefix(line, "/resume "):
		withID(strings.TrimPrefix(line, "/resume "), a.Resume)

	case line == "/transfers":
		ts := a.Transfers()
		if len(ts) == 0 {
			fmt.Println("no transfers")
			break
		}
		for _, st := range ts {
			fmt.Printf("[XFER %d] %-8s %s (%d/%d chunks, peer %s)\n",
				st.ID, st.State, st.Filename, st.DoneChunks, st.TotalChunks, st.Peer)
		}

	case line == "/hosts":
		hosts := a.Hosts()
		if len(hosts) == 0 {
			fmt.Println("no hosts visible")
			break
		}
		for _, h := range hosts {
			fmt.Printf("%-16s %s:%d (seen %s ago)\n",
				h.Name, h.IP, h.Port, time.Since(h.LastSeen).Round(time.Second))
		}

	case line == "/peers":
		peers := a.Peers()
		if len(peers) == 0 {
			fmt.Println("no peers (directory is only visible when hosting)")
			break
		}
		for _, p := range peers {
			fmt.Println(p)
		}

	default:
		fmt.Println("unknown command")
	}
	return true
}

func splitArg(s string) (first, rest string, ok bool) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, ' ')
	if i <= 0 {
		return "", "", false
	}
	return s[:i], strings.TrimSpace(s[i+1:]), true
}

func withID(arg string, fn func(uint32) error) {
	id, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 32)
	if err != nil {
		fmt.Println("bad transfer id")
		return
	}
	if err := fn(uint32(id)); err != nil {
		fmt.Printf("failed: %v\n", err)
	}
}

// eventLoop prints agent events as they arrive.
func eventLoop(a *app.App) {
	for {
		ev, ok := a.PollEvent()
		if !ok {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		switch ev.Type {
		case client.EventChat:
			fmt.Printf("[%s] %s\n", uiutil.FormatName(ev.From), ev.Message)
		case client.EventTransfer:
			t := ev.Transfer
			fmt.Printf("[XFER %d] %s %s (%d/%d chunks)\n",
				t.ID, t.State, t.Filename, t.DoneChunks, t.TotalChunks)
		case client.EventConnLost:
			fmt.Println("[NET] connection to hub lost")
		}
	}
}
