package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/freeda-io/freeda/internal/client"
	"github.com/freeda-io/freeda/internal/config"
	"github.com/freeda-io/freeda/internal/push"
	"github.com/freeda-io/freeda/internal/session"
)

const welcomeText = "Bonjour ! Je suis l'assistant virtuel de Free. Décrivez votre problème et je vous aiderai à le résoudre."

var quickReplies = []string{
	"Problème réseau",
	"Facture",
	"Infos offre",
	"Autre demande",
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "chat":
		cmdChat(os.Args[2:])
	case "health":
		cmdHealth()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: freedactl tickets <list|show>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: freedactl tickets show <id>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "export":
		cmdExport()
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: freedactl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- chat command ---

// chatPrinter renders conversation updates incrementally: each push
// event reprints only the entries not yet shown.
type chatPrinter struct {
	mu      sync.Mutex
	printed map[string]bool
}

func (p *chatPrinter) render(messages []session.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range messages {
		if m.IsAnalyzing || p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true
		if m.IsUser {
			continue // the user already sees their own input line
		}
		fmt.Printf("\nfree> %s\n", m.Text)
	}
}

func cmdChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	baseURL := fs.String("url", envOr("FREEDA_URL", "http://localhost:8000"), "Support API base URL")
	resume := fs.String("resume", "", "Resume an existing ticket by ID")
	verbose := fs.Bool("v", false, "Verbose logging")
	fs.Parse(args)

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	printer := &chatPrinter{printed: make(map[string]bool)}
	var sess *session.Session
	sess = session.New(session.Config{
		Backend:     client.New(*baseURL),
		OpenChannel: push.Factory(*baseURL, logger),
		WelcomeText: welcomeText,
		OnUpdate:    func() { printer.render(sess.Messages()) },
		Logger:      logger,
	})
	defer sess.Shutdown()

	ctx := context.Background()
	if *resume != "" {
		if err := sess.Resume(ctx, *resume); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Reprise du ticket %s\n", *resume)
	}

	fmt.Println("freedactl chat (/close pour fermer le ticket, /quit pour sortir)")
	printer.render(sess.Messages())
	if sess.QuickRepliesVisible() {
		for i, q := range quickReplies {
			fmt.Printf("  %d. %s\n", i+1, q)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/quit", "/exit":
			if id := sess.TicketID(); id != "" {
				fmt.Printf("Ticket %s — reprenez avec: freedactl chat -resume %s\n", id, id)
			}
			return
		case "/close":
			if err := sess.Close(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			printer.render(sess.Messages())
			continue
		case "/status":
			fmt.Printf("ticket=%s statut=%s\n", sess.TicketID(), sess.Status())
			continue
		}

		// Quick-reply menu shortcut: a bare digit picks an entry.
		if sess.QuickRepliesVisible() && len(line) == 1 && line[0] >= '1' && line[0] <= '0'+byte(len(quickReplies)) {
			line = quickReplies[line[0]-'1']
			fmt.Printf("vous> %s\n", line)
		}

		if err := sess.Submit(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			if err == session.ErrTicketClosed {
				return
			}
			continue
		}
		// Give the push echo a moment to land before reprinting.
		time.Sleep(300 * time.Millisecond)
		printer.render(sess.Messages())
	}
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (nouveau|en cours|fermé)")
	channel := fs.String("channel", "", "Filter by channel")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *status != "" {
		query += "&status=" + *status
	}
	if *channel != "" {
		query += "&channel=" + *channel
	}

	body, err := apiGet("/api/tickets" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var out struct {
		Tickets []map[string]any `json:"tickets"`
		Total   int              `json:"total"`
	}
	json.Unmarshal(body, &out)
	for _, t := range out.Tickets {
		fmt.Printf("%-14s %-10s %-16s %s\n", t["ticket_id"], t["status"], t["customer_name"], t["updated_at"])
	}
	fmt.Printf("total: %d\n", out.Total)
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/tickets/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdExport() {
	body, err := apiGet("/api/tickets/export")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(body)
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	limit := fs.Int("limit", 100, "Max records")
	level := fs.String("level", "", "Minimum level (info|warn|error)")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *level != "" {
		query += "&level=" + *level
	}
	body, err := apiGet("/api/logs" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	base := envOr("FREEDA_URL", "http://localhost:8000")
	url := base + path

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("FREEDA_ADMIN_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("freedactl — support desk CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  chat                 Open a chat session (-url, -resume)")
	fmt.Println("  health               Check daemon health")
	fmt.Println("  tickets list         List tickets (--status, --channel, --limit)")
	fmt.Println("  tickets show <id>    Show ticket details")
	fmt.Println("  export               Export tickets as CSV to stdout")
	fmt.Println("  logs                 Show recent daemon logs (--limit, --level)")
	fmt.Println("  config validate <p>  Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  FREEDA_URL           Daemon URL (default: http://localhost:8000)")
	fmt.Println("  FREEDA_ADMIN_KEY     Admin key for private endpoints")
}
