// ABOUTME: Admin CLI for nexus-gateway session inspection and tool execution
// ABOUTME: Talks to the gateway REST API; watch streams events over WebSocket

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
)

const banner = `
  _ __   _____  ___   _ ___        __ _  __| |_ __ ___ (_)_ __
 | '_ \ / _ \ \/ / | | / __|_____ / _' |/ _' | '_ ' _ \| | '_ \
 | | | |  __/>  <| |_| \__ \_____| (_| | (_| | | | | | | | | | |
 |_| |_|\___/_/\_\\__,_|___/      \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "status":
		err = cmdStatus(ctx, cfg)
	case "sessions":
		err = cmdSessions(ctx, cfg, args)
	case "exec":
		err = cmdExec(ctx, cfg, args)
	case "watch":
		err = cmdWatch(ctx, cfg, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: nexus-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                  Show gateway health")
	fmt.Println("  sessions                List all sessions")
	fmt.Println("  sessions list           List all sessions")
	fmt.Println("  sessions get <id>       Show one session with its executions")
	fmt.Println("  sessions delete <id>    Delete a session")
	fmt.Println("  exec <session-id> --tool <name> [--agent <name>] [--param k=v]")
	fmt.Println("                          Run a tool and stream its events")
	fmt.Println("  watch <session-id>      Follow a session's event stream live")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  NEXUS_GATEWAY_URL       Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  NEXUS_ADMIN_CONFIG      Path to admin.toml (default: ~/.config/nexus/admin.toml)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  nexus-admin sessions")
	fmt.Println("  nexus-admin exec sess-1 --tool nmap_scan --agent bug_hunter --param target=10.0.0.5")
	fmt.Println("  nexus-admin watch sess-1")
	fmt.Println()
}

// apiGet performs a GET against the gateway API and decodes the JSON body.
func apiGet(ctx context.Context, cfg *Config, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Gateway.URL+path, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Gateway.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError surfaces the gateway's JSON error body when present.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errBody struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
		return fmt.Errorf("%s (status %d)", errBody.Error, resp.StatusCode)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

func cmdStatus(ctx context.Context, cfg *Config) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	var health struct {
		Status    string `json:"status"`
		ServerID  string `json:"server_id"`
		Timestamp string `json:"timestamp"`
	}
	if err := apiGet(ctx, cfg, "/health", &health); err != nil {
		yellow.Printf("  Gateway:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}

	green.Printf("  Gateway:  ")
	fmt.Printf("%s (%s)\n", cfg.Gateway.URL, health.Status)
	green.Printf("  Server:   ")
	fmt.Println(health.ServerID)

	var sessions ListSessionsResponse
	if err := apiGet(ctx, cfg, "/api/sessions", &sessions); err == nil {
		green.Printf("  Sessions: ")
		fmt.Println(sessions.Count)
	}

	fmt.Println()
	return nil
}

func cmdSessions(ctx context.Context, cfg *Config, args []string) error {
	// Default to list
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdSessionsList(ctx, cfg)
	case "get", "show":
		return cmdSessionsGet(ctx, cfg, args)
	case "delete", "rm", "remove":
		return cmdSessionsDelete(ctx, cfg, args)
	default:
		return fmt.Errorf("unknown sessions subcommand: %s (use list, get, delete)", subcmd)
	}
}

func cmdSessionsList(ctx context.Context, cfg *Config) error {
	var resp ListSessionsResponse
	if err := apiGet(ctx, cfg, "/api/sessions", &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Sessions")
	cyan.Println("  --------")

	if len(resp.Sessions) == 0 {
		fmt.Println("  (no sessions)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tSTATUS\tCONNS\tEXECUTIONS\tLAST ACTIVITY")
	fmt.Fprintln(w, "  --\t------\t-----\t----------\t-------------")

	for _, s := range resp.Sessions {
		activity := s.LastActivityAt
		if t, err := time.Parse(time.RFC3339, s.LastActivityAt); err == nil {
			activity = t.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%d\t%d\t%s\n",
			truncate(s.SessionID, 24), s.Status, s.ConnectionCount, len(s.Executions), activity)
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdSessionsGet(ctx context.Context, cfg *Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sessions get <session-id>")
	}

	var s SessionResponse
	if err := apiGet(ctx, cfg, "/api/sessions/"+args[0], &s); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Session")
	cyan.Println("  -------")
	fmt.Printf("  ID:            %s\n", s.SessionID)
	fmt.Printf("  Status:        %s\n", s.Status)
	fmt.Printf("  Connections:   %d\n", s.ConnectionCount)
	fmt.Printf("  Created:       %s\n", s.CreatedAt)
	fmt.Printf("  Last activity: %s\n", s.LastActivityAt)

	if len(s.Metadata) > 0 {
		fmt.Println("  Metadata:")
		for k, v := range s.Metadata {
			fmt.Printf("    %s: %s\n", k, v)
		}
	}

	if len(s.Executions) > 0 {
		fmt.Println()
		cyan.Println("  Executions")
		cyan.Println("  ----------")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tTOOL\tAGENT\tSTATUS\tPROGRESS")
		for _, e := range s.Executions {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%d%%\n",
				truncate(e.ExecutionID, 12), e.ToolName, e.AgentName, e.Status, e.Progress)
		}
		w.Flush()
	}
	fmt.Println()

	return nil
}

func cmdSessionsDelete(ctx context.Context, cfg *Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sessions delete <session-id>")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, cfg.Gateway.URL+"/api/sessions/"+args[0], nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Gateway.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Deleted session: %s\n", args[0])
	return nil
}

func cmdExec(ctx context.Context, cfg *Config, args []string) error {
	if len(args) < 1 || strings.HasPrefix(args[0], "--") {
		return fmt.Errorf("usage: exec <session-id> --tool <name> [--agent <name>] [--param k=v]")
	}
	sessionID := args[0]
	args = args[1:]

	var toolName, agentName string
	params := map[string]any{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--tool", "-t":
			if i+1 < len(args) {
				toolName = args[i+1]
				i++
			}
		case "--agent", "-a":
			if i+1 < len(args) {
				agentName = args[i+1]
				i++
			}
		case "--param", "-p":
			if i+1 < len(args) {
				key, value, ok := strings.Cut(args[i+1], "=")
				if !ok {
					return fmt.Errorf("invalid --param %q (expected k=v)", args[i+1])
				}
				params[key] = value
				i++
			}
		}
	}

	if toolName == "" {
		return fmt.Errorf("usage: exec <session-id> --tool <name> [--agent <name>] [--param k=v]")
	}

	body, err := json.Marshal(map[string]any{
		"tool_name":  toolName,
		"agent":      agentName,
		"parameters": params,
	})
	if err != nil {
		return err
	}

	url := cfg.Gateway.URL + "/api/sessions/" + sessionID + "/execute/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Gateway.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	// The stream ends when the gateway sends the terminal event and
	// closes the response body.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		printEvent(cfg, []byte(data))
	}
	return scanner.Err()
}

func cmdWatch(ctx context.Context, cfg *Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: watch <session-id>")
	}

	wsURL := "ws" + strings.TrimPrefix(cfg.Gateway.URL, "http") + "/ws/" + args[0]

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	defer conn.Close()

	// Close the socket when the user interrupts so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	gray := color.New(color.FgHiBlack)
	gray.Printf("watching %s (ctrl-c to stop)\n", args[0])

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream closed: %w", err)
		}
		printEvent(cfg, msg)
	}
}

// event mirrors the gateway's wire event shape.
type event struct {
	Type        string          `json:"type"`
	Timestamp   string          `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
	Progress    *int            `json:"progress"`
	ExecutionID string          `json:"execution_id,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
}

// printEvent renders one event as a single colored line.
func printEvent(cfg *Config, raw []byte) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		fmt.Println(string(raw))
		return
	}

	var line strings.Builder

	if cfg.Output.Timestamps {
		if t, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
			line.WriteString(color.HiBlackString(t.Format("15:04:05") + " "))
		}
	}

	switch ev.Type {
	case "progress":
		line.WriteString(color.CyanString("PROGRESS"))
	case "data":
		line.WriteString(color.GreenString("DATA    "))
	case "complete":
		line.WriteString(color.New(color.FgGreen, color.Bold).Sprint("COMPLETE"))
	case "error":
		line.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERROR   "))
	case "connection":
		line.WriteString(color.HiBlackString("CONNECT "))
	default:
		line.WriteString(fmt.Sprintf("%-8s", strings.ToUpper(ev.Type)))
	}

	if ev.Progress != nil {
		line.WriteString(fmt.Sprintf(" %3d%%", *ev.Progress))
	}
	if ev.ExecutionID != "" {
		line.WriteString(color.HiBlackString(" " + truncate(ev.ExecutionID, 12)))
	}
	if len(ev.Data) > 0 && string(ev.Data) != "null" {
		line.WriteString(" " + compactJSON(ev.Data))
	}

	fmt.Println(line.String())
}

// compactJSON renders a raw JSON value on one line.
func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
