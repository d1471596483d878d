// ABOUTME: Minimal fake tool executor for E2E testing — serves scripted SSE streams.
// ABOUTME: Usage: fake-executor [-addr localhost:9000] [-steps 4] [-delay 100ms] [-fail]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"
)

func main() {
	addr := flag.String("addr", "localhost:9000", "listen address")
	steps := flag.Int("steps", 4, "number of progress events per execution")
	delay := flag.Duration("delay", 100*time.Millisecond, "delay between events")
	fail := flag.Bool("fail", false, "end every stream with an error event")
	flag.Parse()

	if err := run(*addr, *steps, *delay, *fail); err != nil {
		log.Fatal(err)
	}
}

func run(addr string, steps int, delay time.Duration, fail bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/execute/stream", func(w http.ResponseWriter, r *http.Request) {
		handleStream(w, r, steps, delay, fail)
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("fake-executor listening on %s (steps=%d delay=%s fail=%v)", addr, steps, delay, fail)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func handleStream(w http.ResponseWriter, r *http.Request, steps int, delay time.Duration, fail bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ToolName  string `json:"tool_name"`
		AgentName string `json:"agent"`
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"bad request: %v"}`, err), http.StatusBadRequest)
		return
	}

	log.Printf("executing %s for agent %s [%s]", req.ToolName, req.AgentName, req.RequestID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	send := func(chunk map[string]any) bool {
		data, err := json.Marshal(chunk)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		time.Sleep(delay)
		return r.Context().Err() == nil
	}

	for i := 1; i <= steps; i++ {
		pct := i * 100 / steps
		ok := send(map[string]any{
			"type":     "progress",
			"progress": pct,
			"data":     map[string]any{"message": fmt.Sprintf("step %d of %d", i, steps)},
		})
		if !ok {
			return
		}
	}

	if fail {
		send(map[string]any{
			"type": "error",
			"data": map[string]any{"error": "scripted failure"},
		})
		return
	}

	send(map[string]any{
		"type": "data",
		"data": map[string]any{"result": fmt.Sprintf("%s finished", req.ToolName)},
	})
}
