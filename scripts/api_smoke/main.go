package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func main() {
	if err := run(); err != nil {
		log.Printf("api_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://127.0.0.1:8990", "agent API base URL")
	events := flag.Bool("events", false, "follow the events feed instead of dumping state once")
	timeout := flag.Duration("timeout", 30*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *events {
		return followEvents(ctx, *addr)
	}
	return dumpState(ctx, *addr)
}

func dumpState(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/v1/state", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("state endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}

	var pretty json.RawMessage = body
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func followEvents(ctx context.Context, addr string) error {
	wsURL := "ws" + addr[len("http"):] + "/v1/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial events: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Following %s (Ctrl+C to stop)\n", wsURL)
	for {
		var ev struct {
			Type   string          `json:"type"`
			State  json.RawMessage `json:"state,omitempty"`
			Notice json.RawMessage `json:"notice,omitempty"`
		}
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		switch ev.Type {
		case "notice":
			fmt.Printf("notice: %s\n", ev.Notice)
		case "state":
			fmt.Printf("state: %s\n", ev.State)
		default:
			fmt.Printf("event: %s\n", ev.Type)
		}
	}
}
