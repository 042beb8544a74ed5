package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"lifeops-voice-agent/internal/models"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

// streamMessage mirrors the frames sent on /v1/ws.
type streamMessage struct {
	Kind     string           `json:"kind"`
	Change   string           `json:"change,omitempty"`
	Snapshot *models.Snapshot `json:"snapshot,omitempty"`
	Entry    *models.LogEntry `json:"entry,omitempty"`
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream status changes and activity until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		wsURL, err := newClient().wsURL()
		if err != nil {
			return fmt.Errorf("build stream url: %w", err)
		}

		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
		if err != nil {
			return fmt.Errorf("connect %s: %w", wsURL, err)
		}
		defer conn.Close()

		go func() {
			<-ctx.Done()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		}()

		var last models.Status
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return nil
				}
				return fmt.Errorf("read stream: %w", err)
			}
			if asJSON {
				fmt.Println(string(data))
				continue
			}
			var msg streamMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			last = render(msg, last)
		}
	},
}

// render prints one frame and returns the latest known status.
func render(msg streamMessage, last models.Status) models.Status {
	switch {
	case msg.Entry != nil:
		printEntry(*msg.Entry)
	case msg.Snapshot != nil:
		snap := msg.Snapshot
		switch msg.Change {
		case "", "status":
			if snap.Status != last {
				fmt.Printf("-- status: %s\n", snap.Status)
			}
		case "transcript":
			fmt.Printf("-- transcript: %s\n", snap.Transcript)
		case "tasks":
			for _, t := range snap.Tasks {
				fmt.Printf("-- task %d [%s] %s\n", t.ID, t.Status, t.Title)
			}
		}
		return snap.Status
	}
	return last
}
