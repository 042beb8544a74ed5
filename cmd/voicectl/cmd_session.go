package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lifeops-voice-agent/internal/models"
)

func init() {
	rootCmd.AddCommand(stateCmd, logsCmd)
	for _, name := range []string{"start", "stop", "toggle", "reset"} {
		rootCmd.AddCommand(actionCmd(name))
	}
}

var actionShort = map[string]string{
	"start":  "Start listening",
	"stop":   "Stop listening and process the recording",
	"toggle": "Start or stop listening depending on the current status",
	"reset":  "Abandon the current session and return to idle",
}

func actionCmd(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: actionShort[name],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := newClient().action(ctx, name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if asJSON {
				return printJSON(res)
			}
			if !res.Changed {
				fmt.Printf("No change, session is %s.\n", res.Snapshot.Status)
				return nil
			}
			fmt.Printf("Session is now %s.\n", res.Snapshot.Status)
			return nil
		},
	}
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the session status, transcript, profile and tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		snap, err := newClient().session(ctx)
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		if asJSON {
			return printJSON(snap)
		}
		return printSnapshot(snap)
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the activity log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		entries, err := newClient().logs(ctx)
		if err != nil {
			return fmt.Errorf("get logs: %w", err)
		}
		if asJSON {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No activity yet.")
			return nil
		}
		for _, e := range entries {
			printEntry(e)
		}
		return nil
	},
}

func printSnapshot(snap models.Snapshot) error {
	fmt.Printf("Status:     %s\n", snap.Status)
	if snap.SessionID != "" {
		fmt.Printf("Session:    %s\n", snap.SessionID)
	}
	fmt.Printf("Transcript: %s\n", snap.Transcript)

	if len(snap.ContextFacts) > 0 {
		fmt.Println("\nProfile:")
		for _, f := range snap.ContextFacts {
			fmt.Printf("  %s: %s\n", f.Entity, f.Value)
		}
	}

	if len(snap.Tasks) == 0 {
		return nil
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tACTION\tTITLE")
	for _, t := range snap.Tasks {
		status := string(t.Status)
		if t.IsProcessing {
			status += "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.ID, status, t.Action, t.Title)
	}
	return w.Flush()
}

func printEntry(e models.LogEntry) {
	fmt.Printf("[%s] %-7s %s\n", e.Time, e.Type, e.Message)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
