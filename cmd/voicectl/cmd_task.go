package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskFormCmd, taskSubmitCmd)
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Work with inferred tasks",
}

var taskFormCmd = &cobra.Command{
	Use:   "form <id>",
	Short: "Toggle the input form of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		task, err := newClient().openForm(ctx, id)
		if err != nil {
			return fmt.Errorf("toggle form: %w", err)
		}
		if asJSON {
			return printJSON(task)
		}
		state := "closed"
		if task.ShowForm {
			state = "open"
		}
		fmt.Printf("Form for %q is %s.\n", task.Title, state)
		return nil
	},
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit <id> <input...>",
	Short: "Submit information for a task and start monitoring",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		if err := newClient().submit(ctx, id, strings.Join(args[1:], " ")); err != nil {
			return fmt.Errorf("submit task: %w", err)
		}
		fmt.Printf("Task %d accepted. Use 'voicectl watch' to follow progress.\n", id)
		return nil
	},
}

func parseTaskID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}
