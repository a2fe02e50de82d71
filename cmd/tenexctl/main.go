// Command tenexctl is the administrative CLI for a running tenexd kernel
// (spec.md §6.6): it dials the control socket and issues queue status,
// force-release, and remove commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tenex-chat/tenex-kernel/internal/control"
)

var controlAddr string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tenexctl",
		Short: "Administer a running tenexd kernel",
	}
	root.PersistentFlags().StringVar(&controlAddr, "control-addr", "127.0.0.1:7717", "tenexd control socket address")
	root.AddCommand(newQueueCmd())
	return root
}

func newQueueCmd() *cobra.Command {
	queue := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and administer the execution queue",
	}
	queue.AddCommand(newQueueStatusCmd())
	queue.AddCommand(newQueueForceReleaseCmd())
	queue.AddCommand(newQueueRemoveCmd())
	return queue
}

func newQueueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project>",
		Short: "Show the current lock holder and waiting queue for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := control.Dial(controlAddr)
			if err != nil {
				return fmt.Errorf("dial control socket: %w", err)
			}
			defer client.Close()

			resp, err := client.QueueStatus(cmd.Context(), &control.QueueStatusRequest{Project: args[0]})
			if err != nil {
				return err
			}

			if resp.HolderID == "" {
				fmt.Println("no execution lock held")
			} else {
				fmt.Printf("lock held by conversation %s (agent %s), acquired %s\n", resp.HolderID, resp.HeldBy, resp.AcquiredAt)
			}
			if len(resp.Queue) == 0 {
				fmt.Println("queue is empty")
				return nil
			}
			for _, e := range resp.Queue {
				fmt.Printf("  #%d %s (enqueued %s, eta %s)\n", e.Position, e.ConversationID, e.EnqueuedAt, e.ETA)
			}
			return nil
		},
	}
}

func newQueueForceReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-release <project> <conversationId> <reason>",
		Short: "Release a project's execution lock regardless of holder",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := control.Dial(controlAddr)
			if err != nil {
				return fmt.Errorf("dial control socket: %w", err)
			}
			defer client.Close()

			_, err = client.QueueForceRelease(cmd.Context(), &control.QueueForceReleaseRequest{
				Project:        args[0],
				ConversationID: args[1],
				Reason:         args[2],
			})
			if err != nil {
				return err
			}
			fmt.Println("lock released")
			return nil
		},
	}
}

func newQueueRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <project> <conversationId>",
		Short: "Drop a queued (non-holding) conversation from a project's waiting queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := control.Dial(controlAddr)
			if err != nil {
				return fmt.Errorf("dial control socket: %w", err)
			}
			defer client.Close()

			_, err = client.QueueRemove(cmd.Context(), &control.QueueRemoveRequest{Project: args[0], ConversationID: args[1]})
			if err != nil {
				return err
			}
			fmt.Println("removed from queue")
			return nil
		},
	}
}
