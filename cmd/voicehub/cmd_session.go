package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/voicehub/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionMemoCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect audio sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live audio-session threads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		threads, err := st.ListThreads(ctx)
		if err != nil {
			return fmt.Errorf("list threads: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "THREAD\tMESSAGES\tSTARTED\tLAST ACTIVITY")
		n := 0
		for _, th := range threads {
			if th.Type != types.ThreadAudioSession {
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				th.ID, len(th.Messages), formatAge(th.CreatedAt), formatAge(th.LastActivity))
			n++
		}
		if n == 0 {
			fmt.Println("No live audio sessions.")
			return nil
		}
		return w.Flush()
	},
}

var sessionMemoCmd = &cobra.Command{
	Use:   "memo <thread-id>",
	Short: "Show the in-flight utterance memo for a session thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		slot := types.NewSlotKey("pipeline", args[0])
		val, err := st.GetWorkingMemory(ctx, slot)
		if err != nil {
			return err
		}
		if val == nil {
			fmt.Println("No in-flight utterance.")
			return nil
		}
		fmt.Println(string(val))
		return nil
	},
}
