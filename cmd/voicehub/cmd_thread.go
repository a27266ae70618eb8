package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/voicehub/internal/sweeper"
	"github.com/user/voicehub/internal/types"
)

func init() {
	rootCmd.AddCommand(threadCmd)
	threadCmd.AddCommand(threadListCmd, threadShowCmd, threadLinkCmd, threadSweepCmd)
}

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Inspect conversation threads",
}

var threadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all live threads",
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
		if len(threads) == 0 {
			fmt.Println("No live threads.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tCLASS\tMESSAGES\tLAST ACTIVITY")
		for _, th := range threads {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				th.ID, th.Type, th.Class, len(th.Messages), formatAge(th.LastActivity))
		}
		return w.Flush()
	},
}

var threadShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a thread's messages and links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		id := types.ThreadID(args[0])
		th, err := st.GetThread(ctx, id)
		if err != nil {
			return err
		}

		fmt.Printf("Thread %s (%s, %s), created %s\n", th.ID, th.Type, th.Class, formatAge(th.CreatedAt))
		for _, m := range th.Messages {
			tag := ""
			if m.Annotation != nil && m.Annotation.Late {
				tag = " [late]"
			}
			fmt.Printf("  %s  %-9s %s%s\n", formatAge(m.At), m.Role, m.Text, tag)
		}

		links, err := st.LinkedThreads(ctx, id)
		if err != nil {
			return err
		}
		for _, l := range links {
			fmt.Printf("  linked: %s <-> %s (%s)\n", l.A, l.B, l.Relation)
		}
		return nil
	},
}

var threadLinkCmd = &cobra.Command{
	Use:   "link <a> <b> <relation>",
	Short: "Associate two threads",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		if err := st.LinkThreads(ctx, types.ThreadID(args[0]), types.ThreadID(args[1]), args[2]); err != nil {
			return err
		}
		fmt.Printf("Linked %s <-> %s (%s)\n", args[0], args[1], args[2])
		return nil
	},
}

var threadSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclaim expired threads now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		sw, ok := st.(sweeper.Store)
		if !ok {
			return fmt.Errorf("backend %s does not support sweeping", cfg.Store.Backend)
		}
		n, err := sweeper.New(sw, cfg.SweepSchedule, nil).RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Reclaimed %d expired threads.\n", n)
		return nil
	},
}
