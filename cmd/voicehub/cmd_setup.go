package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/voicehub/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Voicehub Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Speech.BaseURL = prompt(scanner, "Speech service base URL", cfg.Speech.BaseURL)
		cfg.Speech.APIKey = prompt(scanner, "Speech service API key", cfg.Speech.APIKey)

		cfg.Store.Backend = prompt(scanner, "Store backend (memory/redis)", cfg.Store.Backend)
		if cfg.Store.Backend == "redis" {
			cfg.Store.RedisAddr = prompt(scanner, "Redis address", cfg.Store.RedisAddr)
		}

		ttlStr := prompt(scanner, "Default thread TTL (seconds)", strconv.Itoa(cfg.Store.DefaultTTLSeconds))
		if n, err := strconv.Atoi(ttlStr); err == nil {
			cfg.Store.DefaultTTLSeconds = n
		}

		streamsStr := prompt(scanner, "Max concurrent live streams", strconv.Itoa(cfg.MaxConcurrentStreams))
		if n, err := strconv.Atoi(streamsStr); err == nil {
			cfg.MaxConcurrentStreams = n
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user
// input. If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
