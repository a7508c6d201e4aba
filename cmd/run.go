package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rockbotlabs/rockbot/internal/config"
	"github.com/rockbotlabs/rockbot/internal/host"
	"github.com/rockbotlabs/rockbot/internal/profile"
	"github.com/rockbotlabs/rockbot/internal/providers"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the agent host",
		Run: func(cmd *cobra.Command, args []string) {
			runHost()
		},
	}
}

func runHost() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "rockbot: %s\n", err)
		os.Exit(1)
	}
	if cfg.Provider.APIKey == "" {
		fmt.Fprintln(os.Stderr, "rockbot: ROCKBOT_API_KEY is not set")
		os.Exit(1)
	}

	if err := ensureProfile(cfg.ProfileBase(), cfg.Agent.Name); err != nil {
		fmt.Fprintf(os.Stderr, "rockbot: %s\n", err)
		os.Exit(1)
	}

	provider := providers.NewOpenAIProvider("openai", cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model)
	if cfg.Provider.Temperature > 0 {
		provider.WithDefaultTemperature(cfg.Provider.Temperature)
	}
	h, err := host.New(cfg, provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rockbot: %s\n", err)
		os.Exit(1)
	}
	if err := h.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "rockbot: %s\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	h.Stop()
}

// ensureProfile seeds minimal personality documents on first run so the host
// can start on a fresh data directory.
func ensureProfile(base, name string) error {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return err
	}
	starters := map[string]string{
		profile.SoulFile:       fmt.Sprintf("# %s\n\nYou are %s, a capable assistant. Be direct and honest.\n", name, name),
		profile.DirectivesFile: "# Directives\n\n- Answer concisely.\n- Save durable facts with memory_save.\n- Use skills before reinventing procedures.\n",
	}
	for file, content := range starters {
		path := filepath.Join(base, file)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
