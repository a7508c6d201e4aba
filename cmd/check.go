package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/rockbotlabs/rockbot/internal/config"
	"github.com/rockbotlabs/rockbot/internal/profile"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check configuration and data directory health",
		Run: func(cmd *cobra.Command, args []string) {
			runCheck()
		},
	}
}

func runCheck() {
	fmt.Println("rockbot check")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	fmt.Printf("  Agent:    %s\n", cfg.Agent.Name)
	fmt.Printf("  Data dir: %s\n", cfg.Agent.DataDir)
	fmt.Printf("  Model:    %s (%s)\n", cfg.Provider.Model, cfg.Provider.BaseURL)
	if cfg.Provider.APIKey == "" {
		fmt.Println("  API key:  NOT SET (export ROCKBOT_API_KEY)")
	} else {
		fmt.Println("  API key:  set")
	}
	fmt.Println()

	checkProfile(cfg)
	checkStores(cfg)
	checkScheduledTasks(cfg)

	if cfg.Telemetry.Enabled {
		fmt.Printf("  Telemetry: %s via %s\n", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	}
}

func checkProfile(cfg *config.Config) {
	fmt.Println("  Profile documents:")
	required := map[string]bool{
		profile.SoulFile:       true,
		profile.DirectivesFile: true,
	}
	optional := []string{profile.StyleFile, profile.MemoryRulesFile}
	for file := range required {
		path := filepath.Join(cfg.ProfileBase(), file)
		if _, err := os.Stat(path); err != nil {
			fmt.Printf("    %-18s MISSING (created on first run)\n", file)
		} else {
			fmt.Printf("    %-18s OK\n", file)
		}
	}
	for _, file := range optional {
		if _, err := os.Stat(filepath.Join(cfg.ProfileBase(), file)); err == nil {
			fmt.Printf("    %-18s OK (optional)\n", file)
		}
	}
}

func checkStores(cfg *config.Config) {
	fmt.Println("  Stores:")
	for _, dir := range []string{"memory", "working-memory", "skills", "skill-usage", "feedback", "conversation-log"} {
		path := filepath.Join(cfg.Agent.DataDir, dir)
		info, err := os.Stat(path)
		switch {
		case os.IsNotExist(err):
			fmt.Printf("    %-18s absent (created on first use)\n", dir+"/")
		case err != nil:
			fmt.Printf("    %-18s ERROR (%s)\n", dir+"/", err)
		case !info.IsDir():
			fmt.Printf("    %-18s NOT A DIRECTORY\n", dir+"/")
		default:
			fmt.Printf("    %-18s OK\n", dir+"/")
		}
	}
}

func checkScheduledTasks(cfg *config.Config) {
	path := filepath.Join(cfg.Agent.DataDir, "scheduled-tasks.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}
	fmt.Println("  Scheduled tasks:")
	if err != nil {
		fmt.Printf("    read error: %s\n", err)
		return
	}
	var tasks []struct {
		Name           string `json:"name"`
		CronExpression string `json:"cron_expression"`
	}
	if err := json.Unmarshal(data, &tasks); err != nil {
		fmt.Printf("    parse error: %s\n", err)
		return
	}
	parser := gronx.New()
	for _, task := range tasks {
		if parser.IsValid(task.CronExpression) {
			fmt.Printf("    %-18s %s (OK)\n", task.Name, task.CronExpression)
		} else {
			fmt.Printf("    %-18s %s (INVALID CRON)\n", task.Name, task.CronExpression)
		}
	}
}
