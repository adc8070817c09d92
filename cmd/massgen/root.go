// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/teradata-labs/massgen/internal/log"
	"github.com/teradata-labs/massgen/pkg/backend"
	"github.com/teradata-labs/massgen/pkg/backend/anthropic"
	"github.com/teradata-labs/massgen/pkg/config"
	"github.com/teradata-labs/massgen/pkg/orchestration"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "massgen \"<question>\"",
	Short: "massgen - multi-agent answer coordination",
	Long: `massgen runs several LLM agents on the same task in parallel. Agents see
each other's answers as they land, then vote; the elected answer is
presented as the final response. Progress is published to status.json in
the session directory.`,
	Version: "0.1.0",
	Args:    cobra.ExactArgs(1),
	RunE:    runCoordination,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "YAML config file (agents, timeouts, caps)")
	rootCmd.Flags().Int("agents", 3, "number of agents when no config file is given")
	rootCmd.Flags().String("model", "", "Anthropic model override")
	rootCmd.Flags().String("api-key-env", "ANTHROPIC_API_KEY", "environment variable holding the API key")
	rootCmd.Flags().String("session-dir", "", "session directory (default: fresh temp dir)")
	rootCmd.Flags().Int("timeout", 0, "orchestrator timeout in seconds (0 = unlimited)")
	rootCmd.Flags().Bool("debug", false, "enable debug logging")

	_ = viper.BindPFlag("agents", rootCmd.Flags().Lookup("agents"))
	_ = viper.BindPFlag("model", rootCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("api_key_env", rootCmd.Flags().Lookup("api-key-env"))
	_ = viper.BindPFlag("session_dir", rootCmd.Flags().Lookup("session-dir"))
	_ = viper.BindPFlag("timeout", rootCmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))
	viper.SetEnvPrefix("MASSGEN")
	viper.AutomaticEnv()
}

func runCoordination(cmd *cobra.Command, args []string) error {
	question := args[0]

	if err := log.Init(viper.GetBool("debug")); err != nil {
		return err
	}
	logger := log.Logger()
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	backends, err := buildBackends(cfg, logger)
	if err != nil {
		return err
	}

	orch, err := orchestration.New(cfg, backends,
		orchestration.WithLogger(logger),
		orchestration.WithSink(orchestration.NewWriterSink(os.Stdout)))
	if err != nil {
		return err
	}
	logger.Info("session starting",
		zap.String("session_id", orch.SessionID()),
		zap.String("session_dir", orch.SessionDir()),
		zap.Int("agents", len(cfg.Agents)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome, err := orch.Run(ctx, question)
	if err != nil {
		return err
	}
	printOutcome(outcome, orch.SessionDir())
	return nil
}

// loadConfig reads the YAML config, or synthesizes one from flags when no
// file is given.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		cfg, err := config.LoadFile(cfgFile)
		if err != nil {
			return nil, err
		}
		applyFlagOverrides(cfg)
		return cfg, nil
	}

	n := viper.GetInt("agents")
	if n < 1 {
		return nil, fmt.Errorf("need at least one agent")
	}
	cfg := &config.Config{}
	for i := 1; i <= n; i++ {
		cfg.Agents = append(cfg.Agents, config.AgentConfig{
			ID:        fmt.Sprintf("agent%d", i),
			Backend:   "anthropic",
			Model:     viper.GetString("model"),
			APIKeyEnv: viper.GetString("api_key_env"),
		})
	}
	applyFlagOverrides(cfg)

	// Round-trip through the validating parser so flag-built and
	// file-built configs take the same path.
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode synthesized config: %w", err)
	}
	return config.Parse(data)
}

// applyFlagOverrides layers flag/env values over the file config.
func applyFlagOverrides(cfg *config.Config) {
	if dir := viper.GetString("session_dir"); dir != "" {
		cfg.SessionDir = dir
	}
	if t := viper.GetInt("timeout"); t > 0 {
		cfg.OrchestratorTimeoutSeconds = &t
	}
}

// buildBackends instantiates one backend per configured agent.
func buildBackends(cfg *config.Config, logger *zap.Logger) (map[string]backend.Backend, error) {
	backends := make(map[string]backend.Backend, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		switch agent.Backend {
		case "anthropic":
			keyEnv := agent.APIKeyEnv
			if keyEnv == "" {
				keyEnv = "ANTHROPIC_API_KEY"
			}
			apiKey := os.Getenv(keyEnv)
			if apiKey == "" {
				return nil, fmt.Errorf("agent %s: %s is not set", agent.ID, keyEnv)
			}
			backends[agent.ID] = anthropic.NewClient(anthropic.Config{
				APIKey:      apiKey,
				Model:       agent.Model,
				MaxTokens:   agent.MaxTokens,
				Temperature: agent.Temperature,
				Logger:      logger.Named("anthropic"),
			})
		default:
			return nil, fmt.Errorf("agent %s: unknown backend %q", agent.ID, agent.Backend)
		}
	}
	return backends, nil
}

func printOutcome(outcome *orchestration.Outcome, sessionDir string) {
	fmt.Println()
	switch outcome.Kind {
	case orchestration.OutcomeElectedWinner:
		fmt.Printf("winner: %s (%d vote(s))\n", outcome.Winner.Label, outcome.Votes[outcome.Winner.Label])
		if outcome.HitGlobalTimeout {
			fmt.Println("note: global timeout elapsed; elected from partial votes")
		}
		if outcome.WorkspacePublished {
			fmt.Printf("workspace: %s\n", outcome.FinalWorkspace)
		}
	case orchestration.OutcomeNoAnswer:
		fmt.Println("no agent produced an answer")
	case orchestration.OutcomeGlobalTimeout:
		fmt.Println("global timeout elapsed before any answer was registered")
	}
	fmt.Printf("session: %s (attempt %d, %.1fs, %d tokens)\n",
		sessionDir, outcome.Attempts, outcome.Elapsed.Seconds(), outcome.Usage.TotalTokens)
}
