package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/martinemde/autopr/agent"
	"github.com/martinemde/autopr/llm"
	"github.com/martinemde/autopr/sandbox"
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"

	verbose bool

	// Shared across commands; the registry must be process-wide so a
	// paused run can be resumed by a later command in a serving context.
	registry *agent.Registry
)

var rootCmd = &cobra.Command{
	Use:   "autopr",
	Short: "Autonomous coding agent that turns a prompt into a pull request",
	Long: `autopr clones a repository into an isolated sandbox, analyzes it,
plans and implements a change with an LLM-driven tool loop, commits the
result, and opens a pull request. With --verify the run pauses after
committing so a human can inspect the sandbox before publishing.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug events")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/autopr/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.config/autopr")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	viper.SetEnvPrefix("AUTOPR")
	viper.AutomaticEnv()

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.model", "")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.token_budget", 120000)
	viper.SetDefault("sandbox.backend", "local")
	viper.SetDefault("sandbox.image", sandbox.DefaultImage)
	viper.SetDefault("sandbox.allow_raw_exec", false)
	viper.SetDefault("sandbox.max_repo_mb", 500)
	viper.SetDefault("git.auth_token", "")
	viper.SetDefault("session.idle_timeout_minutes", 10)
	viper.SetDefault("executor.strategy", "autonomous")

	_ = viper.ReadInConfig()
}

func initDeps() {
	registry = agent.NewRegistry(time.Duration(viper.GetInt("session.idle_timeout_minutes")) * time.Minute)
	registry.StartSweeper(time.Minute)
}

// newLLMClient builds the model client from config. The anthropic
// provider gets the native adapter; everything else goes through gollm.
func newLLMClient() (*llm.Client, error) {
	provider := viper.GetString("llm.provider")
	apiKey := viper.GetString("llm.api_key")
	model := viper.GetString("llm.model")

	if provider == "anthropic" {
		return llm.NewClient(llm.WithProvider(llm.NewAnthropicProvider(apiKey, model))), nil
	}

	p, err := llm.NewGollmProvider(provider, apiKey, llm.WithGollmModel(model))
	if err != nil {
		return nil, err
	}
	return llm.NewClient(llm.WithProvider(p)), nil
}

// newSandboxFactory builds the configured sandbox backend per session.
func newSandboxFactory() agent.SandboxFactory {
	opts := sandbox.Options{
		AuthToken:    viper.GetString("git.auth_token"),
		AllowRawExec: viper.GetBool("sandbox.allow_raw_exec"),
		MaxRepoSize:  int64(viper.GetInt("sandbox.max_repo_mb")) * 1024 * 1024,
	}
	backend := viper.GetString("sandbox.backend")
	image := viper.GetString("sandbox.image")

	return func(sessionID string) sandbox.Sandbox {
		var ws sandbox.Workspace
		if backend == "docker" {
			ws = sandbox.NewContainerWorkspace(sessionID, image)
		} else {
			ws = sandbox.NewLocalWorkspace("")
		}
		return sandbox.New(ws, opts)
	}
}

func newOrchestrator() (*agent.Orchestrator, error) {
	client, err := newLLMClient()
	if err != nil {
		return nil, err
	}
	return agent.New(agent.Config{
		Client:      client,
		Provider:    viper.GetString("llm.provider"),
		Model:       viper.GetString("llm.model"),
		GitHub:      agent.NewGitHubClient(),
		Registry:    registry,
		NewSandbox:  newSandboxFactory(),
		Strategy:    agent.Strategy(viper.GetString("executor.strategy")),
		TokenBudget: viper.GetInt("llm.token_budget"),
	})
}
