package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentrail/meterbank/internal/agent"
	"github.com/agentrail/meterbank/internal/auth"
	"github.com/agentrail/meterbank/internal/config"
	"github.com/agentrail/meterbank/internal/registry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo caller, a demo provider, and its tools",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

type demoAgent struct {
	input agent.CreateAgentInput
	tools []registry.CreateToolInput
}

var demoAgents = []demoAgent{
	{
		input: agent.CreateAgentInput{
			Name:           "demo-caller",
			InitialBalance: 1_000_000,
		},
	},
	{
		input: agent.CreateAgentInput{
			Name:             "demo-provider",
			DefaultRatePer1k: 2_000,
		},
		tools: []registry.CreateToolInput{
			{
				Name:            "web-search",
				Description:     "Web search with ranked snippets.",
				RatePer1kTokens: 3_000,
			},
			{
				Name:            "summarize",
				Description:     "Long-document summarization.",
				RatePer1kTokens: 1_500,
			},
			{
				Name:            "translate",
				Description:     "Text translation between major languages.",
				RatePer1kTokens: 1_000,
			},
		},
	},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	agentStore := agent.NewStore(pool)
	toolStore := registry.NewStore(pool)

	// Check if seed has already run.
	existing, _, err := agentStore.List(ctx, agent.AgentListParams{Limit: 1})
	if err != nil {
		return fmt.Errorf("checking existing agents: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	for _, demo := range demoAgents {
		apiKey, plaintext, err := auth.GenerateAPIKey()
		if err != nil {
			return fmt.Errorf("generating api key: %w", err)
		}
		demo.input.APIKeyHash = apiKey.Hash
		demo.input.APIKeyPrefix = apiKey.Prefix

		ag, err := agentStore.Create(ctx, demo.input)
		if err != nil {
			return fmt.Errorf("creating agent %q: %w", demo.input.Name, err)
		}
		slog.Info("created agent", "id", ag.ID, "name", ag.Name)

		for _, toolInput := range demo.tools {
			toolInput.OwnerID = ag.ID
			t, err := toolStore.Create(ctx, toolInput)
			if err != nil {
				return fmt.Errorf("creating tool %q: %w", toolInput.Name, err)
			}
			slog.Info("created tool", "name", t.Name, "id", t.ID, "rate_per_1k", t.RatePer1kTokens)
		}

		fmt.Printf("Agent:   %s (%s)\n", ag.Name, ag.ID)
		fmt.Printf("API Key: %s\n\n", plaintext)
	}

	fmt.Printf("Try it:\n")
	fmt.Printf("  curl -H 'Authorization: Bearer <caller-key>' http://localhost:8080/api/v1/budget\n")
	fmt.Printf("  curl -H 'Authorization: Bearer <caller-key>' -d '{\"callee_id\":\"<provider-id>\",\"tool_name\":\"web-search\",\"tokens\":1500}' http://localhost:8080/api/v1/preview\n")

	return nil
}
