// Switchboard assistant server — runs the rule engine, the mesh event
// bus client, and the HTTP/WebSocket API for one assistant process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/switchboard-io/switchboard/pkg/actions"
	"github.com/switchboard-io/switchboard/pkg/api"
	"github.com/switchboard-io/switchboard/pkg/assistant"
	"github.com/switchboard-io/switchboard/pkg/bus"
	"github.com/switchboard-io/switchboard/pkg/cleanup"
	"github.com/switchboard-io/switchboard/pkg/clients"
	"github.com/switchboard-io/switchboard/pkg/config"
	"github.com/switchboard-io/switchboard/pkg/conversation"
	"github.com/switchboard-io/switchboard/pkg/coordinator"
	"github.com/switchboard-io/switchboard/pkg/database"
	"github.com/switchboard-io/switchboard/pkg/events"
	"github.com/switchboard-io/switchboard/pkg/metrics"
	"github.com/switchboard-io/switchboard/pkg/profile"
	"github.com/switchboard-io/switchboard/pkg/router"
	"github.com/switchboard-io/switchboard/pkg/rules"
	"github.com/switchboard-io/switchboard/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// routingEmbedder adapts the embedding service to the router's index:
// description and query vectors use the assistant's resolved embedding
// profile for the org being routed.
type routingEmbedder struct {
	embeddings   *actions.EmbeddingService
	profiles     actions.ProfileSource
	assistantKey string
}

func (r routingEmbedder) EmbedForRouting(ctx context.Context, texts []string, orgID string) ([][]float32, error) {
	cfg := r.profiles.ResolvedProfile(r.assistantKey, orgID)
	return r.embeddings.Embed(ctx, cfg.Embedding, texts, clients.CallOptions{OrgID: orgID})
}

// mergeRuleSets overlays database-persisted rule sets on the file-loaded
// ones. Admin API edits are saved to the database with bumped versions,
// so a database set wins unless the files carry a newer version.
func mergeRuleSets(files, db map[string]*rules.RuleSet) map[string]*rules.RuleSet {
	merged := make(map[string]*rules.RuleSet, len(files)+len(db))
	for k, v := range files {
		merged[k] = v
	}
	for k, v := range db {
		if existing, ok := merged[k]; ok && existing.Version > v.Version {
			continue
		}
		merged[k] = v
	}
	return merged
}

// validateStartup rejects configurations that would fail at runtime:
// rule sets using action types no handler serves, rule sets for
// assistants the registry does not know, and alias map cycles.
func validateStartup(dispatcher *actions.Dispatcher, ruleSets *rules.Registry, assistants *assistant.Registry, aliases *router.AliasMap) error {
	for key, rs := range ruleSets.Snapshot() {
		if rs.AssistantKey != "" && !assistants.Has(rs.AssistantKey) {
			return fmt.Errorf("rule set %q names unknown assistant %q", key, rs.AssistantKey)
		}
		for _, rule := range rs.Rules {
			for _, action := range rule.Actions {
				if !dispatcher.Has(action.Type) {
					return fmt.Errorf("rule set %q rule %q uses unknown action type %q", key, rule.ID, action.Type)
				}
			}
		}
	}

	entries := aliases.Entries()
	for alias := range entries {
		seen := map[string]bool{alias: true}
		target := entries[alias]
		for {
			next, ok := entries[target]
			if !ok {
				break
			}
			if seen[target] {
				return fmt.Errorf("alias map cycle through %q", target)
			}
			seen[target] = true
			target = next
		}
	}
	return nil
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting switchboard",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbURL, err := cfg.DatabaseURL()
	if err != nil {
		slog.Error("Failed to resolve database URL", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.Open(ctx, database.Config{URL: dbURL, Migrate: cfg.Database.Migrate})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. One-time startup orphan recovery, then the retention sweeper
	retention := cleanup.NewService(dbClient.DB(), cleanup.Config{
		EventTTL:      cfg.Retention.EventTTL.Std(),
		SweepInterval: cfg.Retention.SweepInterval.Std(),
		OrphanRunAge:  cfg.Retention.OrphanRunAge.Std(),
	}, nil)
	if recovered, err := retention.RecoverOrphanedRuns(ctx); err != nil {
		// Non-fatal; the next replica restart retries.
		slog.Error("Orphaned run recovery failed", "error", err)
	} else if recovered > 0 {
		slog.Info("Recovered orphaned runs", "count", recovered)
	}
	retention.Start(ctx)
	defer retention.Stop()

	// 4. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 5. Service clients. Credentials come from the environment only.
	agentCredential, err := cfg.AgentCredential()
	if err != nil {
		slog.Error("Failed to resolve agent credential", "error", err)
		os.Exit(1)
	}
	apiKey, err := cfg.APIKey()
	if err != nil {
		slog.Warn("No service API key configured, admin API disabled", "error", err)
		apiKey = ""
	}

	clientTimeout := cfg.Engine.ClientTimeout.Std()
	identity := clients.NewIdentity(cfg.Endpoints.IdentityURL, version.Full(), apiKey, clientTimeout)
	tokens := clients.NewAgentTokenSource(identity, cfg.Agent.EntityID, agentCredential)
	messaging := clients.NewMessaging(cfg.Endpoints.MessagingURL, version.Full(), tokens, clientTimeout)
	integrations := clients.NewIntegrations(cfg.Endpoints.IntegrationsURL, version.Full(), tokens, clientTimeout)
	slog.Info("Service clients initialized")

	// 6. Assistant registry and rule sets
	assistants := assistant.NewRegistry()
	if err := assistants.ReplaceAll(cfg.Assistants); err != nil {
		slog.Error("Failed to load assistant definitions", "error", err)
		os.Exit(1)
	}
	assistants.SetOrgDefaults(cfg.OrgDefaults)

	ruleStore := rules.NewPostgresStore(dbClient.DB())
	dbSets, err := ruleStore.LoadAll(ctx)
	if err != nil {
		slog.Error("Failed to load persisted rule sets", "error", err)
		os.Exit(1)
	}
	ruleSets := rules.NewRegistry(nil)
	if err := ruleSets.ReplaceAll(mergeRuleSets(cfg.RuleSets, dbSets)); err != nil {
		slog.Error("Failed to install rule sets", "error", err)
		os.Exit(1)
	}
	slog.Info("Rule sets installed",
		"from_files", len(cfg.RuleSets), "from_database", len(dbSets))

	// 7. Operational event stream
	eventPublisher := events.NewEventPublisher(dbClient.DB())
	stream := events.NewStream(eventPublisher, cfg.Agent.Key)
	connManager := events.NewConnectionManager(events.NewCatchupStore(dbClient.DB()), 10*time.Second)
	wsListener := bus.NewListener(dbURL, func(channel string, payload []byte) {
		connManager.Broadcast(channel, payload)
	})
	if err := wsListener.Start(ctx); err != nil {
		slog.Error("Failed to start event stream listener", "error", err)
		os.Exit(1)
	}
	defer wsListener.Stop(ctx)
	connManager.SetListener(wsListener)
	slog.Info("Operational event stream initialized")

	// 8. Router and action layer
	embeddings, err := actions.NewEmbeddingService(integrations, assistants, cfg.Engine.EmbeddingCacheSize)
	if err != nil {
		slog.Error("Failed to initialize embedding service", "error", err)
		os.Exit(1)
	}

	var index *router.Index
	for _, def := range assistants.All() {
		if profile.ShouldUseEmbeddingRouting(assistants.ResolvedProfile(def.Key, "")) {
			index = router.NewIndex(routingEmbedder{
				embeddings:   embeddings,
				profiles:     assistants,
				assistantKey: cfg.Agent.Key,
			})
			break
		}
	}

	meshPublisher := bus.NewPublisher(dbClient.DB())
	aliases := router.NewAliasMap(cfg.Routing.Aliases)
	rtr := router.New(router.Options{
		Assistants: assistants,
		RuleSets:   ruleSets,
		Messaging:  messaging,
		Mesh:       meshPublisher,
		Webhooks:   router.NewWebhookClient(cfg.Engine.WebhookTimeout.Std()),
		Aliases:    aliases,
		Index:      index,
		Notices:    stream,
		Metrics:    m,
	})
	if index != nil {
		if err := rtr.RebuildIndex(ctx); err != nil {
			slog.Warn("Routing index rebuild failed, embedding routing degraded", "error", err)
		}
	}

	dispatcher, err := actions.NewStandardDispatcher(actions.Deps{
		Messaging:    messaging,
		Integrations: integrations,
		Profiles:     assistants,
		Embeddings:   embeddings,
		Router:       rtr,
	}, m)
	if err != nil {
		slog.Error("Failed to build action dispatcher", "error", err)
		os.Exit(1)
	}

	if err := validateStartup(dispatcher, ruleSets, assistants, aliases); err != nil {
		slog.Error("Startup validation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Startup validation passed")

	// 9. Run coordinator
	store := conversation.NewPostgresStore(dbClient.DB())
	coord, err := coordinator.New(coordinator.Options{
		AssistantKey:      cfg.Agent.Key,
		AssistantEntityID: cfg.Agent.EntityID,
		RuleSets:          ruleSets,
		Store:             store,
		Executor:          rules.NewExecutor(dispatcher),
		Tokens:            tokens,
		RunTimeout:        cfg.Engine.RunTimeout.Std(),
		MailboxDepth:      cfg.Engine.MailboxDepth,
		Metrics:           m,
		Events:            stream,
	})
	if err != nil {
		slog.Error("Failed to build coordinator", "error", err)
		os.Exit(1)
	}

	// 10. Mesh consumer
	consumer, err := bus.NewConsumer(bus.ConsumerConfig{
		ConnString: dbURL,
		Publisher:  meshPublisher,
		Process: func(ctx context.Context, envelope bus.MessageEnvelope) error {
			return coord.Enqueue(ctx, coordinator.EventFromEnvelope(envelope))
		},
		Control: func(_ context.Context, envelope bus.ControlEnvelope) {
			switch envelope.Event {
			case "cancel", "preempt":
				coord.CancelConversation(envelope.ConversationID)
			}
		},
		Metrics: m,
	})
	if err != nil {
		slog.Error("Failed to build mesh consumer", "error", err)
		os.Exit(1)
	}
	if err := consumer.Start(ctx, cfg.Agent.EntityID); err != nil {
		slog.Error("Failed to start mesh consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Stop(ctx)
	slog.Info("Mesh consumer started", "entity_id", cfg.Agent.EntityID)

	// 11. HTTP server
	reload := func() (map[string]*rules.RuleSet, error) {
		fresh, err := config.Initialize(ctx, *configDir)
		if err != nil {
			return nil, err
		}
		persisted, err := ruleStore.LoadAll(ctx)
		if err != nil {
			return nil, err
		}
		return mergeRuleSets(fresh.RuleSets, persisted), nil
	}
	server := api.NewServer(api.Options{
		DB:               dbClient,
		Store:            store,
		RuleSets:         ruleSets,
		RuleStore:        ruleStore,
		Reload:           reload,
		Ingress:          consumer,
		ConnManager:      connManager,
		Registry:         registry,
		APIKey:           apiKey,
		AllowedWSOrigins: cfg.Server.AllowedWSOrigins,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Listen); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Switchboard started",
		"assistant", cfg.Agent.Key,
		"listen", cfg.Server.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop ingest first so in-flight runs can finish, then drain HTTP.
	consumer.Stop(ctx)
	coord.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
