// Workflow orchestrator server - registers AI capability providers and
// exposes an HTTP API for running predefined pipelines against tenant-scoped
// budgets.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/budget"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/observability"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/orchestrator"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/pipelines"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/pipelines/predefined"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/providers"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// registerHTTPProvider constructs one instance of an HTTP-backed adapter via
// factory using apiKey read from envVar, reads its Registration off that
// instance, and registers the provider under factory so later calls build a
// fresh adapter per (apiKey, model). A provider with no API key configured is
// skipped rather than registered unavailable, matching the source's
// "providers without credentials are simply absent from the registry" idiom.
func registerHTTPProvider(registry *capabilities.Registry, envVar string, factory capabilities.AdapterFactory) {
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		log.Printf("Skipping provider registration: %s not set", envVar)
		return
	}
	adapter, err := factory(apiKey, "")
	if err != nil {
		log.Printf("Warning: failed to construct adapter for %s: %v", envVar, err)
		return
	}
	reg := adapter.Registration()
	registry.RegisterProvider(reg, factory)
	log.Printf("Registered provider: %s", reg.ProviderName)
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	log.Printf("Starting workflow orchestrator")
	log.Printf("HTTP Port: %s", httpPort)

	ctx := context.Background()

	registry := capabilities.NewRegistry()
	registerHTTPProvider(registry, "OPENAI_API_KEY", providers.NewOpenAIAdapter)
	registerHTTPProvider(registry, "ANTHROPIC_API_KEY", providers.NewAnthropicAdapter)
	registerHTTPProvider(registry, "DEEPGRAM_API_KEY", providers.NewDeepgramAdapter)
	registerHTTPProvider(registry, "ASSEMBLYAI_API_KEY", providers.NewAssemblyAIAdapter)

	redactionAdapter, err := providers.NewRedactionAdapter("", "")
	if err != nil {
		log.Fatalf("Failed to construct redaction adapter: %v", err)
	}
	registry.RegisterProvider(redactionAdapter.Registration(), providers.NewRedactionAdapter)
	log.Printf("Registered provider: accent_redaction")

	adapterCache, err := providers.NewAdapterCache()
	if err != nil {
		log.Fatalf("Failed to build adapter cache: %v", err)
	}
	executor := pipelines.NewExecutor(registry, adapterCache)

	budgetStore := budget.NewListStore()
	budgetsPath := filepath.Join(*configDir, "budgets.yaml")
	loaded, err := budget.LoadConfigsYAML(ctx, budgetStore, budgetsPath)
	if err != nil {
		log.Fatalf("Failed to load budget configs from %s: %v", budgetsPath, err)
	}
	log.Printf("Loaded %d tenant budget configs from %s", loaded, budgetsPath)

	metrics := observability.NewNoopMetrics()
	if getEnv("OTEL_METRICS_ENABLED", "false") == "true" {
		if m, err := observability.NewMetrics(nil); err != nil {
			log.Printf("Warning: failed to initialize OTel metrics, falling back to no-op: %v", err)
		} else {
			metrics = m
		}
	}
	tracer := observability.NewNoopTracer()
	if getEnv("OTEL_TRACING_ENABLED", "false") == "true" {
		tracer = observability.NewTracer(nil)
	}

	rt := orchestrator.NewRuntime(
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTracer(tracer),
		orchestrator.WithBudgetService(budget.NewService(budgetStore, budget.WithMetrics(metrics))),
	)

	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "healthy",
			"registered_budgets": loaded,
		})
	})

	router.POST("/pipelines/:name/execute", func(c *gin.Context) {
		name := c.Param("name")
		def, err := predefined.GetPipeline(name)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		var req struct {
			Input    map[string]any `json:"input"`
			TenantID string         `json:"tenant_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		orch := orchestrator.New(def, executor, rt)
		opts := orchestrator.ExecuteOptions{}
		if req.TenantID != "" {
			opts.TenantID = &req.TenantID
		}

		reqCtx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(def.TimeoutSeconds)*time.Second)
		defer cancel()

		result, err := orch.Execute(reqCtx, req.Input, opts)
		if err != nil {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	router.GET("/executions/:id/state", func(c *gin.Context) {
		state, ok := rt.EventStore.GetWorkflowState(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		c.JSON(http.StatusOK, state)
	})

	router.GET("/tenants/:id/budget", func(c *gin.Context) {
		result, err := rt.Budget.CheckBudget(c.Request.Context(), c.Param("id"), nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	log.Printf("HTTP server listening on :%s", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
