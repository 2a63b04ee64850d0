package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aisopod/aisopod/cmd/picoclaw/internal"
	"github.com/aisopod/aisopod/pkg/agent"
	"github.com/aisopod/aisopod/pkg/auth"
	"github.com/aisopod/aisopod/pkg/bus"
	"github.com/aisopod/aisopod/pkg/channels"
	_ "github.com/aisopod/aisopod/pkg/channels/dingtalk"
	_ "github.com/aisopod/aisopod/pkg/channels/discord"
	_ "github.com/aisopod/aisopod/pkg/channels/feishu"
	_ "github.com/aisopod/aisopod/pkg/channels/irc"
	_ "github.com/aisopod/aisopod/pkg/channels/line"
	_ "github.com/aisopod/aisopod/pkg/channels/maixcam"
	_ "github.com/aisopod/aisopod/pkg/channels/matrix"
	_ "github.com/aisopod/aisopod/pkg/channels/onebot"
	_ "github.com/aisopod/aisopod/pkg/channels/pico"
	_ "github.com/aisopod/aisopod/pkg/channels/slack"
	_ "github.com/aisopod/aisopod/pkg/channels/telegram"
	_ "github.com/aisopod/aisopod/pkg/channels/wecom"
	_ "github.com/aisopod/aisopod/pkg/channels/whatsapp"
	_ "github.com/aisopod/aisopod/pkg/channels/whatsapp_native"
	"github.com/aisopod/aisopod/pkg/config"
	"github.com/aisopod/aisopod/pkg/cron"
	"github.com/aisopod/aisopod/pkg/devices"
	"github.com/aisopod/aisopod/pkg/gateway"
	"github.com/aisopod/aisopod/pkg/health"
	"github.com/aisopod/aisopod/pkg/heartbeat"
	"github.com/aisopod/aisopod/pkg/logger"
	"github.com/aisopod/aisopod/pkg/media"
	"github.com/aisopod/aisopod/pkg/providers"
	"github.com/aisopod/aisopod/pkg/routing"
	"github.com/aisopod/aisopod/pkg/state"
	"github.com/aisopod/aisopod/pkg/tools"
)

func gatewayCmd(debug bool, logFilter string) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}
	if logFilter != "" {
		logger.SetComponentFilter(logFilter)
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	provider, modelID, err := providers.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("error creating provider: %w", err)
	}

	// Use the resolved model ID from provider creation
	if modelID != "" {
		cfg.Agents.Defaults.ModelName = modelID
	}

	msgBus := bus.NewMessageBus()
	agentLoop := agent.NewAgentLoop(cfg, msgBus, provider)

	// Print agent startup info
	fmt.Println("\n📦 Agent Status:")
	startupInfo := agentLoop.GetStartupInfo()
	toolsInfo := startupInfo["tools"].(map[string]any)
	skillsInfo := startupInfo["skills"].(map[string]any)
	fmt.Printf("  • Tools: %d loaded\n", toolsInfo["count"])
	fmt.Printf("  • Skills: %d/%d available\n",
		skillsInfo["available"],
		skillsInfo["total"])

	// Log to file as well
	logger.InfoCF("agent", "Agent initialized",
		map[string]any{
			"tools_count":      toolsInfo["count"],
			"skills_total":     skillsInfo["total"],
			"skills_available": skillsInfo["available"],
		})

	mcpManager := setupMCPTools(agentLoop, cfg)

	// Setup cron tool and service
	execTimeout := time.Duration(cfg.Tools.Cron.ExecTimeoutMinutes) * time.Minute
	cronService := setupCronTool(
		agentLoop,
		msgBus,
		cfg.WorkspacePath(),
		cfg.Agents.Defaults.RestrictToWorkspace,
		execTimeout,
		cfg,
	)

	heartbeatService := heartbeat.NewHeartbeatService(
		cfg.WorkspacePath(),
		cfg.Heartbeat.Interval,
		cfg.Heartbeat.Enabled,
	)
	heartbeatService.SetBus(msgBus)
	heartbeatService.SetHandler(func(prompt, channel, chatID string) *tools.ToolResult {
		// Use cli:direct as fallback if no valid channel
		if channel == "" || chatID == "" {
			channel, chatID = "cli", "direct"
		}
		// Use ProcessHeartbeat - no session history, each heartbeat is independent
		var response string
		response, err = agentLoop.ProcessHeartbeat(context.Background(), prompt, channel, chatID)
		if err != nil {
			return tools.ErrorResult(fmt.Sprintf("Heartbeat error: %v", err))
		}
		if response == "HEARTBEAT_OK" {
			return tools.SilentResult("Heartbeat OK")
		}
		// For heartbeat, always return silent - the subagent result will be
		// sent to user via processSystemMessage when the async task completes
		return tools.SilentResult(response)
	})

	// Create media store for file lifecycle management with TTL cleanup
	mediaStore := media.NewFileMediaStoreWithCleanup(media.MediaCleanerConfig{
		Enabled:  cfg.Tools.MediaCleanup.Enabled,
		MaxAge:   time.Duration(cfg.Tools.MediaCleanup.MaxAge) * time.Minute,
		Interval: time.Duration(cfg.Tools.MediaCleanup.Interval) * time.Minute,
	})
	mediaStore.Start()

	channelManager, err := channels.NewManager(cfg, msgBus, mediaStore)
	if err != nil {
		mediaStore.Stop()
		return fmt.Errorf("error creating channel manager: %w", err)
	}

	// Inject channel manager and media store into agent loop
	agentLoop.SetChannelManager(channelManager)
	agentLoop.SetMediaStore(mediaStore)

	enabledChannels := channelManager.GetEnabledChannels()
	if len(enabledChannels) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", enabledChannels)
	} else {
		fmt.Println("⚠ Warning: No channels enabled")
	}

	fmt.Printf("✓ Gateway started on %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Println("Press Ctrl+C to stop")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cronService.Start(); err != nil {
		fmt.Printf("Error starting cron service: %v\n", err)
	}
	fmt.Println("✓ Cron service started")

	if err := heartbeatService.Start(); err != nil {
		fmt.Printf("Error starting heartbeat service: %v\n", err)
	}
	fmt.Println("✓ Heartbeat service started")

	stateManager := state.NewManager(cfg.WorkspacePath())
	deviceService := devices.NewService(devices.Config{
		Enabled:    cfg.Devices.Enabled,
		MonitorUSB: cfg.Devices.MonitorUSB,
	}, stateManager)
	deviceService.SetBus(msgBus)
	if err := deviceService.Start(ctx); err != nil {
		fmt.Printf("Error starting device service: %v\n", err)
	} else if cfg.Devices.Enabled {
		fmt.Println("✓ Device event service started")
	}

	// Setup shared HTTP server with health endpoints and webhook handlers
	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	channelManager.SetupHTTPServer(addr, healthServer)

	registry := gateway.NewRegistry()
	healthServer.SetSnapshotProvider(registry.HealthSnapshot)
	gatewayServer, err := setupGatewayServer(cfg, registry, agentLoop)
	if err != nil {
		return fmt.Errorf("error setting up gateway server: %w", err)
	}
	channelManager.Mux().Handle("/ws", gatewayServer)

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
	}

	fmt.Printf("✓ Gateway WebSocket endpoint available at ws://%s/ws\n", addr)
	fmt.Printf("✓ Health endpoints available at http://%s:%d/health and /ready\n", cfg.Gateway.Host, cfg.Gateway.Port)

	go agentLoop.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	if cp, ok := provider.(providers.StatefulProvider); ok {
		cp.Close()
	}
	cancel()
	msgBus.Close()

	// Use a fresh context with timeout for graceful shutdown,
	// since the original ctx is already canceled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	channelManager.StopAll(shutdownCtx)
	deviceService.Stop()
	heartbeatService.Stop()
	cronService.Stop()
	mediaStore.Stop()
	mcpManager.Close()
	agentLoop.Stop()
	fmt.Println("✓ Gateway stopped")

	return nil
}

// setupGatewayServer builds the operator WebSocket server: auth tables
// from config, the chat.send/node.* RPC handlers, and the device-token
// store backing token-mode pairing.
func setupGatewayServer(cfg *config.Config, registry *gateway.Registry, agentLoop *agent.AgentLoop) (*gateway.Server, error) {
	mode, tokens, passwords, err := auth.FromConfig(cfg.Auth)
	if err != nil {
		return nil, err
	}

	deviceTokenPath := filepath.Join(cfg.WorkspacePath(), "gateway", "device_tokens.toml")
	deviceTokens := auth.NewDeviceTokenStore(deviceTokenPath)

	srv := gateway.NewServer(registry)
	srv.AuthMode = mode
	srv.Tokens = tokens
	srv.Passwords = passwords
	srv.DeviceTokens = deviceTokens

	srv.Handle("chat.send", func(ctx context.Context, _ *gateway.Client, params json.RawMessage) (any, error) {
		var req struct {
			AgentID string `json:"agent_id"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid chat.send params: %w", err)
		}

		response, err := agentLoop.ProcessDirectForAgent(ctx, req.AgentID, req.Message)
		if err != nil {
			return nil, err
		}

		sessionKey := routing.BuildAgentMainSessionKey(req.AgentID)
		usageReport := agentLoop.Usage().Session(sessionKey)

		return map[string]any{
			"response": response,
			"usage": map[string]any{
				"prompt_tokens":     usageReport.PromptTokens,
				"completion_tokens": usageReport.CompletionTokens,
				"total_tokens":      usageReport.TotalTokens,
			},
		}, nil
	})

	srv.Handle("node.pair.request", func(ctx context.Context, client *gateway.Client, params json.RawMessage) (any, error) {
		var req struct {
			DeviceInfo struct {
				Name string `json:"name"`
			} `json:"device_info"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid node.pair.request params: %w", err)
		}

		deviceID := uuid.NewString()
		pairingCode, err := deviceTokens.Issue(req.DeviceInfo.Name, deviceID, []string{"node:pair", "node:invoke"})
		if err != nil {
			return nil, fmt.Errorf("issue device token: %w", err)
		}

		return map[string]any{
			"pairing_code": pairingCode,
			"device_id":    deviceID,
		}, nil
	})

	srv.Handle("node.describe", func(ctx context.Context, client *gateway.Client, params json.RawMessage) (any, error) {
		client.Kind = gateway.KindNode
		return map[string]any{
			"node_id":  client.ConnID,
			"accepted": true,
		}, nil
	})

	srv.Handle("node.invoke", func(ctx context.Context, client *gateway.Client, params json.RawMessage) (any, error) {
		return nil, fmt.Errorf("node.invoke: no node method dispatch table configured")
	})

	return srv, nil
}

// setupMCPTools connects to every configured MCP server and bridges its
// tools into the agent's shared tool registry. Returns the manager so the
// caller can close every session on shutdown; failures to connect to an
// individual server are logged, not fatal.
func setupMCPTools(agentLoop *agent.AgentLoop, cfg *config.Config) *tools.MCPManager {
	manager := tools.NewMCPManager("aisopod", "1.0")

	bridge := tools.NewToolRegistry()
	for _, server := range cfg.Tools.MCP.Servers {
		if err := manager.Connect(context.Background(), tools.MCPServerConfig{
			Name:    server.Name,
			Command: server.Command,
			Args:    server.Args,
			Env:     server.Env,
		}); err != nil {
			logger.WarnCF("mcp", "failed to connect to server", map[string]any{
				"server": server.Name, "error": err.Error(),
			})
			continue
		}
	}

	n := tools.RegisterMCPTools(context.Background(), manager, bridge)
	if n > 0 {
		for _, t := range bridge.List() {
			agentLoop.RegisterTool(t)
		}
		logger.InfoCF("mcp", "bridged MCP tools into agent registry", map[string]any{"count": n})
	}

	return manager
}

func setupCronTool(
	agentLoop *agent.AgentLoop,
	msgBus *bus.MessageBus,
	workspace string,
	restrict bool,
	execTimeout time.Duration,
	cfg *config.Config,
) *cron.CronService {
	cronStorePath := filepath.Join(workspace, "cron", "jobs.json")

	// Create cron service
	cronService := cron.NewCronService(cronStorePath, nil)

	// Create and register CronTool
	cronTool := tools.NewCronTool(cronService, agentLoop, msgBus, workspace, restrict, execTimeout, cfg)
	agentLoop.RegisterTool(cronTool)

	// Set the onJob handler
	cronService.SetOnJob(func(job *cron.CronJob) (string, error) {
		result := cronTool.ExecuteJob(context.Background(), job)
		return result, nil
	})

	return cronService
}
