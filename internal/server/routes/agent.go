package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/feel-playground/feel-cache/internal/agent"
	"github.com/feel-playground/feel-cache/internal/cache"
	"github.com/feel-playground/feel-cache/internal/notify"
)

// StatusReporter 提供 agent 诊断快照，测试可注入固定数据。
type StatusReporter interface {
	Status() agent.Status
}

// RegisterAgentRoutes 暴露 /-/agent 诊断接口，查看缓存代际、客户端与最近一次预缓存结果。
func RegisterAgentRoutes(app *fiber.App, reporter StatusReporter) {
	if app == nil || reporter == nil {
		return
	}

	app.Get("/-/agent", func(c fiber.Ctx) error {
		return c.JSON(encodeStatus(reporter.Status()))
	})
}

type agentPayload struct {
	State        string          `json:"state"`
	Store        string          `json:"store"`
	Version      string          `json:"version"`
	SkipWaiting  bool            `json:"skip_waiting"`
	InstalledAt  string          `json:"installed_at,omitempty"`
	ActivatedAt  string          `json:"activated_at,omitempty"`
	Claimed      int             `json:"claimed"`
	PendingTasks int             `json:"pending_tasks"`
	Clients      []clientPayload `json:"clients"`
	Seed         *seedPayload    `json:"seed,omitempty"`
}

type clientPayload struct {
	ID          string `json:"id"`
	Controller  string `json:"controller,omitempty"`
	ConnectedAt string `json:"connected_at"`
}

type seedPayload struct {
	Seeded  int      `json:"seeded"`
	Present int      `json:"present"`
	Failed  []string `json:"failed"`
}

func encodeStatus(status agent.Status) agentPayload {
	payload := agentPayload{
		State:        string(status.State),
		Store:        status.Store,
		Version:      status.Version,
		SkipWaiting:  status.SkipWaiting,
		InstalledAt:  formatTime(status.InstalledAt),
		ActivatedAt:  formatTime(status.ActivatedAt),
		Claimed:      status.Claimed,
		PendingTasks: status.PendingTasks,
		Clients:      encodeClients(status.Clients),
	}
	if status.LastSeed != nil {
		payload.Seed = encodeSeed(*status.LastSeed)
	}
	return payload
}

func encodeClients(clients []notify.ClientInfo) []clientPayload {
	result := make([]clientPayload, 0, len(clients))
	for _, client := range clients {
		result = append(result, clientPayload{
			ID:          client.ID,
			Controller:  client.Controller,
			ConnectedAt: formatTime(client.ConnectedAt),
		})
	}
	return result
}

func encodeSeed(report cache.SeedReport) *seedPayload {
	failed := make([]string, 0, len(report.Failed))
	for _, key := range report.Failed {
		failed = append(failed, string(key))
	}
	return &seedPayload{
		Seeded:  len(report.Seeded),
		Present: len(report.Present),
		Failed:  failed,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
