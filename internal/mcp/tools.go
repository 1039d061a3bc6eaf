package mcp

// Tools exposed over MCP for campaign/run status, adapted from the
// teacher's dashboard tool set (loadgen_status/start/stop/history/...)
// to the read-only surface that fits a spamming engine: contenderd
// never starts or stops a run through this server (scenario execution
// is a CLI concern, out of scope), it only reports on runs the
// runner has already recorded via DbOps. registerRunStatus mirrors
// registerStatus's request/response shape; registerListRuns and
// registerCampaignStatus replace registerHistory/registerTestDetail.

import (
	"context"
	"encoding/json"
	"fmt"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers the run/campaign status tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerRunStatus(s, client)
	registerListRuns(s, client)
	registerCampaignStatus(s, client)
}

func registerRunStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("contender_run_status",
		gomcp.WithDescription("Get one run's status: scenario, block range, pending/receipt counts, and outcome summary (sent/landed/reverted/timed-out)."),
		gomcp.WithNumber("run_id",
			gomcp.Required(),
			gomcp.Description("The run_id to look up"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		runID := req.GetInt("run_id", 0)
		raw, err := client.Get(fmt.Sprintf("/runs/%d", runID))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("contenderd unreachable: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunStatus(raw)), nil
	})
}

func registerListRuns(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("contender_list_runs",
		gomcp.WithDescription("List recent runs, optionally scoped to a campaign name."),
		gomcp.WithString("campaign",
			gomcp.Description("Optional campaign name filter"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		path := "/runs"
		if c := req.GetString("campaign", ""); c != "" {
			path += "?campaign=" + c
		}
		raw, err := client.Get(path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("contenderd unreachable: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunList(raw)), nil
	})
}

func registerCampaignStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("contender_campaign_status",
		gomcp.WithDescription("Get a campaign's stage-by-stage status: which stage is active and each stage's runs."),
		gomcp.WithString("name",
			gomcp.Required(),
			gomcp.Description("Campaign name"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return gomcp.NewToolResultError("name is required"), nil
		}
		raw, err := client.Get("/campaigns/" + name)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("contenderd unreachable: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatCampaignStatus(raw)), nil
	})
}

func formatRunStatus(raw json.RawMessage) string {
	var r struct {
		RunID         uint64 `json:"runId"`
		ScenarioName  string `json:"scenarioName"`
		ScenarioLabel string `json:"scenarioLabel"`
		StartBlock    uint64 `json:"startBlock"`
		EndBlock      uint64 `json:"endBlock"`
		PendingCount  int    `json:"pendingCount"`
		ReceiptCount  int    `json:"receiptCount"`
		Landed        int    `json:"landed"`
		Reverted      int    `json:"reverted"`
		TimedOut      int    `json:"timedOut"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Sprintf("Error parsing run status: %v", err)
	}
	return joinLines(
		section(fmt.Sprintf("Run %d — %s", r.RunID, r.ScenarioName)),
		kv("Scenario Label", r.ScenarioLabel),
		kv("Blocks", fmt.Sprintf("%d → %d", r.StartBlock, r.EndBlock)),
		kv("Pending", formatNumber(r.PendingCount)),
		kv("Receipts", formatNumber(r.ReceiptCount)),
		kv("Landed", formatNumber(r.Landed)),
		kv("Reverted", formatNumber(r.Reverted)),
		kv("Timed Out", formatNumber(r.TimedOut)),
	)
}

func formatRunList(raw json.RawMessage) string {
	var runs []struct {
		RunID        uint64 `json:"runId"`
		ScenarioName string `json:"scenarioName"`
		CampaignName string `json:"campaignName"`
		StageName    string `json:"stageName"`
	}
	if err := json.Unmarshal(raw, &runs); err != nil {
		return fmt.Sprintf("Error parsing run list: %v", err)
	}
	if len(runs) == 0 {
		return "No runs recorded."
	}
	lines := section(fmt.Sprintf("%d run(s)", len(runs)))
	for _, r := range runs {
		line := fmt.Sprintf("\n  [%d] %s", r.RunID, r.ScenarioName)
		if r.CampaignName != "" {
			line += fmt.Sprintf("  (campaign=%s stage=%s)", r.CampaignName, r.StageName)
		}
		lines += line
	}
	return lines
}

func formatCampaignStatus(raw json.RawMessage) string {
	var c struct {
		Name   string `json:"name"`
		Stages []struct {
			Name   string   `json:"name"`
			Active bool     `json:"active"`
			RunIDs []uint64 `json:"runIds"`
		} `json:"stages"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Sprintf("Error parsing campaign status: %v", err)
	}
	lines := section("Campaign " + c.Name)
	for _, st := range c.Stages {
		marker := "  "
		if st.Active {
			marker = "> "
		}
		lines += fmt.Sprintf("\n%s%s: runs=%v", marker, st.Name, st.RunIDs)
	}
	return lines
}
