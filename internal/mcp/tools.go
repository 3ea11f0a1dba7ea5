package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/domain/session"
)

const defaultOperationLimit = 100

type sessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"Session ID"`
}

type listSessionsArgs struct {
	ArticleID string   `json:"article_id,omitempty" jsonschema:"Only sessions of this article"`
	Statuses  []string `json:"statuses,omitempty" jsonschema:"Filter by status: active, locked, inactive, completed"`
	Limit     int      `json:"limit,omitempty" jsonschema:"Maximum number of sessions"`
}

type operationsArgs struct {
	SessionID string `json:"session_id" jsonschema:"Session ID"`
	After     int64  `json:"after,omitempty" jsonschema:"Only operations with a greater sequence number"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum number of operations (default 100)"`
}

type participantsArgs struct {
	SessionID  string `json:"session_id" jsonschema:"Session ID"`
	ActiveOnly bool   `json:"active_only,omitempty" jsonschema:"Only participants active in the last five minutes"`
}

type saveArgs struct {
	SessionID string `json:"session_id" jsonschema:"Session ID"`
	Note      string `json:"note,omitempty" jsonschema:"Note stored with the article version"`
}

type activityArgs struct {
	SessionID string  `json:"session_id,omitempty" jsonschema:"Session ID to filter by"`
	ArticleID string  `json:"article_id,omitempty" jsonschema:"Article ID to filter by"`
	UserID    *string `json:"user_id,omitempty" jsonschema:"User ID to filter by"`
	Type      *string `json:"type,omitempty" jsonschema:"Activity type to filter by"`
	Limit     int     `json:"limit,omitempty" jsonschema:"Maximum number of activity entries"`
}

type noArgs struct{}

// registerTools adds the inspection and admin tools.
func registerTools(server *sdkmcp.Server, svc Services) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "ping",
		Description: "Check that the server is reachable",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noArgs) (*sdkmcp.CallToolResult, any, error) {
		return textResult("pong"), nil, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_sessions",
		Description: "List editing sessions, newest first, optionally filtered by article and status",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args listSessionsArgs) (*sdkmcp.CallToolResult, any, error) {
		opts := session.ListOptions{ArticleID: args.ArticleID, Limit: args.Limit}
		for _, st := range args.Statuses {
			opts.Statuses = append(opts.Statuses, session.SessionStatus(st))
		}
		sessions, err := svc.Sessions.List(ctx, opts)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{"sessions": sessions})
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_session",
		Description: "Get the live state of a session including its current title and content",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args sessionArgs) (*sdkmcp.CallToolResult, any, error) {
		sess, err := svc.Sessions.Get(ctx, args.SessionID)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(sess)
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_operations",
		Description: "Read a session's operation log in sequence order",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args operationsArgs) (*sdkmcp.CallToolResult, any, error) {
		limit := args.Limit
		if limit <= 0 {
			limit = defaultOperationLimit
		}
		entries, err := svc.Sessions.Operations(ctx, args.SessionID, args.After, limit)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{"operations": entries})
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_participants",
		Description: "List the participants of a session with their cursors",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args participantsArgs) (*sdkmcp.CallToolResult, any, error) {
		list := svc.Participants.List
		if args.ActiveOnly {
			list = svc.Participants.Active
		}
		participants, err := list(ctx, args.SessionID)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{"participants": participants})
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "lock_session",
		Description: "Lock a session so that only the caller can edit it",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args sessionArgs) (*sdkmcp.CallToolResult, any, error) {
		sess, err := svc.Sessions.Lock(ctx, args.SessionID, getUserID(ctx))
		if err != nil {
			return toolError(err)
		}
		return jsonResult(sess)
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "unlock_session",
		Description: "Release a lock held by the caller",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args sessionArgs) (*sdkmcp.CallToolResult, any, error) {
		sess, err := svc.Sessions.Unlock(ctx, args.SessionID, getUserID(ctx))
		if err != nil {
			return toolError(err)
		}
		return jsonResult(sess)
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "save_session",
		Description: "Save a session's text as a new article version and complete the session",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args saveArgs) (*sdkmcp.CallToolResult, any, error) {
		result, err := svc.Sessions.Save(ctx, args.SessionID, getUserID(ctx), args.Note)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{
			"version_id":      result.VersionID,
			"sequence_number": result.Session.Sequence,
			"session":         result.Session,
		})
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "verify_session",
		Description: "Replay a session's log from its base and report whether it reproduces the live text",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args sessionArgs) (*sdkmcp.CallToolResult, any, error) {
		replay, err := svc.Sessions.Replay(ctx, args.SessionID)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(replay)
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "cleanup_sessions",
		Description: "Mark expired and idle sessions inactive",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noArgs) (*sdkmcp.CallToolResult, any, error) {
		n, err := svc.Sessions.CleanupExpired(ctx)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]int{"expired": n})
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_recent_activity",
		Description: "Get recent activity entries for a session or article",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args activityArgs) (*sdkmcp.CallToolResult, any, error) {
		opts := activity.ListActivityOptions{
			SessionID: args.SessionID,
			ArticleID: args.ArticleID,
			UserID:    args.UserID,
			Limit:     args.Limit,
		}
		if args.Type != nil {
			typ := activity.ActivityType(*args.Type)
			opts.ActivityType = &typ
		}
		entries, err := svc.Activity.GetRecentActivity(ctx, opts)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{"activity": entries})
	})
}

func textResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*sdkmcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}
	return textResult(string(data)), nil, nil
}

// toolError reports a domain error as a tool result so the model can read
// the code and recovery hint. Unmapped errors fail the call.
func toolError(err error) (*sdkmcp.CallToolResult, any, error) {
	apiErr := MapError(err)
	if apiErr == nil {
		return nil, nil, err
	}
	data, mErr := json.Marshal(map[string]*APIError{"error": apiErr})
	if mErr != nil {
		return nil, nil, errors.Join(err, mErr)
	}
	result := textResult(string(data))
	result.IsError = true
	return result, nil, nil
}
