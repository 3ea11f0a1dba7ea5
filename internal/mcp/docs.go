package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `inkwell hosts live collaborative editing sessions over articles.

Core concepts:
- Article: stored title and content with a version history. Editors need edit rights.
- Session: the live copy of one article while people edit it. At most one open session per article.
- Operation: insert, delete or replace at a rune position in the title or content. Every committed operation gets the next sequence number.
- Participant: one user's presence in a session with a cursor and a color.

These tools inspect and administer sessions. Editing itself happens over the WebSocket protocol.

Typical workflow:
1) list_sessions (filter by article_id or statuses) to find a session.
2) get_session for the live text, list_participants for who is there, get_operations for the log.
3) verify_session replays the log from the session's base and reports whether it matches.
4) lock_session / unlock_session to freeze edits, save_session to write a new article version and complete the session.
5) get_recent_activity for the audit trail. cleanup_sessions expires idle sessions on demand.

Docs:
- inkwell://docs/index
- inkwell://docs/concepts
- inkwell://docs/errors
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "inkwell://docs/index",
		Name:        "docs_index",
		Title:       "inkwell docs index",
		Description: "Entry point: what the tools do and which doc to read next.",
		Content: `# inkwell: Agent Docs Index

## Tools

- ` + "`list_sessions`" + `, ` + "`get_session`" + `: find sessions and read their live text.
- ` + "`get_operations`" + `: page through the log with ` + "`after`" + ` and ` + "`limit`" + `.
- ` + "`list_participants`" + `: cursors and colors; ` + "`active_only`" + ` hides idle editors.
- ` + "`lock_session`" + `, ` + "`unlock_session`" + `: only the lock owner can edit or unlock.
- ` + "`save_session`" + `: writes a new article version. The session is completed afterwards.
- ` + "`verify_session`" + `: replays the log and compares with the live text.
- ` + "`get_recent_activity`" + `, ` + "`cleanup_sessions`" + `.

## Docs

- ` + "`inkwell://docs/concepts`" + ` for the session lifecycle and sequencing rules.
- ` + "`inkwell://docs/errors`" + ` for error codes and what to do about them.
`,
	},
	{
		URI:         "inkwell://docs/concepts",
		Name:        "docs_concepts",
		Title:       "Sessions and sequencing",
		Description: "Session lifecycle, operation sequencing and presence rules.",
		Content: `# Sessions and sequencing

## Lifecycle

- **active**: accepts operations from any editor.
- **locked**: accepts operations only from the lock owner.
- **inactive**: expired or idle. Reopening the article reactivates it with its text intact.
- **completed**: saved. Terminal; the next editor starts a fresh session from the saved article.

## Sequencing

Every committed operation takes sequence ` + "`n+1`" + `. An operation written against an older
sequence is transformed over everything committed since, or rejected with a sequence
conflict when the editor sent no base sequence. Replaying the log from the session's base
always reproduces the live text; ` + "`verify_session`" + ` checks exactly that.

## Presence

A participant is active while connected and seen within the last five minutes. Capacity
counts every participant that has not disconnected.
`,
	},
	{
		URI:         "inkwell://docs/errors",
		Name:        "docs_errors",
		Title:       "Error codes",
		Description: "Error codes returned by tools and how to recover.",
		Content: `# Error codes

Tool errors come back as ` + "`{\"error\": {code, message, recovery_hint}}`" + ` with ` + "`isError`" + ` set.

- SESSION_NOT_FOUND: the id is wrong. Use ` + "`list_sessions`" + `.
- SESSION_COMPLETED: already saved. Open a new session on the article.
- SESSION_LOCKED / NOT_LOCK_OWNER: someone else holds the lock.
- PERMISSION_DENIED: the acting user has no edit rights on the article.
- PERSISTENCE: the store is unreachable. Retry later; nothing was changed.
- INVALID_INPUT: a required argument is missing or malformed.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		doc := doc

		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
