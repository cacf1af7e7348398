package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ToolEvent carries one observed tool use into a prompt.
type ToolEvent struct {
	ToolName       string
	ToolInput      string
	ToolResponse   string
	CWD            string
	CreatedAtEpoch int64
}

const systemIdentity = `You are a memory agent. You watch another engineering session from the outside and record what is learned, decided and changed, so future sessions can pick up where this one left off.`

const observerRole = `You never act on the observed session. You only read the events relayed to you and distill them into observations worth remembering. Most tool uses are routine and deserve no record; record only insights a future session would want.`

const outputFormat = `When a tool use yields something worth remembering, emit one or more observation blocks:

<observation>
  <type>[ decision | bugfix | feature | refactor | discovery | change ]</type>
  <title>One-line headline</title>
  <subtitle>Optional qualifier</subtitle>
  <facts>
    <fact>One concrete, standalone fact</fact>
  </facts>
  <narrative>Optional free-text context</narrative>
  <concepts>
    <concept>short-tag</concept>
  </concepts>
  <files_read>
    <file>path/relative/to/project</file>
  </files_read>
  <files_modified>
    <file>path/relative/to/project</file>
  </files_modified>
</observation>

If nothing is worth recording, respond with plain text and no blocks.`

const summaryFormat = `Summarize the session so far in exactly one block:

<summary>
  <request>What the user originally asked for</request>
  <investigated>What was examined</investigated>
  <learned>What was learned</learned>
  <completed>What was finished</completed>
  <next_steps>What remains</next_steps>
  <notes>Anything else worth carrying forward</notes>
</summary>

If the session was too thin to summarize, emit <skip_summary reason="..."/> instead.`

// InitPrompt opens a new agent session for a project.
func InitPrompt(project, userPrompt string) string {
	return fmt.Sprintf(`%s

<observed_from_primary_session>
  <project>%s</project>
  <user_request>%s</user_request>
  <requested_at>%s</requested_at>
</observed_from_primary_session>

%s

%s`,
		systemIdentity, project, userPrompt,
		time.Now().Format("2006-01-02"),
		observerRole, outputFormat)
}

// ContinuationPrompt re-anchors an existing agent session on a new user
// prompt.
func ContinuationPrompt(userPrompt string, promptNumber int) string {
	return fmt.Sprintf(`The observed session continues with prompt %d.

<observed_from_primary_session>
  <user_request>%s</user_request>
  <requested_at>%s</requested_at>
</observed_from_primary_session>

Keep recording as before.

%s`,
		promptNumber, userPrompt, time.Now().Format("2006-01-02"), outputFormat)
}

// ObservationPrompt relays one tool use to the agent. Tool payloads are
// usually JSON already; plain strings pass through as-is.
func ObservationPrompt(ev *ToolEvent) string {
	var b strings.Builder
	b.WriteString("<observed_from_primary_session>\n")
	fmt.Fprintf(&b, "  <what_happened>%s</what_happened>\n", ev.ToolName)
	fmt.Fprintf(&b, "  <occurred_at>%s</occurred_at>\n",
		time.UnixMilli(ev.CreatedAtEpoch).UTC().Format(time.RFC3339))
	if ev.CWD != "" {
		fmt.Fprintf(&b, "  <working_directory>%s</working_directory>\n", ev.CWD)
	}
	fmt.Fprintf(&b, "  <parameters>%s</parameters>\n", reindentJSON(ev.ToolInput))
	fmt.Fprintf(&b, "  <outcome>%s</outcome>\n", reindentJSON(ev.ToolResponse))
	b.WriteString("</observed_from_primary_session>")
	return b.String()
}

// SummaryPrompt asks for a checkpoint rollup of the session so far.
func SummaryPrompt(lastAssistantMessage string) string {
	return fmt.Sprintf(`Checkpoint reached in the observed session.

The observed assistant last said:
%s

%s`, lastAssistantMessage, summaryFormat)
}

func reindentJSON(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return string(pretty)
}
