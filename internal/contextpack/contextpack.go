// Package contextpack renders the compressed memory context injected at
// the start of a new session: recent observations for the project, the
// latest summary, and rough token economics.
package contextpack

import (
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/memclaw/internal/config"
	"github.com/roelfdiedericks/memclaw/internal/store"
	"github.com/roelfdiedericks/memclaw/internal/tokens"
)

// Builder assembles context output from the store.
type Builder struct {
	store *store.Store
	cfg   *config.ContextConfig
}

func New(s *store.Store, cfg *config.ContextConfig) *Builder {
	return &Builder{store: s, cfg: cfg}
}

// Build renders the context for a project. An empty string means there is
// no memory yet; callers inject nothing in that case.
func (b *Builder) Build(project string) (string, error) {
	observations, err := b.store.RecentObservations(project, b.cfg.ObservationCount)
	if err != nil {
		return "", err
	}
	summaries, err := b.store.RecentSummaries(project, b.cfg.SummaryCount)
	if err != nil {
		return "", err
	}
	if len(observations) == 0 && len(summaries) == 0 {
		return "", nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "# Memory: %s\n\n", project)
	fmt.Fprintf(&out, "%d observations from earlier sessions. The most recent appear in full; older ones are headlines only.\n\n",
		len(observations))

	// Newest first from the store; render oldest to newest so the reader
	// ends on the most recent work.
	for i := len(observations) - 1; i >= 0; i-- {
		o := observations[i]
		if i < b.cfg.FullCount {
			renderFull(&out, &o, b.cfg.ShowReadTokens)
		} else {
			renderHeadline(&out, &o)
		}
	}

	if len(summaries) > 0 {
		renderSummary(&out, &summaries[0])
	}

	total := 0
	for _, o := range observations {
		if o.DiscoveryTokens != nil {
			total += *o.DiscoveryTokens
		}
	}
	if total > 0 {
		rendered := tokens.Estimate(out.String())
		fmt.Fprintf(&out, "\n_%d tokens of discovery compressed into ~%d._\n", total, rendered)
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

func renderHeadline(out *strings.Builder, o *store.Observation) {
	fmt.Fprintf(out, "- [%s] %s %s\n", o.Type, day(o.CreatedAtEpoch), o.Title)
}

func renderFull(out *strings.Builder, o *store.Observation, showTokens bool) {
	fmt.Fprintf(out, "\n## [%s] %s\n", o.Type, o.Title)
	if o.Subtitle != "" {
		fmt.Fprintf(out, "%s\n", o.Subtitle)
	}
	for _, f := range o.Facts {
		fmt.Fprintf(out, "- %s\n", f)
	}
	if o.Narrative != "" {
		fmt.Fprintf(out, "\n%s\n", o.Narrative)
	}
	if len(o.FilesModified) > 0 {
		fmt.Fprintf(out, "Modified: %s\n", strings.Join(o.FilesModified, ", "))
	}
	if showTokens && len(o.FilesRead) > 0 {
		fmt.Fprintf(out, "Read: %s\n", strings.Join(o.FilesRead, ", "))
	}
}

func renderSummary(out *strings.Builder, m *store.Summary) {
	out.WriteString("\n## Last session\n")
	field(out, "Request", m.Request)
	field(out, "Learned", m.Learned)
	field(out, "Completed", m.Completed)
	field(out, "Next steps", m.NextSteps)
	field(out, "Notes", m.Notes)
}

func field(out *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(out, "**%s:** %s\n", label, value)
	}
}

func day(epoch int64) string {
	return time.UnixMilli(epoch).Format("Jan 02")
}
