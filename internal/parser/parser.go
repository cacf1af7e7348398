// Package parser extracts observation and summary markup blocks from
// agent responses. Responses are free text; a response containing no
// blocks is normal, not an error.
package parser

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/roelfdiedericks/memclaw/internal/store"
)

var (
	observationRe = regexp.MustCompile(`(?s)<observation>(.*?)</observation>`)
	summaryRe     = regexp.MustCompile(`(?s)<summary>(.*?)</summary>`)
	skipSummaryRe = regexp.MustCompile(`<skip_summary\s+reason="([^"]+)"\s*/>`)
)

// Parser turns raw agent text into store rows.
type Parser struct {
	log *log.Logger
}

func New(logger *log.Logger) *Parser {
	return &Parser{log: logger}
}

// Observations extracts every observation block. Observations are always
// kept: a missing or unknown type falls back to the first valid type
// instead of dropping the block, and every other field is optional.
func (p *Parser) Observations(text string) []store.Observation {
	var observations []store.Observation

	for _, match := range observationRe.FindAllStringSubmatch(text, -1) {
		content := match[1]

		fallback := store.ValidObservationTypes[0]
		obsType := fallback
		if raw := field(content, "type"); raw != "" {
			if store.IsValidObservationType(raw) {
				obsType = raw
			} else {
				p.log.Error("invalid observation type, using fallback", "type", raw, "fallback", fallback)
			}
		} else {
			p.log.Error("observation missing type, using fallback", "fallback", fallback)
		}

		// Types and concepts are separate dimensions; the type never
		// belongs in the concept list.
		concepts := elements(content, "concepts", "concept")
		cleaned := concepts[:0]
		for _, c := range concepts {
			if c != obsType {
				cleaned = append(cleaned, c)
			}
		}

		observations = append(observations, store.Observation{
			Type:          obsType,
			Title:         field(content, "title"),
			Subtitle:      field(content, "subtitle"),
			Narrative:     field(content, "narrative"),
			Facts:         elements(content, "facts", "fact"),
			Concepts:      cleaned,
			FilesRead:     elements(content, "files_read", "file"),
			FilesModified: elements(content, "files_modified", "file"),
		})
	}

	return observations
}

// Summary extracts the summary block, or nil when the response has none
// or carries an explicit skip_summary marker. Missing fields never cause
// the summary to be dropped.
func (p *Parser) Summary(text string) *store.Summary {
	if skip := skipSummaryRe.FindStringSubmatch(text); skip != nil {
		p.log.Info("summary skipped", "reason", skip[1])
		return nil
	}

	match := summaryRe.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	content := match[1]

	return &store.Summary{
		Request:      field(content, "request"),
		Investigated: field(content, "investigated"),
		Learned:      field(content, "learned"),
		Completed:    field(content, "completed"),
		NextSteps:    field(content, "next_steps"),
		Notes:        field(content, "notes"),
	}
}

// field extracts a simple tag value. Missing and whitespace-only values
// both come back as "".
func field(content, name string) string {
	re := regexp.MustCompile(`<` + name + `>([^<]*)</` + name + `>`)
	match := re.FindStringSubmatch(content)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

// elements extracts the items of a list tag like
// <facts><fact>...</fact></facts>.
func elements(content, listName, itemName string) []string {
	listRe := regexp.MustCompile(`(?s)<` + listName + `>(.*?)</` + listName + `>`)
	listMatch := listRe.FindStringSubmatch(content)
	if listMatch == nil {
		return nil
	}

	itemRe := regexp.MustCompile(`<` + itemName + `>([^<]+)</` + itemName + `>`)
	var items []string
	for _, m := range itemRe.FindAllStringSubmatch(listMatch[1], -1) {
		items = append(items, strings.TrimSpace(m[1]))
	}
	return items
}
