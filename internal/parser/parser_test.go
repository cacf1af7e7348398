package parser

import (
	"testing"

	"github.com/roelfdiedericks/memclaw/internal/logging"
)

const sampleResponse = `
Looking at this tool use, I can see a meaningful discovery.

<observation>
  <type>discovery</type>
  <title>Config watcher debounces rewrites</title>
  <subtitle>Editors replace the file, so the directory is watched</subtitle>
  <narrative>The watcher coalesces bursts of events into one reload.</narrative>
  <facts>
    <fact>Reload fires 250ms after the last event</fact>
    <fact>Rename events count as writes</fact>
  </facts>
  <concepts>
    <concept>configuration</concept>
    <concept>discovery</concept>
    <concept>file-watching</concept>
  </concepts>
  <files_read>
    <file>internal/config/watch.go</file>
  </files_read>
  <files_modified>
  </files_modified>
</observation>

<summary>
  <request>Understand config reload behavior</request>
  <investigated>The fsnotify event flow</investigated>
  <learned>Reloads are debounced per directory</learned>
  <completed>Traced the full event path</completed>
  <next_steps>Test rename-heavy editors</next_steps>
</summary>
`

func TestParseObservation(t *testing.T) {
	p := New(logging.Discard())

	observations := p.Observations(sampleResponse)
	if len(observations) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(observations))
	}

	o := observations[0]
	if o.Type != "discovery" {
		t.Errorf("type = %q", o.Type)
	}
	if o.Title != "Config watcher debounces rewrites" {
		t.Errorf("title = %q", o.Title)
	}
	if len(o.Facts) != 2 || o.Facts[1] != "Rename events count as writes" {
		t.Errorf("facts = %v", o.Facts)
	}
	// The observation type never appears among the concepts
	if len(o.Concepts) != 2 {
		t.Errorf("concepts = %v, type should have been filtered out", o.Concepts)
	}
	for _, c := range o.Concepts {
		if c == "discovery" {
			t.Error("type leaked into concepts")
		}
	}
	if len(o.FilesRead) != 1 || o.FilesRead[0] != "internal/config/watch.go" {
		t.Errorf("files read = %v", o.FilesRead)
	}
	if len(o.FilesModified) != 0 {
		t.Errorf("files modified = %v", o.FilesModified)
	}
}

func TestParseMultipleObservations(t *testing.T) {
	p := New(logging.Discard())

	text := `
<observation><type>bugfix</type><title>first</title></observation>
some interstitial text
<observation><type>refactor</type><title>second</title></observation>
`
	observations := p.Observations(text)
	if len(observations) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(observations))
	}
	if observations[0].Title != "first" || observations[1].Title != "second" {
		t.Errorf("titles = %q, %q", observations[0].Title, observations[1].Title)
	}
}

func TestParseObservationTypeFallback(t *testing.T) {
	p := New(logging.Discard())

	for _, text := range []string{
		`<observation><type>epiphany</type><title>bad type</title></observation>`,
		`<observation><title>missing type</title></observation>`,
	} {
		observations := p.Observations(text)
		if len(observations) != 1 {
			t.Fatalf("observation dropped for %q", text)
		}
		if observations[0].Type != "decision" {
			t.Errorf("fallback type = %q, want decision", observations[0].Type)
		}
	}
}

func TestParseSummary(t *testing.T) {
	p := New(logging.Discard())

	s := p.Summary(sampleResponse)
	if s == nil {
		t.Fatal("expected a summary")
	}
	if s.Request != "Understand config reload behavior" {
		t.Errorf("request = %q", s.Request)
	}
	if s.NextSteps != "Test rename-heavy editors" {
		t.Errorf("next steps = %q", s.NextSteps)
	}
	if s.Notes != "" {
		t.Errorf("notes = %q, want empty", s.Notes)
	}
}

func TestParseSummaryMissingFieldsStillSaved(t *testing.T) {
	p := New(logging.Discard())

	s := p.Summary(`<summary><request>only this</request></summary>`)
	if s == nil {
		t.Fatal("summary with missing fields must still be returned")
	}
	if s.Request != "only this" || s.Learned != "" {
		t.Errorf("summary = %+v", s)
	}
}

func TestParseSkipSummary(t *testing.T) {
	p := New(logging.Discard())

	text := `<skip_summary reason="nothing substantial happened"/>
<summary><request>should be ignored</request></summary>`
	if s := p.Summary(text); s != nil {
		t.Errorf("skip marker ignored: %+v", s)
	}
}

func TestParseEmptyResponse(t *testing.T) {
	p := New(logging.Discard())

	if observations := p.Observations("no markup here at all"); len(observations) != 0 {
		t.Errorf("observations = %v", observations)
	}
	if s := p.Summary("no markup here at all"); s != nil {
		t.Errorf("summary = %+v", s)
	}
}

func TestParseWhitespaceOnlyFields(t *testing.T) {
	p := New(logging.Discard())

	observations := p.Observations(`<observation><type>change</type><title>   </title></observation>`)
	if len(observations) != 1 {
		t.Fatal("observation dropped")
	}
	if observations[0].Title != "" {
		t.Errorf("whitespace-only title = %q", observations[0].Title)
	}
}
