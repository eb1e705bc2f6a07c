package section

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Digest/pkg/extractor"
)

func TestUtterances(t *testing.T) {
	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	spoken := start.Add(time.Minute)
	records := []extractor.Record{
		{ID: "a", Title: "Standup", StartTime: start, Contents: []extractor.ContentNode{
			{Type: "heading1", Content: "Standup", Children: []extractor.ContentNode{
				{Type: "blockquote", Content: " ship it ", SpeakerName: "Sam", SpeakerIdentifier: "user", StartTime: &spoken},
				{Type: "blockquote", Content: "   "},
			}},
		}},
		{ID: "b", Title: "Notes", StartTime: start, Markdown: "# Notes\n- buy milk\n\n> call Ana"},
	}

	us := Utterances(records)
	require.Len(t, us, 4)
	assert.Equal(t, "ship it", us[0].Text)
	assert.True(t, us[0].Self)
	assert.Equal(t, spoken, us[0].At)
	assert.Equal(t, []string{"Notes", "buy milk", "call Ana"}, []string{us[1].Text, us[2].Text, us[3].Text})
	assert.Equal(t, "", us[2].Speaker)
}

func TestList(t *testing.T) {
	h, txt := List([]Item{{Text: "Ship <v2>", Detail: "Sam"}, {Text: "Book room"}}, "none")
	assert.Equal(t, "<ul><li>Ship &lt;v2&gt; <small>(Sam)</small></li><li>Book room</li></ul>", h)
	assert.Equal(t, "- Ship <v2> (Sam)\n- Book room", txt)

	h, txt = List(nil, "Nothing found")
	assert.Equal(t, "<p><em>Nothing found</em></p>", h)
	assert.Equal(t, "Nothing found", txt)
}

func TestLimitAndClock(t *testing.T) {
	assert.Equal(t, []int{1, 2}, Limit([]int{1, 2, 3}, 2))
	assert.Equal(t, []int{1, 2, 3}, Limit([]int{1, 2, 3}, 0))
	assert.Equal(t, "", Clock(time.Time{}, time.UTC))
	assert.Equal(t, "09:30", Clock(time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC), time.UTC))
}
