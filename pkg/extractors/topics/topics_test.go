package topics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Digest/pkg/extractor"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 10, 14, hour, minute, 0, 0, time.UTC)
}

func testRecords() []extractor.Record {
	return []extractor.Record{
		{ID: "a", Title: "Budget review", StartTime: at(9, 30), EndTime: at(10, 30), Contents: []extractor.ContentNode{
			{Type: "blockquote", Content: "The budget looks tight this quarter", SpeakerName: "Ana"},
		}},
		{ID: "b", Title: "Hiring sync", StartTime: at(10, 0), EndTime: at(10, 45), Markdown: "hiring budget discussion"},
		{ID: "c", Title: "Dinner", StartTime: at(19, 0), EndTime: at(19, 20)},
	}
}

func TestAnalyze(t *testing.T) {
	a := Analyze(testRecords(), time.UTC, map[string]bool{}, 4)

	assert.Equal(t, 3, a.Sessions)
	assert.Equal(t, 125*time.Minute, a.TotalRecorded)
	assert.Equal(t, 10, a.BusiestHour)
	assert.Equal(t, 75*time.Minute, a.BusiestTime)
	assert.Equal(t, 2, a.PartOfDay["morning"])
	assert.Equal(t, 1, a.PartOfDay["evening"])

	require.NotEmpty(t, a.Keywords)
	assert.Equal(t, Keyword{Word: "budget", Count: 3}, a.Keywords[0])
	assert.Equal(t, Keyword{Word: "hiring", Count: 2}, a.Keywords[1])
}

func TestExtractRendersTitleCasedTopics(t *testing.T) {
	e := New()
	cfg := e.DefaultConfig().Apply(extractor.Override{Settings: extractor.Settings{"topN": 2, "stopWords": []interface{}{"Hiring"}}})

	res, err := e.Extract(context.Background(), testRecords(), extractor.Env{}, cfg)
	require.NoError(t, err)

	assert.Contains(t, res.Text, "Recorded 2h 05m across 3 sessions.")
	assert.Contains(t, res.Text, "Busiest hour: 10:00 (1h 15m).")
	assert.Contains(t, res.Text, "Sessions by part of day: morning 2, evening 1.")
	assert.Contains(t, res.Text, "Top topics: Budget (3)")
	assert.NotContains(t, res.Text, "Hiring (")
	assert.Equal(t, 2, res.Metadata.ItemCount)
	assert.Equal(t, 125, res.Metadata.Custom["totalRecordedMinutes"])
}

func TestExtractEmpty(t *testing.T) {
	e := New()
	res, err := e.Extract(context.Background(), nil, extractor.Env{}, e.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "Recorded 0m across 0 sessions.", res.Text)
	assert.Equal(t, 0, res.Metadata.RecordCount)
}

func TestValidateConfig(t *testing.T) {
	e := New()
	assert.NoError(t, e.ValidateConfig(e.DefaultConfig()))
	assert.Error(t, e.ValidateConfig(extractor.Config{Settings: extractor.Settings{"topN": 0}}))
	assert.Error(t, e.ValidateConfig(extractor.Config{Settings: extractor.Settings{"stopWords": "a,b"}}))
}
