package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	sdkerrors "github.com/wehubfusion/Digest/pkg/errors"
	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/llm"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	args := m.Called(ctx, system, prompt)
	return args.String(0), args.Error(1)
}

func withMock(m *mockCompleter) Option {
	return WithClientFactory(func(apiKey string) (llm.Completer, error) {
		if apiKey != "key" {
			return nil, errors.New("unexpected key")
		}
		return m, nil
	})
}

func env() extractor.Env {
	return extractor.Env{Date: "2026-10-14", Credentials: map[string]string{CredentialKey: "key"}}
}

func testRecords() []extractor.Record {
	return []extractor.Record{{
		ID:        "a",
		Title:     "Standup",
		StartTime: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
		Contents: []extractor.ContentNode{
			{Type: "blockquote", Content: "Shipping Friday", SpeakerName: "Sam"},
		},
	}}
}

func TestExtractBeforeInitializeFailsFast(t *testing.T) {
	e := New(llm.Config{})
	_, err := e.Extract(context.Background(), testRecords(), env(), e.DefaultConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, sdkerrors.ErrNotInitialized)
}

func TestInitializeRequiresCredential(t *testing.T) {
	e := New(llm.Config{})
	err := e.Initialize(context.Background(), extractor.Env{})
	assert.ErrorIs(t, err, sdkerrors.ErrInvalidConfig)
}

func TestInitializeWithDefaultFactory(t *testing.T) {
	e := New(llm.Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, e.Initialize(context.Background(), env()))
	require.NoError(t, e.Cleanup(context.Background()))

	_, err := e.Extract(context.Background(), testRecords(), env(), e.DefaultConfig())
	assert.ErrorIs(t, err, sdkerrors.ErrNotInitialized)
}

func TestExtractRendersModelOutput(t *testing.T) {
	m := &mockCompleter{}
	m.On("Complete", mock.Anything, mock.MatchedBy(func(system string) bool {
		return strings.Contains(system, "bullet")
	}), mock.MatchedBy(func(prompt string) bool {
		return strings.Contains(prompt, "2026-10-14") && strings.Contains(prompt, "Sam: Shipping Friday")
	})).Return("# Work\n- Release moved to Friday\n**Personal:**\nGym at 6", nil)

	e := New(llm.Config{}, withMock(m))
	require.NoError(t, e.Initialize(context.Background(), env()))

	res, err := e.Extract(context.Background(), testRecords(), env(), e.DefaultConfig())
	require.NoError(t, err)
	m.AssertExpectations(t)

	assert.Equal(t, "<h3>Work</h3><ul><li>Release moved to Friday</li></ul><h3>Personal</h3><p>Gym at 6</p>", res.HTML)
	assert.Equal(t, "Work\n- Release moved to Friday\n\nPersonal\nGym at 6", res.Text)
	assert.Equal(t, 2, res.Metadata.ItemCount)
	assert.Equal(t, false, res.Metadata.Custom["truncated"])
}

func TestExtractPropagatesClientError(t *testing.T) {
	m := &mockCompleter{}
	m.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", sdkerrors.ErrCircuitOpen)

	e := New(llm.Config{}, withMock(m))
	require.NoError(t, e.Initialize(context.Background(), env()))

	_, err := e.Extract(context.Background(), testRecords(), env(), e.DefaultConfig())
	assert.ErrorIs(t, err, sdkerrors.ErrCircuitOpen)
}

func TestExtractEmptyBatchSkipsModel(t *testing.T) {
	m := &mockCompleter{}
	e := New(llm.Config{}, withMock(m))
	require.NoError(t, e.Initialize(context.Background(), env()))

	res, err := e.Extract(context.Background(), []extractor.Record{}, env(), e.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Metadata.RecordCount)
	m.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestTranscriptTruncates(t *testing.T) {
	out, truncated := Transcript(testRecords(), time.UTC, 0)
	assert.Equal(t, "## Standup (09:00)\nSam: Shipping Friday\n", out)
	assert.False(t, truncated)

	out, truncated = Transcript(testRecords(), time.UTC, 10)
	assert.Len(t, out, 10)
	assert.True(t, truncated)
}

func TestTranscriptTruncatesOnRuneBoundary(t *testing.T) {
	records := testRecords()
	records[0].Contents[0].Content = "Ação"

	// Byte 26 falls inside the two-byte "ç".
	out, truncated := Transcript(records, time.UTC, 26)
	assert.True(t, truncated)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "## Standup (09:00)\nSam: A", out)

	records[0].Contents[0].Content = "🎉 launch"
	for n := 1; n < 40; n++ {
		out, _ := Transcript(records, time.UTC, n)
		require.True(t, utf8.ValidString(out), "cut at %d", n)
		assert.LessOrEqual(t, len(out), n)
	}
}

func TestParseSectionsUntitledPreamble(t *testing.T) {
	sections := ParseSections("Overall a calm day.\n\n## Health\n- walked 8k steps")
	require.Len(t, sections, 2)
	assert.Equal(t, "", sections[0].Title)
	assert.Equal(t, []string{"Overall a calm day."}, sections[0].Lines)
	assert.Equal(t, "Health", sections[1].Title)
}

func TestValidateConfig(t *testing.T) {
	e := New(llm.Config{})
	assert.NoError(t, e.ValidateConfig(e.DefaultConfig()))
	assert.Error(t, e.ValidateConfig(extractor.Config{Settings: extractor.Settings{"style": "poem"}}))
	assert.Error(t, e.ValidateConfig(extractor.Config{Settings: extractor.Settings{"maxInputChars": 10}}))
}
