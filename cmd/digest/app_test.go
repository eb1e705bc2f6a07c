package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wehubfusion/Digest/internal/config"
	"github.com/wehubfusion/Digest/pkg/extractors/all"
	"github.com/wehubfusion/Digest/pkg/extractors/summary"
)

func ids(infos []extractorInfo) []string {
	out := make([]string, 0, len(infos))
	for _, i := range infos {
		out = append(out, i.ID)
	}
	return out
}

func TestBuildRegistryBuiltins(t *testing.T) {
	cfg, err := config.LoadBytes(nil)
	require.NoError(t, err)

	reg, err := buildRegistry(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, len(all.Names())-1, reg.Len())
	_, ok := reg.GetExtractor(summary.ID)
	assert.False(t, ok, "summary needs an LLM key")

	cfg.LLM.APIKey = "sk-test"
	reg, err = buildRegistry(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, len(all.Names()), reg.Len())
}

func TestBuildRegistryConfiguredUnits(t *testing.T) {
	cfg, err := config.LoadBytes([]byte(`
extractors:
  global:
    enabled: true
  units:
    topics:
      priority: 5
    mood:
      type: script
      name: Mood
      priority: 99
      settings:
        script: "function extract(records) { return 'Records: ' + records.length; }"
`))
	require.NoError(t, err)

	reg, err := buildRegistry(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	infos := listExtractors(reg)
	assert.Equal(t, []string{"mood", "topics"}, ids(infos))
	assert.Equal(t, "Mood", infos[0].Name)
	assert.Equal(t, 5, infos[1].Priority)
}

func TestBuildRegistryRejectsUnknown(t *testing.T) {
	cfg, err := config.LoadBytes([]byte("extractors:\n  units:\n    weather:\n      priority: 1\n"))
	require.NoError(t, err)
	_, err = buildRegistry(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)

	cfg, err = config.LoadBytes([]byte("extractors:\n  units:\n    mood:\n      type: script\n"))
	require.NoError(t, err)
	_, err = buildRegistry(cfg, zaptest.NewLogger(t))
	assert.Error(t, err, "a script unit needs a script")
}

func TestBaseEnv(t *testing.T) {
	cfg, err := config.LoadBytes(nil)
	require.NoError(t, err)
	cfg.LLM.APIKey = "sk-test"
	cfg.Digest.UserName = "Ana"

	env := baseEnv(cfg)
	assert.Equal(t, "sk-test", env.Credential(summary.CredentialKey))
	assert.Equal(t, "Ana", env.Value("user_name"))
	assert.Equal(t, "UTC", env.Location.String())
}

func TestPrintExtractors(t *testing.T) {
	infos := []extractorInfo{{ID: "topics", Name: "Topics", Enabled: true, Priority: 30}}

	var buf bytes.Buffer
	require.NoError(t, printExtractors(&buf, infos, false))
	assert.Contains(t, buf.String(), "ID")
	assert.Contains(t, buf.String(), "topics")
	assert.Contains(t, buf.String(), "30")

	buf.Reset()
	require.NoError(t, printExtractors(&buf, infos, true))
	var decoded []extractorInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, infos[0].ID, decoded[0].ID)
}
