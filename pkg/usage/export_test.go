package usage_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/conduit/pkg/usage"
)

func TestExportCSV_Format(t *testing.T) {
	l := usage.NewLedger(nil)
	defer l.Close()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.Append(usage.Event{
		Timestamp: at, ProviderID: "openai", ModelID: "gpt-4o-mini",
		PromptTokens: 12, CompletionTokens: 30, TotalTokens: 42,
		EstimatedCostUSD: cost(0.00002166), Success: true, LatencyMs: 812, ContextIncluded: true,
	})
	l.Append(usage.Event{
		Timestamp: at.Add(time.Second), ProviderID: "local", ModelID: "llama3.2",
		Success: false, LatencyMs: 5,
	})

	var buf bytes.Buffer
	require.NoError(t, l.ExportCSV(&buf, usage.Range{}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,provider,model,promptTokens,completionTokens,totalTokens,estimatedCostUSD,success,latencyMs,contextIncluded", lines[0])
	assert.Equal(t, "2026-01-02T03:04:05Z,openai,gpt-4o-mini,12,30,42,0.000022,true,812,true", lines[1])
	assert.Equal(t, "2026-01-02T03:04:06Z,local,llama3.2,0,0,0,,false,5,false", lines[2])
}

func TestExportCSV_RangeFilter(t *testing.T) {
	l := usage.NewLedger(nil)
	defer l.Close()

	now := time.Now()
	l.Append(event("openai", "m", now.Add(-48*time.Hour), 1))
	l.Append(event("openai", "m", now, 1))

	var buf bytes.Buffer
	require.NoError(t, l.ExportCSV(&buf, usage.Range{Start: now.Add(-time.Hour)}))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}

func TestCSV_RoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	in := []usage.Event{
		event("openai", "gpt-4o", at, 0.123456),
		{Timestamp: at.Add(time.Minute), ProviderID: "gemini", ModelID: "gemini-2.0-flash", Success: false, LatencyMs: 10, ContextIncluded: true},
	}

	var buf bytes.Buffer
	require.NoError(t, usage.WriteCSV(&buf, in))

	out, err := usage.ParseCSV(&buf)
	require.NoError(t, err)
	require.Len(t, out, 2)

	for i := range in {
		assert.True(t, in[i].Timestamp.Equal(out[i].Timestamp))
		assert.Equal(t, in[i].ProviderID, out[i].ProviderID)
		assert.Equal(t, in[i].ModelID, out[i].ModelID)
		assert.Equal(t, in[i].PromptTokens, out[i].PromptTokens)
		assert.Equal(t, in[i].CompletionTokens, out[i].CompletionTokens)
		assert.Equal(t, in[i].TotalTokens, out[i].TotalTokens)
		assert.Equal(t, in[i].Success, out[i].Success)
		assert.Equal(t, in[i].LatencyMs, out[i].LatencyMs)
		assert.Equal(t, in[i].ContextIncluded, out[i].ContextIncluded)
	}
	require.NotNil(t, out[0].EstimatedCostUSD)
	assert.InDelta(t, 0.123456, *out[0].EstimatedCostUSD, 1e-9)
	assert.Nil(t, out[1].EstimatedCostUSD)
}

func TestParseCSV_Errors(t *testing.T) {
	_, err := usage.ParseCSV(strings.NewReader(""))
	assert.Error(t, err)

	_, err = usage.ParseCSV(strings.NewReader("a,b,c,d,e,f,g,h,i,j\n"))
	assert.ErrorContains(t, err, "unexpected column")

	bad := strings.Join(usage.CSVHeader, ",") + "\nnot-a-time,openai,m,1,1,2,,true,1,false\n"
	_, err = usage.ParseCSV(strings.NewReader(bad))
	var exportErr *usage.ExportError
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, 2, exportErr.Row)
}

func TestExportJSON(t *testing.T) {
	l := usage.NewLedger(nil)
	defer l.Close()

	var empty bytes.Buffer
	require.NoError(t, l.ExportJSON(&empty, usage.Range{}, false))
	assert.Equal(t, "[]\n", empty.String())

	l.Append(event("openai", "gpt-4o", time.Now(), 0.5))
	var buf bytes.Buffer
	require.NoError(t, l.ExportJSON(&buf, usage.Range{}, true))

	var decoded []usage.Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "openai", decoded[0].ProviderID)
	assert.NotEmpty(t, decoded[0].ID)
}
