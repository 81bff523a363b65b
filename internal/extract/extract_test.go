package extract

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrailingJSON(t *testing.T) {
	got, ok := TrailingJSON("Here is the analysis.\n{\"summary\": \"Top idea\", \"next\": \"market\"}")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"summary": "Top idea", "next": "market"}, got)
}

func TestTrailingJSONAbsent(t *testing.T) {
	for _, text := range []string{"", "No JSON here.", "unbalanced { brace", "closing only }"} {
		_, ok := TrailingJSON(text)
		assert.False(t, ok, "text %q", text)
	}
}

func TestTrailingJSONPrefersLastObject(t *testing.T) {
	text := `First thought {"next": "research"} then revised: {"next": "FINISH", "reason": "done"}`
	got, ok := TrailingJSON(text)
	require.True(t, ok)
	assert.Equal(t, "FINISH", got["next"])
	assert.Equal(t, "done", got["reason"])
}

func TestTrailingJSONOutermostObject(t *testing.T) {
	text := "result:\n{\"scores\": {\"pain\": 8, \"pay\": 6}, \"next\": \"market\"}\n"
	got, ok := TrailingJSON(text)
	require.True(t, ok)
	assert.Equal(t, "market", got["next"])
	assert.Contains(t, got, "scores")
}

func TestTrailingJSONIgnoresBracesInStrings(t *testing.T) {
	text := `{"note": "use {braces} and \"quotes\" }", "next": "research"}`
	got, ok := TrailingJSON(text)
	require.True(t, ok)
	assert.Equal(t, "research", got["next"])
	assert.Equal(t, `use {braces} and "quotes" }`, got["note"])
}

func TestTrailingJSONSkipsStrayOpenBrace(t *testing.T) {
	text := "I think { maybe market. Final: {\"next\": \"market\"}"
	got, ok := TrailingJSON(text)
	require.True(t, ok)
	assert.Equal(t, "market", got["next"])
}

func TestTrailingJSONSkipsInvalidCandidate(t *testing.T) {
	text := `{"next": "saas_finder"} and then {not json}`
	got, ok := TrailingJSON(text)
	require.True(t, ok)
	assert.Equal(t, "saas_finder", got["next"])
}

func TestTrailingJSONRoundTrip(t *testing.T) {
	texts := []string{
		"Report body\n{\"summary\": \"Top idea\", \"next\": \"market\", \"score\": 7.5}",
		`{"a": [1, 2, {"b": null}], "c": true}`,
	}
	for _, text := range texts {
		first, ok := TrailingJSON(text)
		require.True(t, ok)

		data, err := json.Marshal(first)
		require.NoError(t, err)

		second, ok := TrailingJSON(string(data))
		require.True(t, ok)
		assert.Equal(t, first, second)
	}
}

func TestCandidatesOrder(t *testing.T) {
	got := Candidates(`a {"x": {"y": 1}} b {"z": 2}`)
	assert.Equal(t, []string{`{"z": 2}`, `{"x": {"y": 1}}`, `{"y": 1}`}, got)
	assert.Nil(t, Candidates("nothing"))
}

func TestTrailingJSONProseQuotesOutsideObject(t *testing.T) {
	text := `The "pet care" niche looks "promising. Final: {"next": "market"}`
	got, ok := TrailingJSON(text)
	require.True(t, ok)
	assert.Equal(t, "market", got["next"])
}

func TestCandidatesManyUnclosedBraces(t *testing.T) {
	text := strings.Repeat("{", 200000) + `{"next": "FINISH"}`

	start := time.Now()
	got := Candidates(text)
	elapsed := time.Since(start)

	assert.Equal(t, []string{`{"next": "FINISH"}`}, got)
	assert.Less(t, elapsed, 2*time.Second, "scan should be linear in the input size")
}

func TestString(t *testing.T) {
	obj := map[string]any{"next": "market", "n": 3}
	assert.Equal(t, "market", String(obj, "next"))
	assert.Equal(t, "", String(obj, "n"))
	assert.Equal(t, "", String(obj, "missing"))
}
