package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-sync/internal/models"
)

const cliPayload = `{
	"days": ["Montag", "Dienstag"],
	"periods": ["1.08:10 - 08:55", "2.08:55 - 09:40"],
	"classes": [{"day": 0, "period": 0, "subject": "M", "room": "101"}]
}`

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNormalizeFromStdin(t *testing.T) {
	out, _, err := runCLI(t, cliPayload, "normalize", "--schedule", "")
	require.NoError(t, err)

	var result models.FallbackResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.IsFallback)
	assert.Equal(t, "M", result.Week["monday"].Lessons[0].Subject)
}

func TestNormalizeWithSubstitutionsAsCSV(t *testing.T) {
	payload := writeFile(t, "week.json", cliPayload)
	subs := writeFile(t, "subs.json", `[{"day": 0, "period": 0, "cancelled": true}]`)

	out, _, err := runCLI(t, "", "normalize", "--schedule", "", "-f", payload, "-s", subs, "-o", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "Montag,1,08:10-08:55,M,,101,cancelled,Cancelled\n")
}

func TestNormalizeUnrecognizedWarns(t *testing.T) {
	out, errOut, err := runCLI(t, `{"foo": 1}`, "normalize", "--schedule", "")
	require.NoError(t, err)
	assert.Contains(t, errOut, "unknown format")
	assert.Contains(t, out, `"isFallback": true`)
}

func TestDiffCommand(t *testing.T) {
	before := writeFile(t, "before.json", cliPayload)
	after := writeFile(t, "after.json", strings.Replace(cliPayload, `"room": "101"`, `"room": "202"`, 1))

	out, _, err := runCLI(t, "", "diff", "--schedule", "", before, after)
	require.NoError(t, err)
	assert.Equal(t, "~ monday 1: [room]\n", out)

	out, _, err = runCLI(t, "", "diff", "--schedule", "", before, before)
	require.NoError(t, err)
	assert.Equal(t, "no differences\n", out)
}

func TestPeriodsCommand(t *testing.T) {
	out, _, err := runCLI(t, "", "periods", "--schedule", "08:00-08:45,08:50-09:35")
	require.NoError(t, err)
	assert.Equal(t, " 1  08:00-08:45\n 2  08:50-09:35\n", out)

	_, _, err = runCLI(t, "", "periods", "--schedule", "nonsense")
	assert.Error(t, err)
}
