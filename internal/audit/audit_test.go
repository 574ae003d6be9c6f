package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KafClaw/sysclaw/internal/engine"
	"github.com/KafClaw/sysclaw/internal/tools"
)

type factTool struct {
	name    string
	payload string
	err     error
	args    []map[string]any
}

func (f *factTool) Name() string         { return f.name }
func (f *factTool) Description() string  { return f.name }
func (f *factTool) Tier() int            { return tools.TierReadOnly }
func (f *factTool) Schema() tools.Schema { return tools.Object(tools.Optional("limit", tools.TypeInteger, "")) }
func (f *factTool) Execute(_ context.Context, args map[string]any) (string, error) {
	f.args = append(f.args, args)
	return f.payload, f.err
}

type recordingComposer struct {
	report string
	err    error
	facts  string
	gaps   []string
	calls  int
}

func (c *recordingComposer) ComposeReport(_ context.Context, facts string, gaps []string) (string, error) {
	c.calls++
	c.facts = facts
	c.gaps = gaps
	return c.report, c.err
}

func registryWith(t *testing.T, overrides map[string]*factTool) (*tools.Registry, map[string]*factTool) {
	t.Helper()
	reg := tools.NewRegistry()
	all := map[string]*factTool{}
	for _, step := range DefaultPlan {
		ft, ok := overrides[step.Tool]
		if !ok {
			ft = &factTool{name: step.Tool, payload: `{"fact":"` + step.Fact + `"}`}
		}
		all[step.Tool] = ft
		require.NoError(t, reg.Register(ft))
	}
	return reg, all
}

func TestRunCollectsEveryFactInOrder(t *testing.T) {
	reg, all := registryWith(t, map[string]*factTool{
		"check_policies": {name: "check_policies", payload: `{"violations":[{"policy":"no_root_processes","details":"x"}],"checked":["no_root_processes"],"message":"Found 1 policy violations."}`},
	})
	composer := &recordingComposer{report: "# Security Audit Report\n\nfine"}
	s := New(reg, engine.New(), composer)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, composer.calls)
	assert.Empty(t, res.Gaps)
	assert.Equal(t, 1, res.Violations)
	assert.Equal(t, "# Security Audit Report\n\nfine", res.Report)

	require.Len(t, res.Facts, len(DefaultPlan))
	for i, step := range DefaultPlan {
		assert.Equal(t, step.Fact, res.Facts[i].Name)
		assert.True(t, res.Facts[i].Success)
	}
	assert.Equal(t, map[string]any{"limit": 10}, all["read_security_events"].args[0])

	var decoded []Fact
	require.NoError(t, json.Unmarshal([]byte(composer.facts), &decoded))
	assert.Equal(t, res.Facts, decoded)
}

func TestRunNamesFailedFacts(t *testing.T) {
	reg, _ := registryWith(t, map[string]*factTool{
		"read_security_events": {
			name: "read_security_events",
			err:  tools.Fail(tools.ReasonPermission, "access to the security log was denied (run as administrator?)"),
		},
	})
	composer := &recordingComposer{report: "# Security Audit Report\n\n## 1. Executive Summary\nok\n"}
	res, err := New(reg, engine.New(), composer).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, composer.gaps, 1)
	assert.Contains(t, composer.gaps[0], "security_events")
	assert.Contains(t, composer.gaps[0], "permission")
	assert.Equal(t, composer.gaps, res.Gaps)

	// The composer ignored the gap, so it is appended.
	assert.Contains(t, res.Report, GapsHeading)
	assert.Contains(t, res.Report, "**security_events** could not be collected")
	assert.True(t, strings.HasPrefix(res.Report, "# Security Audit Report"))
}

func TestRunKeepsReportThatMentionsGaps(t *testing.T) {
	reg, _ := registryWith(t, map[string]*factTool{
		"list_packages": {name: "list_packages", err: errors.New("no package manager")},
	})
	report := "# Report\n\n## Data Collection Gaps\n- packages: no package manager found\n"
	res, err := New(reg, engine.New(), &recordingComposer{report: report}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report, res.Report)
}

func TestEnsureGapsIgnoresPassingMentions(t *testing.T) {
	facts := []Fact{
		{Name: "os_info", Success: true},
		{Name: "policies", Error: "no policy tool", Reason: tools.ReasonUnknownTool},
	}
	report := "# Security Audit Report\n\n## 2. Findings\nNo policies were reviewed.\n"

	out := EnsureGaps(report, facts)
	assert.Contains(t, out, GapsHeading)
	assert.Contains(t, out, "**policies** could not be collected")
}

func TestEnsureGapsAcceptsNumberedGapsSection(t *testing.T) {
	facts := []Fact{
		{Name: "policies", Error: "no policy tool", Reason: tools.ReasonUnknownTool},
		{Name: "packages", Error: "no package manager", Reason: tools.ReasonCapability},
	}
	report := "# Report\n\n## 3. Data Collection Gaps\n- policies could not be read\n\n## 4. Recommendations\nnone\n"

	out := EnsureGaps(report, facts)
	assert.NotContains(t, out, "**policies**")
	assert.Contains(t, out, "**packages** could not be collected")
	// The last section is not the gaps section, so a heading is added.
	assert.Equal(t, 1, strings.Count(out, GapsHeading))

	gap := facts[1].Gap()
	assert.Equal(t, report+gap, EnsureGaps(report+gap, facts[1:]))
}

func TestRunMissingToolIsAGap(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&factTool{name: "get_os_info", payload: "{}"}))
	s := New(reg, engine.New(), &recordingComposer{report: "# R"})
	s.Plan = DefaultPlan[:2]

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Facts, 2)
	assert.True(t, res.Facts[0].Success)
	assert.False(t, res.Facts[1].Success)
	assert.Equal(t, tools.ReasonUnknownTool, res.Facts[1].Reason)
	assert.Contains(t, res.Report, "**policies** could not be collected")
}

func TestRunCompositionFailure(t *testing.T) {
	reg, _ := registryWith(t, nil)
	res, err := New(reg, engine.New(), &recordingComposer{err: errors.New("backend down")}).Run(context.Background())
	require.Error(t, err)
	assert.Len(t, res.Facts, len(DefaultPlan))
	assert.Empty(t, res.Report)
}

func TestSerializeFactsIsDeterministic(t *testing.T) {
	reg, _ := registryWith(t, nil)
	s := New(reg, engine.New(), &recordingComposer{report: "r"})
	a, err := SerializeFacts(s.Collect(context.Background(), "one"))
	require.NoError(t, err)
	b, err := SerializeFacts(s.Collect(context.Background(), "two"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSerializeFactsTruncates(t *testing.T) {
	facts := []Fact{
		{Name: "packages", Success: true, Data: strings.Repeat("p", 50000)},
		{Name: "os_info", Success: true, Data: "linux"},
	}
	out, err := SerializeFacts(facts)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), MaxFactsChars+len("\n[...truncated...]"))
	assert.Contains(t, out, "truncated")
	assert.Contains(t, out, `"data": "linux"`)
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "audit.md")
	require.NoError(t, WriteReport(path, "# R\n"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# R\n", string(data))
}
