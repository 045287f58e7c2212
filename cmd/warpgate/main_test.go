package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pestypig/casimirbot/warpgate/pkg/canonicalize"
	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
	"github.com/pestypig/casimirbot/warpgate/pkg/evaluation"
	"github.com/pestypig/casimirbot/warpgate/pkg/gate"
	"github.com/pestypig/casimirbot/warpgate/pkg/search"
	"github.com/pestypig/casimirbot/warpgate/pkg/verifier"
)

const testPolicy = "# Warp policy\n\n```json\n" + `{
  "version": "1.2.0",
  "constraints": [
    {"id": "FordRomanQI", "severity": "HARD", "description": "Quantum inequality margin"},
    {"id": "TS_ratio_min", "severity": "SOFT"}
  ],
  "requiredTests": ["gate", "viability"],
  "searchDefaults": {"maxSamples": 16, "concurrency": 2, "topK": 3}
}` + "\n```\n"

// isolate clears the environment Load reads and returns a policy root.
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"WARPGATE_ROOT", "WARPGATE_PROFILE", "WARPGATE_SIGNING_KEY", "REDIS_ADDR", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	t.Setenv("OTEL_ENABLED", "false")
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "WARP_AGENTS.md"), []byte(testPolicy), 0o600))
	return root
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeCert(t *testing.T, dir string, mutate func(*contracts.Certificate)) string {
	t.Helper()
	cert := &contracts.Certificate{
		Header: contracts.CertificateHeader{
			ID:           "cert-cli",
			IssuedAt:     time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
			Issuer:       "warpgate",
			SnapshotMode: contracts.SnapshotLive,
		},
		Payload: contracts.CertificatePayload{
			Kind:          contracts.CertificateKind,
			Status:        contracts.StatusAdmissible,
			PolicyVersion: "1.2.0+0123456789ab",
		},
	}
	b, err := canonicalize.JCS(cert.Payload)
	require.NoError(t, err)
	cert.CertificateHash = canonicalize.ComputeArtifactHash(b)
	if mutate != nil {
		mutate(cert)
	}
	data, err := json.Marshal(cert)
	require.NoError(t, err)
	path := filepath.Join(dir, "cert.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
	for _, name := range []string{"evaluate", "viability", "verify", "policy", "sweep", "serve"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	for _, flag := range []string{"format", "root", "profile", "verbose"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRun_InvalidFormat(t *testing.T) {
	root := isolate(t)
	code, _, stderr := run(t, "--format", "yaml", "--root", root, "policy", "show")
	assert.Equal(t, ExitRuntime, code)
	assert.Contains(t, stderr, `invalid format "yaml"`)
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, stderr := run(t, "launch")
	assert.Equal(t, ExitRuntime, code)
	assert.Contains(t, stderr, "Error:")
}

func TestVerify_ExitCodes(t *testing.T) {
	root := isolate(t)

	t.Run("intact", func(t *testing.T) {
		path := writeCert(t, t.TempDir(), nil)
		code, stdout, _ := run(t, "--root", root, "verify", path)
		assert.Equal(t, ExitOK, code)
		assert.Contains(t, stdout, "PASSED")
	})
	t.Run("tampered", func(t *testing.T) {
		path := writeCert(t, t.TempDir(), func(c *contracts.Certificate) { c.Payload.Status = contracts.StatusMarginal })
		code, stdout, _ := run(t, "--root", root, "--format", "json", "verify", path)
		assert.Equal(t, ExitFailed, code)

		var report verifier.VerifyReport
		require.NoError(t, json.Unmarshal([]byte(stdout), &report))
		assert.False(t, report.Verified)
		assert.Positive(t, report.IssueCount)
	})
	t.Run("unreadable", func(t *testing.T) {
		code, _, stderr := run(t, "--root", root, "verify", filepath.Join(t.TempDir(), "missing.json"))
		assert.Equal(t, ExitRuntime, code)
		assert.Contains(t, stderr, "missing.json")
	})
	t.Run("argument required", func(t *testing.T) {
		code, _, _ := run(t, "--root", root, "verify")
		assert.Equal(t, ExitRuntime, code)
	})
}

func TestPolicyShow(t *testing.T) {
	root := isolate(t)

	code, stdout, _ := run(t, "--root", root, "policy", "show")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "Document version: 1.2.0")
	assert.Contains(t, stdout, "FordRomanQI")
	assert.Contains(t, stdout, "Required tests: [gate viability]")

	code, stdout, _ = run(t, "--root", root, "--format", "json", "policy", "show")
	require.Equal(t, ExitOK, code)
	var view struct {
		Effective evaluation.EffectivePolicy `json:"effective"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &view))
	assert.True(t, strings.HasPrefix(view.Effective.Version, "1.2.0+"), view.Effective.Version)
	assert.Equal(t, []string{"gate", "viability"}, view.Effective.RequiredTests)
}

func TestPolicyShow_MissingDocument(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, "--root", t.TempDir(), "policy", "show")
	assert.Equal(t, ExitRuntime, code)
	assert.Contains(t, stderr, "WARP_AGENTS.md")
}

func TestViability_JSON(t *testing.T) {
	root := isolate(t)
	code, stdout, _ := run(t, "--root", root, "--format", "json", "viability")

	var res contracts.ViabilityResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.NotEmpty(t, res.Constraints)
	assert.True(t, strings.HasPrefix(res.PolicyVersion, "1.2.0+"), res.PolicyVersion)
	if res.Status == contracts.StatusInadmissible {
		assert.Equal(t, ExitFailed, code)
	} else {
		assert.Equal(t, ExitOK, code)
	}
}

func TestEvaluate_GateFailureExitsOne(t *testing.T) {
	root := isolate(t)
	dir := t.TempDir()
	diag := filepath.Join(dir, "diag.json")
	require.NoError(t, os.WriteFile(diag, []byte(`{"constraints": {"H_rms": 5, "M_rms": 0, "H_maxAbs": 0, "M_maxAbs": 0, "cfl": 0.5}}`), 0o600))

	code, stdout, _ := run(t, "--root", root, "--format", "json", "evaluate", "--diagnostics", diag)
	assert.Equal(t, ExitFailed, code)

	var out evaluation.Outcome
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.False(t, out.Evaluation.Pass)
	assert.Equal(t, gate.StatusFail, out.Evaluation.Gate.Status)
}

func TestEvaluate_BadRequestFile(t *testing.T) {
	root := isolate(t)
	path := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	code, _, stderr := run(t, "--root", root, "evaluate", "--request", path)
	assert.Equal(t, ExitRuntime, code)
	assert.Contains(t, stderr, "decode request")
}

func TestSweep_FlagsAndLimits(t *testing.T) {
	root := isolate(t)
	code, stdout, _ := run(t, "--root", root, "--format", "json", "sweep", "--radius", "50:150:3", "--duty", "0.01:0.02:2", "--top", "2")
	require.Equal(t, ExitOK, code)

	var rep search.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, 6, rep.Requested)
	assert.Equal(t, 6, rep.Evaluated+len(rep.Failures))
	assert.Equal(t, 2, rep.Limits.TopK)
	assert.Equal(t, 16, rep.Limits.MaxSamples)
	assert.LessOrEqual(t, len(rep.Top), 2)
}

func TestSweep_GridFile(t *testing.T) {
	root := isolate(t)
	grid := filepath.Join(t.TempDir(), "grid.yaml")
	require.NoError(t, os.WriteFile(grid, []byte("bubbleRadius: {min: 10, max: 100, steps: 10}\ntileCount: {min: 1000, max: 2000, steps: 3}\n"), 0o600))

	code, stdout, _ := run(t, "--root", root, "--format", "json", "sweep", "--grid", grid)
	require.Equal(t, ExitOK, code)

	var rep search.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, 30, rep.Requested)
	assert.Equal(t, 14, rep.Dropped)
	assert.Equal(t, 3, rep.Limits.TopK)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		want    search.Range
		wantErr bool
	}{
		{in: "5", want: search.Range{Min: 5, Max: 5, Steps: 1}},
		{in: "1:2", want: search.Range{Min: 1, Max: 2, Steps: 2}},
		{in: "1:3:5", want: search.Range{Min: 1, Max: 3, Steps: 5}},
		{in: "1:3:0", wantErr: true},
		{in: "a:3", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			r, err := parseRange(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, *r)
		})
	}
}
