package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/rpc-absorber/internal/ws"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "rpcabsorber", cmd.Use)
	assert.Contains(t, cmd.Long, "RPC_ABSORBER_")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	paths := [][]string{
		{"call"},
		{"invalidate"},
		{"table"},
		{"table", "list"},
		{"table", "describe"},
		{"table", "get"},
	}

	for _, path := range paths {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, sub)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestCallCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	callCmd, _, err := cmd.Find([]string{"call"})
	require.NoError(t, err)

	argsFlag := callCmd.Flags().Lookup("args")
	require.NotNil(t, argsFlag)
	assert.Equal(t, "{}", argsFlag.DefValue)

	freqFlag := callCmd.Flags().Lookup("frequency")
	require.NotNil(t, freqFlag)
	assert.Equal(t, "usually", freqFlag.DefValue)

	for _, name := range []string{"write", "offline", "no-cache", "background", "immediate", "key"} {
		assert.NotNil(t, callCmd.Flags().Lookup(name), name)
	}
}

func TestParseFrequency(t *testing.T) {
	for _, f := range []ws.UpdateFrequency{ws.FrequencyUsually, ws.FrequencyOften, ws.FrequencySometimes, ws.FrequencyRarely} {
		got, err := parseFrequency(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := parseFrequency("hourly")
	assert.Error(t, err)
}

func TestCallDirectives(t *testing.T) {
	opts := &CallOptions{RootOptions: &RootOptions{}, Frequency: "rarely", CacheKey: "course:4", Background: true}
	d, err := opts.directives()
	require.NoError(t, err)
	assert.True(t, d.ReadFromCache)
	assert.True(t, d.UpdateInBackground)
	assert.Equal(t, ws.FrequencyRarely, d.UpdateFrequency)
	assert.Equal(t, "course:4", d.CacheKey)

	opts = &CallOptions{RootOptions: &RootOptions{}, Frequency: "usually", Write: true, Immediate: true}
	d, err = opts.directives()
	require.NoError(t, err)
	assert.False(t, d.ReadFromCache)
	assert.False(t, d.EmergencyAllowed())
	assert.True(t, d.SkipQueue)

	opts = &CallOptions{RootOptions: &RootOptions{}, Frequency: "usually", NoCache: true, Offline: true}
	d, err = opts.directives()
	require.NoError(t, err)
	assert.False(t, d.ReadFromCache)
	assert.False(t, d.SaveToCache)
	assert.True(t, d.ForceOffline)
}

func TestTableGetQuery(t *testing.T) {
	opts := &TableGetOptions{Limit: 5, Offset: 2, Sort: "-last_modified"}
	q := opts.query()
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, 2, q.Offset)
	require.Len(t, q.Sort, 1)
	assert.Equal(t, "last_modified", q.Sort[0].Column)
	assert.True(t, q.Sort[0].Desc)
}

// newSite serves a site that knows one function and rejects the others.
func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("wsfunction") {
		case "core_webservice_get_site_info":
			_, _ = w.Write([]byte(`{"sitename":"Campus","userid":7}`))
		case "core_course_get_courses":
			_, _ = w.Write([]byte(`[{"id":4,"fullname":"Maths"}]`))
		default:
			_, _ = w.Write([]byte(`{"exception":"moodle_exception","errorcode":"invalidrecord","message":"Can not find data record"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "absorber.yaml")
	content := "store:\n" +
		"  type: sqlite\n" +
		"  path: " + filepath.Join(dir, "absorber.db") + "\n" +
		"ws:\n" +
		"  site_id: campus\n" +
		"  token: secret\n" +
		"  base_url: " + baseURL + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, "--format", "xml", "table", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCallAndInvalidate(t *testing.T) {
	cfg := writeConfig(t, newSite(t).URL)

	out, err := run(t, "-c", cfg, "--format", "json", "call", "core_course_get_courses")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":4,"fullname":"Maths"}]`, strings.TrimSpace(out))

	out, err = run(t, "-c", cfg, "--format", "json", "call", "core_course_get_courses", "--offline")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":4,"fullname":"Maths"}]`, strings.TrimSpace(out), "served from the cache file")

	out, err = run(t, "-c", cfg, "invalidate", "--all")
	require.NoError(t, err)
	assert.Equal(t, "all responses expired\n", out)

	out, err = run(t, "-c", cfg, "invalidate", "--all", "--delete")
	require.NoError(t, err)
	assert.Equal(t, "all responses deleted\n", out)

	_, err = run(t, "-c", cfg, "call", "core_course_get_courses", "--offline")
	assert.Error(t, err)
}

func TestCallReportsServerErrors(t *testing.T) {
	cfg := writeConfig(t, newSite(t).URL)

	_, err := run(t, "-c", cfg, "call", "mod_forum_get_forum", "--args", `{"forumid":3}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error invalidrecord")
}

func TestCallRejectsBadArguments(t *testing.T) {
	_, err := run(t, "call", "core_course_get_courses", "--args", "{not json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --args JSON")

	_, err = run(t, "call", "core_course_get_courses", "--frequency", "hourly")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid frequency")
}

func TestInvalidateScopes(t *testing.T) {
	cfg := writeConfig(t, "")

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--key", "course:4"}, "key course:4 expired\n"},
		{[]string{"--key", "course:4", "--delete"}, "key course:4 deleted\n"},
		{[]string{"--prefix", "course:"}, "keys course:* expired\n"},
		{[]string{"--component", "mod_forum", "--component-id", "12"}, "component mod_forum expired\n"},
		{[]string{"--method", "core_course_get_contents", "--args", `{"courseid":4}`}, "call core_course_get_contents expired\n"},
		{[]string{"--method", "core_course_get_contents", "--delete"}, "call core_course_get_contents deleted\n"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			out, err := run(t, append([]string{"-c", cfg, "invalidate"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestInvalidateFlagRules(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := run(t, "-c", cfg, "invalidate")
	assert.Error(t, err, "a scope is required")

	_, err = run(t, "-c", cfg, "invalidate", "--all", "--key", "k")
	assert.Error(t, err, "scopes are exclusive")

	_, err = run(t, "-c", cfg, "invalidate", "--prefix", "course:", "--delete")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--delete is not supported")
}

func TestTableCommands(t *testing.T) {
	cfg := writeConfig(t, newSite(t).URL)

	_, err := run(t, "-c", cfg, "call", "core_course_get_courses", "--key", "courses")
	require.NoError(t, err)

	out, err := run(t, "-c", cfg, "table", "list")
	require.NoError(t, err)
	assert.Contains(t, strings.Split(strings.TrimSpace(out), "\n"), ws.CacheTableName)

	out, err = run(t, "-c", cfg, "table", "describe", ws.CacheTableName)
	require.NoError(t, err)
	assert.Contains(t, out, "primary key: id")
	assert.Contains(t, out, "last_modified")

	out, err = run(t, "-c", cfg, "--format", "json", "table", "get", ws.CacheTableName, "--where", `{"key":"courses"}`)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"key":"courses"`)
}
