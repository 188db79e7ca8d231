package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/transport"
)

func newTestSite(t *testing.T) (*Site, *httptest.Server, *transport.HTTPTransport) {
	t.Helper()
	site := NewSite("secret")
	srv := httptest.NewServer(NewHTTPServer(site, zerolog.Nop()).Echo)
	t.Cleanup(srv.Close)
	return site, srv, transport.NewHTTPTransport(srv.URL, "secret", 5*time.Second, nil)
}

var settings = core.Settings{Filter: true, FileURL: true, ResponseExpected: true}

func TestServerCall(t *testing.T) {
	site, _, tr := newTestSite(t)

	data, err := tr.Call(context.Background(), "core_course_get_contents", map[string]any{"courseid": 4}, settings)
	require.NoError(t, err)
	var sections []map[string]any
	require.NoError(t, json.Unmarshal(data, &sections))
	require.Len(t, sections, 2)
	assert.Equal(t, float64(41), sections[0]["id"])
	assert.Equal(t, 1, site.Calls()["core_course_get_contents"])
}

func TestServerErrors(t *testing.T) {
	_, srv, tr := newTestSite(t)
	ctx := context.Background()

	_, err := tr.Call(ctx, "core_course_get_contents", map[string]any{"courseid": 99}, settings)
	var se *core.ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "invalidrecord", se.ErrorCode)

	_, err = tr.Call(ctx, "core_not_a_function", nil, settings)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "invalidrecord", se.ErrorCode)

	bad := transport.NewHTTPTransport(srv.URL, "wrong", 5*time.Second, nil)
	_, err = bad.Call(ctx, "core_course_get_courses", nil, settings)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "invalidtoken", se.ErrorCode)
}

func TestServerComposite(t *testing.T) {
	site, _, tr := newTestSite(t)

	slots, err := tr.CallMulti(context.Background(), []core.MultiCall{
		{Method: "core_course_get_courses", Filter: true},
		{Method: "core_course_get_contents", Args: map[string]any{"courseid": 99}},
		{Method: "core_course_get_contents", Args: map[string]any{"courseid": 2}},
	}, settings)
	require.NoError(t, err)
	require.Len(t, slots, 3)

	assert.False(t, slots[0].Error)
	assert.Contains(t, slots[0].Data, "Mathematics")
	assert.True(t, slots[1].Error)
	se, ok := core.ParseServerError([]byte(slots[1].Exception))
	require.True(t, ok)
	assert.Equal(t, "invalidrecord", se.ErrorCode)
	assert.False(t, slots[2].Error)

	calls := site.Calls()
	assert.Equal(t, 1, calls[core.MultiCallMethod])
	assert.Equal(t, 2, calls["core_course_get_contents"])
}

func TestServerRejectsCharactersOutsideBMP(t *testing.T) {
	_, _, tr := newTestSite(t)
	ctx := context.Background()
	args := map[string]any{"forumid": 3, "subject": "Party \U0001F389", "message": "hi"}

	_, err := tr.Call(ctx, "mod_forum_add_discussion", args, settings)
	var se *core.ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "dmlwriteexception", se.ErrorCode)

	clean := settings
	clean.CleanUnicode = true
	_, err = tr.Call(ctx, "mod_forum_add_discussion", args, clean)
	require.NoError(t, err)

	data, err := tr.Call(ctx, "mod_forum_get_forum_discussions", map[string]any{"forumid": 3}, settings)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"subject":"Party"`)
}

func TestInjectedFailures(t *testing.T) {
	_, srv, tr := newTestSite(t)
	ctx := context.Background()

	resp, err := http.Post(srv.URL+"/mock/failures", "application/json",
		strings.NewReader(`{"function":"core_course_get_courses","errorcode":"usernotfullysetup"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = tr.Call(ctx, "core_course_get_courses", nil, settings)
	var se *core.ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "usernotfullysetup", se.ErrorCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/mock/failures/core_course_get_courses", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	_, err = tr.Call(ctx, "core_course_get_courses", nil, settings)
	assert.NoError(t, err)

	resp, err = http.Post(srv.URL+"/mock/failures", "application/json", strings.NewReader(`{"function":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerSiteInfoListsFunctions(t *testing.T) {
	_, _, tr := newTestSite(t)

	data, err := tr.Call(context.Background(), "core_webservice_get_site_info", nil, settings)
	require.NoError(t, err)
	var info struct {
		SiteName  string `json:"sitename"`
		Functions []struct {
			Name string `json:"name"`
		} `json:"functions"`
	}
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "Mock Campus", info.SiteName)
	require.Len(t, info.Functions, len(functions)+1)

	names := make([]string, len(info.Functions))
	for i, f := range info.Functions {
		names[i] = f.Name
	}
	assert.Contains(t, names, "mod_forum_add_discussion")
	assert.Contains(t, names, core.MultiCallMethod)
	assert.IsNonDecreasing(t, names)
}
