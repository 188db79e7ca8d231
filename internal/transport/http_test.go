package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

type recorded struct {
	query url.Values
	form  url.Values
}

// newServer answers every request with status and body and returns the
// requests seen so far.
func newServer(t *testing.T, status int, body string) (*HTTPTransport, func() []recorded) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ServerPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		got = append(got, recorded{query: r.URL.Query(), form: r.PostForm})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewHTTPTransport(srv.URL+"/", "secret", 5*time.Second, nil), func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), got...)
	}
}

func settings() core.Settings {
	return core.Settings{Lang: "es", Filter: true, ResponseExpected: true}
}

func TestCallSendsFormFields(t *testing.T) {
	tr, got := newServer(t, http.StatusOK, `{"sitename":"Campus"}`)

	args := map[string]any{
		"courseid": 4,
		"options": []map[string]any{
			{"name": "excludemodules", "value": true},
			{"name": "limit", "value": nil},
		},
	}
	data, err := tr.Call(context.Background(), "core_course_get_contents", args, settings())
	require.NoError(t, err)
	assert.JSONEq(t, `{"sitename":"Campus"}`, string(data))

	requests := got()
	require.Len(t, requests, 1)
	r := requests[0]
	assert.Equal(t, "core_course_get_contents", r.query.Get("wsfunction"))
	assert.Equal(t, "json", r.query.Get("moodlewsrestformat"))

	form := r.form
	assert.Equal(t, "secret", form.Get("wstoken"))
	assert.Equal(t, "core_course_get_contents", form.Get("wsfunction"))
	assert.Equal(t, "true", form.Get("moodlewssettingfilter"))
	assert.Equal(t, "false", form.Get("moodlewssettingfileurl"))
	assert.Equal(t, "es", form.Get("moodlewssettinglang"))
	assert.Equal(t, "4", form.Get("courseid"))
	assert.Equal(t, "excludemodules", form.Get("options[0][name]"))
	assert.Equal(t, "1", form.Get("options[0][value]"))
	assert.Equal(t, "limit", form.Get("options[1][name]"))
	_, present := form["options[1][value]"]
	assert.False(t, present, "nulls are omitted")
}

func TestCallReturnsServerErrors(t *testing.T) {
	payload := `{"exception":"moodle_exception","errorcode":"invalidtoken","message":"Invalid token"}`
	tr, _ := newServer(t, http.StatusOK, payload)

	_, err := tr.Call(context.Background(), "core_webservice_get_site_info", nil, settings())
	var se *core.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "invalidtoken", se.ErrorCode)
	assert.JSONEq(t, payload, string(se.Raw()))
}

func TestCallHTTPFailureIsTransportError(t *testing.T) {
	tr, _ := newServer(t, http.StatusInternalServerError, "oops")

	_, err := tr.Call(context.Background(), "core_webservice_get_site_info", nil, settings())
	var te *core.TransportError
	assert.ErrorAs(t, err, &te)

	unreachable := NewHTTPTransport("http://127.0.0.1:1", "secret", time.Second, nil)
	_, err = unreachable.Call(context.Background(), "core_webservice_get_site_info", nil, settings())
	assert.ErrorAs(t, err, &te)
}

func TestCallEmptyResponses(t *testing.T) {
	tr, _ := newServer(t, http.StatusOK, "null")

	s := settings()
	s.ResponseExpected = false
	data, err := tr.Call(context.Background(), "core_user_update_picture", nil, s)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	_, err = tr.Call(context.Background(), "core_user_update_picture", nil, settings())
	var se *core.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "invalidresponse", se.ErrorCode)
}

func TestCallRejectsMalformedJSON(t *testing.T) {
	tr, _ := newServer(t, http.StatusOK, "<html>maintenance</html>")

	_, err := tr.Call(context.Background(), "core_webservice_get_site_info", nil, settings())
	var se *core.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "invalidresponse", se.ErrorCode)
}

func TestCallCleansUnicode(t *testing.T) {
	tr, got := newServer(t, http.StatusOK, `{}`)

	s := settings()
	s.CleanUnicode = true
	_, err := tr.Call(context.Background(), "mod_forum_add_discussion_post", map[string]any{"message": "nice \U0001F44D work"}, s)
	require.NoError(t, err)
	assert.Equal(t, "nice  work", got()[0].form.Get("message"))
}

func TestCallMulti(t *testing.T) {
	tr, got := newServer(t, http.StatusOK, `{"responses":[{"error":false,"data":"{\"id\":1}"},{"error":true,"exception":"{\"exception\":\"moodle_exception\",\"errorcode\":\"invalidrecord\",\"message\":\"x\"}"}]}`)

	calls := []core.MultiCall{
		{Method: "mod_forum_get_forum", Args: map[string]any{"id": 1}, Filter: true, FileURL: true},
		{Method: "mod_forum_get_forum", Args: map[string]any{"id": 2, "name": "caf\U0001F600"}},
	}
	s := settings()
	s.CleanUnicode = true
	slots, err := tr.CallMulti(context.Background(), calls, s)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.False(t, slots[0].Error)
	assert.JSONEq(t, `{"id":1}`, slots[0].Data)
	assert.True(t, slots[1].Error)

	form := got()[0].form
	assert.Equal(t, core.MultiCallMethod, form.Get("wsfunction"))
	assert.Equal(t, "es", form.Get("moodlewssettinglang"))
	assert.Equal(t, "mod_forum_get_forum", form.Get("requests[0][function]"))
	assert.Equal(t, "1", form.Get("requests[0][settingfilter]"))
	assert.Equal(t, "0", form.Get("requests[1][settingfileurl]"))

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(form.Get("requests[1][arguments]")), &second))
	assert.Equal(t, "caf", second["name"])
}

func TestEncodeForm(t *testing.T) {
	plain, err := PlainArgs(map[string]any{
		"a": []any{"x", map[string]any{"b": false}},
		"c": 1.5,
	})
	require.NoError(t, err)

	form := url.Values{}
	EncodeForm(form, "", plain)
	assert.Equal(t, url.Values{
		"a[0]":    {"x"},
		"a[1][b]": {"0"},
		"c":       {"1.5"},
	}, form)
}

func TestSanitize(t *testing.T) {
	assert.True(t, HasOutsideBMP(map[string]any{"k": []any{"ok", "\U0001F600"}}))
	assert.False(t, HasOutsideBMP(map[string]any{"k": "café ñ"}))
	assert.Equal(t, map[string]any{"k": []any{"ok", "smile "}}, CleanArgs(map[string]any{"k": []any{"ok", "smile \U0001F600"}}))
	assert.Equal(t, "caf\u00e9", NFC("cafe\u0301"))
}
