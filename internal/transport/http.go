package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/logger"
)

// ServerPath is the REST endpoint of the remote web services.
const ServerPath = "/webservice/rest/server.php"

// HTTPTransport dispatches calls to the REST web-service endpoint with
// form-encoded arguments and JSON responses.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPTransport creates a transport for the site at baseURL. A nil
// client gets a default one with the given timeout.
func NewHTTPTransport(baseURL, token string, timeout time.Duration, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		log:     logger.Component(logger.New(), "transport"),
	}
}

// PlainArgs converts args to the JSON-shaped values (maps, slices,
// strings, json.Number, bools, nil) the encoder and sanitizer walk.
func PlainArgs(args any) (any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var plain any
	if err := dec.Decode(&plain); err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}
	return plain, nil
}

// EncodeForm flattens args into PHP-style form fields: a[0][b]=x.
// Booleans are sent as 1 and 0, nulls are omitted.
func EncodeForm(form url.Values, prefix string, v any) {
	switch val := v.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			EncodeForm(form, fieldName(prefix, k), val[k])
		}
	case []any:
		for i, item := range val {
			EncodeForm(form, fieldName(prefix, strconv.Itoa(i)), item)
		}
	case bool:
		if val {
			form.Set(prefix, "1")
		} else {
			form.Set(prefix, "0")
		}
	case string:
		form.Set(prefix, val)
	case json.Number:
		form.Set(prefix, val.String())
	default:
		form.Set(prefix, fmt.Sprint(val))
	}
}

func fieldName(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "[" + key + "]"
}

func boolSetting(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Call dispatches a single web-service function.
func (t *HTTPTransport) Call(ctx context.Context, method string, args any, settings core.Settings) (json.RawMessage, error) {
	plain, err := PlainArgs(args)
	if err != nil {
		return nil, err
	}
	if settings.CleanUnicode {
		plain = CleanArgs(plain)
	}

	form := url.Values{}
	EncodeForm(form, "", plain)
	form.Set("wstoken", t.token)
	form.Set("wsfunction", method)
	form.Set("moodlewsrestformat", "json")
	form.Set("moodlewssettingfilter", boolSetting(settings.Filter))
	form.Set("moodlewssettingfileurl", boolSetting(settings.FileURL))
	if settings.Lang != "" {
		form.Set("moodlewssettinglang", settings.Lang)
	}

	endpoint := t.baseURL + ServerPath + "?moodlewsrestformat=json&wsfunction=" + url.QueryEscape(method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &core.TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Warn().Err(err).Str("method", method).Msg("request failed")
		return nil, &core.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.TransportError{Err: err}
	}
	t.log.Debug().Str("method", method).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("call")

	if resp.StatusCode != http.StatusOK {
		return nil, &core.TransportError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		if !settings.ResponseExpected {
			return json.RawMessage(`{}`), nil
		}
		return nil, &core.ServerError{
			Exception: "invalid_response_exception",
			ErrorCode: "invalidresponse",
			Message:   "empty response from " + method,
		}
	}
	if se, ok := core.ParseServerError(body); ok {
		return nil, se
	}
	if !json.Valid(body) {
		return nil, &core.ServerError{
			Exception: "invalid_response_exception",
			ErrorCode: "invalidresponse",
			Message:   "response of " + method + " is not JSON",
		}
	}
	return json.RawMessage(body), nil
}

type multiRequest struct {
	Function       string `json:"function"`
	Arguments      string `json:"arguments"`
	SettingFilter  bool   `json:"settingfilter"`
	SettingFileURL bool   `json:"settingfileurl"`
}

type multiResponse struct {
	Responses []core.Slot `json:"responses"`
}

// CallMulti packs calls into one composite request. The language setting
// travels once at request scope; filter and file URL settings per call.
func (t *HTTPTransport) CallMulti(ctx context.Context, calls []core.MultiCall, settings core.Settings) ([]core.Slot, error) {
	requests := make([]multiRequest, len(calls))
	for i, c := range calls {
		plain, err := PlainArgs(c.Args)
		if err != nil {
			return nil, err
		}
		if settings.CleanUnicode {
			plain = CleanArgs(plain)
		}
		encoded, err := json.Marshal(plain)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments of %s: %w", c.Method, err)
		}
		requests[i] = multiRequest{
			Function:       c.Method,
			Arguments:      string(encoded),
			SettingFilter:  c.Filter,
			SettingFileURL: c.FileURL,
		}
	}

	outer := settings
	outer.ResponseExpected = true
	outer.CleanUnicode = false
	raw, err := t.Call(ctx, core.MultiCallMethod, map[string]any{"requests": requests}, outer)
	if err != nil {
		return nil, err
	}

	var resp multiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &core.ServerError{
			Exception: "invalid_response_exception",
			ErrorCode: "invalidresponse",
			Message:   "malformed composite response: " + err.Error(),
		}
	}
	return resp.Responses, nil
}
