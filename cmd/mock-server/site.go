package main

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/transport"
)

// wsException is the error body the site returns with HTTP 200.
type wsException struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

func (e *wsException) Error() string {
	return e.ErrorCode + ": " + e.Message
}

func missingRecord(what string) *wsException {
	return &wsException{
		Exception: "dml_missing_record_exception",
		ErrorCode: "invalidrecord",
		Message:   "Can't find data record in database table " + what + ".",
	}
}

type course struct {
	ID        int64  `json:"id"`
	ShortName string `json:"shortname"`
	FullName  string `json:"fullname"`
}

type discussion struct {
	ID      int64  `json:"discussion"`
	ForumID int64  `json:"forumid"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type function func(s *Site, args url.Values) (any, error)

// Site is an in-memory web-service site with a handful of functions.
type Site struct {
	Token string

	mu          sync.Mutex
	courses     []course
	discussions []discussion
	failures    map[string]*wsException
	calls       map[string]int
	seq         int64
}

// NewSite returns a site seeded with two courses.
func NewSite(token string) *Site {
	return &Site{
		Token: token,
		courses: []course{
			{ID: 2, ShortName: "MATH1", FullName: "Mathematics"},
			{ID: 4, ShortName: "HIST1", FullName: "History"},
		},
		failures: make(map[string]*wsException),
		calls:    make(map[string]int),
	}
}

var functions map[string]function

func init() {
	// filled here because siteInfo reads it
	functions = map[string]function{
		"core_webservice_get_site_info":   siteInfo,
		"core_course_get_courses":         getCourses,
		"core_course_get_contents":        getContents,
		"mod_forum_get_forum_discussions": getDiscussions,
		"mod_forum_add_discussion":        addDiscussion,
	}
}

// InjectFailure makes every later call of function fail with code until
// ClearFailure.
func (s *Site) InjectFailure(function, code, message string) {
	if message == "" {
		message = "Injected failure " + code
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[function] = &wsException{Exception: "moodle_exception", ErrorCode: code, Message: message}
}

func (s *Site) ClearFailure(function string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, function)
}

// Calls returns how many times each function ran, composite members
// included.
func (s *Site) Calls() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.calls))
	for k, v := range s.calls {
		out[k] = v
	}
	return out
}

// Invoke runs one function with its form arguments.
func (s *Site) Invoke(name string, args url.Values) (any, error) {
	s.mu.Lock()
	s.calls[name]++
	injected := s.failures[name]
	s.mu.Unlock()

	if injected != nil {
		return nil, injected
	}
	if name == multiCallMethod {
		return s.invokeMulti(args)
	}
	fn, ok := functions[name]
	if !ok {
		return nil, missingRecord("external_functions")
	}
	return fn(s, args)
}

const multiCallMethod = core.MultiCallMethod

type slot struct {
	Error     bool   `json:"error"`
	Data      string `json:"data,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// invokeMulti runs requests[i][function] with the JSON arguments in
// requests[i][arguments]. A failed member fails only its own slot.
func (s *Site) invokeMulti(args url.Values) (any, error) {
	var responses []slot
	for i := 0; ; i++ {
		prefix := "requests[" + strconv.Itoa(i) + "]"
		name := args.Get(prefix + "[function]")
		if name == "" {
			break
		}

		var plain map[string]any
		if raw := args.Get(prefix + "[arguments]"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &plain); err != nil {
				responses = append(responses, exceptionSlot(&wsException{
					Exception: "invalid_parameter_exception",
					ErrorCode: "invalidparameter",
					Message:   "Invalid arguments of " + name,
				}))
				continue
			}
		}
		form := url.Values{}
		transport.EncodeForm(form, "", plain)

		data, err := s.Invoke(name, form)
		if err != nil {
			responses = append(responses, exceptionSlot(err))
			continue
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		responses = append(responses, slot{Data: string(encoded)})
	}
	if len(responses) == 0 {
		return nil, &wsException{Exception: "invalid_parameter_exception", ErrorCode: "invalidparameter", Message: "No requests"}
	}
	return map[string]any{"responses": responses}, nil
}

func exceptionSlot(err error) slot {
	ex, ok := err.(*wsException)
	if !ok {
		ex = &wsException{Exception: "coding_exception", ErrorCode: "codingerror", Message: err.Error()}
	}
	raw, _ := json.Marshal(ex)
	return slot{Error: true, Exception: string(raw)}
}

func intArg(args url.Values, name string) (int64, error) {
	v, err := strconv.ParseInt(args.Get(name), 10, 64)
	if err != nil {
		return 0, &wsException{
			Exception: "invalid_parameter_exception",
			ErrorCode: "invalidparameter",
			Message:   "Invalid parameter value detected (" + name + ")",
		}
	}
	return v, nil
}

// outsideBMP reports whether any value needs four bytes in UTF-8, which a
// utf8 (not utf8mb4) database column rejects.
func outsideBMP(args url.Values) bool {
	for _, vals := range args {
		for _, v := range vals {
			for _, r := range v {
				if utf8.RuneLen(r) == 4 {
					return true
				}
			}
		}
	}
	return false
}

func siteInfo(s *Site, _ url.Values) (any, error) {
	names := make([]map[string]string, 0, len(functions)+1)
	for name := range functions {
		names = append(names, map[string]string{"name": name, "version": "2024042200"})
	}
	names = append(names, map[string]string{"name": multiCallMethod, "version": "2024042200"})
	sort.Slice(names, func(i, j int) bool { return names[i]["name"] < names[j]["name"] })
	return map[string]any{
		"sitename":  "Mock Campus",
		"username":  "student",
		"userid":    7,
		"release":   "4.4",
		"functions": names,
	}, nil
}

func getCourses(s *Site, _ url.Values) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]course(nil), s.courses...), nil
}

func getContents(s *Site, args url.Values) (any, error) {
	id, err := intArg(args, "courseid")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.courses {
		if c.ID == id {
			return []map[string]any{
				{"id": id*10 + 1, "name": "General", "section": 0, "modules": []any{}},
				{"id": id*10 + 2, "name": "Week 1", "section": 1, "modules": []any{}},
			}, nil
		}
	}
	return nil, missingRecord("course")
}

func getDiscussions(s *Site, args url.Values) (any, error) {
	forumID, err := intArg(args, "forumid")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []discussion{}
	for _, d := range s.discussions {
		if d.ForumID == forumID {
			out = append(out, d)
		}
	}
	return map[string]any{"discussions": out, "warnings": []any{}}, nil
}

func addDiscussion(s *Site, args url.Values) (any, error) {
	forumID, err := intArg(args, "forumid")
	if err != nil {
		return nil, err
	}
	if outsideBMP(args) {
		return nil, &wsException{
			Exception: "dml_write_exception",
			ErrorCode: "dmlwriteexception",
			Message:   "Error writing to database",
		}
	}
	subject := strings.TrimSpace(args.Get("subject"))
	if subject == "" {
		return nil, &wsException{
			Exception: "invalid_parameter_exception",
			ErrorCode: "invalidparameter",
			Message:   "Invalid parameter value detected (subject)",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.discussions = append(s.discussions, discussion{
		ID:      s.seq,
		ForumID: forumID,
		Subject: subject,
		Message: args.Get("message"),
	})
	return map[string]any{"discussionid": s.seq, "warnings": []any{}}, nil
}
