package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareValues(t *testing.T) {
	assert.Equal(t, 0, CompareValues(nil, 0))
	assert.Equal(t, -1, CompareValues(nil, 1))
	assert.Equal(t, 1, CompareValues(1, nil))
	assert.Equal(t, 0, CompareValues(int64(3), 3.0))
	assert.Equal(t, 0, CompareValues(json.Number("7"), uint8(7)))
	assert.Equal(t, -1, CompareValues(100, "a"))
	assert.Equal(t, 1, CompareValues("a", 100))
	assert.Equal(t, -1, CompareValues("a", "b"))
	assert.Equal(t, 1, CompareValues(true, false))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(nil, nil))
	assert.False(t, ValuesEqual(nil, 0))
	assert.True(t, ValuesEqual(5, int64(5)))
	assert.True(t, ValuesEqual("x", []byte("x")))
	assert.False(t, ValuesEqual("5", 5))
}

func TestSortRecordsMultiKeyStable(t *testing.T) {
	records := []Record{
		{"id": 1, "group": "b", "rank": 2},
		{"id": 2, "group": "a", "rank": nil},
		{"id": 3, "group": "b", "rank": -1},
		{"id": 4, "group": "a", "rank": 1},
		{"id": 5, "group": "a", "rank": 0},
	}
	SortRecords(records, []Sort{{Column: "group"}, {Column: "rank", Desc: true}})

	ids := make([]any, len(records))
	for i, r := range records {
		ids[i] = r["id"]
	}
	// nil rank sorts as zero and keeps its original position relative to id 5.
	assert.Equal(t, []any{4, 2, 5, 1, 3}, ids)
}

func TestApplyQuery(t *testing.T) {
	records := []Record{
		{"id": 3, "name": "c"},
		{"id": 1, "name": "a"},
		{"id": 2, "name": "b"},
	}
	out := ApplyQuery(records, Query{Sort: []Sort{{Column: "id"}}, Offset: 1, Limit: 1, Columns: []string{"name"}})
	assert.Equal(t, []Record{{"name": "b"}}, out)

	assert.Empty(t, ApplyQuery([]Record{{"id": 1}}, Query{Offset: 5}))
}

func TestParseServerError(t *testing.T) {
	se, ok := ParseServerError([]byte(`{"exception":"moodle_exception","errorcode":"invalidtoken","message":"Invalid token"}`))
	assert.True(t, ok)
	assert.Equal(t, "invalidtoken", se.ErrorCode)
	assert.Equal(t, "Invalid token (invalidtoken)", se.Error())
	assert.JSONEq(t, `{"exception":"moodle_exception","errorcode":"invalidtoken","message":"Invalid token"}`, string(se.Raw()))

	_, ok = ParseServerError([]byte(`{"id":1}`))
	assert.False(t, ok)
	_, ok = ParseServerError([]byte(`[1,2]`))
	assert.False(t, ok)
}
