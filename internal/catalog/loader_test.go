package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnmusic/courseclient/internal/api"
)

type fakeRequester struct {
	calls      int
	authorized []bool
	reply      string
	err        error
}

func (f *fakeRequester) Request(_ context.Context, _, _ string, _ any, authorize bool) (json.RawMessage, error) {
	f.calls++
	f.authorized = append(f.authorized, authorize)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.reply), nil
}

func newLoader(t *testing.T, f *fakeRequester) *Loader {
	t.Helper()
	l, err := NewLoader(f, "http://catalog.test/courses", nil)
	require.NoError(t, err)
	return l
}

func TestFetchCoursesDecodesDoubleEncodedBody(t *testing.T) {
	f := &fakeRequester{reply: `{"statusCode":200,"body":"[{\"course_name\":\"Piano\",\"_id\":\"1\"}]"}`}
	l := newLoader(t, f)

	assert.Equal(t, Pending, l.State().Phase)

	courses, err := l.FetchCourses(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "Piano", courses[0].Name)
	assert.Equal(t, "1", courses[0].ID)
	assert.JSONEq(t, `{"course_name":"Piano","_id":"1"}`, string(courses[0].Raw))
	assert.Equal(t, []bool{false}, f.authorized, "catalog is fetched unauthorized")

	state := l.State()
	assert.Equal(t, Resolved, state.Phase)
	assert.Len(t, state.Courses, 1)
}

func TestFetchCoursesReplacesListWholesale(t *testing.T) {
	f := &fakeRequester{reply: `{"body":"[{\"course_name\":\"Piano\",\"_id\":\"1\"},{\"course_name\":\"Guitar\",\"_id\":\"2\"}]"}`}
	l := newLoader(t, f)
	first, err := l.FetchCourses(context.Background())
	require.NoError(t, err)
	first[0].Name = "mutated"

	f.reply = `{"body":"[{\"course_name\":\"Violin\",\"_id\":\"3\"}]"}`
	_, err = l.FetchCourses(context.Background())
	require.NoError(t, err)

	state := l.State()
	require.Len(t, state.Courses, 1)
	assert.Equal(t, "Violin", state.Courses[0].Name)
}

func TestFetchCoursesEnvelopeFailure(t *testing.T) {
	for _, reply := range []string{`not json`, `{"body":42}`} {
		l := newLoader(t, &fakeRequester{reply: reply})
		_, err := l.FetchCourses(context.Background())
		assert.ErrorIs(t, err, ErrEnvelopeParse, reply)
		assert.NotErrorIs(t, err, ErrPayloadParse, reply)
		assert.Equal(t, Failed, l.State().Phase)
	}
}

func TestFetchCoursesPayloadFailure(t *testing.T) {
	for _, reply := range []string{`{"body":"[{broken"}`, `{}`, `{"body":"{\"course_name\":\"Piano\"}"}`} {
		l := newLoader(t, &fakeRequester{reply: reply})
		_, err := l.FetchCourses(context.Background())
		assert.ErrorIs(t, err, ErrPayloadParse, reply)

		state := l.State()
		assert.Equal(t, Failed, state.Phase)
		assert.Error(t, state.Err)
	}
}

func TestFetchCoursesRequestFailure(t *testing.T) {
	l := newLoader(t, &fakeRequester{err: &api.HTTPError{Status: 503}})
	_, err := l.FetchCourses(context.Background())

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, StageRequest, fetchErr.Stage)
	assert.ErrorIs(t, err, api.ErrHTTPFailure)
	assert.Equal(t, "failed", l.State().Phase.String())
}

func TestInvalidateMarksResolvedCatalogStale(t *testing.T) {
	f := &fakeRequester{reply: `{"body":"[]"}`}
	l := newLoader(t, f)

	l.Invalidate()
	assert.False(t, l.State().Stale, "pending catalog has nothing to invalidate")

	_, err := l.FetchCourses(context.Background())
	require.NoError(t, err)
	l.Invalidate()
	assert.True(t, l.State().Stale)

	_, err = l.FetchCourses(context.Background())
	require.NoError(t, err)
	assert.False(t, l.State().Stale)
}

func TestFailedRefreshKeepsLastCoursesStale(t *testing.T) {
	f := &fakeRequester{reply: `{"body":"[{\"course_name\":\"Piano\",\"_id\":\"1\"}]"}`}
	l := newLoader(t, f)
	_, err := l.FetchCourses(context.Background())
	require.NoError(t, err)

	f.err = &api.NetworkError{Err: errors.New("connection refused")}
	_, err = l.FetchCourses(context.Background())
	require.Error(t, err)

	state := l.State()
	assert.Equal(t, Failed, state.Phase)
	assert.ErrorIs(t, state.Err, api.ErrNetworkFailure)
	assert.True(t, state.Stale)
	require.Len(t, state.Courses, 1)
	assert.Equal(t, "Piano", state.Courses[0].Name)
}

func TestFailedFirstFetchHasNoCourses(t *testing.T) {
	l := newLoader(t, &fakeRequester{reply: `nope`})
	_, err := l.FetchCourses(context.Background())
	require.Error(t, err)

	state := l.State()
	assert.Nil(t, state.Courses)
	assert.False(t, state.Stale)
}
