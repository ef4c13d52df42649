package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnmusic/courseclient/internal/api"
	"learnmusic/courseclient/internal/credential"
	"learnmusic/courseclient/internal/session"
)

func issue(t *testing.T, email string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, credential.Claims{Email: email}).SignedString([]byte("k"))
	require.NoError(t, err)
	return token
}

type recorded struct {
	mu     sync.Mutex
	bodies [][]byte
	tokens []string
}

func (r *recorded) add(body []byte, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, body)
	r.tokens = append(r.tokens, token)
}

func (r *recorded) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func setup(t *testing.T, handler http.HandlerFunc) (*Coordinator, *session.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := session.NewStore(session.NewMemorySlot())
	require.NoError(t, err)
	apiClient, err := api.NewClient(store, api.Options{})
	require.NoError(t, err)
	c, err := NewCoordinator(apiClient, store, Config{PurchaseURL: srv.URL})
	require.NoError(t, err)
	return c, store
}

func TestEncodeBodyDoubleEncodes(t *testing.T) {
	body, err := EncodeBody("a@b.com", "Guitar")
	require.NoError(t, err)
	assert.Equal(t, `{"body":"{\"email\":\"a@b.com\",\"courseName\":\"Guitar\"}"}`, string(body))

	var once map[string]string
	require.NoError(t, json.Unmarshal(body, &once))
	assert.Equal(t, map[string]string{"body": `{"email":"a@b.com","courseName":"Guitar"}`}, once)
}

func TestEncodeBodyKeepsHTMLCharacters(t *testing.T) {
	body, err := EncodeBody("a@b.com", "Rock & Roll <Live>")
	require.NoError(t, err)
	assert.Equal(t, `{"body":"{\"email\":\"a@b.com\",\"courseName\":\"Rock & Roll <Live>\"}"}`, string(body))
}

func TestBuyCourseSendsExactBodyAndRawToken(t *testing.T) {
	rec := &recorded{}
	c, store := setup(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rec.add(b, r.Header.Get("auth-token"))
		_, _ = io.WriteString(w, `{"statusCode":200}`)
	})
	token := issue(t, "a@b.com")
	require.NoError(t, store.Set(context.Background(), token))

	receipt, err := c.BuyCourse(context.Background(), "Guitar")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", receipt.Email)
	assert.Equal(t, "Guitar", receipt.CourseName)
	assert.True(t, receipt.RefreshCatalog)
	assert.JSONEq(t, `{"statusCode":200}`, string(receipt.Response))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, `{"body":"{\"email\":\"a@b.com\",\"courseName\":\"Guitar\"}"}`, string(rec.bodies[0]))
	assert.Equal(t, token, rec.tokens[0])
}

func TestBuyCourseUnauthenticatedMakesNoCall(t *testing.T) {
	rec := &recorded{}
	c, store := setup(t, func(w http.ResponseWriter, r *http.Request) {
		rec.add(nil, "")
	})

	_, err := c.BuyCourse(context.Background(), "Guitar")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	require.NoError(t, store.Set(context.Background(), "opaque-token"))
	_, err = c.BuyCourse(context.Background(), "Guitar")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	require.NoError(t, store.Set(context.Background(), issue(t, "")))
	_, err = c.BuyCourse(context.Background(), "Guitar")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Equal(t, 0, rec.count())
}

func TestBuyCourseUsesCurrentToken(t *testing.T) {
	rec := &recorded{}
	c, store := setup(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rec.add(b, r.Header.Get("auth-token"))
	})
	require.NoError(t, store.Set(context.Background(), issue(t, "first@b.com")))
	_, err := c.BuyCourse(context.Background(), "Piano")
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), issue(t, "second@b.com")))
	receipt, err := c.BuyCourse(context.Background(), "Piano")
	require.NoError(t, err)
	assert.Equal(t, "second@b.com", receipt.Email)
	assert.Contains(t, string(rec.bodies[1]), `second@b.com`)
}

func TestBuyCourseRemoteFailureIsReturned(t *testing.T) {
	c, store := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"not allowed"}`)
	})
	require.NoError(t, store.Set(context.Background(), issue(t, "a@b.com")))

	_, err := c.BuyCourse(context.Background(), "Guitar")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrHTTPFailure)

	var purchaseErr *Error
	require.True(t, errors.As(err, &purchaseErr))
	assert.Equal(t, "Guitar", purchaseErr.Course)
	assert.False(t, c.InFlight("Guitar"))
}

func TestBuyCourseSameCourseGuardedDifferentCoursesParallel(t *testing.T) {
	var hits atomic.Int32
	arrived := make(chan string, 2)
	unblock := make(chan struct{})
	c, store := setup(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var env wireBody
		_ = json.NewDecoder(r.Body).Decode(&env)
		var req Request
		_ = json.Unmarshal([]byte(env.Body), &req)
		arrived <- req.CourseName
		<-unblock
	})
	require.NoError(t, store.Set(context.Background(), issue(t, "a@b.com")))

	errs := make(chan error, 2)
	go func() {
		_, err := c.BuyCourse(context.Background(), "Piano")
		errs <- err
	}()
	go func() {
		_, err := c.BuyCourse(context.Background(), "Guitar")
		errs <- err
	}()

	seen := map[string]bool{<-arrived: true, <-arrived: true}
	assert.Equal(t, map[string]bool{"Piano": true, "Guitar": true}, seen)

	_, err := c.BuyCourse(context.Background(), "Piano")
	assert.ErrorIs(t, err, ErrPurchaseInProgress)

	close(unblock)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, int32(2), hits.Load())
}

func TestEncodeBodyKeepsLineSeparatorsRaw(t *testing.T) {
	body, err := EncodeBody("a@b.com", "Jazz\u2028Piano")
	require.NoError(t, err)
	assert.Equal(t, `{"body":"{\"email\":\"a@b.com\",\"courseName\":\"Jazz`+"\u2028"+`Piano\"}"}`, string(body))
}

type fixedTokens string

func (f fixedTokens) Get(context.Context) (string, bool, error) { return string(f), true, nil }

func TestBuyCourseHeaderMatchesIdentityToken(t *testing.T) {
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rec.add(b, r.Header.Get("auth-token"))
	}))
	t.Cleanup(srv.Close)

	// The api client's store has already moved on to another account.
	store, err := session.NewStore(session.NewMemorySlot())
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), issue(t, "second@b.com")))
	apiClient, err := api.NewClient(store, api.Options{})
	require.NoError(t, err)

	first := issue(t, "first@b.com")
	c, err := NewCoordinator(apiClient, fixedTokens(first), Config{PurchaseURL: srv.URL})
	require.NoError(t, err)

	receipt, err := c.BuyCourse(context.Background(), "Piano")
	require.NoError(t, err)
	assert.Equal(t, "first@b.com", receipt.Email)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, first, rec.tokens[0])
	assert.Contains(t, string(rec.bodies[0]), "first@b.com")
}
