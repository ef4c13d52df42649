package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnmusic/courseclient/internal/auth"
	"learnmusic/courseclient/internal/httpserver"
)

func setupEnv(t *testing.T) *httpserver.Ledger {
	t.Helper()
	ledger := httpserver.NewLedger(httpserver.DefaultCourses())
	srv := httptest.NewServer(httpserver.NewHandler(httpserver.Deps{
		Users:         map[string]string{"a@b.com": "secret"},
		SigningSecret: "cli-secret",
		Ledger:        ledger,
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("COURSECLIENT_API_BASE_URL", srv.URL)
	t.Setenv("COURSECLIENT_SESSION_BACKEND", "file")
	t.Setenv("COURSECLIENT_SESSION_STATE_FILE", filepath.Join(dir, "session.json"))
	t.Setenv("COURSECLIENT_AUDIT_LOG_FILE", filepath.Join(dir, "activity.log"))
	t.Setenv("COURSECLIENT_LOG_LEVEL", "error")
	return ledger
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWhoamiWithoutSession(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "not signed in\n", out)
}

func TestLoginBuyAndLogoutAcrossInvocations(t *testing.T) {
	ledger := setupEnv(t)

	out, err := run(t, "login", "--email", "a@b.com", "--password", "secret")
	require.NoError(t, err)
	assert.Equal(t, "signed in as a@b.com\n", out)

	out, err = run(t, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com\n", out)

	out, err = run(t, "buy", "Music", "Theory")
	require.NoError(t, err)
	assert.Contains(t, out, `bought "Music Theory" for a@b.com`)
	assert.Contains(t, out, "Piano")
	assert.Equal(t, []string{"Music Theory"}, ledger.Purchases("a@b.com"))

	out, err = run(t, "dashboard")
	require.NoError(t, err)
	assert.Equal(t, "Welcome back, a@b.com\n", out)

	_, err = run(t, "logout")
	require.NoError(t, err)

	out, err = run(t, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "not signed in\n", out)
}

func TestLoginRejectedShowsRemoteMessage(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "login", "--email", "a@b.com", "--password", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrRemoteRejected)
	assert.Contains(t, userMessage(err), "Incorrect username or password.")
}

func TestCoursesListsCatalog(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "courses")
	require.NoError(t, err)
	for _, c := range httpserver.DefaultCourses() {
		assert.Contains(t, out, c.ID+"\t"+c.Name)
	}
}

func TestBuyRequiresSignIn(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "buy", "Piano")
	assert.Error(t, err)
}

func TestBuyReportsPurchaseWhenRefreshFails(t *testing.T) {
	ledger := setupEnv(t)

	_, err := run(t, "login", "--email", "a@b.com", "--password", "secret")
	require.NoError(t, err)

	t.Setenv("COURSECLIENT_API_COURSES_URL", "http://127.0.0.1:1/courses")
	out, err := run(t, "buy", "Piano")
	require.NoError(t, err)
	assert.Contains(t, out, `bought "Piano" for a@b.com`)
	assert.Contains(t, out, "warning: course list not refreshed")
	assert.Equal(t, []string{"Piano"}, ledger.Purchases("a@b.com"))
}
