package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/config"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/server"
)

// fakeApp is a real in-memory application whose Run returns immediately.
type fakeApp struct {
	*server.App
	ran    bool
	closed int
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return nil
}

func (f *fakeApp) Close(ctx context.Context) error {
	f.closed++
	return f.App.Close(ctx)
}

func useFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	app, err := server.BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	fake := &fakeApp{App: app}

	prev := newApp
	newApp = func(context.Context, string) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = prev })
	return fake
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNormalizeRunsWithoutApp(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("should not build") }
	t.Cleanup(func() { newApp = prev })

	out, err := execute("normalize", "(55) 1234-5678")
	require.NoError(t, err)

	var got normalizeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "+525512345678", got.Normalized)
	assert.True(t, got.Valid)
	assert.Equal(t, "52", got.CountryCode)
	assert.Equal(t, "es", string(got.Language))
}

func TestSendPrintsResultAndRefusesDuplicates(t *testing.T) {
	fake := useFakeApp(t)

	out, err := execute("send", "--phone", "5512345678", "--company", "Tacos Ana", "--source", "apify")
	require.NoError(t, err)
	var res outreach.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "Tacos Ana")
	assert.Equal(t, 1, fake.closed)

	_, err = execute("send", "--phone", "+52 55 1234 5678", "--source", "manual")
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(outreach.ReasonAlreadyContacted))
	assert.Equal(t, 2, fake.closed, "a refused send still closes the app")
}

func TestSendValidatesFlags(t *testing.T) {
	useFakeApp(t)

	_, err := execute("send", "--phone", "5512345678", "--source", "billboard")
	require.ErrorIs(t, err, outreach.ErrInvalidSource)

	_, err = execute("send", "--phone", "5512345678", "--language", "fr")
	require.Error(t, err)

	_, err = execute("send")
	require.Error(t, err)
}

func TestQuotaPrintsSnapshot(t *testing.T) {
	useFakeApp(t)

	out, err := execute("quota", "--source", "scan_invite")
	require.NoError(t, err)
	var snap outreach.QuotaSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, outreach.SourceScanInvite, snap.Source)
	assert.Equal(t, 20, snap.DailyLimit)
	assert.True(t, snap.CanSend)

	out, err = execute("quota")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, 50, snap.DailyLimit)
}

func TestSettingsPrintsDefaults(t *testing.T) {
	useFakeApp(t)

	out, err := execute("settings")
	require.NoError(t, err)
	var settings outreach.Settings
	require.NoError(t, json.Unmarshal([]byte(out), &settings))
	assert.Equal(t, "5215512345678", settings.BusinessPhone)
}

func TestServeRunsApp(t *testing.T) {
	fake := useFakeApp(t)

	_, err := execute("serve")
	require.NoError(t, err)
	assert.True(t, fake.ran)
	assert.Equal(t, 1, fake.closed)
}

func TestMigrateRequiresDatabase(t *testing.T) {
	fake := useFakeApp(t)

	_, err := execute("migrate")
	require.ErrorIs(t, err, server.ErrNoDatabase)
	assert.Equal(t, 1, fake.closed)
}

func TestAppInitFailureSurfaces(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("boom") }
	t.Cleanup(func() { newApp = prev })

	_, err := execute("quota")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}
