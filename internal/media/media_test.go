package media

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/lockwatch/internal/config"
	"github.com/HerbHall/lockwatch/internal/protocol/onvif"
	"github.com/HerbHall/lockwatch/internal/testutil"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// fakeResolver resolves plugins from a fixed map.
type fakeResolver map[string]plugin.Plugin

func (f fakeResolver) Resolve(name string) (plugin.Plugin, bool) {
	p, ok := f[name]
	return p, ok
}

// credsPlugin is a plugin that also serves credentials, as the vault does.
type credsPlugin struct {
	plugin.Plugin
	staticCreds
}

// newTestModule initializes a module against a fake media server.
func newTestModule(t *testing.T, settings map[string]any, plugins plugin.PluginResolver) (*Module, *fakeMediaServer, *testutil.MockBus) {
	t.Helper()
	fake, srv := newFakeMediaServer(t)
	v := viper.New()
	v.Set("server_url", srv.URL)
	v.Set("ptz_timeout", "1s")
	v.Set("onvif_timeout", "1s")
	for k, val := range settings {
		v.Set(k, val)
	}
	bus := testutil.NewMockBus()
	m := New()
	n := 0
	m.newID = func() string {
		n++
		return "stream-" + string(rune('0'+n))
	}
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{
		Config:  config.New(v),
		Logger:  testutil.Logger(),
		Bus:     bus,
		Plugins: plugins,
	}))
	return m, fake, bus
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	v := viper.New()
	v.Set("server_url", "http://mtx:9997")
	v.Set("timeout", "4s")
	v.Set("default_quality", "low")
	cfg, err = loadConfig(config.New(v))
	require.NoError(t, err)
	assert.Equal(t, "http://mtx:9997", cfg.ServerURL)
	assert.Equal(t, 4*time.Second, cfg.Timeout)
	assert.Equal(t, QualityLow, cfg.DefaultQuality)

	v.Set("default_quality", "4k")
	_, err = loadConfig(config.New(v))
	assert.Error(t, err)
}

func TestModule_StartStopStream(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)
	m, fake, bus := newTestModule(t, nil, nil)
	ctx := context.Background()

	h, desc, err := m.StartStream(ctx, StartRequest{
		Target: Target{Address: host, Port: port, Username: "admin", Password: "secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, "stream-1", h.ID)
	assert.Equal(t, QualityMedium, h.Quality, "default quality applies")
	assert.Equal(t, "onvif", desc.Resolver)

	sent, ok := fake.Stream("stream-1")
	require.True(t, ok)
	assert.Equal(t, desc.URI, sent.Source, "the media server receives the authenticated uri")
	assert.Len(t, m.Streams(), 1)

	events := bus.Events()
	require.Len(t, events, 1)
	assert.Equal(t, TopicStreamStarted, events[0].Topic)
	ev := events[0].Payload.(StreamEvent)
	assert.NotContains(t, ev.Source, "secret")

	require.NoError(t, m.StopStream(ctx, "stream-1"))
	assert.Empty(t, m.Streams())
	assert.Equal(t, []string{"stream-1"}, fake.Stopped())

	err = m.StopStream(ctx, "stream-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestModule_StartStreamServerRejects(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)
	m, fake, _ := newTestModule(t, nil, nil)
	fake.SetReject(true)

	_, _, err := m.StartStream(context.Background(), StartRequest{StreamID: "x", Target: Target{Address: host, Port: port}})
	var se *ServerError
	assert.True(t, errors.As(err, &se))
	assert.Empty(t, m.Streams())
}

func TestModule_StopStopsAllStreams(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)
	m, fake, _ := newTestModule(t, nil, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := m.StartStream(ctx, StartRequest{StreamID: id, Target: Target{Address: host, Port: port}})
		require.NoError(t, err)
	}

	require.NoError(t, m.Stop(ctx))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, fake.Stopped())
	assert.Empty(t, m.Streams())
}

func TestModule_StreamStoppedElsewhereIsForgotten(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)
	m, fake, _ := newTestModule(t, nil, nil)
	ctx := context.Background()

	_, _, err := m.StartStream(ctx, StartRequest{StreamID: "a", Target: Target{Address: host, Port: port}})
	require.NoError(t, err)
	fake.mu.Lock()
	delete(fake.streams, "a")
	fake.mu.Unlock()

	require.NoError(t, m.StopStream(ctx, "a"))
	assert.Empty(t, m.Streams())
}

func TestModule_CredentialsFromVaultPlugin(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)
	vault := &credsPlugin{staticCreds: staticCreds{user: "vaultuser", pass: "vaultpass"}}
	m, _, _ := newTestModule(t, nil, fakeResolver{"vault": vault})

	desc, err := m.Resolve(context.Background(), Target{Address: host, Port: port})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(desc.URI, "rtsp://vaultuser:vaultpass@"), desc.URI)
}

func TestModule_MovePTZ(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)
	m, _, bus := newTestModule(t, nil, nil)

	err := m.MovePTZ(context.Background(), PTZRequest{
		Target:    Target{Address: host, Port: port, ProfileToken: "Profile_1"},
		Direction: onvif.DirectionLeft,
	})
	require.NoError(t, err)

	select {
	case body := <-cam.moved:
		assert.Contains(t, body, "Profile_1")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ContinuousMove")
	}
	require.NoError(t, m.Stop(context.Background()))
	assert.Empty(t, bus.Events())
	assert.Equal(t, []string{"GetCapabilities", "ContinuousMove"}, cam.Ops())
	assert.Equal(t, []string{"/onvif/device_service", "/onvif/PTZ"}, cam.Paths(), "move goes to the advertised PTZ service")
}

func TestModule_MovePTZFailurePublished(t *testing.T) {
	cam := newFakeCamera()
	cam.broken = true
	host, port := startCamera(t, cam)
	m, _, bus := newTestModule(t, nil, nil)

	require.NoError(t, m.MovePTZ(context.Background(), PTZRequest{
		Target:    Target{Address: host, Port: port, ProfileToken: "Profile_1"},
		Direction: onvif.DirectionStop,
	}))
	// Stop waits for the command to finish.
	require.NoError(t, m.Stop(context.Background()))

	events := bus.Events()
	require.Len(t, events, 1)
	assert.Equal(t, TopicPTZFailed, events[0].Topic)
	assert.Equal(t, "stop", events[0].Payload.(PTZEvent).Direction)
}

func TestModule_MovePTZValidation(t *testing.T) {
	m, _, _ := newTestModule(t, nil, nil)
	tests := []struct {
		name string
		req  PTZRequest
	}{
		{"bad direction", PTZRequest{Target: Target{Address: "10.0.0.5", ProfileToken: "p"}, Direction: "spin"}},
		{"no address", PTZRequest{Target: Target{ProfileToken: "p"}, Direction: onvif.DirectionUp}},
		{"no profile", PTZRequest{Target: Target{Address: "10.0.0.5"}, Direction: onvif.DirectionUp}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.MovePTZ(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidTarget)
		})
	}
}

func TestModule_PTZOutlivesRequestContext(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)
	m, _, _ := newTestModule(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.MovePTZ(ctx, PTZRequest{
		Target:    Target{Address: host, Port: port, ProfileToken: "Profile_1"},
		Direction: onvif.DirectionUp,
	}))
	cancel()

	select {
	case <-cam.moved:
	case <-time.After(2 * time.Second):
		t.Fatal("command was cancelled with the request")
	}
	require.NoError(t, m.Stop(context.Background()))
}

func TestModule_Health(t *testing.T) {
	m, fake, _ := newTestModule(t, nil, nil)

	h := m.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "0", h.Details["streams"])

	fake.SetHealthy(false)
	assert.Equal(t, "degraded", m.Health(context.Background()).Status)

	assert.Equal(t, "unhealthy", New().Health(context.Background()).Status)
}
