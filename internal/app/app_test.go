package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/inertial_compass/internal/calibration"
	"github.com/relabs-tech/inertial_compass/internal/config"
	"github.com/relabs-tech/inertial_compass/internal/heading"
	"github.com/relabs-tech/inertial_compass/internal/sensors"
)

type recordingSink struct {
	updates []heading.Update
}

func (r *recordingSink) PublishUpdate(u heading.Update) error {
	r.updates = append(r.updates, u)
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.MQTTBroker = "tcp://localhost:1883"
	return cfg
}

func TestPipelineFeedIMURaw(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(testConfig(), sink)

	// Flat device, field along +Y: north.
	require.NoError(t, p.FeedIMURaw([]byte(`{"source":"left","az":16384,"my":200,"mz":-400}`), true, 1000))
	require.Len(t, sink.updates, 1)
	assert.Equal(t, "0°", sink.updates[0].Display)
	assert.Equal(t, int64(1000), sink.updates[0].TimestampMs)

	// Throttled.
	require.NoError(t, p.FeedIMURaw([]byte(`{"source":"left","az":16384,"mx":200,"mz":-400}`), true, 1100))
	assert.Len(t, sink.updates, 1)

	require.NoError(t, p.FeedIMURaw([]byte(`{"source":"left","az":16384,"mx":200,"mz":-400}`), true, 1250))
	require.Len(t, sink.updates, 2)
	assert.Equal(t, "90°", sink.updates[1].Display)
	assert.InDelta(t, -90, sink.updates[1].RotateToDeg, 1e-6)

	assert.Error(t, p.FeedIMURaw([]byte(`{"ax":`), true, 0))
}

func TestPipelineFeedIMURawUsesFreshField(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(testConfig(), sink)

	north := []byte(`{"az":16384,"my":200,"mz":-400}`)
	east := []byte(`{"az":16384,"mx":200,"mz":-400}`)

	require.NoError(t, p.FeedIMURaw(north, true, 1000))
	require.NoError(t, p.FeedIMURaw(east, true, 1100))
	require.NoError(t, p.FeedIMURaw(north, true, 1250))

	require.Len(t, sink.updates, 2)
	assert.Equal(t, "0°", sink.updates[0].Display)
	assert.Equal(t, "0°", sink.updates[1].Display, "heading follows the payload that triggered it")
	assert.Equal(t, int64(1250), sink.updates[1].TimestampMs)
}

func TestPipelineSurvivesExtremeReadings(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(testConfig(), sink)

	p.Feed(heading.Sample{Kind: heading.Accelerometer, Vector: heading.Vector3{Z: 1e200}})
	p.Feed(heading.Sample{Kind: heading.Magnetometer, Vector: heading.Vector3{Y: 1e200}})
	p.Feed(heading.Sample{Kind: heading.Accelerometer, Vector: heading.Vector3{Z: 9.81}, TimestampMs: 1000})
	p.Feed(heading.Sample{Kind: heading.Magnetometer, Vector: heading.Vector3{X: 1}, TimestampMs: 1500})

	require.Len(t, sink.updates, 3)
	for _, u := range sink.updates {
		_, err := json.Marshal(u)
		require.NoError(t, err)
	}
	last := sink.updates[2]
	assert.Equal(t, "90°", last.Display)
	assert.InDelta(t, -90, last.RotateToDeg, 1e-9)
}

func TestPipelineConcurrentFeedKeepsNeedleOrder(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.HeadingThrottleMs = 0
	p := NewPipeline(cfg, sink)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a := float64(g*90+i) * math.Pi / 180
				p.Feed(heading.Sample{Kind: heading.Accelerometer, Vector: heading.Vector3{Z: 9.81}, TimestampMs: int64(i)})
				p.Feed(heading.Sample{Kind: heading.Magnetometer, Vector: heading.Vector3{X: math.Sin(a), Y: math.Cos(a)}, TimestampMs: int64(i)})
			}
		}(g)
	}
	wg.Wait()

	require.NotEmpty(t, sink.updates)
	for i := 1; i < len(sink.updates); i++ {
		assert.Equal(t, sink.updates[i-1].RotateToDeg, sink.updates[i].RotateFromDeg, "update %d", i)
	}
	assert.Equal(t, sink.updates[len(sink.updates)-1].RotateToDeg, p.Indicator.Rotation())
}

func TestPipelineAccelOnlyWaitsForHMC(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(testConfig(), sink)

	require.NoError(t, p.FeedIMURaw([]byte(`{"az":16384,"mx":200}`), false, 0))
	assert.Empty(t, sink.updates, "IMU magnetometer ignored in hmc mode")

	require.NoError(t, p.FeedMagRaw([]byte(`{"mx":0,"my":-300,"mz":-450,"norm":54.1,"time":"2026-01-01T00:00:00Z"}`), 5))
	require.Len(t, sink.updates, 1)
	assert.Equal(t, "180°", sink.updates[0].Display)

	assert.Error(t, p.FeedMagRaw([]byte(`nope`), 0))
}

func TestPipelineSinkErrorDoesNotStopOthers(t *testing.T) {
	good := &recordingSink{}
	p := NewPipeline(testConfig(), SinkFunc(func(heading.Update) error {
		return errors.New("broker gone")
	}))
	p.AddSink(good)

	p.Feed(heading.Sample{Kind: heading.Accelerometer, Vector: heading.Vector3{Z: 9.81}})
	_, ok := p.Feed(heading.Sample{Kind: heading.Magnetometer, Vector: heading.Vector3{Y: 1}})
	assert.True(t, ok)
	assert.Len(t, good.updates, 1)
}

func TestPipelineAppliesMagCalibration(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(testConfig(), sink)
	p.MagCalibration = &calibration.MagCalibration{
		MagOffset: calibration.Vec3{X: 30, Y: 0, Z: 0},
		MagScale:  calibration.Vec3{X: 1, Y: 1, Z: 1},
	}

	p.Feed(heading.Sample{Kind: heading.Accelerometer, Vector: heading.Vector3{Z: 9.81}})
	// Raw reading looks east only because of the hard-iron offset.
	_, ok := p.Feed(heading.Sample{Kind: heading.Magnetometer, Vector: heading.Vector3{X: 30, Y: 20}})
	require.True(t, ok)
	assert.Equal(t, "0°", sink.updates[0].Display)
}

func TestLoadMagCalibration(t *testing.T) {
	cfg := testConfig()
	p := NewPipeline(cfg)
	require.NoError(t, p.LoadMagCalibration(cfg))
	assert.Nil(t, p.MagCalibration)

	c := &calibration.MagCalibration{
		SchemaVersion: calibration.SchemaVersion,
		MagOffset:     calibration.Vec3{X: 1},
		MagScale:      calibration.Vec3{X: 2, Y: 2, Z: 2},
	}
	cfg.MagCalibrationFile = filepath.Join(t.TempDir(), "mag.json")
	require.NoError(t, c.Save(cfg.MagCalibrationFile))
	require.NoError(t, p.LoadMagCalibration(cfg))
	require.NotNil(t, p.MagCalibration)
	assert.Equal(t, c.MagScale, p.MagCalibration.MagScale)

	cfg.MagCalibrationFile = filepath.Join(t.TempDir(), "missing.json")
	assert.Error(t, p.LoadMagCalibration(cfg))
}

func TestRunReplay(t *testing.T) {
	in := `timestamp_ms,sensor,x,y,z
0,accel,0,0,9.81
0,mag,0,1,0
100,mag,1,0,0
250,mag,1,0,0
300,mag,0,0,1
600,mag,0,-1,0
`
	var out bytes.Buffer
	require.NoError(t, RunReplay(testConfig(), strings.NewReader(in), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "0,0°,"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "90,90°,"), lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "180,180°,"), lines[3])
}

func TestRunReplayBadInput(t *testing.T) {
	err := RunReplay(testConfig(), strings.NewReader("timestamp_ms,sensor,x,y,z\n0,baro,1,2,3\n"), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestHeadingHubAPI(t *testing.T) {
	hub := NewHeadingHub()
	srv := httptest.NewServer(NewWebMux(hub, t.TempDir()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/heading")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, hub.PublishUpdate(heading.Update{Heading: 42, Display: "42°"}))

	resp, err = http.Get(srv.URL + "/api/heading")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHeadingHubWebSocket(t *testing.T) {
	hub := NewHeadingHub()
	require.NoError(t, hub.PublishUpdate(heading.Update{Heading: 10, Display: "10°"}))

	srv := httptest.NewServer(NewWebMux(hub, t.TempDir()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/heading"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first heading.Update
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "10°", first.Display, "current heading is sent on connect")

	// The first read proves registration; later publishes reach the client.
	require.NoError(t, hub.PublishUpdate(heading.Update{Heading: 20, Display: "20°", RotateToDeg: -20}))

	var next heading.Update
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "20°", next.Display)
	assert.Equal(t, -20.0, next.RotateToDeg)
}

func countSet(img *image.Gray) int {
	n := 0
	for _, p := range img.Pix {
		if p != 0 {
			n++
		}
	}
	return n
}

func TestRenderCompass(t *testing.T) {
	on := image.NewUniform(color.White)

	waiting := image.NewGray(image.Rect(0, 0, displayW, displayH))
	renderCompass(waiting, on, heading.Update{}, false)
	assert.NotZero(t, countSet(waiting))

	north := image.NewGray(image.Rect(0, 0, displayW, displayH))
	renderCompass(north, on, heading.Update{Display: "0°"}, true)
	assert.NotZero(t, north.GrayAt(roseCX, roseCY-10).Y, "needle points up when facing north")

	east := image.NewGray(image.Rect(0, 0, displayW, displayH))
	renderCompass(east, on, heading.Update{Display: "90°", RotateToDeg: -90}, true)
	assert.NotZero(t, east.GrayAt(roseCX-10, roseCY).Y, "needle points left when facing east")
	assert.Zero(t, east.GrayAt(roseCX, roseCY-10).Y)
}

func TestCollectMagSamplesAndFit(t *testing.T) {
	in := `timestamp_ms,sensor,x,y,z
0,accel,0,0,9.81
0,mag,50,0,0
10,mag,-30,0,0
20,mag,10,45,0
30,mag,10,-35,0
40,mag,10,5,60
50,mag,10,5,-20
`
	src, err := sensors.NewReplaySource(strings.NewReader(in))
	require.NoError(t, err)

	samples, err := CollectMagSamples(src)
	require.NoError(t, err)
	require.Len(t, samples, 6)

	out := filepath.Join(t.TempDir(), "mag.json")
	c, err := FitMagCalibration(samples, "test", out)
	require.NoError(t, err)
	assert.Equal(t, calibration.Vec3{X: 10, Y: 5, Z: 20}, c.MagOffset)
	assert.Equal(t, calibration.Vec3{X: 40, Y: 40, Z: 40}, c.MagScale)

	loaded, err := calibration.Load(out)
	require.NoError(t, err)
	assert.Equal(t, c.MagOffset, loaded.MagOffset)
}

func TestRecordMagSamplesRejectsMock(t *testing.T) {
	cfg := testConfig()
	cfg.HeadingSource = config.SourceMock
	_, err := RecordMagSamples(cfg, nil, time.Second)
	assert.Error(t, err)
}
