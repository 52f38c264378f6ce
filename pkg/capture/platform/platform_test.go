package platform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetcap/pkg/blob"
	"github.com/otherjamesbrown/meetcap/pkg/blob/blobtest"
	"github.com/otherjamesbrown/meetcap/pkg/capture/browser"
	"github.com/otherjamesbrown/meetcap/pkg/capture/browser/browsertest"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

func fastTimings() Timings {
	return Timings{
		MaxRetries:        3,
		ReadinessInterval: time.Millisecond,
		RetryDelay:        time.Millisecond,
		MediaWait:         time.Second,
		NameInputWait:     time.Second,
		CounterTimeout:    time.Second,
	}
}

func testMeeting() *meeting.Meeting {
	return &meeting.Meeting{
		ID:       42,
		Name:     "Comité de pilotage",
		URL:      "https://meet.example.org/room",
		Platform: meeting.PlatformVisio,
		Owner:    meeting.Owner{Email: "alice@example.org"},
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(fastTimings(), logging.NewNopLogger())

	for _, p := range []meeting.Platform{meeting.PlatformComu, meeting.PlatformWebinaire, meeting.PlatformWebconf, meeting.PlatformVisio} {
		t.Run(string(p), func(t *testing.T) {
			pl, err := r.Lookup(p)
			require.NoError(t, err)
			assert.NotNil(t, pl.Strategy)
			assert.NotNil(t, pl.Monitor)
		})
	}

	for _, p := range []meeting.Platform{meeting.PlatformImport, meeting.PlatformRecord, "TEAMS"} {
		t.Run(string(p), func(t *testing.T) {
			_, err := r.Lookup(p)
			assert.ErrorIs(t, err, ErrUnsupportedPlatform)
		})
	}
}

func TestBotName(t *testing.T) {
	assert.Equal(t, "FCR Agent de alice@example.org", BotName(meeting.Owner{Email: "alice@example.org"}))
}

func TestRecorderScripts(t *testing.T) {
	for name, script := range map[string]string{
		"element": ElementRecorderScript(),
		"mixed":   MixedRecorderScript(),
	} {
		t.Run(name, func(t *testing.T) {
			for _, sym := range []string{
				"window.startRecording",
				"window.stopRecording",
				"window.canAcquireAudioStream",
				"sendOnDataavailableToWorker",
				"sendOnStartToWorker",
				"sendOnStopToWorker",
			} {
				assert.Contains(t, script, sym)
			}
		})
	}
}

func TestBase_LoadRecordingScript(t *testing.T) {
	page := browsertest.NewPage()
	c := NewComu(fastTimings(), nil)

	require.NoError(t, c.LoadRecordingScript(context.Background(), page))
	assert.Equal(t, 1, len(page.Calls()))
	assert.Equal(t, "init_script", page.Calls()[0].Op)
}

func TestBase_WaitForWebRTC(t *testing.T) {
	t.Run("ready after a few probes", func(t *testing.T) {
		page := browsertest.NewPage()
		var probes atomic.Int32
		page.EvalFunc = func(string) (any, error) {
			return probes.Add(1) >= 2, nil
		}
		b := newBase(fastTimings(), nil, "")

		require.NoError(t, b.WaitForWebRTC(context.Background(), page))
		assert.Equal(t, int32(2), probes.Load())
		assert.Equal(t, 1, page.Count("wait", "audio, video"))
	})

	t.Run("never ready exhausts retries", func(t *testing.T) {
		page := browsertest.NewPage()
		page.EvalFunc = func(string) (any, error) { return false, nil }
		b := newBase(fastTimings(), nil, "")

		err := b.WaitForWebRTC(context.Background(), page)
		require.Error(t, err)
		assert.True(t, mcerrors.IsTimeout(err))
		assert.Contains(t, err.Error(), "audio element has no MediaStream attached")
		assert.Equal(t, 3, page.Count("evaluate", "window.canAcquireAudioStream()"))
	})

	t.Run("no media element", func(t *testing.T) {
		page := browsertest.NewPage()
		page.FailOn("wait", "audio, video", errors.New("timeout 60000ms exceeded"))
		b := newBase(fastTimings(), nil, "")

		err := b.WaitForWebRTC(context.Background(), page)
		require.Error(t, err)
		assert.Equal(t, 0, page.Count("evaluate", "window.canAcquireAudioStream()"))
	})

	t.Run("cancellation stops the loop", func(t *testing.T) {
		page := browsertest.NewPage()
		ctx, cancel := context.WithCancel(context.Background())
		page.EvalFunc = func(string) (any, error) {
			cancel()
			return false, nil
		}
		b := newBase(Timings{MaxRetries: 30, ReadinessInterval: time.Hour}, nil, "")

		err := b.WaitForWebRTC(ctx, page)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, page.Count("evaluate", "window.canAcquireAudioStream()"))
	})
}

func TestComu_ConnectToMeeting(t *testing.T) {
	c := NewComu(fastTimings(), nil)

	t.Run("lobby with id and passcode", func(t *testing.T) {
		page := browsertest.NewPage()
		m := &meeting.Meeting{ID: 1, PlatformMeetingID: "123456", Password: "9876"}

		require.NoError(t, c.ConnectToMeeting(context.Background(), page, m))
		assert.Equal(t, []string{
			"goto " + ComuURL,
			"fill " + comuMeetingIDInput + " = 123456",
			"fill " + comuPasswordInput + " = 9876",
			"click " + comuLobbySubmit,
		}, page.Ops())
	})

	t.Run("direct link", func(t *testing.T) {
		page := browsertest.NewPage()
		m := &meeting.Meeting{ID: 1, URL: "https://webconf.comu.gouv.fr/room/abc"}

		require.NoError(t, c.ConnectToMeeting(context.Background(), page, m))
		assert.Equal(t, []string{"goto https://webconf.comu.gouv.fr/room/abc"}, page.Ops())
	})

	t.Run("nothing to join with", func(t *testing.T) {
		page := browsertest.NewPage()
		err := c.ConnectToMeeting(context.Background(), page, &meeting.Meeting{ID: 1, PlatformMeetingID: "123"})
		assert.True(t, mcerrors.IsValidation(err))
		assert.Empty(t, page.Calls())
	})
}

func TestComu_BotNameAndDevices(t *testing.T) {
	c := NewComu(fastTimings(), nil)
	page := browsertest.NewPage()
	ctx := context.Background()

	require.NoError(t, c.SetBotName(ctx, page, "FCR Agent de bob@example.org"))
	require.NoError(t, c.JoinWaitingRoomAndSetDevices(ctx, page))

	assert.Equal(t, []string{
		"fill " + comuNameInput + " = FCR Agent de bob@example.org",
		"click " + comuNameSubmit,
		"click " + comuMicToggle,
		"click " + comuCameraToggle,
		"click " + comuJoinButton,
	}, page.Ops())
}

func TestWebinaire_JoinWaitingRoomAndSetDevices(t *testing.T) {
	joinAudio := webinaireModal + "|button|" + webinaireJoinAudio
	consent := webinaireModal + "|button|" + webinaireAcceptTerms

	t.Run("audio prompt present", func(t *testing.T) {
		page := browsertest.NewPage()
		page.SetRoleCount(webinaireModal, "button", webinaireJoinAudio, 1)
		w := NewWebinaire(fastTimings(), nil)

		require.NoError(t, w.JoinWaitingRoomAndSetDevices(context.Background(), page))
		assert.Equal(t, 1, page.Count("click", webinaireJoinButton))
		assert.Equal(t, 1, page.Count("click_role", joinAudio))
		assert.Equal(t, 0, page.Count("click_role", consent))
	})

	t.Run("consent modal never clears", func(t *testing.T) {
		page := browsertest.NewPage()
		page.FailOn("click_role", consent, errors.New("no such element"))
		w := NewWebinaire(fastTimings(), nil)

		err := w.JoinWaitingRoomAndSetDevices(context.Background(), page)
		require.Error(t, err)
		assert.True(t, mcerrors.IsTimeout(err))
		assert.Contains(t, err.Error(), "couldn't set devices")
		assert.Equal(t, 3, page.Count("role_count", joinAudio))
		assert.Equal(t, 3, page.Count("click_role", consent))
	})

	t.Run("cancelled while retrying", func(t *testing.T) {
		page := browsertest.NewPage()
		w := NewWebinaire(Timings{MaxRetries: 30, RetryDelay: time.Hour}, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := w.JoinWaitingRoomAndSetDevices(ctx, page)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, page.Count("role_count", joinAudio))
	})
}

func TestWebconf(t *testing.T) {
	w := NewWebconf(fastTimings(), nil)
	page := browsertest.NewPage()
	ctx := context.Background()

	require.NoError(t, w.ConnectToMeeting(ctx, page, testMeeting()))
	require.NoError(t, w.SetBotName(ctx, page, "bot"))
	require.NoError(t, w.JoinWaitingRoomAndSetDevices(ctx, page))
	require.NoError(t, w.WaitForWebRTC(ctx, page))
	require.NoError(t, w.Disconnect(ctx, page))

	assert.Equal(t, []string{
		"goto https://meet.example.org/room",
		"wait " + webconfNameInput + " = visible",
		"fill " + webconfNameInput + " = bot",
		"click " + webconfJoinButton,
		"click " + webconfVideoToggle,
		"click " + webconfMicToggle,
		"click " + webconfLeave,
	}, page.Ops())
}

func TestWebconf_RequiresURL(t *testing.T) {
	err := NewWebconf(fastTimings(), nil).ConnectToMeeting(context.Background(), browsertest.NewPage(), &meeting.Meeting{ID: 3})
	assert.True(t, mcerrors.IsValidation(err))
}

func TestVisio(t *testing.T) {
	v := NewVisio(fastTimings(), nil)
	page := browsertest.NewPage()
	ctx := context.Background()

	require.NoError(t, v.ConnectToMeeting(ctx, page, testMeeting()))
	require.NoError(t, v.SetBotName(ctx, page, "bot"))
	require.NoError(t, v.JoinWaitingRoomAndSetDevices(ctx, page))
	require.NoError(t, v.WaitForWebRTC(ctx, page))
	require.NoError(t, v.Disconnect(ctx, page))

	assert.Equal(t, []string{
		"goto https://meet.example.org/room",
		"fill " + visioNameInput + " = bot",
		"click_role |button|Disable microphone",
		"click_role |button|Disable camera",
		"click_role |button|Join",
	}, page.Ops())
}

func TestConnector_Success(t *testing.T) {
	store := blobtest.New()
	page := browsertest.NewPage()
	bctx := browsertest.NewContext(page)
	c := NewConnector(store, t.TempDir(), nil)

	err := c.Connect(context.Background(), NewVisio(fastTimings(), nil), bctx, page, testMeeting())
	require.NoError(t, err)

	assert.Equal(t, 1, bctx.TraceStarts())
	assert.Equal(t, []string{""}, bctx.TraceStops())
	assert.False(t, bctx.Tracing())
	assert.Empty(t, store.Paths())
	assert.Equal(t, 1, page.Count("fill", visioNameInput))
}

func TestConnector_FailureUploadsTrace(t *testing.T) {
	tests := []struct {
		name  string
		fail  func(p *browsertest.Page)
		stage string
	}{
		{
			name:  "connect",
			fail:  func(p *browsertest.Page) { p.FailOn("goto", "https://meet.example.org/room", errors.New("net::ERR_NAME_NOT_RESOLVED")) },
			stage: StageConnect,
		},
		{
			name:  "bot name",
			fail:  func(p *browsertest.Page) { p.FailOn("fill", visioNameInput, errors.New("element not found")) },
			stage: StageBotName,
		},
		{
			name:  "devices",
			fail:  func(p *browsertest.Page) { p.FailOn("click_role", "|button|Join", errors.New("element not found")) },
			stage: StageDevices,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := blobtest.New()
			page := browsertest.NewPage()
			tt.fail(page)
			bctx := browsertest.NewContext(page)
			c := NewConnector(store, t.TempDir(), nil)

			err := c.Connect(context.Background(), NewVisio(fastTimings(), nil), bctx, page, testMeeting())
			require.Error(t, err)

			var connErr *mcerrors.ConnectionError
			require.ErrorAs(t, err, &connErr)
			assert.Equal(t, tt.stage, connErr.Stage)
			assert.Equal(t, int64(42), connErr.MeetingID)

			assert.Equal(t, []string{blob.TracePath(42)}, store.Paths())
			obj, ok := store.Object(blob.TracePath(42))
			require.True(t, ok)
			assert.Equal(t, blob.ContentTypeTrace, obj.ContentType)
			assert.Equal(t, []byte("PK-trace"), obj.Data)
			assert.False(t, bctx.Tracing())
		})
	}
}

func TestConnector_WebRTCTimeoutIsClassified(t *testing.T) {
	store := blobtest.New()
	page := browsertest.NewPage()
	page.EvalFunc = func(string) (any, error) { return false, nil }
	bctx := browsertest.NewContext(page)
	c := NewConnector(store, t.TempDir(), nil)

	err := c.Connect(context.Background(), NewComu(fastTimings(), nil), bctx, page, &meeting.Meeting{
		ID: 7, URL: "https://webconf.comu.gouv.fr/room/abc", Owner: meeting.Owner{Email: "a@b.c"},
	})
	require.Error(t, err)
	assert.True(t, mcerrors.IsTimeout(err))
	assert.Equal(t, mcerrors.CodeTimeout, mcerrors.Classify(err, "").Code)
	assert.Equal(t, []string{blob.TracePath(7)}, store.Paths())
}

func TestConnector_TraceUploadFailureKeepsConnectionError(t *testing.T) {
	store := blobtest.New()
	store.PutErr = errors.New("bucket unavailable")
	page := browsertest.NewPage()
	page.FailOn("fill", visioNameInput, errors.New("element not found"))
	bctx := browsertest.NewContext(page)
	c := NewConnector(store, t.TempDir(), nil)

	err := c.Connect(context.Background(), NewVisio(fastTimings(), nil), bctx, page, testMeeting())

	var connErr *mcerrors.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, StageBotName, connErr.Stage)
	assert.Contains(t, err.Error(), "element not found")
}

func TestMonitors(t *testing.T) {
	ctx := context.Background()

	t.Run("comu badge", func(t *testing.T) {
		page := browsertest.NewPage()
		page.EvalFunc = func(string) (any, error) { return " 12 ", nil }
		n, ok := NewComuMonitor(logging.NewNopLogger()).ParticipantCount(ctx, page)
		assert.True(t, ok)
		assert.Equal(t, 12, n)
	})

	t.Run("comu badge not rendered", func(t *testing.T) {
		page := browsertest.NewPage()
		page.EvalFunc = func(string) (any, error) { return nil, nil }
		_, ok := NewComuMonitor(logging.NewNopLogger()).ParticipantCount(ctx, page)
		assert.False(t, ok)
	})

	t.Run("comu badge not a number", func(t *testing.T) {
		page := browsertest.NewPage()
		page.EvalFunc = func(string) (any, error) { return "9+", nil }
		_, ok := NewComuMonitor(logging.NewNopLogger()).ParticipantCount(ctx, page)
		assert.False(t, ok)
	})

	t.Run("webinaire counter", func(t *testing.T) {
		page := browsertest.NewPage()
		page.SetAttribute("[data-test-users-count]", "data-test-users-count", "5")
		n, ok := NewWebinaireMonitor(fastTimings(), logging.NewNopLogger()).ParticipantCount(ctx, page)
		assert.True(t, ok)
		assert.Equal(t, 5, n)
	})

	t.Run("webinaire counter missing", func(t *testing.T) {
		_, ok := NewWebinaireMonitor(fastTimings(), logging.NewNopLogger()).ParticipantCount(ctx, browsertest.NewPage())
		assert.False(t, ok)
	})

	t.Run("unknown", func(t *testing.T) {
		_, ok := UnknownCount{}.ParticipantCount(ctx, browsertest.NewPage())
		assert.False(t, ok)
	})
}

var _ browser.Page = (*browsertest.Page)(nil)
