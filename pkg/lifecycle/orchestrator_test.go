package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetcap/pkg/blob"
	"github.com/otherjamesbrown/meetcap/pkg/blob/blobtest"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/jobs"
	"github.com/otherjamesbrown/meetcap/pkg/ledger"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
	"github.com/otherjamesbrown/meetcap/pkg/notify"
)

// fakeStore keeps meetings and ledger records in memory. InTx works on a copy
// and only publishes it when fn succeeds. Transactions run one at a time, the
// way row locks serialize writers on the same meeting.
type fakeStore struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	meetings map[int64]meeting.Meeting
	records  []ledger.Record

	// afterGet runs after every Get on the root store.
	afterGet func()
}

func newFakeStore(ms ...meeting.Meeting) *fakeStore {
	s := &fakeStore{meetings: make(map[int64]meeting.Meeting)}
	for _, m := range ms {
		s.meetings[m.ID] = m
	}
	return s
}

func (s *fakeStore) Meetings() MeetingStore { return s }
func (s *fakeStore) Ledger() LedgerStore    { return s }

func (s *fakeStore) InTx(_ context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	tx := &fakeStore{meetings: make(map[int64]meeting.Meeting, len(s.meetings))}
	for id, m := range s.meetings {
		tx.meetings[id] = m
	}
	tx.records = append(tx.records, s.records...)
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.meetings = tx.meetings
	s.records = tx.records
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Get(_ context.Context, id int64) (*meeting.Meeting, error) {
	s.mu.Lock()
	m, ok := s.meetings[id]
	s.mu.Unlock()
	if !ok {
		return nil, mcerrors.ErrNotFound
	}
	if s.afterGet != nil {
		s.afterGet()
	}
	return &m, nil
}

func (s *fakeStore) update(id int64, fn func(*meeting.Meeting)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return mcerrors.ErrNotFound
	}
	fn(&m)
	s.meetings[id] = m
	return nil
}

func (s *fakeStore) TransitionStatus(_ context.Context, id int64, from, to meeting.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return mcerrors.ErrNotFound
	}
	if m.Status != from {
		return fmt.Errorf("meeting %d is %s, expected %s: %w", id, m.Status, from, mcerrors.ErrInvalidState)
	}
	m.Status = to
	s.meetings[id] = m
	return nil
}

func (s *fakeStore) SetStartDate(_ context.Context, id int64, at time.Time) error {
	return s.update(id, func(m *meeting.Meeting) { m.StartDate = &at })
}

func (s *fakeStore) SetEndDate(_ context.Context, id int64, at time.Time) error {
	return s.update(id, func(m *meeting.Meeting) { m.EndDate = &at })
}

func (s *fakeStore) SetReportFilename(_ context.Context, id int64, name string) error {
	return s.update(id, func(m *meeting.Meeting) { m.ReportFilename = name })
}

func (s *fakeStore) Append(_ context.Context, rec *ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = int64(len(s.records) + 1)
	s.records = append(s.records, *rec)
	return nil
}

func (s *fakeStore) snapshot(id int64) meeting.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meetings[id]
}

func (s *fakeStore) history() []ledger.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Record(nil), s.records...)
}

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []jobs.Task
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, task jobs.Task) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.tasks = append(d.tasks, task)
	return "msg-1", nil
}

type fakeEstimator struct {
	at  time.Time
	err error
}

func (e *fakeEstimator) Predict(_ context.Context, meetingID int64) (*ledger.Record, error) {
	if e.err != nil {
		return nil, e.err
	}
	at := e.at
	return &ledger.Record{MeetingID: meetingID, Status: meeting.StatusTranscriptionPending, PredictedDateOfNextTransition: &at}, nil
}

type fakeMailer struct {
	sent []notify.Email
	err  error
}

func (m *fakeMailer) Send(_ context.Context, e notify.Email) error {
	m.sent = append(m.sent, e)
	return m.err
}

type fakeNotifier struct {
	published []*notify.Notification
}

func (n *fakeNotifier) Publish(_ context.Context, notif *notify.Notification) error {
	n.published = append(n.published, notif)
	return nil
}

var testNow = time.Date(2026, 6, 15, 14, 0, 0, 0, time.UTC)

type harness struct {
	store      *fakeStore
	dispatcher *fakeDispatcher
	estimator  *fakeEstimator
	blobs      *blobtest.Store
	mailer     *fakeMailer
	notifier   *fakeNotifier
	o          *Orchestrator
}

func newHarness(ms ...meeting.Meeting) *harness {
	h := &harness{
		store:      newFakeStore(ms...),
		dispatcher: &fakeDispatcher{},
		estimator:  &fakeEstimator{at: testNow.Add(72 * time.Minute)},
		blobs:      blobtest.New(),
		mailer:     &fakeMailer{},
		notifier:   &fakeNotifier{},
	}
	h.o = NewOrchestrator(Deps{
		Store:       h.store,
		Dispatcher:  h.dispatcher,
		Estimator:   h.estimator,
		Blobs:       h.blobs,
		Mailer:      h.mailer,
		Notifier:    h.notifier,
		FrontendURL: "https://app.example.org",
		Logger:      logging.NewNopLogger(),
	})
	h.o.now = func() time.Time { return testNow }
	return h
}

func testMeeting(id int64, platform meeting.Platform, status meeting.Status) meeting.Meeting {
	return meeting.Meeting{
		ID:       id,
		Name:     "Point hebdo",
		Platform: platform,
		Status:   status,
		Owner: meeting.Owner{
			ID:           1,
			KeycloakUUID: uuid.MustParse("6f1c2a3e-0000-4000-8000-000000000001"),
			Email:        "owner@example.org",
		},
	}
}

func TestApply_InitTranscriptionPreRecorded(t *testing.T) {
	h := newHarness(testMeeting(10, meeting.PlatformRecord, meeting.StatusCaptureInProgress))

	m, err := h.o.Apply(context.Background(), 10, meeting.EventInitTranscription)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusTranscriptionPending, m.Status)

	stored := h.store.snapshot(10)
	assert.Equal(t, meeting.StatusTranscriptionPending, stored.Status)
	require.NotNil(t, stored.EndDate)
	assert.Equal(t, testNow, *stored.EndDate)

	require.Len(t, h.dispatcher.tasks, 1)
	assert.Equal(t, jobs.TaskTranscribe, h.dispatcher.tasks[0].Name)
	assert.Equal(t, []any{int64(10)}, h.dispatcher.tasks[0].Args)

	records := h.store.history()
	require.Len(t, records, 1, "only the estimate-bearing record is written")
	assert.Equal(t, meeting.StatusTranscriptionPending, records[0].Status)
	require.NotNil(t, records[0].PredictedDateOfNextTransition)
	assert.Equal(t, testNow.Add(72*time.Minute), *records[0].PredictedDateOfNextTransition)
}

func TestApply_InitTranscriptionLiveBotKeepsEndDate(t *testing.T) {
	h := newHarness(testMeeting(11, meeting.PlatformVisio, meeting.StatusCaptureDone))

	_, err := h.o.Apply(context.Background(), 11, meeting.EventInitTranscription)
	require.NoError(t, err)

	assert.Nil(t, h.store.snapshot(11).EndDate)
	assert.Len(t, h.store.history(), 1)
}

func TestApply_InitTranscriptionDispatchFailureRollsBack(t *testing.T) {
	h := newHarness(testMeeting(12, meeting.PlatformRecord, meeting.StatusCaptureInProgress))
	h.dispatcher.err = errors.New("redis unavailable")

	_, err := h.o.Apply(context.Background(), 12, meeting.EventInitTranscription)
	require.Error(t, err)

	var tce *mcerrors.TaskCreationError
	require.True(t, errors.As(err, &tce))
	assert.Equal(t, jobs.TaskTranscribe, tce.Task)

	stored := h.store.snapshot(12)
	assert.Equal(t, meeting.StatusCaptureInProgress, stored.Status)
	assert.Nil(t, stored.EndDate)
	assert.Empty(t, h.store.history())
}

func TestApply_InitTranscriptionEstimateFailureStillRecords(t *testing.T) {
	h := newHarness(testMeeting(13, meeting.PlatformImport, meeting.StatusImportPending))
	h.estimator.err = errors.New("count failed")

	_, err := h.o.Apply(context.Background(), 13, meeting.EventInitTranscription)
	require.NoError(t, err)

	records := h.store.history()
	require.Len(t, records, 1)
	assert.Equal(t, meeting.StatusTranscriptionPending, records[0].Status)
	assert.Nil(t, records[0].PredictedDateOfNextTransition)
}

func TestApply_ConcurrentTransitionsOnlyOneWins(t *testing.T) {
	h := newHarness(testMeeting(14, meeting.PlatformVisio, meeting.StatusCaptureDone))

	// Both callers read CAPTURE_DONE before either writes.
	var loaded sync.WaitGroup
	loaded.Add(2)
	h.store.afterGet = func() {
		loaded.Done()
		loaded.Wait()
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.o.Apply(context.Background(), 14, meeting.EventInitTranscription)
		}(i)
	}
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			failed++
			assert.True(t, mcerrors.IsInvalidState(err), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Len(t, h.dispatcher.tasks, 1)
	assert.Len(t, h.store.history(), 1)
	assert.Equal(t, meeting.StatusTranscriptionPending, h.store.snapshot(14).Status)
}

func TestApply_StaleStatusIsRejected(t *testing.T) {
	h := newHarness(testMeeting(15, meeting.PlatformComu, meeting.StatusCaptureInProgress))
	h.store.afterGet = func() {
		_ = h.store.update(15, func(m *meeting.Meeting) { m.Status = meeting.StatusCaptureFailed })
	}

	_, err := h.o.Apply(context.Background(), 15, meeting.EventCompleteCapture)
	assert.True(t, mcerrors.IsInvalidState(err))
	assert.Equal(t, meeting.StatusCaptureFailed, h.store.snapshot(15).Status)
	assert.Nil(t, h.store.snapshot(15).EndDate)
	assert.Empty(t, h.store.history())
}

func TestApply_InvalidTransition(t *testing.T) {
	h := newHarness(testMeeting(20, meeting.PlatformVisio, meeting.StatusCaptureDone))

	_, err := h.o.Apply(context.Background(), 20, meeting.EventStartCaptureBot)
	require.Error(t, err)

	assert.True(t, mcerrors.IsInvalidState(err))
	assert.True(t, strings.HasPrefix(err.Error(), "error applying transition START_CAPTURE_BOT to meeting 20"))
	assert.Contains(t, err.Error(), "CAPTURE_DONE")
	assert.Equal(t, meeting.StatusCaptureDone, h.store.snapshot(20).Status)
	assert.Empty(t, h.store.history())
}

func TestApply_UnknownPersistedStatus(t *testing.T) {
	h := newHarness(testMeeting(21, meeting.PlatformVisio, meeting.StatusDeleted))

	_, err := h.o.Apply(context.Background(), 21, meeting.EventInitTranscription)
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestApply_MissingMeeting(t *testing.T) {
	h := newHarness()

	_, err := h.o.Apply(context.Background(), 404, meeting.EventStartCaptureBot)
	assert.True(t, mcerrors.IsNotFound(err))
}

func TestApply_StartCaptureBotStampsStartDate(t *testing.T) {
	h := newHarness(testMeeting(30, meeting.PlatformComu, meeting.StatusCaptureBotIsConnecting))

	m, err := h.o.Apply(context.Background(), 30, meeting.EventStartCaptureBot)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusCaptureInProgress, m.Status)

	stored := h.store.snapshot(30)
	require.NotNil(t, stored.StartDate)
	assert.Equal(t, testNow, *stored.StartDate)

	records := h.store.history()
	require.Len(t, records, 1)
	assert.Equal(t, meeting.StatusCaptureInProgress, records[0].Status)
	assert.Nil(t, records[0].PredictedDateOfNextTransition)
}

func TestApply_CompleteCaptureStampsEndDate(t *testing.T) {
	h := newHarness(testMeeting(31, meeting.PlatformWebconf, meeting.StatusCaptureInProgress))

	_, err := h.o.Apply(context.Background(), 31, meeting.EventCompleteCapture)
	require.NoError(t, err)

	stored := h.store.snapshot(31)
	assert.Equal(t, meeting.StatusCaptureDone, stored.Status)
	require.NotNil(t, stored.EndDate)
}

func TestApply_FailCaptureBotPersistsStatusOnly(t *testing.T) {
	h := newHarness(testMeeting(32, meeting.PlatformWebinaire, meeting.StatusCaptureBotIsConnecting))

	_, err := h.o.Apply(context.Background(), 32, meeting.EventFailCaptureBot)
	require.NoError(t, err)

	stored := h.store.snapshot(32)
	assert.Equal(t, meeting.StatusCaptureBotConnectionFailed, stored.Status)
	assert.Nil(t, stored.StartDate)
	assert.Nil(t, stored.EndDate)
	assert.Len(t, h.store.history(), 1)
}

func TestApply_StartReport(t *testing.T) {
	m := testMeeting(40, meeting.PlatformVisio, meeting.StatusTranscriptionDone)
	m.TranscriptionFilename = "transcription/40/out.docx"
	h := newHarness(m)

	_, err := h.o.Apply(context.Background(), 40, meeting.EventStartReport)
	require.NoError(t, err)

	assert.Equal(t, meeting.StatusReportPending, h.store.snapshot(40).Status)
	require.Len(t, h.dispatcher.tasks, 1)
	assert.Equal(t, jobs.ReportTask(40, "transcription/40/out.docx"), h.dispatcher.tasks[0])
}

func TestApply_StartReportWithoutTranscription(t *testing.T) {
	h := newHarness(testMeeting(41, meeting.PlatformVisio, meeting.StatusTranscriptionDone))

	_, err := h.o.Apply(context.Background(), 41, meeting.EventStartReport)
	assert.True(t, mcerrors.IsNotFound(err))
	assert.Equal(t, meeting.StatusTranscriptionDone, h.store.snapshot(41).Status)
	assert.Empty(t, h.dispatcher.tasks)
}

func TestApply_StartReportDispatchFailure(t *testing.T) {
	m := testMeeting(42, meeting.PlatformVisio, meeting.StatusReportFailed)
	m.TranscriptionFilename = "t.docx"
	h := newHarness(m)
	h.dispatcher.err = errors.New("broker down")

	_, err := h.o.Apply(context.Background(), 42, meeting.EventStartReport)

	var tce *mcerrors.TaskCreationError
	require.True(t, errors.As(err, &tce))
	assert.Equal(t, jobs.TaskReport, tce.Task)
	assert.Equal(t, int64(42), tce.MeetingID)
	assert.Equal(t, meeting.StatusReportFailed, h.store.snapshot(42).Status)
}

func TestApply_CompleteReport(t *testing.T) {
	h := newHarness(testMeeting(50, meeting.PlatformVisio, meeting.StatusReportPending))
	report := &notify.Report{
		Header:    notify.ReportHeader{Title: "Point hebdo"},
		NextSteps: []string{"Relire le compte rendu"},
	}

	m, err := h.o.Apply(context.Background(), 50, meeting.EventCompleteReport, WithReport(report))
	require.NoError(t, err)
	assert.Equal(t, "report/50/report.html", m.ReportFilename)

	stored := h.store.snapshot(50)
	assert.Equal(t, meeting.StatusReportDone, stored.Status)
	assert.Equal(t, "report/50/report.html", stored.ReportFilename)

	obj, ok := h.blobs.Object("report/50/report.html")
	require.True(t, ok)
	assert.Equal(t, blob.ContentTypeHTML, obj.ContentType)
	assert.Contains(t, string(obj.Data), "Relire le compte rendu")

	require.Len(t, h.mailer.sent, 1)
	assert.Equal(t, "owner@example.org", h.mailer.sent[0].To)
	assert.Equal(t, "Votre compte rendu de la réunion Point hebdo est prêt", h.mailer.sent[0].Subject)
	assert.Contains(t, h.mailer.sent[0].HTML, "https://app.example.org/meetings/50")

	require.Len(t, h.notifier.published, 1)
	assert.Equal(t, "6f1c2a3e-0000-4000-8000-000000000001", h.notifier.published[0].RecipientID)
	assert.Equal(t, notify.TypeSuccess, h.notifier.published[0].Type)

	records := h.store.history()
	require.Len(t, records, 1)
	assert.Equal(t, meeting.StatusReportDone, records[0].Status)
}

func TestApply_CompleteReportMailFailureIsBestEffort(t *testing.T) {
	h := newHarness(testMeeting(51, meeting.PlatformVisio, meeting.StatusReportPending))
	h.mailer.err = errors.New("smtp down")

	_, err := h.o.Apply(context.Background(), 51, meeting.EventCompleteReport, WithReport(&notify.Report{}))
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusReportDone, h.store.snapshot(51).Status)
	assert.Len(t, h.notifier.published, 1)
}

func TestApply_CompleteReportStorageFailureRollsBack(t *testing.T) {
	h := newHarness(testMeeting(52, meeting.PlatformVisio, meeting.StatusReportPending))
	h.blobs.PutErr = errors.New("bucket missing")

	_, err := h.o.Apply(context.Background(), 52, meeting.EventCompleteReport, WithReport(&notify.Report{}))
	require.Error(t, err)
	assert.Equal(t, meeting.StatusReportPending, h.store.snapshot(52).Status)
	assert.Empty(t, h.mailer.sent)
}

func TestApply_CompleteReportRequiresPayload(t *testing.T) {
	h := newHarness(testMeeting(53, meeting.PlatformVisio, meeting.StatusReportPending))

	_, err := h.o.Apply(context.Background(), 53, meeting.EventCompleteReport)
	assert.True(t, mcerrors.IsValidation(err))
	assert.Equal(t, meeting.StatusReportPending, h.store.snapshot(53).Status)
}

func TestApply_ReopenClearsReport(t *testing.T) {
	m := testMeeting(60, meeting.PlatformVisio, meeting.StatusReportDone)
	m.ReportFilename = "report/60/report.html"
	h := newHarness(m)

	_, err := h.o.Apply(context.Background(), 60, meeting.EventCompleteTranscription)
	require.NoError(t, err)

	stored := h.store.snapshot(60)
	assert.Equal(t, meeting.StatusTranscriptionDone, stored.Status)
	assert.Empty(t, stored.ReportFilename)
}

func TestApply_CompleteTranscriptionIdempotent(t *testing.T) {
	h := newHarness(testMeeting(61, meeting.PlatformImport, meeting.StatusTranscriptionDone))

	for i := 0; i < 2; i++ {
		m, err := h.o.Apply(context.Background(), 61, meeting.EventCompleteTranscription)
		require.NoError(t, err)
		assert.Equal(t, meeting.StatusTranscriptionDone, m.Status)
	}
	assert.Len(t, h.store.history(), 2)
}

func TestLocalTransitions(t *testing.T) {
	h := newHarness(testMeeting(70, meeting.PlatformVisio, meeting.StatusCaptureBotIsConnecting))
	lt := NewLocalTransitions(h.o)
	ctx := context.Background()

	require.NoError(t, lt.StartCaptureBot(ctx, 70))
	assert.Equal(t, meeting.StatusCaptureInProgress, h.store.snapshot(70).Status)

	require.NoError(t, lt.EndCapture(ctx, 70))
	assert.Equal(t, meeting.StatusCaptureDone, h.store.snapshot(70).Status)

	require.NoError(t, lt.InitTranscription(ctx, 70))
	assert.Equal(t, meeting.StatusTranscriptionPending, h.store.snapshot(70).Status)

	err := lt.FailCaptureBot(ctx, 70)
	assert.True(t, mcerrors.IsInvalidState(err))
}

func TestLocalTransitions_FailCaptureThenTranscribe(t *testing.T) {
	h := newHarness(testMeeting(71, meeting.PlatformComu, meeting.StatusCaptureInProgress))
	lt := NewLocalTransitions(h.o)
	ctx := context.Background()

	assert.True(t, mcerrors.IsInvalidState(lt.FailCaptureBot(ctx, 71)))

	require.NoError(t, lt.FailCapture(ctx, 71))
	assert.Equal(t, meeting.StatusCaptureFailed, h.store.snapshot(71).Status)

	require.NoError(t, lt.InitTranscription(ctx, 71))
	assert.Equal(t, meeting.StatusTranscriptionPending, h.store.snapshot(71).Status)
	assert.Len(t, h.dispatcher.tasks, 1)
}
