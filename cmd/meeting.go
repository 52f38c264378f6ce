package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetcap/pkg/ledger"
	"github.com/otherjamesbrown/meetcap/pkg/lifecycle"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
	"github.com/otherjamesbrown/meetcap/pkg/notify"
)

// Meeting command flags
var (
	meetingOutput     string
	meetingReportFile string
)

// NewMeetingCommand creates the root meeting command with all subcommands.
func NewMeetingCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meeting",
		Short: "Inspect and drive meeting lifecycles",
		Long: `Inspect a meeting's status and transition history, fire lifecycle
events by hand, and query the estimated transcription wait.

Examples:
  meetcap meeting status 42
  meetcap meeting transition 42 START_TRANSCRIPTION
  meetcap meeting transition 42 COMPLETE_REPORT --report report.json
  meetcap meeting wait 42`,
	}

	cmd.PersistentFlags().StringVarP(&meetingOutput, "output", "o", "", "Output format: text, json, yaml")

	cmd.AddCommand(newMeetingStatusCommand(deps))
	cmd.AddCommand(newMeetingTransitionCommand(deps))
	cmd.AddCommand(newMeetingWaitCommand(deps))

	return cmd
}

func newMeetingStatusCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status <meeting-id>",
		Short: "Show a meeting's status and transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMeetingID(args[0])
			if err != nil {
				return err
			}
			return runMeetingStatus(cmd.Context(), deps, id)
		},
	}
}

func newMeetingTransitionCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition <meeting-id> <event>",
		Short: "Fire a lifecycle event on a meeting",
		Long: `Fire a lifecycle event on a meeting through the in-process orchestrator.

The event must be legal for the meeting's platform variant and current status.
Side effects run as in production: INIT_TRANSCRIPTION dispatches the
transcription job, START_REPORT dispatches the report job and COMPLETE_REPORT
stores the rendered report (--report, a JSON payload) and notifies the owner.

Events: ` + eventList(),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMeetingID(args[0])
			if err != nil {
				return err
			}
			event, err := meeting.ParseEvent(args[1])
			if err != nil {
				return err
			}
			return runMeetingTransition(cmd.Context(), deps, id, event)
		},
	}

	cmd.Flags().StringVar(&meetingReportFile, "report", "", "JSON report payload for COMPLETE_REPORT")

	return cmd
}

func newMeetingWaitCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "wait <meeting-id>",
		Short: "Show the estimated minutes until transcription starts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMeetingID(args[0])
			if err != nil {
				return err
			}
			return runMeetingWait(cmd.Context(), deps, id)
		},
	}
}

func runMeetingStatus(ctx context.Context, deps *CommandDeps, id int64) error {
	format, err := parseOutputFormat(meetingOutput)
	if err != nil {
		return err
	}

	s, err := openServices(ctx, deps, serviceNeeds{})
	if err != nil {
		return err
	}
	defer s.close()

	m, err := s.meetings.Get(ctx, id)
	if err != nil {
		return err
	}
	history, err := s.records.History(ctx, id)
	if err != nil {
		return err
	}

	return outputMeeting(deps.out(), format, newMeetingView(m, history))
}

func runMeetingTransition(ctx context.Context, deps *CommandDeps, id int64, event meeting.Event) error {
	var opts []lifecycle.Option
	if meetingReportFile != "" {
		report, err := readReport(meetingReportFile)
		if err != nil {
			return err
		}
		opts = append(opts, lifecycle.WithReport(report))
	}

	s, err := openServices(ctx, deps, serviceNeeds{redis: true, blobs: true})
	if err != nil {
		return err
	}
	defer s.close()

	if s.lifecycle == nil {
		return errors.New("transitions need redis for job dispatch: set redis.addr")
	}

	m, err := s.lifecycle.Apply(ctx, id, event, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintf(deps.out(), "Meeting %d: %s\n", m.ID, m.Status)
	return nil
}

func runMeetingWait(ctx context.Context, deps *CommandDeps, id int64) error {
	format, err := parseOutputFormat(meetingOutput)
	if err != nil {
		return err
	}

	s, err := openServices(ctx, deps, serviceNeeds{})
	if err != nil {
		return err
	}
	defer s.close()

	minutes, err := s.estimator.RemainingMinutes(ctx, id)
	if err != nil {
		return err
	}

	out := deps.out()
	view := struct {
		MeetingID        int64 `json:"meeting_id" yaml:"meeting_id"`
		RemainingMinutes int   `json:"remaining_minutes" yaml:"remaining_minutes"`
	}{id, minutes}
	if done, err := encode(out, format, view); done || err != nil {
		return err
	}
	fmt.Fprintf(out, "Meeting %d: about %d minute(s) until transcription starts\n", id, minutes)
	return nil
}

func parseMeetingID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid meeting id %q", s)
	}
	return id, nil
}

func readReport(path string) (*notify.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var r notify.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return &r, nil
}

func eventList() string {
	names := make([]string, len(meeting.AllEvents))
	for i, e := range meeting.AllEvents {
		names[i] = string(e)
	}
	return strings.Join(names, ", ")
}

type transitionView struct {
	Timestamp               time.Time  `json:"timestamp" yaml:"timestamp"`
	Status                  string     `json:"status" yaml:"status"`
	PredictedNextTransition *time.Time `json:"predicted_next_transition,omitempty" yaml:"predicted_next_transition,omitempty"`
}

type meetingView struct {
	ID                    int64            `json:"id" yaml:"id"`
	Name                  string           `json:"name" yaml:"name"`
	Platform              string           `json:"platform" yaml:"platform"`
	Status                string           `json:"status" yaml:"status"`
	Owner                 string           `json:"owner" yaml:"owner"`
	StartDate             *time.Time       `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate               *time.Time       `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	TranscriptionFilename string           `json:"transcription_filename,omitempty" yaml:"transcription_filename,omitempty"`
	ReportFilename        string           `json:"report_filename,omitempty" yaml:"report_filename,omitempty"`
	History               []transitionView `json:"history" yaml:"history"`
}

func newMeetingView(m *meeting.Meeting, history []ledger.Record) meetingView {
	v := meetingView{
		ID:                    m.ID,
		Name:                  m.Name,
		Platform:              string(m.Platform),
		Status:                string(m.Status),
		Owner:                 m.Owner.Email,
		StartDate:             m.StartDate,
		EndDate:               m.EndDate,
		TranscriptionFilename: m.TranscriptionFilename,
		ReportFilename:        m.ReportFilename,
		History:               make([]transitionView, 0, len(history)),
	}
	for _, r := range history {
		v.History = append(v.History, transitionView{
			Timestamp:               r.Timestamp,
			Status:                  string(r.Status),
			PredictedNextTransition: r.PredictedDateOfNextTransition,
		})
	}
	return v
}

func outputMeeting(w io.Writer, format OutputFormat, v meetingView) error {
	if done, err := encode(w, format, v); done || err != nil {
		return err
	}

	fmt.Fprintf(w, "Meeting %d: %s\n", v.ID, v.Name)
	fmt.Fprintf(w, "  Platform: %s\n", v.Platform)
	fmt.Fprintf(w, "  Status:   %s\n", v.Status)
	fmt.Fprintf(w, "  Owner:    %s\n", valueOrDash(v.Owner))
	if v.StartDate != nil {
		fmt.Fprintf(w, "  Started:  %s\n", v.StartDate.Format(time.RFC3339))
	}
	if v.EndDate != nil {
		fmt.Fprintf(w, "  Ended:    %s\n", v.EndDate.Format(time.RFC3339))
	}
	if v.ReportFilename != "" {
		fmt.Fprintf(w, "  Report:   %s\n", v.ReportFilename)
	}

	if len(v.History) == 0 {
		fmt.Fprintln(w, "\nNo transitions recorded.")
		return nil
	}
	fmt.Fprintln(w, "\n  RECORDED              STATUS                          PREDICTED NEXT")
	for _, h := range v.History {
		predicted := "-"
		if h.PredictedNextTransition != nil {
			predicted = h.PredictedNextTransition.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "  %-21s %-31s %s\n", h.Timestamp.Format(time.RFC3339), h.Status, predicted)
	}
	return nil
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
