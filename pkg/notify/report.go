package notify

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Participant is a speaker identified in the transcription.
type Participant struct {
	SpeakerID  string  `json:"speaker_id"`
	Name       string  `json:"name,omitempty"`
	Role       string  `json:"role,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ReportHeader summarizes the meeting.
type ReportHeader struct {
	Title        string        `json:"title"`
	Objective    string        `json:"objective,omitempty"`
	Participants []Participant `json:"participants"`
	NextMeeting  string        `json:"next_meeting,omitempty"`
}

// Topic is a discussed subject and the decision taken on it.
type Topic struct {
	Title            string   `json:"title"`
	IntroductionText string   `json:"introduction_text"`
	Details          []string `json:"details"`
	MainDecision     string   `json:"main_decision,omitempty"`
}

// Report is the generated report payload delivered with COMPLETE_REPORT.
type Report struct {
	Header             ReportHeader `json:"header"`
	TopicsWithDecision []Topic      `json:"topics_with_decision"`
	NextSteps          []string     `json:"next_steps"`
}

// Renderer converts Markdown into HTML documents.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a renderer with GitHub-flavoured tables and lists.
func NewRenderer() *Renderer {
	return &Renderer{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

// Markdown renders the report as Markdown.
func (r *Report) Markdown(meetingName string) string {
	var b strings.Builder

	title := r.Header.Title
	if title == "" {
		title = meetingName
	}
	fmt.Fprintf(&b, "# Relevé de décisions : %s\n\n", mdEscape(title))

	if r.Header.Objective != "" {
		fmt.Fprintf(&b, "**Objectif :** %s\n\n", mdEscape(r.Header.Objective))
	}

	if len(r.Header.Participants) > 0 {
		b.WriteString("## Participants\n\n")
		for _, p := range r.Header.Participants {
			name := p.Name
			if name == "" {
				name = p.SpeakerID
			}
			if p.Role != "" {
				fmt.Fprintf(&b, "- %s (%s)\n", mdEscape(name), mdEscape(p.Role))
			} else {
				fmt.Fprintf(&b, "- %s\n", mdEscape(name))
			}
		}
		b.WriteString("\n")
	}

	if len(r.TopicsWithDecision) > 0 {
		b.WriteString("## Sujets abordés\n\n")
		for _, t := range r.TopicsWithDecision {
			fmt.Fprintf(&b, "### %s\n\n", mdEscape(t.Title))
			if t.IntroductionText != "" {
				fmt.Fprintf(&b, "%s\n\n", mdEscape(t.IntroductionText))
			}
			for _, d := range t.Details {
				fmt.Fprintf(&b, "- %s\n", mdEscape(d))
			}
			if len(t.Details) > 0 {
				b.WriteString("\n")
			}
			if t.MainDecision != "" {
				fmt.Fprintf(&b, "**Décision :** %s\n\n", mdEscape(t.MainDecision))
			}
		}
	}

	if len(r.NextSteps) > 0 {
		b.WriteString("## Prochaines étapes\n\n")
		for _, s := range r.NextSteps {
			fmt.Fprintf(&b, "- %s\n", mdEscape(s))
		}
		b.WriteString("\n")
	}

	if r.Header.NextMeeting != "" {
		fmt.Fprintf(&b, "**Prochaine réunion :** %s\n", mdEscape(r.Header.NextMeeting))
	}

	return b.String()
}

// Fragment renders Markdown to an HTML fragment.
func (rd *Renderer) Fragment(markdown string) ([]byte, error) {
	var buf bytes.Buffer
	if err := rd.md.Convert([]byte(markdown), &buf); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// Document renders Markdown into a standalone HTML document.
func (rd *Renderer) Document(title, markdown string) ([]byte, error) {
	body, err := rd.Fragment(markdown)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html lang=\"fr\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&buf, "<title>%s</title>\n", html.EscapeString(title))
	buf.WriteString("</head>\n<body>\n")
	buf.Write(body)
	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}

// RenderReport renders the report payload into an HTML document.
func (rd *Renderer) RenderReport(meetingName string, report *Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("report payload is required")
	}
	return rd.Document(meetingName, report.Markdown(meetingName))
}

var mdReplacer = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
	"<", "&lt;",
	">", "&gt;",
	"#", `\#`,
)

func mdEscape(s string) string {
	return mdReplacer.Replace(strings.TrimSpace(s))
}
