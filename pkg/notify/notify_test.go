package notify

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

func sampleReport() *Report {
	return &Report{
		Header: ReportHeader{
			Title:     "Comité de pilotage",
			Objective: "Valider le budget",
			Participants: []Participant{
				{SpeakerID: "SPEAKER_00", Name: "Alice", Role: "Présidente", Confidence: 0.9},
				{SpeakerID: "SPEAKER_01"},
			},
			NextMeeting: "12 mars",
		},
		TopicsWithDecision: []Topic{
			{
				Title:            "Budget 2027",
				IntroductionText: "Présentation des chiffres.",
				Details:          []string{"Hausse de 3 %", "Gel des recrutements"},
				MainDecision:     "Budget adopté",
			},
		},
		NextSteps: []string{"Envoyer le budget <final>"},
	}
}

func TestReportMarkdown(t *testing.T) {
	md := sampleReport().Markdown("fallback")

	assert.Contains(t, md, "# Relevé de décisions : Comité de pilotage")
	assert.Contains(t, md, "- Alice (Présidente)")
	assert.Contains(t, md, "- SPEAKER\\_01")
	assert.Contains(t, md, "### Budget 2027")
	assert.Contains(t, md, "**Décision :** Budget adopté")
	assert.Contains(t, md, "&lt;final&gt;")
	assert.Contains(t, md, "**Prochaine réunion :** 12 mars")
}

func TestReportMarkdown_TitleFallback(t *testing.T) {
	md := (&Report{}).Markdown("Weekly")
	assert.True(t, strings.HasPrefix(md, "# Relevé de décisions : Weekly"))
	assert.NotContains(t, md, "## Participants")
}

func TestRenderReport(t *testing.T) {
	rd := NewRenderer()

	doc, err := rd.RenderReport("Comité <1>", sampleReport())
	require.NoError(t, err)

	html := string(doc)
	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "<title>Comité &lt;1&gt;</title>")
	assert.Contains(t, html, "<h1>Relevé de décisions : Comité de pilotage</h1>")
	assert.Contains(t, html, "<li>Hausse de 3 %</li>")
	assert.Contains(t, html, "<strong>Décision :</strong> Budget adopté")
	assert.NotContains(t, html, "<final>")

	_, err = rd.RenderReport("x", nil)
	assert.Error(t, err)
}

func TestReportPayloadDecoding(t *testing.T) {
	raw := `{
		"header": {"title": "T", "participants": [{"speaker_id": "S0", "name": "Bob", "confidence": 0.5}]},
		"topics_with_decision": [{"title": "A", "introduction_text": "i", "details": ["d"], "main_decision": "m"}],
		"next_steps": ["n"]
	}`

	var r Report
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	assert.Equal(t, "Bob", r.Header.Participants[0].Name)
	assert.Equal(t, "m", r.TopicsWithDecision[0].MainDecision)
	assert.Equal(t, []string{"n"}, r.NextSteps)
}

func TestReportReadyEmail(t *testing.T) {
	rd := NewRenderer()
	link := MeetingLink("https://app.example.org/", 42)
	assert.Equal(t, "https://app.example.org/meetings/42", link)

	e, err := rd.ReportReadyEmail("owner@example.org", "Point hebdo", link)
	require.NoError(t, err)

	assert.Equal(t, "owner@example.org", e.To)
	assert.Equal(t, "Votre compte rendu de la réunion Point hebdo est prêt", e.Subject)
	assert.Contains(t, e.HTML, `<a href="https://app.example.org/meetings/42">Accéder à la page de la réunion</a>`)
	assert.Contains(t, e.HTML, "<p>Bonjour,</p>")
}

func TestReportReadyNotification(t *testing.T) {
	n := ReportReadyNotification("kc-uuid", "Point hebdo", "https://app/meetings/1")

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "kc-uuid", n.RecipientID)
	assert.Equal(t, TypeSuccess, n.Type)
	assert.Contains(t, n.Content, "Point hebdo")

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"recipient_id":"kc-uuid"`)
}

func TestMailConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MailConfig
		wantErr bool
	}{
		{"valid", MailConfig{Host: "smtp.example.org", Port: 465, Sender: "noreply@example.org"}, false},
		{"missing host", MailConfig{Port: 465, Sender: "noreply@example.org"}, true},
		{"missing sender", MailConfig{Host: "smtp.example.org", Port: 465}, true},
		{"bad port", MailConfig{Host: "smtp.example.org", Sender: "noreply@example.org"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewMailer(t *testing.T) {
	m, err := NewMailer(MailConfig{
		Host:     "smtp.example.org",
		Port:     465,
		Username: "u",
		Password: "p",
		Sender:   "noreply@example.org",
		SSL:      true,
	}, logging.NewNopLogger())
	require.NoError(t, err)
	assert.NotNil(t, m)
}
