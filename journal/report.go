package journal

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
	"time"
)

// SessionReport summarises one replay or paper session.
type SessionReport struct {
	Mode    string // "replay" or "paper"
	Source  string // script path or feed
	Created time.Time
	Start   time.Time
	End     time.Time

	Window        string
	PercentRisk   float64
	TickThreshold int

	StartBalance float64
	EndBalance   float64

	Ticks              int
	Suspensions        int
	Restorations       int
	StopLossesRemoved  int
	StopLossesRestored int
	StopLossesSkipped  int
	OrdersCancelled    int
	OrdersRestored     int
	DrawdownClosures   int
	Failures           int

	Trades []TradeRecord
	Events []Event

	OrgPath string
}

func (r *SessionReport) NetPL() float64 { return r.EndBalance - r.StartBalance }

var reportOrgFuncs = template.FuncMap{
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
	"trades": FormatTradesOrg,
	"events": FormatEventsOrg,
}

var reportTmpl = template.Must(template.New("session").Funcs(reportOrgFuncs).Parse(SessionOrgTemplate))

// Org renders the report as an Org-mode document.
func (r *SessionReport) Org() (string, error) {
	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("render session report: %w", err)
	}
	return buf.String(), nil
}

// WriteOrg writes the report to OrgPath.
func (r *SessionReport) WriteOrg() error {
	if r.OrgPath == "" {
		return fmt.Errorf("session report: empty org path")
	}
	s, err := r.Org()
	if err != nil {
		return err
	}
	return os.WriteFile(r.OrgPath, []byte(s), 0o644)
}

const SessionOrgTemplate = `* SESSION: {{.Mode}} {{if .Source}}{{.Source}}{{else}}(source?){{end}}
:PROPERTIES:
:MODE:           {{.Mode}}
:WINDOW:         {{.Window}}
:PERCENT_RISK:   {{printf "%.2f" .PercentRisk}}
:TICK_THRESHOLD: {{.TickThreshold}}
:START:          {{.Start.UTC.Format "2006-01-02T15:04:05Z07:00"}}
:END_TIME:       {{.End.UTC.Format "2006-01-02T15:04:05Z07:00"}}
:START_BAL:      {{printf "%.2f" .StartBalance}}
:END_BAL:        {{printf "%.2f" .EndBalance}}
:NET_PL:         {{printf "%.2f" .NetPL}}
:CREATED:        [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Risk Activity
| Activity             | Count |
|----------------------+-------|
| Ticks                | {{.Ticks}} |
| Window suspensions   | {{.Suspensions}} |
| Window restorations  | {{.Restorations}} |
| Stop-losses removed  | {{.StopLossesRemoved}} |
| Stop-losses restored | {{.StopLossesRestored}} |
| Stop-losses skipped  | {{.StopLossesSkipped}} |
| Orders cancelled     | {{.OrdersCancelled}} |
| Orders restored      | {{.OrdersRestored}} |
| Drawdown closures    | {{.DrawdownClosures}} |
| Failures             | {{.Failures}} |
{{- if .Trades }}

** Closed Trades
{{ trades .Trades }}
{{- end }}
{{- if .Events }}

** Events
{{ events .Events }}
{{- end }}
`
