package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(reportTemplateHTML))
}

// TemplateData holds data for report rendering.
type TemplateData struct {
	Title       string
	OwnerName   string
	Kind        string
	GeneratedAt time.Time
	Cases       []TemplateCase
	Passed      int
	Failed      int
	Blocked     int
	Untested    int
}

func (d *TemplateData) tally(executionStatus string) {
	switch executionStatus {
	case "passed":
		d.Passed++
	case "failed":
		d.Failed++
	case "blocked":
		d.Blocked++
	default:
		d.Untested++
	}
}

// TemplateCase holds one test case row for the report.
type TemplateCase struct {
	Title           string
	Steps           string
	Expected        string
	WorkflowStatus  string
	ExecutionStatus string
	AssigneeName    string
	Bugs            []TemplateBug
}

// TemplateBug holds a bug row nested under a case.
type TemplateBug struct {
	Title    string
	Severity string
	Reporter string
}

// RenderReportHTML renders the run report template.
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 900px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #0b7261; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    .summary { display: flex; gap: 1.5rem; margin-bottom: 2rem; }
    .summary span { padding: 0.25rem 0.75rem; border-radius: 4px; background: #f0f0f0; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #ddd; padding: 0.5rem; text-align: left; vertical-align: top; font-size: 0.9em; }
    th { background: #f5f5f5; }
    .status-passed { color: #0b7261; font-weight: bold; }
    .status-failed { color: #b3261e; font-weight: bold; }
    .status-blocked { color: #9a6700; font-weight: bold; }
    .bugs { margin: 0.25rem 0 0; padding-left: 1rem; font-size: 0.85em; color: #555; }
    pre { white-space: pre-wrap; margin: 0; font-family: inherit; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Kind}} | Owner: {{.OwnerName}} | Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}</div>
  <div class="summary">
    <span>Passed: {{.Passed}}</span>
    <span>Failed: {{.Failed}}</span>
    <span>Blocked: {{.Blocked}}</span>
    <span>Untested: {{.Untested}}</span>
  </div>
  <table>
    <tr><th>Test Case</th><th>Steps</th><th>Expected</th><th>Workflow</th><th>Execution</th><th>Assignee</th></tr>
    {{range .Cases}}
    <tr>
      <td>{{.Title}}
        {{if .Bugs}}<ul class="bugs">{{range .Bugs}}<li>[{{.Severity}}] {{.Title}} ({{.Reporter}})</li>{{end}}</ul>{{end}}
      </td>
      <td><pre>{{.Steps}}</pre></td>
      <td><pre>{{.Expected}}</pre></td>
      <td>{{.WorkflowStatus}}</td>
      <td class="status-{{lower .ExecutionStatus}}">{{.ExecutionStatus}}</td>
      <td>{{.AssigneeName}}</td>
    </tr>
    {{end}}
  </table>
</body>
</html>`
