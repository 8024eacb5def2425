package output

import (
	"html/template"
	"io"
	"strconv"
	"strings"

	"pytrace/internal/collector"
	"pytrace/internal/marker"
)

var htmlFuncs = template.FuncMap{
	"lineRange": func(r marker.TraceabilityReport) string {
		end := r.EndLineNumber
		if end == 0 {
			end = r.LineNumber
		}
		return strconv.Itoa(r.LineNumber) + " to " + strconv.Itoa(end)
	},
	"metadata": func(m marker.Metadata) string {
		parts := make([]string, 0, len(m))
		for _, k := range m.Keys() {
			parts = append(parts, k+"="+m[k].String())
		}
		return strings.Join(parts, ", ")
	},
	"short": func(hash string) string {
		if len(hash) > 10 {
			return hash[:10]
		}
		return hash
	},
	"date": func(e marker.HistoryEntry) string {
		return e.AuthorDate.Format("2006-01-02")
	},
}

var reportTemplate = template.Must(template.New("report").Funcs(htmlFuncs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Traceability report</title>
</head>
<body>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}} from {{.BaseDirectory}}</p>
<table border="1" cellspacing="0" cellpadding="5">
<thead>
<tr>
<th>Traceability Key</th>
<th>Meta data</th>
<th>File Path</th>
<th>Function</th>
<th>Line Range</th>
<th>Contains Raw Code</th>
<th>Source Code</th>
<th>History (Commits)</th>
</tr>
</thead>
<tbody>
{{- range .Reports}}
<tr>
<td>{{.Key}}</td>
<td>{{metadata .Metadata}}</td>
<td>{{.FilePath}}</td>
<td>{{.FunctionName}}</td>
<td>{{lineRange .}}</td>
<td>{{if .IsComplete}}No{{else}}Yes{{end}}</td>
<td>{{if .SourceCode}}<pre>{{.SourceCode}}</pre>{{else}}None{{end}}</td>
<td><ul>
{{- range .History}}
<li>{{if .CommitURL}}<a href="{{.CommitURL}}">{{short .Commit}}</a>{{else}}{{short .Commit}}{{end}} {{date .}} {{.AuthorName}}: {{.Message}}{{if .Diff}}<pre>{{.Diff}}</pre>{{end}}</li>
{{- else}}
<li>No history</li>
{{- end}}
</ul></td>
</tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

func renderHTML(w io.Writer, res *collector.Result) error {
	return reportTemplate.Execute(w, res)
}
