package report

// ReportTemplate is the HTML template for the screening report.
// It is embedded as a Go constant; reports carry no external assets.
const ReportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>
  :root {
    --bg: #ffffff;
    --text: #1a1a2e;
    --muted: #6b7280;
    --border: #e5e7eb;
    --accent: #2563eb;
    --green: #16a34a;
    --red: #dc2626;
    --orange: #ea580c;
    --section-bg: #f8fafc;
  }
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
    color: var(--text);
    background: var(--bg);
    line-height: 1.6;
    max-width: 900px;
    margin: 0 auto;
    padding: 20px;
  }
  h1, h2, h3 { font-weight: 600; }
  h1 { font-size: 1.5rem; margin-bottom: 4px; }
  h2 { font-size: 1.2rem; margin: 24px 0 12px; padding-bottom: 6px; border-bottom: 2px solid var(--accent); }
  p { margin: 6px 0; }
  .muted { color: var(--muted); font-size: 0.85rem; }

  /* Header */
  .header {
    display: flex;
    justify-content: space-between;
    align-items: flex-start;
    border-bottom: 3px solid var(--accent);
    padding-bottom: 12px;
    margin-bottom: 16px;
  }
  .header-left h1 { color: var(--accent); }
  .header-right { text-align: right; }
  .year-badge {
    display: inline-block;
    background: var(--accent);
    color: white;
    padding: 2px 12px;
    border-radius: 4px;
    font-weight: 700;
    font-size: 1.1rem;
    margin-right: 8px;
  }

  /* Verdict */
  .verdict {
    display: flex;
    align-items: center;
    gap: 16px;
    padding: 16px;
    border-radius: 8px;
    margin: 12px 0;
  }
  .verdict.high { background: #fef2f2; border-left: 5px solid var(--red); }
  .verdict.moderate { background: #fff7ed; border-left: 5px solid var(--orange); }
  .verdict.low { background: #dcfce7; border-left: 5px solid var(--green); }
  .verdict-label { font-size: 1.4rem; font-weight: 700; }
  .verdict.high .verdict-label { color: var(--red); }
  .verdict.moderate .verdict-label { color: var(--orange); }
  .verdict.low .verdict-label { color: var(--green); }
  .score { font-size: 2rem; font-weight: 700; }

  /* Tables */
  table { width: 100%; border-collapse: collapse; margin: 8px 0 16px; font-size: 0.9rem; }
  th { background: var(--section-bg); text-align: left; padding: 8px; font-weight: 600; }
  td { padding: 8px; border-bottom: 1px solid var(--border); }
  td.num, th.num { text-align: right; font-variant-numeric: tabular-nums; }
  tr.flagged td { background: #fef2f2; }
  .severity-badge {
    display: inline-block;
    padding: 1px 8px;
    border-radius: 3px;
    font-size: 0.8rem;
    font-weight: 600;
  }
  .severity-badge.high { background: #fef2f2; color: var(--red); }
  .severity-badge.moderate { background: #fff7ed; color: var(--orange); }
  .severity-badge.low { background: #f3f4f6; color: var(--muted); }

  .chart-container { margin: 12px 0; overflow-x: auto; }
  .chart-container svg { max-width: 100%; height: auto; }

  .section { margin: 20px 0; }
  .section-summary {
    background: var(--section-bg);
    padding: 12px;
    border-radius: 6px;
    margin: 8px 0;
    font-size: 0.95rem;
    line-height: 1.7;
  }

  .footer {
    margin-top: 30px;
    padding-top: 12px;
    border-top: 2px solid var(--border);
    font-size: 0.8rem;
    color: var(--muted);
    text-align: center;
  }

  .gauge-inline { display: flex; align-items: center; gap: 12px; margin-left: auto; }
  .gauge-inline svg { flex-shrink: 0; }

  @media print {
    body { max-width: 100%; padding: 10px; }
    .section { page-break-inside: avoid; }
  }
</style>
</head>
<body>

<!-- ═══════ HEADER ═══════ -->
<div class="header">
  <div class="header-left">
    <h1><span class="year-badge">FY{{.FinancialYear}}</span> {{.CompanyName}}</h1>
    <p class="muted">{{.Title}}</p>
    <p class="muted">Formula: {{.Formula}}{{if .Source}} · Source: {{.Source}}{{end}}{{if .Unit}} · Amounts in {{.Unit}}{{end}}</p>
  </div>
  <div class="header-right">
    <p class="muted">{{.GeneratedAt}}</p>
    <p class="muted">{{.Author}}</p>
    {{if .AnalysisID}}<p class="muted">{{.AnalysisID}}</p>{{end}}
  </div>
</div>

<!-- ═══════ VERDICT ═══════ -->
{{if .ShowSummary}}
<div class="section">
  <h2>Verdict</h2>
  <div class="verdict {{.RiskClass}}">
    <div>
      <div class="score">{{.MScore}}</div>
      <div class="verdict-label">{{.Interpretation}}</div>
      <div class="muted">Fraud likelihood: {{.Likelihood}}</div>
    </div>
    <div class="gauge-inline">{{.GaugeChart}}</div>
  </div>
  <div class="section-summary">{{.Verdict}}</div>
</div>
{{end}}

<!-- ═══════ COMPONENTS ═══════ -->
{{if .ShowComponents}}
<div class="section">
  <h2>Index Ratios</h2>
  <div class="chart-container">{{.ComponentChart}}</div>
  <table>
    <thead><tr><th>Index</th><th>Description</th><th class="num">Value</th><th class="num">Red flag</th></tr></thead>
    <tbody>
    {{range .Components}}
    <tr{{if .Flagged}} class="flagged"{{end}}>
      <td><strong>{{.Name}}</strong></td>
      <td>{{.Label}}</td>
      <td class="num">{{.Value}}</td>
      <td class="num">{{.Threshold}}</td>
    </tr>
    {{end}}
    </tbody>
  </table>
</div>
{{end}}

<!-- ═══════ RED FLAGS ═══════ -->
{{if .ShowRedFlags}}
<div class="section">
  <h2>Red Flags</h2>
  {{if .RedFlags}}
  <table>
    <thead><tr><th>Index</th><th>Severity</th><th class="num">Value</th><th class="num">Threshold</th><th>Finding</th></tr></thead>
    <tbody>
    {{range .RedFlags}}
    <tr>
      <td>{{.Component}}</td>
      <td><span class="severity-badge {{.SeverityClass}}">{{.Severity}}</span></td>
      <td class="num">{{.Value}}</td>
      <td class="num">{{.Threshold}}</td>
      <td>{{.Message}}</td>
    </tr>
    {{end}}
    </tbody>
  </table>
  {{else}}
  <p class="muted">No index crossed its red-flag threshold.</p>
  {{end}}
</div>
{{end}}

<!-- ═══════ INPUTS ═══════ -->
{{if .ShowInputs}}
<div class="section">
  <h2>Statement Inputs</h2>
  <table>
    <thead><tr><th>Line item</th><th class="num">Current</th><th class="num">Prior</th></tr></thead>
    <tbody>
    {{range .Inputs}}
    <tr><td>{{.Label}}</td><td class="num">{{.Current}}</td><td class="num">{{.Prior}}</td></tr>
    {{end}}
    </tbody>
  </table>
</div>
{{end}}

<!-- ═══════ CONFIDENCE ═══════ -->
{{if .ShowConfidence}}
<div class="section">
  <h2>Extraction Confidence</h2>
  <table>
    <thead><tr><th>Field</th><th class="num">Confidence</th></tr></thead>
    <tbody>
    {{range .Confidences}}
    <tr><td>{{.Field}}</td><td class="num">{{.Value}}</td></tr>
    {{end}}
    </tbody>
  </table>
</div>
{{end}}

<!-- ═══════ FOOTER ═══════ -->
<div class="footer">
  <p>The Beneish M-Score is a screening heuristic, not proof of manipulation.
  Fraud likelihood is a display scale, not a calibrated probability.</p>
  <p>Generated by {{.Author}} on {{.GeneratedAt}}</p>
</div>

</body>
</html>`
