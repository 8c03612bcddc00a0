package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/dglab-voice/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"orDash": func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>DG-LAB Voice</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.active { color: green; font-weight: bold; }
.empty { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>DG-LAB Voice</h1>

<h2>Session</h2>
<table>
<tr><th>State</th><td id="session-state" class="{{if eq .Session "ACTIVE"}}active{{else}}empty{{end}}">{{.Session}}</td></tr>
<tr><th>Client</th><td>{{orDash .ClientID}}</td></tr>
<tr><th>Target</th><td>{{orDash .TargetID}}</td></tr>
<tr><th>Binds</th><td>{{.Binds}}</td></tr>
</table>

<h2>Channels</h2>
<table>
<tr><th></th><th>A</th><th>B</th></tr>
<tr><th>Limit</th><td>{{.A.Limit}}</td><td>{{.B.Limit}}</td></tr>
<tr><th>Device strength</th><td>{{.A.Reported}}</td><td>{{.B.Reported}}</td></tr>
<tr><th>Output strength</th><td>{{.A.Strength}}</td><td>{{.B.Strength}}</td></tr>
<tr><th>Active triggers</th><td>{{.A.Active}}</td><td>{{.B.Active}}</td></tr>
<tr><th>Triggers</th><td>{{.A.Triggers}}</td><td>{{.B.Triggers}}</td></tr>
<tr><th>Last trigger</th><td>{{orDash .A.LastTrigger}}</td><td>{{orDash .B.LastTrigger}}</td></tr>
</table>
{{if .Config.EStop}}<p>Emergency stops: {{.Halts}}</p>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{orDash .Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.IntervalMs}}ms</td></tr>
<tr><th>Rules</th><td>{{.Config.Rules}}</td></tr>
<tr><th>Waves</th><td>{{.Config.Waves}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
