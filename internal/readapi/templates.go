package readapi

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>onion recon</title>
<style>
body { font-family: monospace; background: #0b0b0c; color: #ddd; max-width: 800px; margin: 2em auto; }
form { margin-bottom: 1.5em; }
input[type=text] { width: 70%; padding: .4em; }
button { padding: .4em 1em; }
.result { border-bottom: 1px solid #333; padding: .8em 0; }
.result a { color: #8fb4ff; }
.snippet { color: #aaa; font-size: .9em; margin-top: .3em; }
.meta { color: #888; font-size: .85em; }
.nav a { margin-right: 1em; }
</style>
</head>
<body>
<h1>onion recon</h1>
<form action="/search" method="get">
  <input type="text" name="q" value="{{.Query}}" placeholder='bitcoin, title:"market", http:"server: nginx", port:8333'>
  <button type="submit">search</button>
</form>
{{range .Results}}
<div class="result">
  <div><a href="/domain/{{.Domain.Address}}">{{.Page.Title}}</a></div>
  <div class="meta">{{.Page.URL}}</div>
  {{if .Snippet}}<div class="snippet">&hellip;{{.Snippet}}&hellip;</div>{{end}}
</div>
{{else}}
<p class="meta">no results</p>
{{end}}
<div class="nav">
{{if .HasMore}}<a href="/?q={{.Query}}&limit={{.Limit}}&offset={{add .Offset .Limit}}">next</a>{{end}}
</div>
</body>
</html>`

const domainHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Domain.Address}}</title>
<style>
body { font-family: monospace; background: #0b0b0c; color: #ddd; max-width: 800px; margin: 2em auto; }
h2 { color: #8fb4ff; }
.page, .link { border-bottom: 1px solid #333; padding: .6em 0; }
.meta { color: #888; font-size: .85em; }
</style>
</head>
<body>
<p><a href="/">&larr; back</a></p>
<h1>{{.Domain.Address}}</h1>
<p class="meta">crawls: {{.Domain.CrawlCount}} | status: {{.Domain.CrawlStatus}} | last crawled: {{.Domain.LastCrawled}}</p>

<h2>pages</h2>
{{range .Pages}}
<div class="page">
  <div>{{.Title}}</div>
  <div class="meta">{{.URL}} &middot; {{.StatusCode}}</div>
</div>
{{else}}
<p class="meta">no pages recorded</p>
{{end}}

<h2>incoming links</h2>
{{range .Links}}
<div class="link">
  <div class="meta">{{.TargetURL}} ({{.Type}})</div>
</div>
{{else}}
<p class="meta">no incoming links recorded</p>
{{end}}
</body>
</html>`
