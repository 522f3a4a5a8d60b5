package api

import (
	"bytes"
	"html/template"
	"net/http"
)

var scalarPage = template.Must(template.New("scalar").Parse(`<!DOCTYPE html>
<html lang="fr">
<head>
	<title>{{.Title}} - Documentation API</title>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<style>body { margin: 0; }</style>
</head>
<body>
	<script id="api-reference" data-url="{{.SpecURL}}"></script>
	<script>
		var configuration = {
			theme: 'saturn',
			layout: 'classic',
			showSidebar: true,
			hideModels: true,
			defaultOpenAllTags: true,
			hiddenClients: ['php', 'ruby', 'c', 'objc', 'swift', 'clojure', 'ocaml', 'r'],
			metaData: {
				title: {{.Title}},
				description: {{.Description}}
			},
			servers: [{ url: window.location.origin, description: 'Serveur courant' }]
		}
		document.getElementById('api-reference').dataset.configuration = JSON.stringify(configuration)
	</script>
	<script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>`))

// ScalarHandler serves the Scalar reference UI for the spec at specURL.
func ScalarHandler(specURL, title, description string) http.Handler {
	var buf bytes.Buffer
	err := scalarPage.Execute(&buf, struct {
		Title, Description, SpecURL string
	}{title, description, specURL})
	page := buf.Bytes()

	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if err != nil {
			http.Error(w, "documentation unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	})
}
