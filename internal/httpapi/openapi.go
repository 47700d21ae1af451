package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/swaggo/swag"

	// Registers the generated OpenAPI document with swag.
	_ "pkt.systems/mcpbridge/swagger/docs"
)

// handleOpenAPI serves the generated OpenAPI document.
func (h *Handler) handleOpenAPI(w http.ResponseWriter, _ *http.Request) error {
	doc, err := swag.ReadDoc()
	if err != nil {
		return fmt.Errorf("read openapi document: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
	return nil
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>mcpbridge API reference</title>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  <style>
    body { margin: 0; background: #f7f7f7; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-standalone-preset.js"></script>
  <script>
    window.onload = function() {
      SwaggerUIBundle({
        url: '/openapi.json',
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
        layout: 'BaseLayout'
      });
    };
  </script>
</body>
</html>
`

// handleDocs serves an interactive API reference backed by /openapi.json.
func (h *Handler) handleDocs(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, swaggerUIHTML)
	return nil
}
