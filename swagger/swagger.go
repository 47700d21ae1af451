package swagger

//go:generate swag init --generalInfo swagger.go --output docs --dir .,../internal/httpapi,../api --parseInternal --parseDependency --generatedTime=false
//go:generate go run ./internal/swaggerhtml --spec docs/swagger.json --out docs/swagger.html

// @title           mcpbridge API
// @version         0.0
// @description     mcpbridge exposes an MCP server's tools and resources as a REST API with optional API key authentication and payload auditing.
// @contact.name    Michel Blomgren
// @contact.email   sa6mwa@gmail.com
// @contact.url     https://pkt.systems
// @license.name    MIT
// @license.url     https://opensource.org/license/mit/
// @BasePath        /
// @schemes         http https
// @accept          json
// @produce         json
// @tag.name        tools
// @tag.description Tool discovery and execution forwarded to the upstream MCP server.
// @tag.name        resources
// @tag.description Resource discovery and reads forwarded to the upstream MCP server.
// @tag.name        system
// @tag.description Service metadata and upstream health probes.
// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        X-API-Key
// @description                 Shared secret required on tool and resource routes when the gateway is configured with an API key.

// Package swagger provides go:generate hooks for producing OpenAPI assets.
type Package struct{}
