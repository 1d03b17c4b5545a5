package server

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

const defaultGatewayConfig = `endpoint: /graphql
service_name: federation-router
port: 8080
timeout_duration: 5s
enable_hang_over_request_header: true
services:
  - name: users
    host: localhost:3001
    schema_files:
      - schema/users.graphql
opentelemetry:
  tracing:
    enable: false
cors:
  enable: false
  allow_any_origin: false
  policies: []
authorization:
  enable: false
query_complexity:
  max_depth: 0
  max_tokens: 0
forward_headers: []
`

// Init scaffolds a starter gateway.yaml in the current directory so that
// loadGatewaySetting has something to read on first run.
func Init() error {
	if _, err := os.Stat("gateway.yaml"); err == nil {
		return fmt.Errorf("gateway.yaml already exists")
	}

	if err := os.WriteFile("gateway.yaml", []byte(defaultGatewayConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write gateway.yaml: %w", err)
	}

	var check map[string]any
	if err := yaml.Unmarshal([]byte(defaultGatewayConfig), &check); err != nil {
		return fmt.Errorf("generated gateway.yaml is not valid yaml: %w", err)
	}

	fmt.Println("wrote gateway.yaml")
	return nil
}
