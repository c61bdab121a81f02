// Package config handles configuration loading for the clawhuddle server.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Unset fields receive the defaults the gateway image expects, then the result
// is validated.
//
// # Configuration File
//
// Default location (in order):
//
//  1. Path from CLAWHUDDLE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/clawhuddle/server.yaml
//  3. ~/.config/clawhuddle/server.yaml
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${CLAWHUDDLE_JWT_SECRET}"
//
// # Configuration Sections
//
// Gateway containers:
//
//	gateways:
//	  image: "clawhuddle-gateway:local"
//	  internal_port: 6100
//	  network: "clawhuddle-net"
//	  container_prefix: "clawhuddle-gw-"
//	  domain: "localhost"
//	  gateway_domain: ""          # defaults to domain
//	  data_dir: "./data"
//	  host_data_dir: ""           # absolute host path for bind mounts
//	  mode: "local"               # local, production
//	  health_timeout: "5s"
//	  exec_timeout: "10s"
//
// Reverse proxy map:
//
//	routing:
//	  map_path: "./data/nginx/gateway-map.conf"
//	  proxy_container: "clawhuddle-nginx"
//	  gateway_host: "127.0.0.1"
//	  resolve_host: false
//
// Follow-up redeploys:
//
//	tasks:
//	  max_attempts: 3
//	  initial_interval: "2s"
//	  max_interval: "30s"
//	  dedupe_window: "10s"
//
// # Deployment Modes
//
// ModeLocalDevelopment publishes the gateway port on a random host port.
// ModeProduction publishes nothing and relies on proxy labels and the
// routing map.
package config
