package api

import "net/http"

// wellKnownManifest is the static JSON manifest for /.well-known/meterbank.json.
const wellKnownManifest = `{
  "name": "Meterbank",
  "description": "Metering and settlement engine for machine-to-machine tool calls",
  "version": "0.1.0",
  "api_base": "/api/v1",
  "auth": {
    "type": "bearer",
    "header": "Authorization"
  },
  "endpoints": {
    "preview": "/api/v1/preview",
    "execute": "/api/v1/execute",
    "quotes": "/api/v1/quotes",
    "reservations": "/api/v1/reservations",
    "budget": "/api/v1/budget",
    "usage": "/api/v1/usage",
    "settle": "/api/v1/settle",
    "tools": "/api/v1/tools"
  },
  "health": "/health"
}`

// WellKnownHandler returns the static Meterbank well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}
