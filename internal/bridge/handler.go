package bridge

import (
	"net/http"

	"github.com/parley-ai/voicebridge/internal/observability"
	"github.com/parley-ai/voicebridge/internal/telephony"
)

// Handler upgrades incoming media stream connections and runs one call
// per connection.
func Handler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.GetLogger()
		conn, err := telephony.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		if err := Run(r.Context(), conn, deps); err != nil {
			logger.Error().Err(err).Msg("Call terminated with error")
		}
	}
}
