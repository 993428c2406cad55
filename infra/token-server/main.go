// Standalone access-token issuer for local testing. Speaks the
// create-access-token contract the agent's HTTP token provider expects:
// GET /create-access-token?api_key=<key>&channel_id=<id> -> {"access_token": "..."}
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/livekit/protocol/auth"
)

func main() {
	apiKey := os.Getenv("NOTETALK_API_KEY")
	apiSecret := os.Getenv("NOTETALK_API_SECRET")

	if apiKey == "" || apiSecret == "" {
		log.Fatal("NOTETALK_API_KEY and NOTETALK_API_SECRET must be set")
	}

	http.HandleFunc("/create-access-token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != apiKey {
			http.Error(w, "unknown api key", http.StatusForbidden)
			return
		}
		channelID := r.URL.Query().Get("channel_id")
		if channelID == "" {
			http.Error(w, "channel_id query param required", http.StatusBadRequest)
			return
		}

		at := auth.NewAccessToken(apiKey, apiSecret)
		grant := &auth.VideoGrant{
			RoomJoin: true,
			Room:     channelID,
		}
		at.AddGrant(grant).SetValidFor(time.Hour)

		token, err := at.ToJWT()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to generate token: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"access_token": token})
	})

	addr := ":8082"
	log.Printf("Token issuer listening on %s", addr)
	log.Printf("Usage: GET /create-access-token?api_key=<key>&channel_id=<id>")
	log.Fatal(http.ListenAndServe(addr, nil))
}
