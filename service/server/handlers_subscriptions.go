package server

import (
	"encoding/json"
	"net/http"

	"herald/service/subscription"
	"herald/service/util"

	"github.com/go-chi/chi/v5"
)

type subscribeRequest struct {
	SubscriberID string `json:"subscriberId"`
	Subscription struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
	UserAgent string `json:"userAgent,omitempty"`
}

// handleSubscribe stores or replaces a subscriber's push subscription.
// The nested subscription object is what PushSubscription.toJSON()
// produces in the browser, so clients can forward it untouched.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = r.UserAgent()
	}

	sub := subscription.Subscription{
		SubscriberID: req.SubscriberID,
		Endpoint:     req.Subscription.Endpoint,
		P256dh:       req.Subscription.Keys.P256dh,
		Auth:         req.Subscription.Keys.Auth,
		UserAgent:    userAgent,
	}

	if err := sub.Normalize(); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}) //nolint:errcheck
		return
	}

	id, err := s.store.Upsert(sub)
	if err != nil {
		s.logger.Error("Failed to store subscription", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Stored subscription", "subscriberId", sub.SubscriberID, "endpoint", sub.Endpoint)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	response := map[string]string{
		"id":           id,
		"subscriberId": sub.SubscriberID,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	subscriberID := chi.URLParam(r, "subscriberID")
	if subscriberID == "" {
		http.Error(w, "subscriberID is required", http.StatusBadRequest)
		return
	}

	sub, err := s.store.Find(subscriberID)
	if err != nil {
		util.LogAndError(w, s.logger, "Failed to look up subscription", http.StatusInternalServerError, err)
		return
	}
	if sub == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown subscriber"}) //nolint:errcheck
		return
	}

	if err := s.store.Remove(subscriberID); err != nil {
		util.LogAndError(w, s.logger, "Failed to remove subscription", http.StatusInternalServerError, err)
		return
	}

	s.logger.Info("Removed subscription", "subscriberId", subscriberID)

	w.Header().Set("Content-Type", "application/json")
	response := map[string]string{
		"status":       "removed",
		"subscriberId": subscriberID,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// handlePublicKey hands out the VAPID public key browsers need as the
// applicationServerKey option of pushManager.subscribe.
func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"publicKey": s.signer.PublicKey()}); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
