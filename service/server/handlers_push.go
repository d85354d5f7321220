package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"herald/service/dispatch"
	"herald/service/encryption"
	"herald/service/notification"
	"herald/service/subscription"
	"herald/service/util"
)

type sendRequest struct {
	SubscriberID string                    `json:"subscriberId"`
	Notification notification.Notification `json:"notification"`
	Topic        string                    `json:"topic,omitempty"`
}

type broadcastRequest struct {
	Notification notification.Notification `json:"notification"`
	Topic        string                    `json:"topic,omitempty"`
}

type testRequest struct {
	SubscriberID string `json:"subscriberId"`
}

type pushResponse struct {
	*dispatch.BatchResult
	Removed int `json:"removed"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sub, ok := s.findSubscriber(w, req.SubscriberID)
	if !ok {
		return
	}

	s.dispatchAndRespond(w, r, []subscription.Subscription{*sub}, &req.Notification, req.Topic, true)
}

// handleBroadcast pushes one notification to every stored
// subscription. Transient failures are not retried here; the response
// lists them so the caller can decide.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	subs, err := s.store.All()
	if err != nil {
		util.LogAndError(w, s.logger, "Failed to load subscriptions", http.StatusInternalServerError, err)
		return
	}

	s.dispatchAndRespond(w, r, subs, &req.Notification, req.Topic, false)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sub, ok := s.findSubscriber(w, req.SubscriberID)
	if !ok {
		return
	}

	notif := &notification.Notification{
		Title: "Test Notification",
		Body:  "This is a test notification from Herald",
		Tag:   "test",
	}
	s.dispatchAndRespond(w, r, []subscription.Subscription{*sub}, notif, "", true)
}

func (s *Server) findSubscriber(w http.ResponseWriter, subscriberID string) (*subscription.Subscription, bool) {
	if subscriberID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "subscriberId is required"}) //nolint:errcheck
		return nil, false
	}

	sub, err := s.store.Find(subscriberID)
	if err != nil {
		util.LogAndError(w, s.logger, "Failed to look up subscription", http.StatusInternalServerError, err)
		return nil, false
	}
	if sub == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown subscriber"}) //nolint:errcheck
		return nil, false
	}
	return sub, true
}

func (s *Server) dispatchAndRespond(w http.ResponseWriter, r *http.Request, subs []subscription.Subscription, notif *notification.Notification, topic string, retry bool) {
	opts := dispatch.Options{Topic: topic}
	if notif.TTL == 0 && s.cfg.DefaultTTL > 0 {
		opts.TTL = s.cfg.DefaultTTL
	}

	var batch *dispatch.BatchResult
	var err error
	if retry {
		batch, err = s.retrier.Run(r.Context(), subs, notif, opts)
	} else {
		batch, err = s.dispatcher.Dispatch(r.Context(), subs, notif, opts)
	}
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, encryption.ErrPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}) //nolint:errcheck
		return
	}

	removed := s.removeInvalid(batch)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(pushResponse{BatchResult: batch, Removed: removed}); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// removeInvalid drops subscriptions the push service reported gone.
// Removal keys on the endpoint because that is what the push service
// actually invalidated.
func (s *Server) removeInvalid(batch *dispatch.BatchResult) int {
	removed := 0
	for _, target := range batch.Targets {
		if target.Decision != dispatch.DecisionDrop {
			continue
		}
		if err := s.store.RemoveByEndpoint(target.Endpoint); err != nil {
			s.logger.Error("Failed to remove invalid subscription",
				"subscriberId", target.SubscriberID, "error", err)
			continue
		}
		s.logger.Info("Removed invalid subscription",
			"subscriberId", target.SubscriberID, "endpoint", target.Endpoint)
		removed++
	}
	return removed
}
