package notification

import (
	"encoding/json"
	"fmt"
	"time"
)

// Urgency is the delivery priority hint from RFC 8030 section 5.3. Push
// services may delay low-urgency messages to preserve device battery.
type Urgency string

const (
	UrgencyVeryLow Urgency = "very-low"
	UrgencyLow     Urgency = "low"
	UrgencyNormal  Urgency = "normal"
	UrgencyHigh    Urgency = "high"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyVeryLow, UrgencyLow, UrgencyNormal, UrgencyHigh:
		return true
	}
	return false
}

// DefaultTTL is how long (seconds) a push service should hold an
// undelivered message.
const DefaultTTL = 86400

var defaultVibration = []int{200, 100, 200}

type Notification struct {
	Title              string         `json:"title,omitempty"`
	Body               string         `json:"body"`
	URL                string         `json:"url,omitempty"`
	Icon               string         `json:"icon,omitempty"`
	Image              string         `json:"image,omitempty"`
	Badge              string         `json:"badge,omitempty"`
	Tag                string         `json:"tag,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
	TTL                int            `json:"ttl,omitempty"`
	Urgency            Urgency        `json:"urgency,omitempty"`
	RequireInteraction bool           `json:"requireInteraction,omitempty"`
	Silent             bool           `json:"silent,omitempty"`
	Vibrate            []int          `json:"vibrate,omitempty"`
}

// display is the browser-facing half of the wire payload, the shape a
// service worker passes to ServiceWorkerRegistration.showNotification.
type display struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Icon               string `json:"icon,omitempty"`
	Badge              string `json:"badge,omitempty"`
	Image              string `json:"image,omitempty"`
	Tag                string `json:"tag,omitempty"`
	RequireInteraction bool   `json:"requireInteraction"`
	Silent             bool   `json:"silent"`
	Vibrate            []int  `json:"vibrate,omitempty"`
}

type payload struct {
	Notification display        `json:"notification"`
	Data         map[string]any `json:"data"`
}

// Payload serializes the notification to the wire shape expected by the
// service worker. All dispatch paths go through here so every subscriber
// sees the same payload for the same notification.
func (n *Notification) Payload(now time.Time) ([]byte, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	d := display{
		Title:              n.Title,
		Body:               n.Body,
		Icon:               n.Icon,
		Image:              n.Image,
		Tag:                n.Tag,
		RequireInteraction: n.RequireInteraction,
		Silent:             n.Silent,
		Vibrate:            n.Vibrate,
	}

	if d.Badge = n.Badge; d.Badge == "" {
		d.Badge = n.Icon
	}
	if d.Vibrate == nil && !n.Silent {
		d.Vibrate = defaultVibration
	}

	data := make(map[string]any, len(n.Data)+2)
	data["url"] = n.URL
	if n.URL == "" {
		data["url"] = "/"
	}
	data["timestamp"] = now.Format(time.RFC3339)
	for k, v := range n.Data {
		data[k] = v
	}

	return json.Marshal(payload{Notification: d, Data: data})
}

func (n *Notification) TTLOrDefault() int {
	if n.TTL > 0 {
		return n.TTL
	}
	return DefaultTTL
}

func (n *Notification) UrgencyOrDefault() Urgency {
	if n.Urgency == "" {
		return UrgencyNormal
	}
	return n.Urgency
}

func (n *Notification) Validate() error {
	if n.Body == "" {
		return fmt.Errorf("notification body is required")
	}
	if n.TTL < 0 {
		return fmt.Errorf("notification ttl must not be negative")
	}
	if n.Urgency != "" && !n.Urgency.Valid() {
		return fmt.Errorf("invalid urgency %q", n.Urgency)
	}
	return nil
}
