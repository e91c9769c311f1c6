package tracking

import (
	"github.com/dukex/mixpanel"
	"github.com/rs/zerolog/log"

	"github.com/soapboxsocial/glimpse/pkg/conf"
)

// Tracker is a interface for tracking Events
type Tracker interface {

	// Track tracks an event, returns an error if failed.
	Track(event *Event) error
}

// NewTracker returns a mixpanel tracker, or a tracker that drops events when no token is configured.
func NewTracker(config conf.TrackingConf) Tracker {
	if config.MixpanelToken == "" {
		return Nop{}
	}

	return NewMixpanelTracker(mixpanel.New(config.MixpanelToken, ""))
}

// Track sends event and logs a failure, tracking never fails the action being tracked.
func Track(tracker Tracker, event *Event) {
	if tracker == nil {
		return
	}

	err := tracker.Track(event)
	if err != nil {
		log.Warn().Err(err).Str("event", event.Name).Msg("failed to track event")
	}
}

type Nop struct{}

func (Nop) Track(*Event) error {
	return nil
}

type MixpanelTracker struct {
	client mixpanel.Mixpanel
}

func NewMixpanelTracker(client mixpanel.Mixpanel) *MixpanelTracker {
	return &MixpanelTracker{client: client}
}

func (m *MixpanelTracker) Track(event *Event) error {
	err := m.client.Track(event.ID, event.Name, &mixpanel.Event{IP: "0", Properties: event.Properties})
	if err != nil {
		return err
	}

	if event.Name == NewUser {
		err := m.client.Update(event.ID, &mixpanel.Update{
			IP:         "0",
			Operation:  "$set",
			Properties: event.Properties,
		})

		if err != nil {
			return err
		}
	}

	return nil
}
