package realtime

import (
	"encoding/json"
	"time"
)

const (
	eventJoin            = "phx_join"
	eventLeave           = "phx_leave"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventPostgresChanges = "postgres_changes"
	eventSystem          = "system"

	topicPhoenix = "phoenix"

	statusOK = "ok"
)

type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type changeConfig struct {
	Event  Event  `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []changeConfig `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type systemPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type changePayload struct {
	Data struct {
		Type            Event                  `json:"type"`
		Schema          string                 `json:"schema"`
		Table           string                 `json:"table"`
		Record          map[string]interface{} `json:"record"`
		OldRecord       map[string]interface{} `json:"old_record"`
		CommitTimestamp string                 `json:"commit_timestamp"`
	} `json:"data"`
}

func (p *changePayload) change() Change {
	c := Change{
		Type:      p.Data.Type,
		Schema:    p.Data.Schema,
		Table:     p.Data.Table,
		Record:    p.Data.Record,
		OldRecord: p.Data.OldRecord,
	}

	ts, err := time.Parse(time.RFC3339Nano, p.Data.CommitTimestamp)
	if err == nil {
		c.CommitTimestamp = ts
	}

	return c
}

func join(filter Filter, schema, token string) json.RawMessage {
	p := joinPayload{AccessToken: token}
	for _, e := range filter.events() {
		p.Config.PostgresChanges = append(p.Config.PostgresChanges, changeConfig{
			Event:  e,
			Schema: schema,
			Table:  filter.Table,
			Filter: filter.expr(),
		})
	}

	data, _ := json.Marshal(p)
	return data
}

// replyError is the reason the backend gave for refusing a join.
func replyError(p *replyPayload) string {
	resp := struct {
		Reason string `json:"reason"`
	}{}

	_ = json.Unmarshal(p.Response, &resp)
	if resp.Reason == "" {
		return p.Status
	}

	return resp.Reason
}
