package webhooks

import (
	"encoding/json"
	"net/http"

	"github.com/relay-run/relay/internal/triggers"
)

// parsePayload shapes the raw request into event data by provider type.
// Parse failure is non-fatal: the raw body flows through with a parse_error
// annotation so the agent still sees the stimulus.
func parsePayload(webhookType string, r *http.Request, body []byte) map[string]interface{} {
	data := map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if q := r.URL.Query(); len(q) > 0 {
		query := make(map[string]interface{}, len(q))
		for k, v := range q {
			if len(v) == 1 {
				query[k] = v[0]
			} else {
				query[k] = v
			}
		}
		data["query"] = query
	}

	var parsed map[string]interface{}
	var parseErr error
	if len(body) > 0 {
		parseErr = json.Unmarshal(body, &parsed)
	}

	switch webhookType {
	case triggers.WebhookTypeTelegram:
		if parseErr == nil && parsed != nil {
			data["telegram"] = parseTelegram(parsed)
		}
	case triggers.WebhookTypeSlack:
		if parseErr == nil && parsed != nil {
			data["slack"] = parseSlack(parsed)
		}
	case triggers.WebhookTypeGitHub:
		gh := map[string]interface{}{
			"event":    r.Header.Get("X-GitHub-Event"),
			"delivery": r.Header.Get("X-GitHub-Delivery"),
		}
		if parseErr == nil && parsed != nil {
			if repo, ok := dig(parsed, "repository", "full_name"); ok {
				gh["repository"] = repo
			}
			if sender, ok := dig(parsed, "sender", "login"); ok {
				gh["sender"] = sender
			}
			if action, ok := parsed["action"]; ok {
				gh["action"] = action
			}
		}
		data["github"] = gh
	}

	if parseErr != nil {
		data["parse_error"] = parseErr.Error()
		data["raw_body"] = string(body)
	} else if parsed != nil {
		data["body"] = parsed
	} else if len(body) > 0 {
		data["raw_body"] = string(body)
	}
	return data
}

func parseTelegram(update map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	if id, ok := update["update_id"]; ok {
		out["update_id"] = id
	}
	msg, _ := update["message"].(map[string]interface{})
	if msg == nil {
		msg, _ = update["edited_message"].(map[string]interface{})
	}
	if msg == nil {
		return out
	}
	if chatID, ok := dig(msg, "chat", "id"); ok {
		out["chat_id"] = chatID
	}
	if fromID, ok := dig(msg, "from", "id"); ok {
		out["from_id"] = fromID
	}
	if username, ok := dig(msg, "from", "username"); ok {
		out["from_username"] = username
	}
	if text, ok := msg["text"]; ok {
		out["text"] = text
	}
	for _, kind := range []string{"photo", "document", "voice", "video"} {
		if _, ok := msg[kind]; ok {
			out["attachment_type"] = kind
			break
		}
	}
	return out
}

func parseSlack(event map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, key := range []string{"team_id", "channel_id", "user_id", "text", "ts"} {
		if v, ok := event[key]; ok {
			out[key] = v
		}
	}
	// Events API wraps the interesting fields one level down.
	if inner, ok := event["event"].(map[string]interface{}); ok {
		for src, dst := range map[string]string{
			"channel": "channel_id", "user": "user_id", "text": "text", "ts": "ts",
		} {
			if v, ok := inner[src]; ok {
				out[dst] = v
			}
		}
	}
	return out
}

func dig(m map[string]interface{}, keys ...string) (interface{}, bool) {
	var cur interface{} = m
	for _, k := range keys {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
