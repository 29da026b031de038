package federation

import (
	"encoding/json"
	"strings"
)

// ActivityKind is the closed set of inbound activity types this service
// acts on. Anything else is acknowledged and dropped.
type ActivityKind string

const (
	KindFollow     ActivityKind = "Follow"
	KindUndo       ActivityKind = "Undo"
	KindCreate     ActivityKind = "Create"
	KindUpdate     ActivityKind = "Update"
	KindDelete     ActivityKind = "Delete"
	KindAnnounce   ActivityKind = "Announce"
	KindLike       ActivityKind = "Like"
	KindEmojiReact ActivityKind = "EmojiReact"
	KindAccept     ActivityKind = "Accept"
)

// Activity is the generic inbound envelope. Object stays raw until the
// type-specific handler decodes it.
type Activity struct {
	Context interface{}     `json:"@context"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
	Content string          `json:"content"` // EmojiReact carries the glyph here
	To      []string        `json:"to"`
	Cc      []string        `json:"cc"`
}

// Kind returns the activity type as a known kind, or "" when unsupported.
func (a *Activity) Kind() ActivityKind {
	switch ActivityKind(a.Type) {
	case KindFollow, KindUndo, KindCreate, KindUpdate, KindDelete,
		KindAnnounce, KindLike, KindEmojiReact, KindAccept:
		return ActivityKind(a.Type)
	}
	return ""
}

// ParseActivity decodes the envelope; the activity must at least carry a
// type and an actor to be processable.
func ParseActivity(body []byte) (*Activity, error) {
	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return nil, err
	}
	if activity.Type == "" || activity.Actor == "" {
		return nil, ErrMalformedActivity
	}
	return &activity, nil
}

// ObjectIRI extracts the object id whether the object is a plain IRI string
// or an embedded object.
func (a *Activity) ObjectIRI() string {
	return rawObjectIRI(a.Object)
}

func rawObjectIRI(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// embeddedActivity is the shape of an activity wrapped inside an Undo.
type embeddedActivity struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
	Content string          `json:"content"`
}

// noteObject is the shape of a Note or Article wrapped in Create/Update.
type noteObject struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Content      string `json:"content"`
	URL          string `json:"url"`
	AttributedTo string `json:"attributedTo"`
	InReplyTo    string `json:"inReplyTo"`
	QuoteURL     string `json:"quoteUrl"`
}

type tag struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Href string `json:"href"`
	Icon *struct {
		URL string `json:"url"`
	} `json:"icon"`
}

func isNoteLike(objectType string) bool {
	return objectType == "Note" || objectType == "Article"
}

// trimShortcode strips the surrounding colons of an emoji shortcode.
func trimShortcode(name string) string {
	return strings.Trim(name, ":")
}
