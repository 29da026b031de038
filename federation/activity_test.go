package federation

import (
	"testing"
)

func TestParseActivity(t *testing.T) {
	tests := []struct {
		name      string
		jsonData  string
		wantError bool
	}{
		{
			name: "valid follow",
			jsonData: `{
				"@context": "https://www.w3.org/ns/activitystreams",
				"id": "https://mastodon.example/follows/1",
				"type": "Follow",
				"actor": "https://mastodon.example/users/alice",
				"object": "https://quill.example/users/bob"
			}`,
			wantError: false,
		},
		{
			name:      "missing type",
			jsonData:  `{"actor": "https://mastodon.example/users/alice"}`,
			wantError: true,
		},
		{
			name:      "missing actor",
			jsonData:  `{"type": "Follow"}`,
			wantError: true,
		},
		{
			name:      "invalid JSON",
			jsonData:  `{invalid json}`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseActivity([]byte(tt.jsonData))
			if tt.wantError && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestActivityKind(t *testing.T) {
	supported := []string{"Follow", "Undo", "Create", "Update", "Delete", "Announce", "Like", "EmojiReact", "Accept"}
	for _, activityType := range supported {
		t.Run(activityType, func(t *testing.T) {
			a := &Activity{Type: activityType}
			if a.Kind() == "" {
				t.Errorf("Expected %s to be a known kind", activityType)
			}
		})
	}

	for _, activityType := range []string{"Move", "Block", "Flag", ""} {
		a := &Activity{Type: activityType}
		if a.Kind() != "" {
			t.Errorf("Expected %q to be unsupported", activityType)
		}
	}
}

func TestObjectIRI(t *testing.T) {
	tests := []struct {
		name     string
		jsonData string
		want     string
	}{
		{
			name:     "string object",
			jsonData: `{"type":"Like","actor":"a","object":"https://quill.example/posts/bob/1"}`,
			want:     "https://quill.example/posts/bob/1",
		},
		{
			name:     "embedded object with id",
			jsonData: `{"type":"Create","actor":"a","object":{"id":"https://pleroma.example/objects/1","type":"Note"}}`,
			want:     "https://pleroma.example/objects/1",
		},
		{
			name:     "embedded object without id",
			jsonData: `{"type":"Create","actor":"a","object":{"type":"Note"}}`,
			want:     "",
		},
		{
			name:     "no object",
			jsonData: `{"type":"Delete","actor":"a"}`,
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activity, err := ParseActivity([]byte(tt.jsonData))
			if err != nil {
				t.Fatalf("Failed to parse: %v", err)
			}
			if got := activity.ObjectIRI(); got != tt.want {
				t.Errorf("ObjectIRI() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCollectTagMaps(t *testing.T) {
	tags := []tag{
		{Type: "Hashtag", Name: "#GoLang", Href: "https://mastodon.example/tags/golang"},
		{Type: "Emoji", Name: ":blobcat:", Icon: &struct {
			URL string `json:"url"`
		}{URL: "https://mastodon.example/emoji/blobcat.png"}},
		{Type: "Emoji", Name: ":broken:"},
		{Type: "Mention", Name: "@bob", Href: "https://quill.example/users/bob"},
	}

	hashtags, emojis := collectTagMaps(tags)

	if len(hashtags) != 1 {
		t.Fatalf("Expected 1 hashtag, got %d", len(hashtags))
	}
	if hashtags["golang"] != "https://mastodon.example/tags/golang" {
		t.Errorf("Hashtag name should be lower-cased without '#', got %v", hashtags)
	}

	if len(emojis) != 1 {
		t.Fatalf("Expected 1 emoji (icon required), got %d", len(emojis))
	}
	if emojis["blobcat"] != "https://mastodon.example/emoji/blobcat.png" {
		t.Errorf("Emoji shortcode should be trimmed of colons, got %v", emojis)
	}
}

func TestIsNoteLike(t *testing.T) {
	if !isNoteLike("Note") || !isNoteLike("Article") {
		t.Error("Note and Article are note-like")
	}
	if isNoteLike("Video") || isNoteLike("") {
		t.Error("Other object types are not note-like")
	}
}
