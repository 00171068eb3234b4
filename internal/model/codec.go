package model

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/chatwire/messenger-sync/internal/store"
)

// The codec is purely structural: it maps wire documents to record shapes and
// back through their JSON form. A document that does not carry a non-empty id
// is rejected rather than decoded into a half-empty record.

// DecodeConversation decodes a single conversation document.
func DecodeConversation(doc store.Document) (Conversation, error) {
	var c Conversation
	if err := decode(doc, &c); err != nil {
		return Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}
	if c.ID == "" {
		return Conversation{}, fmt.Errorf("decode conversation: missing id")
	}
	return c, nil
}

// EncodeConversation encodes a conversation into its wire document.
func EncodeConversation(c Conversation) store.Document {
	return encode(c)
}

// DecodeMessage decodes a single message document.
func DecodeMessage(doc store.Document) (Message, error) {
	var m Message
	if err := decode(doc, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.ID == "" {
		return Message{}, fmt.Errorf("decode message: missing id")
	}
	return m, nil
}

// EncodeMessage encodes a message into its wire document. The conversation id
// is carried by the storage path, not the document.
func EncodeMessage(m Message) store.Document {
	m.ConversationID = ""
	return encode(m)
}

// DecodeProfile decodes a single profile document.
func DecodeProfile(doc store.Document) (Profile, error) {
	var p Profile
	if err := decode(doc, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if p.ID == "" {
		return Profile{}, fmt.Errorf("decode profile: missing id")
	}
	return p, nil
}

// EncodeProfile encodes a profile into its wire document.
func EncodeProfile(p Profile) store.Document {
	return encode(p)
}

// DecodeConversationList decodes a collection snapshot into conversations,
// in lexicographic child-key order. Children that fail to decode are skipped.
func DecodeConversationList(doc store.Document) []Conversation {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Conversation, 0, len(keys))
	for _, k := range keys {
		child, ok := childDocument(doc[k])
		if !ok {
			continue
		}
		c, err := DecodeConversation(child)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

func childDocument(v any) (store.Document, bool) {
	switch t := v.(type) {
	case store.Document:
		return t, true
	case map[string]any:
		return store.Document(t), true
	default:
		return nil, false
	}
}

func decode(doc store.Document, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func encode(v any) store.Document {
	raw, err := json.Marshal(v)
	if err != nil {
		return store.Document{}
	}
	var doc store.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return store.Document{}
	}
	return doc
}
