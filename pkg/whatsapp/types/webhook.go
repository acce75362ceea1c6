package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// WebhookPayload is the envelope the provider posts to the webhook endpoint.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one WABA. ID is the WABA id.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries either message traffic (field "messages") or a
// template review decision (field "message_template_status_update").
type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product,omitempty"`
	Metadata         *Metadata        `json:"metadata,omitempty"`
	Contacts         []Contact        `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []Status         `json:"statuses,omitempty"`

	Event                   string     `json:"event,omitempty"`
	MessageTemplateID       FlexibleID `json:"message_template_id,omitempty"`
	MessageTemplateName     string     `json:"message_template_name,omitempty"`
	MessageTemplateLanguage string     `json:"message_template_language,omitempty"`
	Reason                  string     `json:"reason,omitempty"`
}

// RoutingKey returns the phone-number id the change was delivered to.
func (v ChangeValue) RoutingKey() string {
	if v.Metadata == nil {
		return ""
	}
	return v.Metadata.PhoneNumberID
}

// ContactName returns the profile name for waID, if the provider sent one.
func (v ChangeValue) ContactName(waID string) string {
	for _, c := range v.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	if len(v.Contacts) == 1 {
		return v.Contacts[0].Profile.Name
	}
	return ""
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is a customer message. Exactly one of the typed bodies is set.
type InboundMessage struct {
	From      string      `json:"from"`
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Text      *Text       `json:"text,omitempty"`
	Image     *Media      `json:"image,omitempty"`
	Document  *Media      `json:"document,omitempty"`
	Audio     *Media      `json:"audio,omitempty"`
	Video     *Media      `json:"video,omitempty"`
	Sticker   *Media      `json:"sticker,omitempty"`
	Context   *MsgContext `json:"context,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type MsgContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// MediaPart returns the media object of the message, or nil for text.
func (m InboundMessage) MediaPart() *Media {
	switch m.Type {
	case MessageTypeImage:
		return m.Image
	case MessageTypeDocument:
		return m.Document
	case MessageTypeAudio:
		return m.Audio
	case MessageTypeVideo:
		return m.Video
	case MessageTypeSticker:
		return m.Sticker
	}
	return nil
}

// SentAt parses the unix-seconds timestamp. Zero when absent or malformed.
func (m InboundMessage) SentAt() time.Time {
	return parseUnix(m.Timestamp)
}

// Status is a delivery report for an outbound message.
type Status struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors,omitempty"`
}

type StatusError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	ErrorData struct {
		Details string `json:"details,omitempty"`
	} `json:"error_data,omitempty"`
}

// Reason returns the first error's title, falling back to its message.
func (s Status) Reason() string {
	if len(s.Errors) == 0 {
		return ""
	}
	if s.Errors[0].Title != "" {
		return s.Errors[0].Title
	}
	return s.Errors[0].Message
}

func (s Status) At() time.Time {
	return parseUnix(s.Timestamp)
}

func parseUnix(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// FlexibleID accepts ids the provider sends either as JSON strings or numbers.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}
	*f = FlexibleID(n.String())
	return nil
}

func (f FlexibleID) String() string { return string(f) }
