package types

// PayloadKind names one of the relayable payload kinds
type PayloadKind string

const (
	KindText     PayloadKind = "text"
	KindVoice    PayloadKind = "voice"
	KindPhoto    PayloadKind = "photo"
	KindVideo    PayloadKind = "video"
	KindDocument PayloadKind = "document"
	KindSticker  PayloadKind = "sticker"
)

// Commands accepted from the transport
const (
	CommandFind   = "find"
	CommandEnd    = "end"
	CommandNext   = "next"
	CommandBlock  = "block"
	CommandReport = "report"
	CommandVideo  = "video"
)

// Envelope types sent to users
const (
	EnvelopeOutcome = "outcome"
	EnvelopeMessage = "message"
)

// Attachment is an opaque media reference issued by the transport
type Attachment struct {
	Ref string `json:"ref"`
}

// Payload carries an optional text body and/or media attachments.
// When several fields are set, Kind picks one by fixed precedence.
type Payload struct {
	Text     string      `json:"text,omitempty"`
	Voice    *Attachment `json:"voice,omitempty"`
	Photo    *Attachment `json:"photo,omitempty"`
	Video    *Attachment `json:"video,omitempty"`
	Document *Attachment `json:"document,omitempty"`
	Sticker  *Attachment `json:"sticker,omitempty"`
	Caption  string      `json:"caption,omitempty"`
}

// Kind classifies the payload. Precedence: text, voice, photo, video,
// document, sticker. The second return is false when nothing matches.
func (p *Payload) Kind() (PayloadKind, bool) {
	if p == nil {
		return "", false
	}
	switch {
	case p.Text != "":
		return KindText, true
	case p.Voice.valid():
		return KindVoice, true
	case p.Photo.valid():
		return KindPhoto, true
	case p.Video.valid():
		return KindVideo, true
	case p.Document.valid():
		return KindDocument, true
	case p.Sticker.valid():
		return KindSticker, true
	}
	return "", false
}

// Forwardable returns a copy holding only the classified kind, plus the
// caption for media kinds. Returns nil when the payload is unsupported.
func (p *Payload) Forwardable() (*Payload, PayloadKind) {
	kind, ok := p.Kind()
	if !ok {
		return nil, ""
	}

	out := &Payload{}
	switch kind {
	case KindText:
		out.Text = p.Text
		return out, kind
	case KindVoice:
		out.Voice = &Attachment{Ref: p.Voice.Ref}
	case KindPhoto:
		out.Photo = &Attachment{Ref: p.Photo.Ref}
	case KindVideo:
		out.Video = &Attachment{Ref: p.Video.Ref}
	case KindDocument:
		out.Document = &Attachment{Ref: p.Document.Ref}
	case KindSticker:
		out.Sticker = &Attachment{Ref: p.Sticker.Ref}
		return out, kind
	}
	out.Caption = p.Caption
	return out, kind
}

func (a *Attachment) valid() bool {
	return a != nil && a.Ref != ""
}

// Inbound is one event received from a user: a command or a payload
type Inbound struct {
	Command string `json:"command,omitempty"`
	Payload
}

// Envelope is one event delivered to a user
type Envelope struct {
	Type      string      `json:"type"`
	Outcome   Outcome     `json:"outcome,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Link      string      `json:"link,omitempty"`
	Kind      PayloadKind `json:"kind,omitempty"`
	Payload   *Payload    `json:"payload,omitempty"`
}

// NewOutcome builds an outcome envelope
func NewOutcome(outcome Outcome) *Envelope {
	return &Envelope{Type: EnvelopeOutcome, Outcome: outcome}
}

// NewMessage builds a relayed message envelope
func NewMessage(kind PayloadKind, payload *Payload) *Envelope {
	return &Envelope{Type: EnvelopeMessage, Kind: kind, Payload: payload}
}
