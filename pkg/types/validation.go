package types

import (
	"unicode/utf8"
)

const (
	// MaxTextLength bounds a relayed text body in runes
	MaxTextLength = 4096
	// MaxCaptionLength bounds a media caption in runes
	MaxCaptionLength = 1024
	// MaxRefLength bounds an opaque attachment reference in bytes
	MaxRefLength = 512
)

// IsValidUserID reports whether id can identify a user
func IsValidUserID(id int64) bool {
	return id > 0
}

// IsValidCommand checks the command against the accepted set
func IsValidCommand(command string) bool {
	switch command {
	case CommandFind, CommandEnd, CommandNext, CommandBlock, CommandReport, CommandVideo:
		return true
	default:
		return false
	}
}

// Validate checks size limits. It does not require a supported kind.
func (p *Payload) Validate() error {
	if utf8.RuneCountInString(p.Text) > MaxTextLength {
		return ErrTextTooLong
	}
	if utf8.RuneCountInString(p.Caption) > MaxCaptionLength {
		return ErrCaptionTooLong
	}
	for _, a := range []*Attachment{p.Voice, p.Photo, p.Video, p.Document, p.Sticker} {
		if a != nil && len(a.Ref) > MaxRefLength {
			return ErrRefTooLong
		}
	}
	return nil
}

// Validate checks the command of an inbound event. Payload limits are
// left to the relay so they rank after the rate limit and session checks.
func (in *Inbound) Validate() error {
	if in.Command != "" && !IsValidCommand(in.Command) {
		return ErrInvalidCommand
	}
	return nil
}
