package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingList       = errors.New("campaign has no contact list assigned")
	ErrNoContacts        = errors.New("contact list has no subscribed contacts")
	ErrMissingTemplate   = errors.New("step has no template assigned")
	ErrStepHasSentMail   = errors.New("step has sent emails and cannot be deleted")
	ErrNotDeletable      = errors.New("only draft or completed campaigns can be deleted")
)
