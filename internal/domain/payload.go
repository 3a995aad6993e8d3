package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// JobType selects the handler for a job
type JobType string

// Known job types
const (
	JobTypeScraping    JobType = "scraping"
	JobTypeMatching    JobType = "matching"
	JobTypeApplication JobType = "application"
)

var jobTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// Valid reports whether t is syntactically a job type tag. It does not check
// that a handler exists for it.
func (t JobType) Valid() bool {
	return jobTypePattern.MatchString(string(t))
}

// Known reports whether t is one of the built-in job types
func (t JobType) Known() bool {
	switch t {
	case JobTypeScraping, JobTypeMatching, JobTypeApplication:
		return true
	default:
		return false
	}
}

// Payload is implemented by every typed job payload
type Payload interface {
	Validate() error
}

// Owned is implemented by payloads that act on behalf of one subscriber. The
// owner must be the subscriber that enqueues the job.
type Owned interface {
	Owner() string
}

// ScrapingPayload asks the scraping handler to search one platform
type ScrapingPayload struct {
	Platform string            `json:"platform"`
	Keywords []string          `json:"keywords"`
	Location string            `json:"location,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

func (p ScrapingPayload) Validate() error {
	if strings.TrimSpace(p.Platform) == "" {
		return NewValidationError("payload.platform", "is required")
	}
	if len(p.Keywords) == 0 {
		return NewValidationError("payload.keywords", "must contain at least one keyword")
	}
	for _, k := range p.Keywords {
		if strings.TrimSpace(k) == "" {
			return NewValidationError("payload.keywords", "must not contain blank keywords")
		}
	}
	return nil
}

// MatchingPayload asks the matching handler to rank postings for a subscriber
type MatchingPayload struct {
	SubscriberID string  `json:"subscriber_id"`
	Threshold    float64 `json:"threshold,omitempty"`
	Limit        int     `json:"limit,omitempty"`
}

func (p MatchingPayload) Owner() string { return p.SubscriberID }

func (p MatchingPayload) Validate() error {
	if _, err := uuid.Parse(p.SubscriberID); err != nil {
		return NewValidationError("payload.subscriber_id", "must be a valid UUID")
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return NewValidationError("payload.threshold", "must be between 0 and 1")
	}
	if p.Limit < 0 || p.Limit > 100 {
		return NewValidationError("payload.limit", "must be between 0 and 100")
	}
	return nil
}

// ApplicationPayload asks the application handler to submit one application
type ApplicationPayload struct {
	SubscriberID string `json:"subscriber_id"`
	PostingID    string `json:"posting_id"`
	CoverLetter  string `json:"cover_letter,omitempty"`
	ResumeURL    string `json:"resume_url,omitempty"`
}

func (p ApplicationPayload) Owner() string { return p.SubscriberID }

func (p ApplicationPayload) Validate() error {
	if _, err := uuid.Parse(p.SubscriberID); err != nil {
		return NewValidationError("payload.subscriber_id", "must be a valid UUID")
	}
	if strings.TrimSpace(p.PostingID) == "" {
		return NewValidationError("payload.posting_id", "is required")
	}
	return nil
}

// DecodePayload strictly decodes raw into the payload type registered for t
// and validates it. Unknown types return ErrUnknownJobType.
func DecodePayload(t JobType, raw json.RawMessage) (Payload, error) {
	switch t {
	case JobTypeScraping:
		return decodeStrict[ScrapingPayload](raw)
	case JobTypeMatching:
		return decodeStrict[MatchingPayload](raw)
	case JobTypeApplication:
		return decodeStrict[ApplicationPayload](raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, t)
	}
}

func decodeStrict[P Payload](raw json.RawMessage) (Payload, error) {
	var p P
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, NewValidationError("payload", err.Error())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// CheckOwner rejects a payload that names a different subscriber than the
// caller. Payloads without an owner always pass.
func CheckOwner(p Payload, subscriberID string) error {
	owned, ok := p.(Owned)
	if !ok {
		return nil
	}
	owner, err := uuid.Parse(owned.Owner())
	if err != nil {
		return NewValidationError("payload.subscriber_id", "must be a valid UUID")
	}
	caller, err := uuid.Parse(subscriberID)
	if err != nil || owner != caller {
		return NewValidationError("payload.subscriber_id", "must match the calling subscriber")
	}
	return nil
}

// IsJSONObject reports whether raw holds a single JSON object
func IsJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
