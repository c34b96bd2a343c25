package services

import (
	"context"
	"strings"
	"sync"
)

// Responder produces reply text for an inbound customer message. The
// gateway treats it as a black box: no retry policy of its own.
type Responder interface {
	Reply(ctx context.Context, aiConfigRef, message string) (string, error)
}

// KeywordRule matches any of its keywords (case-insensitive substring)
// and yields a canned reply.
type KeywordRule struct {
	Keywords []string `json:"keywords"`
	Reply    string   `json:"reply"`
}

// KeywordResponder is the built-in responder: keyword matching over
// per-tenant rule profiles keyed by the tenant's AI-configuration
// reference, with a fallback reply when nothing matches.
type KeywordResponder struct {
	mu       sync.RWMutex
	profiles map[string][]KeywordRule
	fallback string
}

// NewKeywordResponder creates a keyword responder with a default profile
func NewKeywordResponder() *KeywordResponder {
	return &KeywordResponder{
		profiles: map[string][]KeywordRule{
			"default": {
				{Keywords: []string{"hello", "hi", "hey"}, Reply: "Hello! Thanks for reaching out. How can we help you today?"},
				{Keywords: []string{"hours", "open", "schedule"}, Reply: "We are open Monday to Friday, 9am to 6pm."},
				{Keywords: []string{"price", "cost", "how much"}, Reply: "You can find our full price list at our website, or reply with the product you are interested in."},
				{Keywords: []string{"human", "agent", "person"}, Reply: "One of our team members will get back to you shortly."},
			},
		},
		fallback: "Thanks for your message! We will get back to you as soon as possible.",
	}
}

// SetProfile installs or replaces the rule set for an AI-configuration
// reference.
func (r *KeywordResponder) SetProfile(aiConfigRef string, rules []KeywordRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[aiConfigRef] = rules
}

// Reply matches the message against the tenant's profile, falling back to
// the default profile and then the fallback reply.
func (r *KeywordResponder) Reply(ctx context.Context, aiConfigRef, message string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lowered := strings.ToLower(message)

	rules, ok := r.profiles[aiConfigRef]
	if !ok {
		rules = r.profiles["default"]
	}

	for _, rule := range rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(lowered, strings.ToLower(keyword)) {
				return rule.Reply, nil
			}
		}
	}
	return r.fallback, nil
}
