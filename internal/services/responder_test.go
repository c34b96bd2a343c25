package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordResponder_DefaultProfile(t *testing.T) {
	r := NewKeywordResponder()
	ctx := context.Background()

	reply, err := r.Reply(ctx, "default", "Hello, anyone there?")
	require.NoError(t, err)
	assert.Contains(t, reply, "Hello")

	reply, err = r.Reply(ctx, "default", "what are your HOURS?")
	require.NoError(t, err)
	assert.Contains(t, reply, "open Monday to Friday")
}

func TestKeywordResponder_FallbackWhenNoMatch(t *testing.T) {
	r := NewKeywordResponder()

	reply, err := r.Reply(context.Background(), "default", "zxqv")
	require.NoError(t, err)
	assert.Contains(t, reply, "get back to you")
}

func TestKeywordResponder_UnknownProfileUsesDefault(t *testing.T) {
	r := NewKeywordResponder()

	reply, err := r.Reply(context.Background(), "no-such-profile", "hi")
	require.NoError(t, err)
	assert.Contains(t, reply, "Hello")
}

func TestKeywordResponder_CustomProfile(t *testing.T) {
	r := NewKeywordResponder()
	r.SetProfile("bakery", []KeywordRule{
		{Keywords: []string{"bread", "croissant"}, Reply: "Fresh batch every morning at 7am."},
	})

	reply, err := r.Reply(context.Background(), "bakery", "do you have croissants?")
	require.NoError(t, err)
	assert.Equal(t, "Fresh batch every morning at 7am.", reply)

	// Unmatched messages in a custom profile still get the fallback.
	reply, err = r.Reply(context.Background(), "bakery", "hello")
	require.NoError(t, err)
	assert.Contains(t, reply, "get back to you")
}
