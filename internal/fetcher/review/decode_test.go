package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePage(t *testing.T) {
	t.Parallel()

	body := `[{"data":{"visitorReviews":{"items":[
		{"__typename":"VisitorReview","cursor":"c1","author":{"id":"a1"},"body":"good","visitCount":2,"representativeVisitDateTime":"2024-01-01"},
		{"cursor":"c2","author":null,"body":null,"visitCount":null,"representativeVisitDateTime":null}
	]}}}]`

	page, err := decodePage([]byte(body))
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, 2, page.Items)
	assert.Equal(t, "c2", page.NextCursor)

	first := page.Records[0]
	require.NotNil(t, first.AuthorID)
	assert.Equal(t, "a1", *first.AuthorID)
	assert.Equal(t, "good", *first.Body)
	assert.Equal(t, 2, *first.VisitCount)
	assert.Equal(t, "c1", first.Cursor)

	second := page.Records[1]
	assert.Nil(t, second.AuthorID)
	assert.Nil(t, second.Body)
	assert.Nil(t, second.VisitCount)
	assert.Nil(t, second.VisitTime)
}

func TestDecodePageUnknownVariantAdvancesCursor(t *testing.T) {
	t.Parallel()

	body := `[{"data":{"visitorReviews":{"items":[
		{"__typename":"VisitorReview","cursor":"c1","body":"x"},
		{"__typename":"SponsoredBanner","cursor":"c2"}
	]}}}]`

	page, err := decodePage([]byte(body))
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, 2, page.Items)
	assert.False(t, page.Empty())
	assert.Equal(t, "c2", page.NextCursor)
}

func TestDecodePageEmpty(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty items":     `[{"data":{"visitorReviews":{"items":[]}}}]`,
		"null items":      `[{"data":{"visitorReviews":{"items":null}}}]`,
		"missing items":   `[{"data":{"visitorReviews":{}}}]`,
		"missing reviews": `[{"data":{}}]`,
		"missing data":    `[{}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			page, err := decodePage([]byte(body))
			require.NoError(t, err)
			assert.True(t, page.Empty())
			assert.Empty(t, page.Records)
		})
	}
}

func TestDecodePageMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":        `<html>`,
		"object":          `{"data":{}}`,
		"empty batch":     `[]`,
		"graphql errors":  `[{"errors":[{"message":"boom"}]}]`,
		"null data":       `[{"data":null}]`,
		"null reviews":    `[{"data":{"visitorReviews":null}}]`,
		"missing cursor":  `[{"data":{"visitorReviews":{"items":[{"body":"x"}]}}}]`,
		"items not array": `[{"data":{"visitorReviews":{"items":"nope"}}}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := decodePage([]byte(body))
			require.ErrorIs(t, err, ErrMalformedPage)
		})
	}
}
