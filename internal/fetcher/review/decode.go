package review

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Page is one decoded API response page.
type Page struct {
	Records []harvest.Record
	// Items counts every upstream item, including variants that yield no record.
	Items int
	// NextCursor is the cursor of the last item; it is the `after` of the next page.
	NextCursor string
}

// Empty reports whether upstream returned no items, i.e. pagination is over.
func (p Page) Empty() bool {
	return p.Items == 0
}

// itemKind is the closed set of item variants, keyed by __typename.
type itemKind int

const (
	kindUnknown itemKind = iota
	kindVisitorReview
)

func kindOf(typename string) itemKind {
	switch typename {
	case "", "VisitorReview":
		return kindVisitorReview
	default:
		return kindUnknown
	}
}

type rawAuthor struct {
	ID *string `json:"id"`
}

type rawItem struct {
	Typename                    string     `json:"__typename"`
	Cursor                      *string    `json:"cursor"`
	Author                      *rawAuthor `json:"author"`
	Body                        *string    `json:"body"`
	VisitCount                  *int       `json:"visitCount"`
	RepresentativeVisitDateTime *string    `json:"representativeVisitDateTime"`
}

type responseEnvelope struct {
	Data   json.RawMessage   `json:"data"`
	Errors []json.RawMessage `json:"errors"`
}

type dataEnvelope struct {
	VisitorReviews json.RawMessage `json:"visitorReviews"`
}

type reviewsEnvelope struct {
	Items []json.RawMessage `json:"items"`
}

// decodePage parses a batched GraphQL response. A missing item list is an
// empty page; anything structurally wrong is ErrMalformedPage so the caller
// pauses rather than marking the unit complete.
func decodePage(body []byte) (Page, error) {
	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		return Page{}, fmt.Errorf("%w: response is not a JSON array: %v", ErrMalformedPage, err)
	}
	if len(batch) == 0 {
		return Page{}, fmt.Errorf("%w: empty response batch", ErrMalformedPage)
	}

	var resp responseEnvelope
	if err := json.Unmarshal(batch[0], &resp); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrMalformedPage, err)
	}
	if len(resp.Errors) > 0 {
		return Page{}, fmt.Errorf("%w: upstream returned %d errors: %s", ErrMalformedPage, len(resp.Errors), resp.Errors[0])
	}
	if resp.Data == nil {
		return Page{}, nil
	}
	if isNull(resp.Data) {
		return Page{}, fmt.Errorf("%w: null data", ErrMalformedPage)
	}

	var data dataEnvelope
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrMalformedPage, err)
	}
	if data.VisitorReviews == nil {
		return Page{}, nil
	}
	if isNull(data.VisitorReviews) {
		return Page{}, fmt.Errorf("%w: null visitorReviews", ErrMalformedPage)
	}

	var reviews reviewsEnvelope
	if err := json.Unmarshal(data.VisitorReviews, &reviews); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrMalformedPage, err)
	}

	page := Page{Items: len(reviews.Items)}
	for i, raw := range reviews.Items {
		var item rawItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return Page{}, fmt.Errorf("%w: item %d: %v", ErrMalformedPage, i, err)
		}
		if item.Cursor == nil || *item.Cursor == "" {
			return Page{}, fmt.Errorf("%w: item %d has no cursor", ErrMalformedPage, i)
		}
		page.NextCursor = *item.Cursor

		switch kindOf(item.Typename) {
		case kindVisitorReview:
			page.Records = append(page.Records, visitorReviewRecord(item))
		default:
			// Unknown variants still advance the cursor but produce no record.
		}
	}
	return page, nil
}

func visitorReviewRecord(item rawItem) harvest.Record {
	rec := harvest.Record{
		Body:       item.Body,
		VisitCount: item.VisitCount,
		VisitTime:  item.RepresentativeVisitDateTime,
		Cursor:     *item.Cursor,
	}
	if item.Author != nil {
		rec.AuthorID = item.Author.ID
	}
	return rec
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
