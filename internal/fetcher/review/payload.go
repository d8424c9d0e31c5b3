package review

import (
	"encoding/json"
	"fmt"
)

const operationName = "getVisitorReviews"

// reviewQuery requests only the fields the checkpoint log keeps plus the
// discriminator and cursor.
const reviewQuery = `query getVisitorReviews($input: VisitorReviewsInput) {
  visitorReviews(input: $input) {
    items {
      id
      cursor
      author { id nickname __typename }
      body
      visitCount
      visited
      created
      representativeVisitDateTime
      __typename
    }
    total
    __typename
  }
}`

type reviewsInput struct {
	BusinessID           string  `json:"businessId"`
	After                *string `json:"after"`
	BusinessType         string  `json:"businessType"`
	Item                 string  `json:"item"`
	BookingBusinessID    *string `json:"bookingBusinessId"`
	Size                 int     `json:"size"`
	IsPhotoUsed          bool    `json:"isPhotoUsed"`
	IncludeContent       bool    `json:"includeContent"`
	GetUserStats         bool    `json:"getUserStats"`
	IncludeReceiptPhotos bool    `json:"includeReceiptPhotos"`
	CidList              []int   `json:"cidList"`
	GetReactions         bool    `json:"getReactions"`
	GetTrailer           bool    `json:"getTrailer"`
}

type operation struct {
	OperationName string `json:"operationName"`
	Variables     struct {
		Input reviewsInput `json:"input"`
	} `json:"variables"`
	Query string `json:"query"`
}

// buildPayload renders the single-operation batch posted for one page.
func buildPayload(unitID string, after *string, businessType string, pageSize int) ([]byte, error) {
	op := operation{OperationName: operationName, Query: reviewQuery}
	op.Variables.Input = reviewsInput{
		BusinessID:           unitID,
		After:                after,
		BusinessType:         businessType,
		Item:                 "0",
		Size:                 pageSize,
		IncludeContent:       true,
		GetUserStats:         true,
		IncludeReceiptPhotos: true,
		GetReactions:         true,
		GetTrailer:           true,
	}
	data, err := json.Marshal([]operation{op})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
