package validate

import (
	"bytes"
	"encoding/json"

	"github.com/mediagate/gateway/pkg/types"
)

// IncomingRequest is the typed form of a media endpoint body. It is built
// exactly once at the boundary; handlers never touch raw JSON.
type IncomingRequest struct {
	RawURL  string
	Quality types.Quality
}

// mediaRequestBody is the wire shape shared by /media/info, /media/audio
// and /media/video. Unknown fields are rejected.
type mediaRequestBody struct {
	URL     string `json:"url"`
	Quality string `json:"quality,omitempty"`
}

// DecodeMediaRequest parses and validates a media endpoint body.
// defaultQuality fills in an absent quality field.
func DecodeMediaRequest(body []byte, defaultQuality types.Quality) (*IncomingRequest, error) {
	if len(body) == 0 {
		return nil, newError(KindInvalidFormat, "request body is empty")
	}

	var req mediaRequestBody
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, newError(KindInvalidFormat, "request body is not valid JSON")
	}

	if req.URL == "" {
		return nil, newError(KindInvalidFormat, "url field is required")
	}

	quality, err := types.ParseQuality(req.Quality, defaultQuality)
	if err != nil {
		return nil, newError(KindInvalidFormat, "quality must be one of low, medium, high, best")
	}

	return &IncomingRequest{RawURL: req.URL, Quality: quality}, nil
}
