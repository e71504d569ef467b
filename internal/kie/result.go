package kie

import (
	"encoding/json"
	"fmt"
)

type resultShape int

const (
	shapeUnknown resultShape = iota
	shapeDirect
	shapeDataArray
	shapeResultURLs
)

type imageResult struct {
	ImageURL string `json:"image_url"`
	Data     []struct {
		URL string `json:"url"`
	} `json:"data"`
	ResultURLs []string `json:"resultUrls"`
}

func (r imageResult) shape() resultShape {
	switch {
	case r.ImageURL != "":
		return shapeDirect
	case len(r.Data) > 0 && r.Data[0].URL != "":
		return shapeDataArray
	case len(r.ResultURLs) > 0 && r.ResultURLs[0] != "":
		return shapeResultURLs
	default:
		return shapeUnknown
	}
}

// ParseImageResult accepts {"image_url": u}, {"data": [{"url": u}]} and
// {"resultUrls": [u]}. Anything else is ErrUnrecognizedResult.
func ParseImageResult(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", ErrUnrecognizedResult
	}
	var r imageResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnrecognizedResult, err)
	}
	switch r.shape() {
	case shapeDirect:
		return r.ImageURL, nil
	case shapeDataArray:
		return r.Data[0].URL, nil
	case shapeResultURLs:
		return r.ResultURLs[0], nil
	default:
		return "", ErrUnrecognizedResult
	}
}
