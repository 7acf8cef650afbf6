// SPDX-License-Identifier: MIT

package store

import "encoding/json"

// Metadata is the metadata.json artifact. DeezerData is the source's opaque
// download payload, kept verbatim so the download can be replayed after a
// restart; the finalize stage strips it once the track completes.
type Metadata struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Artist          string          `json:"artist"`
	Album           string          `json:"album,omitempty"`
	DurationSeconds int             `json:"duration_seconds,omitempty"`
	ImgURL          string          `json:"img_url,omitempty"`
	DeezerData      json.RawMessage `json:"deezer_data,omitempty"`
}
