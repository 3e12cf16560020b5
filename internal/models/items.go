// Package models defines core data structures for inquiries, price lists,
// matches, and jobs.
package models

// InquiryItem is one Bill-of-Quantities line parsed from an uploaded file.
// Items are created per job and live only as part of that job.
type InquiryItem struct {
	Description string  `json:"description"`
	Unit        string  `json:"unit,omitempty"`
	Quantity    float64 `json:"quantity,omitempty"`
}

// PriceListEntry is a reference catalog item. The matcher only reads
// immutable snapshots of these.
type PriceListEntry struct {
	ID          string   `json:"id,omitempty" bson:"_id,omitempty"`
	Code        string   `json:"code,omitempty" bson:"code,omitempty"`
	Description string   `json:"description" bson:"description"`
	Rate        float64  `json:"rate" bson:"rate"`
	Unit        string   `json:"unit,omitempty" bson:"unit,omitempty"`
	Category    string   `json:"category,omitempty" bson:"category,omitempty"`
	Keywords    []string `json:"keywords,omitempty" bson:"keywords,omitempty"`
}

// MatchedItem is the output record for one inquiry line. Immutable once
// produced by the matcher; owned by the job that produced it.
type MatchedItem struct {
	SourceDescription  string  `json:"source_description" bson:"source_description"`
	MatchedDescription string  `json:"matched_description" bson:"matched_description"`
	MatchedRate        float64 `json:"matched_rate" bson:"matched_rate"`
	// Confidence is the blended similarity score as a fraction in [0,1].
	// UI layers report it as a percentage.
	Confidence float64 `json:"confidence" bson:"confidence"`
	Unit       string  `json:"unit,omitempty" bson:"unit,omitempty"`
	Quantity   float64 `json:"quantity,omitempty" bson:"quantity,omitempty"`
}
