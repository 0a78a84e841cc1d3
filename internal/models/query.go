package models

// SearchRequest is the wire form of a search call. Query is either a string or a list of strings.
type SearchRequest struct {
	Query any `json:"query"`
	K     int `json:"k,omitempty"`
}

// NormalizeK applies the default when k is unset and caps it at maxK.
func (r *SearchRequest) NormalizeK(defaultK, maxK int) {
	if r.K <= 0 {
		r.K = defaultK
	}
	if maxK > 0 && r.K > maxK {
		r.K = maxK
	}
}
