package index

// Posting records one document's occurrences of a term within one field.
// DocID is the dense internal id assigned at build time.
type Posting struct {
	DocID     int   `json:"d"`
	Frequency int   `json:"f"`
	Positions []int `json:"p,omitempty"`
}

// PostingList is ordered by ascending DocID.
type PostingList []Posting

// DocFreq is the number of documents the list covers.
func (pl PostingList) DocFreq() int {
	return len(pl)
}
