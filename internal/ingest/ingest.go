// Package ingest loads scraped listing exports into the listing store.
//
// Exports are the scraper's document shape, either as a JSON array or as
// one document per line:
//
//	{"listing_id": "...", "title": "...", "price": {"amount": "...", "currency": "..."},
//	 "location": "...", "details": {"rooms": "...", "area": "...", "floor": "..."},
//	 "url": "...", "scraped_at": 1700000000, "mapped_zone": "..."}
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zonestats/internal/model"
)

// DefaultBatchSize is the number of listings written per upsert call.
const DefaultBatchSize = 500

// Upserter writes listings. Existing zone assignments are kept.
type Upserter interface {
	UpsertListings(ctx context.Context, listings []model.Listing) (int64, error)
}

// Result reports an import.
type Result struct {
	Read     int   `json:"read"`
	Skipped  int   `json:"skipped"`
	Upserted int64 `json:"upserted"`
	Batches  int   `json:"batches"`
}

type document struct {
	ListingID string    `json:"listing_id"`
	Title     string    `json:"title"`
	Price     priceDoc  `json:"price"`
	Location  string    `json:"location"`
	Details   detailDoc `json:"details"`
	URL       string    `json:"url"`
	ScrapedAt flexInt   `json:"scraped_at"`
	// Zone is carried through for reference only; the store never takes it
	// from an import.
	Zone string `json:"mapped_zone"`
}

type priceDoc struct {
	Amount   flexString `json:"amount"`
	Currency string     `json:"currency"`
}

type detailDoc struct {
	Rooms flexString `json:"rooms"`
	Area  flexString `json:"area"`
	Floor flexString `json:"floor"`
}

func (d document) listing() model.Listing {
	return model.Listing{
		ID:           strings.TrimSpace(d.ListingID),
		Title:        d.Title,
		LocationText: d.Location,
		Price:        model.Price{Amount: string(d.Price.Amount), Currency: d.Price.Currency},
		Area:         string(d.Details.Area),
		RoomCount:    string(d.Details.Rooms),
		Floor:        string(d.Details.Floor),
		URL:          d.URL,
		ScrapedAt:    int64(d.ScrapedAt),
		AssignedZone: d.Zone,
	}
}

// flexString accepts a JSON string or number. Scraped fields such as rooms
// and amount show up as either.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return eris.Wrapf(err, "ingest: expected string or number, got %s", b)
	}
	*s = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number, a numeric string, or a Mongo extended JSON
// wrapper like {"$numberLong": "1700000000"}.
type flexInt int64

func (i *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*i = 0
		return nil
	}
	if len(b) > 0 && b[0] == '{' {
		var ext map[string]json.RawMessage
		if err := json.Unmarshal(b, &ext); err != nil {
			return err
		}
		for _, k := range []string{"$numberLong", "$numberInt", "$numberDouble"} {
			if raw, ok := ext[k]; ok {
				return i.UnmarshalJSON(raw)
			}
		}
		return eris.Errorf("ingest: unsupported number wrapper %s", b)
	}
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*i = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return eris.Wrapf(err, "ingest: parse number %q", s)
	}
	*i = flexInt(f)
	return nil
}

// Decode reads every listing from r. Documents without a listing_id are
// dropped and counted in skipped.
func Decode(r io.Reader) (listings []model.Listing, skipped int, err error) {
	err = Stream(r, func(l model.Listing) error {
		listings = append(listings, l)
		return nil
	}, func() { skipped++ })
	return listings, skipped, err
}

// Stream decodes listings from r one at a time and passes each to fn. skip
// runs for every document without a listing_id.
func Stream(r io.Reader, fn func(model.Listing) error, skip func()) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "ingest: read")
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return eris.Wrap(err, "ingest: read array start")
		}
	}

	n := 0
	for dec.More() {
		var d document
		if err := dec.Decode(&d); err != nil {
			return eris.Wrapf(err, "ingest: decode document %d", n+1)
		}
		n++
		l := d.listing()
		if l.ID == "" {
			if skip != nil {
				skip()
			}
			continue
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// Import streams listings from r into st in batches of batchSize.
func Import(ctx context.Context, st Upserter, r io.Reader, batchSize int) (*Result, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	log := zap.L().With(zap.String("component", "ingest"))

	res := &Result{}
	batch := make([]model.Listing, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := st.UpsertListings(ctx, batch)
		if err != nil {
			return eris.Wrapf(err, "ingest: upsert batch %d", res.Batches+1)
		}
		res.Upserted += n
		res.Batches++
		log.Debug("batch upserted", zap.Int("batch", res.Batches), zap.Int("size", len(batch)))
		batch = batch[:0]
		return nil
	}

	err := Stream(r, func(l model.Listing) error {
		res.Read++
		batch = append(batch, l)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	}, func() { res.Skipped++ })
	if err != nil {
		return res, err
	}
	if err := flush(); err != nil {
		return res, err
	}

	log.Info("import complete",
		zap.Int("read", res.Read),
		zap.Int("skipped", res.Skipped),
		zap.Int64("upserted", res.Upserted),
	)
	return res, nil
}
