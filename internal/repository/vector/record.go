package vector

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/boltworks/storefront/internal/domain"
)

// Hash field names for a product embedding record.
const (
	fieldProductID = "product_id"
	fieldTitle     = "title_vec"
	fieldDesc      = "desc_vec"
	fieldCombined  = "combined_vec"
)

// Record is one product's embedding row: three vectors of identical dimension
// keyed by the product's catalog identity. Read-only from the search path;
// written only by the indexer.
type Record struct {
	ProductID   int64
	Title       []float32
	Description []float32
	Combined    []float32
}

// Validate enforces the record invariant: combined present, all three vectors
// share the configured dimension.
func (r *Record) Validate(dim int) error {
	if r.ProductID <= 0 {
		return fmt.Errorf("product id must be positive, got %d", r.ProductID)
	}
	if len(r.Combined) == 0 {
		return fmt.Errorf("combined embedding is required: %w", domain.ErrVectorDimMismatch)
	}
	for name, v := range map[string][]float32{
		fieldTitle: r.Title, fieldDesc: r.Description, fieldCombined: r.Combined,
	} {
		if len(v) != 0 && len(v) != dim {
			return fmt.Errorf("%s has dim %d, want %d: %w",
				name, len(v), dim, domain.ErrVectorDimMismatch)
		}
	}
	return nil
}

func (r *Record) toFields() map[string]string {
	fields := map[string]string{
		fieldProductID: strconv.FormatInt(r.ProductID, 10),
		fieldCombined:  vectorToBytes(r.Combined),
	}
	if len(r.Title) > 0 {
		fields[fieldTitle] = vectorToBytes(r.Title)
	}
	if len(r.Description) > 0 {
		fields[fieldDesc] = vectorToBytes(r.Description)
	}
	return fields
}

func recordFromFields(fields map[string]string) (Record, error) {
	id, err := strconv.ParseInt(fields[fieldProductID], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse product id %q: %w", fields[fieldProductID], err)
	}
	rec := Record{ProductID: id}
	if rec.Combined, err = bytesToVector(fields[fieldCombined]); err != nil {
		return Record{}, fmt.Errorf("combined: %w", err)
	}
	if s, ok := fields[fieldTitle]; ok {
		if rec.Title, err = bytesToVector(s); err != nil {
			return Record{}, fmt.Errorf("title: %w", err)
		}
	}
	if s, ok := fields[fieldDesc]; ok {
		if rec.Description, err = bytesToVector(s); err != nil {
			return Record{}, fmt.Errorf("description: %w", err)
		}
	}
	return rec, nil
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func bytesToVector(s string) ([]float32, error) {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector encoding: %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
