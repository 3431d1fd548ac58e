package orderset

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderSet maps to the order_set table. Items are fixed once the set is
// created; only the activity flags and use count change afterwards.
type OrderSet struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Slug        *string         `db:"slug" json:"slug,omitempty"`
	Name        string          `db:"name" json:"name"`
	Category    string          `db:"category" json:"category"`
	Description string          `db:"description" json:"description"`
	Specialty   *string         `db:"specialty" json:"specialty,omitempty"`
	CreatedBy   string          `db:"created_by" json:"created_by"`
	IsPublic    bool            `db:"is_public" json:"is_public"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	UseCount    int             `db:"use_count" json:"use_count"`
	Items       []*OrderSetItem `json:"items"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderSetItem maps to the order_set_item table.
type OrderSetItem struct {
	ID           uuid.UUID `db:"id" json:"id"`
	OrderSetID   uuid.UUID `db:"order_set_id" json:"order_set_id"`
	TestCategory string    `db:"test_category" json:"test_category"`
	TestName     string    `db:"test_name" json:"test_name"`
	TestCode     *string   `db:"test_code" json:"test_code,omitempty"`
	IsRequired   bool      `db:"is_required" json:"is_required"`
	Instructions *string   `db:"instructions" json:"instructions,omitempty"`
	DisplayOrder int       `db:"display_order" json:"display_order"`
}

// SetKey is the catalog id of a built-in set.
func SetKey(slug string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("orderset:"+strings.ToLower(strings.TrimSpace(slug))))
}

// ItemKey is the id of the item at displayOrder within set.
func ItemKey(set uuid.UUID, displayOrder int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(set.String()+":item:"+strconv.Itoa(displayOrder)))
}

// assignItemKeys numbers items without an explicit position by their index
// and derives their ids from the set id.
func (s *OrderSet) assignItemKeys() {
	for i, it := range s.Items {
		if it.DisplayOrder == 0 {
			it.DisplayOrder = i + 1
		}
		it.OrderSetID = s.ID
		it.ID = ItemKey(s.ID, it.DisplayOrder)
	}
}
