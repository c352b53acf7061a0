package directory

import (
	"errors"
	"time"
)

// Person is an account that can author purchase orders and decisions.
type Person struct {
	ID       int64
	Email    string
	Name     string
	Role     string
	IsActive bool
}

// Supplier is a vendor purchase orders are sent to.
type Supplier struct {
	ID        int64
	Name      string
	Email     string
	IsActive  bool
	CreatedAt time.Time
}

var (
	ErrPersonNotFound   = errors.New("directory: person not found")
	ErrSupplierNotFound = errors.New("directory: supplier not found")
	ErrSupplierInactive = errors.New("directory: supplier inactive")
)
