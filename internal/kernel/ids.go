package kernel

import "fmt"

// UnitID identifies a unit. IDs are assigned monotonically and never reused.
type UnitID uint64

func (id UnitID) String() string { return fmt.Sprintf("U%d", uint64(id)) }

// LinkID identifies a link. IDs are assigned monotonically and never reused.
type LinkID uint64

func (id LinkID) String() string { return fmt.Sprintf("L%d", uint64(id)) }
