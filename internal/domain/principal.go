package domain

// Principal is the authenticated caller supplied by the identity layer.
type Principal struct {
	ID          string
	DisplayName string
}
