package invoice

// Payer is the party the charge is issued against, typically the
// student's financial guardian.
type Payer struct {
	Document string `json:"document" bson:"document"`
	Name     string `json:"name" bson:"name"`
	Email    string `json:"email,omitempty" bson:"email,omitempty"`
	Phone    string `json:"phone,omitempty" bson:"phone,omitempty"`
	Address  string `json:"address,omitempty" bson:"address,omitempty"`
}

func (p Payer) validate() error {
	if p.Document == "" {
		return NewValidationError("payer.document", "cannot be empty")
	}
	if p.Name == "" {
		return NewValidationError("payer.name", "cannot be empty")
	}
	return nil
}

// SameDocument reports whether two payers identify the same person.
func (p Payer) SameDocument(document string) bool {
	return p.Document != "" && p.Document == document
}
